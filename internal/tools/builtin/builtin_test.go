package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestStargazerScraper_PaginatesToLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		var users []map[string]string
		if page == "1" {
			for i := 0; i < 100; i++ {
				users = append(users, map[string]string{
					"login":    fmt.Sprintf("user%d", i),
					"html_url": fmt.Sprintf("https://github.com/user%d", i),
				})
			}
		} else if page == "2" {
			users = append(users, map[string]string{"login": "user100", "html_url": "https://github.com/user100"})
		}
		json.NewEncoder(w).Encode(users)
	}))
	defer srv.Close()

	scraper := &StargazerScraper{Client: srv.Client(), Logger: discardLogger(), BaseURL: srv.URL}
	res, err := scraper.Invoke(context.Background(), map[string]any{
		"repo_identifiers": []any{"acme/widgets"},
		"limit":            101,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}

	payload := res.Payload.(map[string]any)
	users := payload["users"].([]map[string]any)
	if len(users) != 101 {
		t.Fatalf("expected 101 users, got %d", len(users))
	}
	if users[0]["login"] != "user0" || users[0]["source_repo"] != "acme/widgets" {
		t.Fatalf("unexpected first user: %v", users[0])
	}
}

func TestStargazerScraper_RateLimitIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	scraper := &StargazerScraper{Client: srv.Client(), Logger: discardLogger(), BaseURL: srv.URL}
	_, err := scraper.Invoke(context.Background(), map[string]any{
		"repo_identifiers": []any{"acme/widgets"},
	})
	if err == nil {
		t.Fatal("expected an error on 403")
	}
}

func TestStargazerScraper_MissingRepos(t *testing.T) {
	scraper := &StargazerScraper{Client: http.DefaultClient, Logger: discardLogger()}
	res, err := scraper.Invoke(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure result without repo_identifiers")
	}
}

func TestEmailSender_SendsPersonalized(t *testing.T) {
	var mu sync.Mutex
	var sent int
	var lastSubject string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		lastSubject, _ = req["subject"].(string)
		sent++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := &EmailSender{
		Client: srv.Client(),
		APIKey: "test-key",
		Sender: "outreach@example.com",
		Logger: discardLogger(),
		BaseURL: srv.URL,
	}
	res, err := sender.Invoke(context.Background(), map[string]any{
		"recipients": []any{
			map[string]any{"email": "alex@example.com", "name": "Alex"},
			map[string]any{"name": "no-address"},
		},
		"template": map[string]any{
			"subject": "Hi {{name}}",
			"body":    "<p>Hello {{name}}</p>",
		},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	mu.Lock()
	gotSent, gotSubject := sent, lastSubject
	mu.Unlock()
	if gotSent != 1 {
		t.Fatalf("expected 1 email sent, got %d", gotSent)
	}
	if gotSubject != "Hi Alex" {
		t.Fatalf("expected personalized subject, got %q", gotSubject)
	}

	payload := res.Payload.(map[string]any)
	if payload["sent"] != 1 {
		t.Fatalf("expected sent=1, got %v", payload["sent"])
	}
	failed := payload["failed"].([]map[string]any)
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed recipient, got %d", len(failed))
	}
}

func TestEmailSender_NoAPIKey(t *testing.T) {
	sender := &EmailSender{Client: http.DefaultClient, Logger: discardLogger()}
	res, err := sender.Invoke(context.Background(), map[string]any{
		"recipients": []any{map[string]any{"email": "a@b.c"}},
		"template":   map[string]any{"subject": "s", "body": "b"},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure without API key")
	}
}

func TestPersonalize(t *testing.T) {
	got := personalize("Hello {{name}} at {{company}}, re {{missing}}", map[string]any{
		"name":    "Sam",
		"company": "Acme",
		"count":   3,
	})
	want := "Hello Sam at Acme, re {{missing}}"
	if got != want {
		t.Fatalf("personalize = %q, want %q", got, want)
	}
}
