// Package builtin provides the tools shipped with the executor binary.
// Additional tools arrive through the build pipeline at runtime; these two
// cover the common outreach loop out of the box.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fullsend/fullsend/internal/tools"
	"github.com/fullsend/fullsend/pkg/types"
)

// RegisterAll wires every built-in tool into the registry.
func RegisterAll(reg *tools.Registry, logger *slog.Logger) error {
	client := &http.Client{Timeout: 30 * time.Second}

	scraper := &StargazerScraper{
		Client: client,
		Token:  os.Getenv("GITHUB_TOKEN"),
		Logger: logger,
	}
	if err := reg.RegisterWithSchema(scraper, []byte(stargazerSchema)); err != nil {
		return err
	}

	sender := &EmailSender{
		Client: client,
		APIKey: os.Getenv("RESEND_API_KEY"),
		Sender: os.Getenv("RESEND_SENDER_EMAIL"),
		Logger: logger,
	}
	return reg.RegisterWithSchema(sender, []byte(emailSchema))
}

// Metas returns registry metadata for the built-in tools, for seeding the
// tool store at startup.
func Metas() []*types.ToolMeta {
	now := time.Now().UTC()
	return []*types.ToolMeta{
		{
			Name:        "scrape_stargazers",
			Description: "Collect profile data for users who starred the given GitHub repositories.",
			Inputs:      map[string]string{"repo_identifiers": "list of owner/repo paths", "limit": "max users to return"},
			Outputs:     map[string]string{"users": "list of profiles", "total_scanned": "stargazers examined"},
			State:       types.ToolStateActive,
			ParamSchema: json.RawMessage(stargazerSchema),
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			Name:        "send_cold_emails",
			Description: "Send templated outreach emails to a recipient list via Resend.",
			Inputs:      map[string]string{"recipients": "list of recipient objects with at least an email field", "template": "subject and body with {{field}} placeholders"},
			Outputs:     map[string]string{"sent": "emails delivered", "failed": "emails rejected"},
			State:       types.ToolStateActive,
			ParamSchema: json.RawMessage(emailSchema),
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

const stargazerSchema = `{
	"type": "object",
	"required": ["repo_identifiers"],
	"properties": {
		"repo_identifiers": {"type": "array", "items": {"type": "string"}},
		"limit": {"type": "integer", "minimum": 1}
	}
}`

const emailSchema = `{
	"type": "object",
	"required": ["recipients", "template"],
	"properties": {
		"recipients": {"type": "array", "items": {"type": "object"}},
		"template": {
			"type": "object",
			"required": ["subject", "body"],
			"properties": {
				"subject": {"type": "string"},
				"body": {"type": "string"}
			}
		}
	}
}`

// StargazerScraper lists stargazers for a set of repositories through the
// GitHub REST API. A token is optional but raises the rate limit.
type StargazerScraper struct {
	Client *http.Client
	Token  string
	Logger *slog.Logger

	// BaseURL overrides the GitHub API root in tests.
	BaseURL string
}

var _ tools.Tool = (*StargazerScraper)(nil)

// Name returns the registry name.
func (s *StargazerScraper) Name() string { return "scrape_stargazers" }

const stargazerPageSize = 100

// Invoke fetches stargazer logins page by page until limit is reached.
func (s *StargazerScraper) Invoke(ctx context.Context, params map[string]any) (*types.ToolResult, error) {
	repos := stringSlice(params["repo_identifiers"])
	if len(repos) == 0 {
		return &types.ToolResult{Success: false, Error: "repo_identifiers is required"}, nil
	}
	limit := intParam(params["limit"], 100)

	base := s.BaseURL
	if base == "" {
		base = "https://api.github.com"
	}

	users := make([]map[string]any, 0, limit)
	scanned := 0
	for _, repo := range repos {
		if len(users) >= limit {
			break
		}
		if strings.Count(repo, "/") != 1 {
			s.Logger.Warn("skipping malformed repo identifier", slog.String("repo", repo))
			continue
		}
		for page := 1; len(users) < limit; page++ {
			url := fmt.Sprintf("%s/repos/%s/stargazers?per_page=%d&page=%d", base, repo, stargazerPageSize, page)
			batch, err := s.fetchPage(ctx, url)
			if err != nil {
				return nil, fmt.Errorf("fetching stargazers for %s: %w", repo, err)
			}
			if len(batch) == 0 {
				break
			}
			scanned += len(batch)
			for _, u := range batch {
				if len(users) >= limit {
					break
				}
				users = append(users, map[string]any{
					"login":       u.Login,
					"profile_url": u.HTMLURL,
					"source_repo": repo,
				})
			}
		}
	}

	return &types.ToolResult{
		Success: true,
		Payload: map[string]any{"users": users, "total_scanned": scanned},
	}, nil
}

type githubUser struct {
	Login   string `json:"login"`
	HTMLURL string `json:"html_url"`
}

func (s *StargazerScraper) fetchPage(ctx context.Context, url string) ([]githubUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("github rate limit hit (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("github returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var users []githubUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("decoding stargazer page: %w", err)
	}
	return users, nil
}

// EmailSender delivers templated outreach emails through the Resend API.
// Template placeholders look like {{field}} and are filled per recipient.
type EmailSender struct {
	Client *http.Client
	APIKey string
	Sender string
	Logger *slog.Logger

	// BaseURL overrides the Resend API root in tests.
	BaseURL string
}

var _ tools.Tool = (*EmailSender)(nil)

// Name returns the registry name.
func (e *EmailSender) Name() string { return "send_cold_emails" }

// Invoke personalizes the template for each recipient and sends one email
// per recipient. Per-recipient failures are collected, not fatal.
func (e *EmailSender) Invoke(ctx context.Context, params map[string]any) (*types.ToolResult, error) {
	if e.APIKey == "" {
		return &types.ToolResult{Success: false, Error: "RESEND_API_KEY not configured"}, nil
	}

	recipients, _ := params["recipients"].([]any)
	if len(recipients) == 0 {
		return &types.ToolResult{Success: false, Error: "recipients is required"}, nil
	}
	template, _ := params["template"].(map[string]any)
	subject, _ := template["subject"].(string)
	body, _ := template["body"].(string)
	if subject == "" || body == "" {
		return &types.ToolResult{Success: false, Error: "template must contain subject and body"}, nil
	}

	sender := e.Sender
	if s, ok := params["sender_email"].(string); ok && s != "" {
		sender = s
	}
	if sender == "" {
		return &types.ToolResult{Success: false, Error: "no sender email configured"}, nil
	}

	sent := 0
	var failed []map[string]any
	for _, raw := range recipients {
		recipient, _ := raw.(map[string]any)
		email, _ := recipient["email"].(string)
		if email == "" {
			failed = append(failed, map[string]any{"recipient": recipient, "error": "missing email"})
			continue
		}
		err := e.send(ctx, sender, email, personalize(subject, recipient), personalize(body, recipient))
		if err != nil {
			// Delivery errors for individual recipients are recorded so a
			// partial batch still reports what landed.
			e.Logger.Warn("email send failed", slog.String("to", email), slog.Any("error", err))
			failed = append(failed, map[string]any{"email": email, "error": err.Error()})
			continue
		}
		sent++
	}

	return &types.ToolResult{
		Success: sent > 0 || len(failed) == 0,
		Payload: map[string]any{"sent": sent, "failed": failed},
	}, nil
}

func (e *EmailSender) send(ctx context.Context, from, to, subject, html string) error {
	base := e.BaseURL
	if base == "" {
		base = "https://api.resend.com"
	}

	payload, err := json.Marshal(map[string]any{
		"from":    from,
		"to":      []string{to},
		"subject": subject,
		"html":    html,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/emails", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("resend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// personalize fills {{field}} placeholders from the recipient's string
// fields. Unknown placeholders are left in place.
func personalize(template string, recipient map[string]any) string {
	out := template
	for key, val := range recipient {
		s, ok := val.(string)
		if !ok {
			continue
		}
		out = strings.ReplaceAll(out, "{{"+key+"}}", s)
	}
	return out
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func intParam(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return fallback
}
