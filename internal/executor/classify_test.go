package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/fullsend/fullsend/internal/tools"
	"github.com/fullsend/fullsend/pkg/types"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorClass
	}{
		{"deadline exceeded", context.DeadlineExceeded, types.ErrorClassTimeout},
		{"wrapped deadline", fmt.Errorf("invoke: %w", context.DeadlineExceeded), types.ErrorClassTimeout},
		{"tool not found", fmt.Errorf("%w: scrape_leads", tools.ErrToolNotFound), types.ErrorClassNotFound},
		{"connection refused", errors.New("dial tcp 10.0.0.1:443: connection refused"), types.ErrorClassTransient},
		{"rate limited", errors.New("API returned 429: rate limit exceeded"), types.ErrorClassTransient},
		{"too many requests", errors.New("HTTP 429 Too Many Requests"), types.ErrorClassTransient},
		{"net error type", &net.OpError{Op: "read", Err: os.ErrDeadlineExceeded}, types.ErrorClassTransient},
		{"plain runtime fault", errors.New("unexpected response shape"), types.ErrorClassRuntime},
		{"nil-ish text", errors.New("index out of range"), types.ErrorClassRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError(%v): expected %s, got %s", tt.err, tt.want, got)
			}
		})
	}
}

func TestClassifyError_NetTimeout(t *testing.T) {
	var err error = &timeoutNetError{}
	if got := classifyError(err); got != types.ErrorClassTransient {
		t.Errorf("net.Error values classify transient, got %s", got)
	}
}

type timeoutNetError struct{}

func (*timeoutNetError) Error() string { return "read timed out" }
func (*timeoutNetError) Timeout() bool { return true }
func (*timeoutNetError) Temporary() bool {
	return true
}

var _ net.Error = (*timeoutNetError)(nil)
