package executor

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/fullsend/fullsend/internal/tools"
	"github.com/fullsend/fullsend/pkg/types"
)

// transientMarkers are substrings that identify connectivity and
// rate-limit style faults in error text. Matching is deliberately loose:
// tool errors come from many client libraries with no shared type.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"rate limit",
	"too many requests",
	"temporarily unavailable",
	"service unavailable",
	"i/o timeout",
	"no such host",
	"eof",
}

// classifyError maps an invocation error to an ErrorClass. Timeout and
// not-found are terminal; transient faults are eligible for retry;
// everything else is a runtime fault.
func classifyError(err error) types.ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrorClassTimeout
	}
	if errors.Is(err, tools.ErrToolNotFound) {
		return types.ErrorClassNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.ErrorClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return types.ErrorClassTransient
		}
	}
	return types.ErrorClassRuntime
}
