package werrors

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// Retriable reports whether err is worth retrying. Callers of Do pass their
// own predicate (e.g. "HTTP 5xx or transport error" for the AI client,
// "any non-nil error" for IPFS fetch) since retriability is call-site
// specific.
type Retriable func(error) bool

// TransportOr5xx is a Retriable suitable for HTTP clients: it matches
// network-level errors (connection refused, timeout, DNS failure) and any
// response whose status code was folded into a *Error of kind
// AIServiceUnavailable by the caller. 4xx responses are never retriable.
func TransportOr5xx(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if kind, ok := KindOf(err); ok {
		return kind == KindAIServiceUnavailable
	}
	return false
}

// StatusRetriable reports whether an HTTP status code warrants a retry:
// 5xx and 429 are retriable, everything else is not.
func StatusRetriable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// Do executes fn, retrying up to maxRetries times when retriable(err) is
// true. Retries use jittered exponential backoff starting at baseDelay and
// doubling each attempt. op names the operation for structured logging.
// This is the one consolidated retry call site for IPFS fetch, IPFS pin,
// and AI evaluation.
func Do(ctx context.Context, logger *slog.Logger, op string, maxRetries int, baseDelay time.Duration, retriable Retriable, fn func() error) error {
	if logger == nil {
		logger = slog.Default()
	}
	var err error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		logger.Warn("retrying operation", "op", op, "attempt", attempt+1, "max_retries", maxRetries, "error", err)
		jitter := time.Duration(rand.Int64N(int64(delay) + 1)) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return New(KindRequestCanceled, "retry wait interrupted", ctx.Err())
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}
