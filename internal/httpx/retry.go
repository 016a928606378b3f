package httpx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/digster/lan-file-transfer/internal/constants"
	"github.com/digster/lan-file-transfer/internal/logging"
)

// ErrCancelled marks a transfer the caller gave up on, distinct from a
// transport failure, so callers can tell a deliberate abort from exhausted
// retries.
var ErrCancelled = context.Canceled

type retryCallbackKey struct{}

// WithRetryCallback attaches fn so it is invoked before every retried
// attempt (never the first) made by a request issued with this context.
// The sender uses this to bump a transfer's retry count and surface a
// "retrying" status without the client needing to know about transfers.
func WithRetryCallback(ctx context.Context, fn func(attempt int, err error)) context.Context {
	return context.WithValue(ctx, retryCallbackKey{}, fn)
}

// NewRetryingClient returns the *http.Client every sender request goes
// through. Retries are handled transparently by the wrapped
// retryablehttp.Client: a failed chunk POST is retried in place, replaying
// its body via the *http.Request's automatic GetBody (populated by
// net/http for bytes.Reader/bytes.Buffer/strings.Reader bodies), so callers
// never need their own retry loop around client.Do.
//
// Backoff is deterministic doubling rather than retryablehttp's default
// jitter: a single point-to-point LAN connection has no thundering-herd
// risk across independent clients, so there's nothing jitter buys here.
// CheckRetry is checkRetry below rather than the library default: a peer
// rejecting a chunk (e.g. an out-of-order Content-Range) comes back as a
// plain 400, and the protocol treats any non-200 response the same as a
// transport error, so it needs to be retried too.
func NewRetryingClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = NewClient()
	rc.RetryMax = constants.MaxRetries
	rc.RetryWaitMin = constants.RetryInitialDelay
	rc.RetryWaitMax = constants.RetryMaxDelay
	rc.Backoff = deterministicBackoff
	rc.CheckRetry = checkRetry
	rc.Logger = &retryLogger{log: logging.NewWithComponent("httpx")}
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt == 0 {
			return
		}
		if fn, ok := req.Context().Value(retryCallbackKey{}).(func(int, error)); ok {
			fn(attempt, fmt.Errorf("attempt %d", attempt))
		}
	}
	return rc.StandardClient()
}

// checkRetry retries on any transport error (deferring to the library's own
// classification of which errors are worth retrying) or any response status
// other than 200, matching the protocol's "transport error or non-200"
// retry rule: a chunk POST the peer rejected is no different from one that
// never arrived.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if resp.StatusCode != http.StatusOK {
		return true, nil
	}
	return false, nil
}

// deterministicBackoff adapts CalculateBackoff to retryablehttp.Backoff's
// 0-indexed attemptNum (0 on the first retry, after the initial request
// already failed once).
func deterministicBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	return CalculateBackoff(attemptNum+1, min, max)
}

// CalculateBackoff returns the delay before the given attempt (1-based)
// using plain exponential doubling, capped at maxDelay.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := initialDelay << uint(attempt-1)
	if delay > maxDelay || delay <= 0 {
		return maxDelay
	}
	return delay
}

// retryLogger adapts the engine's zerolog-backed logger to
// retryablehttp.LeveledLogger, keeping retry noise at debug level except
// for the warnings a human watching the CLI actually wants to see.
type retryLogger struct {
	log *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}
