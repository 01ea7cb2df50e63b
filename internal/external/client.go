// Package external holds the clients for the identity provider, the billing
// provider and the generative model. Every outbound call goes through
// BaseClient, which adds circuit breaking, retries with backoff and request id
// propagation, and maps transport failures to types.AppError.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"viberesume/internal/types"

	"github.com/sony/gobreaker/v2"
)

// RequestIDHeader carries the inbound request id to providers, so provider
// logs can be joined with ours.
const RequestIDHeader = "X-Request-ID"

// RetryPolicy bounds the attempts and the wait between them.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy is used for the identity and billing providers.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// NoRetryPolicy runs each request exactly once. Model calls use it: a
// generation is slow and a retry would double the caller's wait.
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{}
}

// BaseClient is the shared transport for ClerkClient, StripePlanClient and
// GeminiClient.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     func(time.Duration)
	// failureCode is reported for transport failures that are neither rate
	// limiting nor an open breaker.
	failureCode types.ErrorCode
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc replaces the wait between retries. Tests pass a no-op.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// WithFailureCode sets the code reported for generic transport failures, so
// callers can tell which provider failed.
func WithFailureCode(code types.ErrorCode) BaseClientOption {
	return func(c *BaseClient) {
		c.failureCode = code
	}
}

// NewBaseClient creates a BaseClient with its own breaker named breakerName.
// The breaker opens after six consecutive failed attempts and probes again
// after 30s.
func NewBaseClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	return NewBaseClientWithBreaker(httpClient, cb, retryPolicy, userAgent, opts...)
}

// NewBaseClientWithBreaker creates a BaseClient around breaker.
func NewBaseClientWithBreaker(
	httpClient *http.Client,
	breaker *gobreaker.CircuitBreaker[*http.Response],
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	bc := &BaseClient{
		client:      httpClient,
		breaker:     breaker,
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		failureCode: types.ErrCodeInternalUnexpected,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// errUpstreamStatus marks a response the breaker counts as a failure.
type errUpstreamStatus int

func (e errUpstreamStatus) Error() string {
	return fmt.Sprintf("upstream returned %d", int(e))
}

// Do sends req through the breaker. 429 and 5xx responses are retried with
// backoff; any other response is returned as-is and the caller closes its
// body. Exhausted retries, an open breaker and transport failures come back
// as *types.AppError. Retrying stops as soon as the request context is done.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if id := types.GetRequestID(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	body, err := snapshotBody(req)
	if err != nil {
		return nil, err
	}

	var lastResp *http.Response
	var lastErr error

	attempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, errUpstreamStatus(r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		if lastResp != nil {
			lastResp.Body.Close()
		}
		lastResp, lastErr = resp, err

		if breakerRejected(err) {
			break
		}
		if attempt == attempts-1 {
			break
		}
		if werr := c.wait(ctx, c.computeBackoff(attempt, resp)); werr != nil {
			lastErr = werr
			break
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastResp, lastErr)
}

// snapshotBody reads the body once so each attempt can replay it.
func snapshotBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read request body", err)
	}
	return b, nil
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// wait sleeps for d unless ctx ends first.
func (c *BaseClient) wait(ctx context.Context, d time.Duration) error {
	if c.sleepFn != nil {
		c.sleepFn(d)
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// computeBackoff honours Retry-After (seconds or HTTP date) and otherwise
// picks a jittered wait in [MinWait, min(MaxWait, MinWait*2^attempt)].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if d, ok := c.retryAfter(resp.Header.Get("Retry-After")); ok {
			return d
		}
	}

	minWait := float64(c.retryPolicy.MinWait)
	ceiling := math.Min(minWait*math.Pow(2, float64(attempt)), float64(c.retryPolicy.MaxWait))
	if ceiling <= minWait {
		return c.retryPolicy.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(ceiling-minWait))
}

func (c *BaseClient) retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	var d time.Duration
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		d = time.Duration(seconds) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = time.Until(at)
	} else {
		return 0, false
	}
	return min(max(d, c.retryPolicy.MinWait), c.retryPolicy.MaxWait), true
}

// mapError turns the last failed attempt into an AppError.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	switch {
	case breakerRejected(err):
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			"circuit breaker is open; upstream service unavailable", err)
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case resp != nil && resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
	default:
		return types.NewAppError(c.failureCode, "upstream request failed", err)
	}
}
