// Package external holds the outbound adapters of the certificate pipeline:
// the same-service generation callback, the artifact renderer, and the SES
// delivery provider. HTTP calls go through the BaseClient, which applies
// circuit breaking, bounded retries with jittered backoff, trace propagation,
// and error mapping in one place.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"medevent/internal/types"
)

// RetryPolicy bounds the retry behavior of a BaseClient.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy suits the pipeline's short-lived calls: a handful of
// quick attempts, never long enough to threaten a worker's invocation budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    250 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// BaseClient wraps an *http.Client with a circuit breaker and retry loop.
// Adapter clients embed or hold one and build plain *http.Request values.
type BaseClient struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	retry   RetryPolicy
	sleep   func(time.Duration)
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc replaces the inter-retry sleep, so tests run without delays.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleep = fn
	}
}

// NewBaseClient builds a resilient HTTP client. The breaker opens after five
// consecutive failures and half-opens after thirty seconds.
func NewBaseClient(httpClient *http.Client, name string, retry RetryPolicy, opts ...BaseClientOption) *BaseClient {
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	bc := &BaseClient{
		client:  httpClient,
		breaker: breaker,
		retry:   retry,
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do executes the request with trace propagation, circuit breaking, and
// retries on 429/5xx and transport errors. A 2xx/3xx/4xx (other than 429)
// response is returned as-is with its body open; the caller closes it.
// Exhausted retries and an open breaker surface as AppErrors.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-Request-Id", traceID)
	}

	// Buffer the body once so every attempt replays the same bytes.
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
				"failed to buffer request body", err)
		}
	}

	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if resp != nil {
			if attempt < c.retry.MaxRetries {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if attempt < c.retry.MaxRetries {
			c.sleep(c.backoff(attempt, resp))
		}
	}

	var diagnostic string
	if lastResp != nil {
		diagnostic = readDiagnostic(lastResp.Body)
		lastResp.Body.Close()
	}
	return nil, c.mapFailure(lastResp, diagnostic, lastErr)
}

// readDiagnostic captures a bounded prefix of the final attempt's response
// body. The upstream's own explanation of a failure ends up in the task's
// error message, so it must survive the retry loop.
func readDiagnostic(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxDiagnosticBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// backoff honors a numeric Retry-After header, otherwise applies exponential
// backoff with full jitter clamped to [MinWait, MaxWait].
func (c *BaseClient) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, c.retry.MaxWait)
			}
		}
	}

	ceiling := math.Min(
		float64(c.retry.MinWait)*math.Pow(2, float64(attempt)),
		float64(c.retry.MaxWait),
	)
	floor := float64(c.retry.MinWait)
	if ceiling <= floor {
		return c.retry.MinWait
	}
	return time.Duration(floor + rand.Float64()*(ceiling-floor))
}

func (c *BaseClient) mapFailure(resp *http.Response, diagnostic string, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			"circuit breaker open, upstream unavailable", err)
	}
	if resp != nil {
		msg := fmt.Sprintf("upstream returned %d after retries", resp.StatusCode)
		if diagnostic != "" {
			msg = fmt.Sprintf("%s: %s", msg, diagnostic)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, msg, err)
		}
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, msg, err)
	}
	return types.NewAppError(types.ErrCodeUpstreamUnavailable,
		"upstream request failed", err)
}
