// Package backoff wraps outbound HTTP calls with rate-limit aware retries.
//
// Only HTTP 429 triggers a retry. Every other response, including 4xx and 5xx,
// is handed back to the caller on the attempt that produced it. Transport
// failures count as a failed attempt and are logged, never returned, until the
// attempt ceiling is reached.
package backoff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxAttempts is the attempt ceiling used when callers have no opinion.
const DefaultMaxAttempts = 5

// ErrRetriesExhausted is returned when no attempt produced a non-429 response.
var ErrRetriesExhausted = errors.New("request failed after multiple retries")

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestOptions describes the request sent on every attempt. Body is kept as
// bytes so it can be replayed.
type RequestOptions struct {
	Method  string
	Headers map[string]string
	Body    []byte
}

// Fetcher performs HTTP calls with exponential backoff on 429 responses.
type Fetcher struct {
	client Doer
	logger *zap.Logger

	// sleepFunc waits between attempts; defaults to a context-aware timer.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// randFunc returns a value in [0,1) used for jitter.
	randFunc func() float64
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithSleep overrides the wait between attempts (for testing).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) { f.sleepFunc = fn }
}

// WithRand overrides the jitter source (for testing).
func WithRand(fn func() float64) Option {
	return func(f *Fetcher) { f.randFunc = fn }
}

// WithLogger sets the logger used for swallowed attempt failures.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher returns a Fetcher using client. A nil client means http.DefaultClient.
func NewFetcher(client Doer, opts ...Option) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := &Fetcher{
		client:    client,
		logger:    zap.NewNop(),
		sleepFunc: contextSleep,
		randFunc:  rand.Float64,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// MaxExponent caps the doubling in Delay; 2^16 s is already over 18 hours
// and larger exponents overflow time.Duration.
const MaxExponent = 16

// Delay returns the wait that follows attempt i (0-indexed):
// 2^i seconds plus jitter*1s, where jitter is in [0,1). The exponent is
// clamped to [0, MaxExponent].
func Delay(attempt int, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > MaxExponent {
		attempt = MaxExponent
	}
	base := time.Duration(1<<uint(attempt)) * time.Second
	return base + time.Duration(jitter*float64(time.Second))
}

// MaxWait is the longest total sleep Fetch can spend across maxAttempts
// attempts, with every jitter at its upper bound.
func MaxWait(maxAttempts int) time.Duration {
	var total time.Duration
	for i := 0; i < maxAttempts-1; i++ {
		total += Delay(i, 1)
	}
	return total
}

// Fetch sends the request up to maxAttempts times and returns the first
// response whose status is not 429. The caller owns the response body.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts RequestOptions, maxAttempts int) (*http.Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	for i := 0; i < maxAttempts; i++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(opts.Body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}

		resp, err := f.client.Do(req)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			f.logger.Debug("network error, will retry",
				zap.Int("attempt", i+1), zap.Int("max_attempts", maxAttempts), zap.Error(err))
		case resp.StatusCode == http.StatusTooManyRequests:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			f.logger.Debug("rate limited, will retry",
				zap.Int("attempt", i+1), zap.Int("max_attempts", maxAttempts))
		default:
			return resp, nil
		}

		if i == maxAttempts-1 {
			break
		}
		if err := f.sleepFunc(ctx, Delay(i, f.randFunc())); err != nil {
			return nil, err
		}
	}

	f.logger.Warn("retries exhausted", zap.String("method", method), zap.Int("attempts", maxAttempts))
	return nil, fmt.Errorf("%w (%d attempts)", ErrRetriesExhausted, maxAttempts)
}

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
