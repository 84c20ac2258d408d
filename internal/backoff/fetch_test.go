package backoff

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// recordSleeps captures requested delays without waiting.
func recordSleeps(delays *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func rateLimitedServer(t *testing.T, limitedCalls int32, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		if n <= limitedCalls {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_RetriesUntilSuccess(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		var calls int32
		srv := rateLimitedServer(t, int32(n-1), &calls)

		var delays []time.Duration
		f := NewFetcher(srv.Client(), recordSleeps(&delays), WithRand(func() float64 { return 0 }))

		resp, err := f.Fetch(context.Background(), srv.URL, RequestOptions{Method: http.MethodPost}, n)
		require.NoError(t, err, "maxAttempts=%d", n)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", string(body))
		assert.Equal(t, int32(n), atomic.LoadInt32(&calls))
		assert.Len(t, delays, n-1)
	}
}

func TestFetch_ExhaustsOnPersistentRateLimit(t *testing.T) {
	var calls int32
	srv := rateLimitedServer(t, 100, &calls)

	var delays []time.Duration
	f := NewFetcher(srv.Client(), recordSleeps(&delays))

	resp, err := f.Fetch(context.Background(), srv.URL, RequestOptions{}, 4)
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	assert.Len(t, delays, 3, "no sleep after the final attempt")
}

func TestFetch_NonRateLimitErrorReturnedImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var delays []time.Duration
	f := NewFetcher(srv.Client(), recordSleeps(&delays))

	resp, err := f.Fetch(context.Background(), srv.URL, RequestOptions{}, 5)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, delays)
}

func TestFetch_SwallowsNetworkErrors(t *testing.T) {
	attempts := 0
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
	})

	var delays []time.Duration
	f := NewFetcher(client, recordSleeps(&delays))

	resp, err := f.Fetch(context.Background(), "http://example.invalid", RequestOptions{}, 5)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, attempts)
	assert.Len(t, delays, 2)
}

func TestFetch_NetworkErrorsExhaust(t *testing.T) {
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: timeout")
	})
	var delays []time.Duration
	f := NewFetcher(client, recordSleeps(&delays))

	_, err := f.Fetch(context.Background(), "http://example.invalid", RequestOptions{}, 2)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestFetch_ReplaysBodyAndHeaders(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var contentTypes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		contentTypes = append(contentTypes, r.Header.Get("Content-Type"))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var delays []time.Duration
	f := NewFetcher(srv.Client(), recordSleeps(&delays))
	resp, err := f.Fetch(context.Background(), srv.URL, RequestOptions{
		Method:  http.MethodPost,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"a":1}`),
	}, 3)
	require.NoError(t, err)
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
	assert.Equal(t, []string{"application/json", "application/json"}, contentTypes)
}

func TestFetch_CancelledDuringSleep(t *testing.T) {
	var calls int32
	srv := rateLimitedServer(t, 100, &calls)

	ctx, cancel := context.WithCancel(context.Background())
	f := NewFetcher(srv.Client(), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := f.Fetch(ctx, srv.URL, RequestOptions{}, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDelay_Bounds(t *testing.T) {
	for i := 0; i < 6; i++ {
		base := time.Duration(1<<uint(i)) * time.Second
		for _, jitter := range []float64{0, 0.25, 0.5, 0.999999} {
			d := Delay(i, jitter)
			assert.GreaterOrEqual(t, d, base)
			assert.Less(t, d, base+time.Second)
		}
	}
}

func TestDelay_ExponentIsCapped(t *testing.T) {
	ceiling := time.Duration(1<<MaxExponent) * time.Second
	for _, attempt := range []int{MaxExponent, 34, 63, 64, 1000} {
		d := Delay(attempt, 0)
		assert.Equal(t, ceiling, d, "attempt %d", attempt)
	}
	assert.Equal(t, time.Second, Delay(-1, 0))
}

func TestMaxWait(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, 0},
		{2, 2 * time.Second},
		{5, (1 + 2 + 4 + 8 + 4) * time.Second},
		{8, (1 + 2 + 4 + 8 + 16 + 32 + 64 + 7) * time.Second},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, MaxWait(tc.attempts), "attempts %d", tc.attempts)
	}
}

func TestFetch_DelaysGrowExponentially(t *testing.T) {
	var calls int32
	srv := rateLimitedServer(t, 100, &calls)

	var delays []time.Duration
	f := NewFetcher(srv.Client(), recordSleeps(&delays), WithRand(func() float64 { return 0.5 }))
	_, err := f.Fetch(context.Background(), srv.URL, RequestOptions{}, 5)
	require.ErrorIs(t, err, ErrRetriesExhausted)

	want := []time.Duration{
		1500 * time.Millisecond,
		2500 * time.Millisecond,
		4500 * time.Millisecond,
		8500 * time.Millisecond,
	}
	assert.Equal(t, want, delays)
}
