package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff(maxElapsed time.Duration) *backoffTransport {
	bt := newBackoffTransport(http.DefaultTransport, maxElapsed)
	bt.initialInterval = time.Millisecond
	bt.maxInterval = 5 * time.Millisecond
	return bt
}

func TestBackoffTransport(t *testing.T) {
	testCases := []struct {
		name          string
		statuses      []int
		maxElapsed    time.Duration
		expectedCalls int32
		expectedCode  int
		expectedError bool
	}{
		{
			name:          "retries server errors until success",
			statuses:      []int{http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusOK},
			maxElapsed:    time.Second,
			expectedCalls: 3,
			expectedCode:  http.StatusOK,
		},
		{
			name:          "client errors are not retried",
			statuses:      []int{http.StatusNotFound},
			maxElapsed:    time.Second,
			expectedCalls: 1,
			expectedCode:  http.StatusNotFound,
		},
		{
			name:          "gives up after max elapsed",
			statuses:      []int{http.StatusInternalServerError},
			maxElapsed:    20 * time.Millisecond,
			expectedError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(atomic.AddInt32(&calls, 1)) - 1
				if n >= len(tc.statuses) {
					n = len(tc.statuses) - 1
				}
				w.WriteHeader(tc.statuses[n])
			}))
			defer server.Close()

			client := &http.Client{Transport: fastBackoff(tc.maxElapsed)}
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
			require.NoError(t, err)

			resp, err := client.Do(req)
			if tc.expectedError {
				assert.Error(t, err)
				assert.Greater(t, atomic.LoadInt32(&calls), int32(1))
				return
			}
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.expectedCode, resp.StatusCode)
			assert.Equal(t, tc.expectedCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestBackoffTransportStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	bt := fastBackoff(time.Minute)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = (&http.Client{Transport: bt}).Do(req)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRateLimitTransportHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rt := newTransport(Options{RateLimit: 0.001}, http.DefaultTransport)
	client := &http.Client{Transport: rt}

	// the first request consumes the burst
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	assert.Error(t, err)
}
