package github

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"blogdash/logger"

	"github.com/cenkalti/backoff/v4"
	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
	defaultMaxElapsed      = 30 * time.Second
	// an attempt started just before the retry budget runs out still gets this long
	attemptTimeout = 30 * time.Second
)

// clientTimeout is the whole-call deadline for a retry budget of maxElapsed.
// It covers every retry plus one final attempt.
func clientTimeout(maxElapsed time.Duration) time.Duration {
	if maxElapsed <= 0 {
		maxElapsed = defaultMaxElapsed
	}
	return maxElapsed + attemptTimeout
}

// backoffTransport retries network errors and 5xx responses with exponential
// backoff. Any other status is returned to the caller untouched. Only
// body-less requests are retried.
type backoffTransport struct {
	next            http.RoundTripper
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsed      time.Duration
}

func newBackoffTransport(next http.RoundTripper, maxElapsed time.Duration) *backoffTransport {
	if maxElapsed <= 0 {
		maxElapsed = defaultMaxElapsed
	}
	return &backoffTransport{
		next:            next,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		maxElapsed:      maxElapsed,
	}
}

func (t *backoffTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody {
		return t.next.RoundTrip(req)
	}

	var resp *http.Response
	op := func() error {
		var err error
		resp, err = t.next.RoundTrip(req)
		if err != nil {
			if req.Context().Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if resp.StatusCode >= 500 && resp.StatusCode <= 599 {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return fmt.Errorf("server error: %s", resp.Status)
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("Retrying remote request",
			zap.String("url", req.URL.String()),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.initialInterval
	b.MaxInterval = t.maxInterval
	b.MaxElapsedTime = t.maxElapsed

	if err := backoff.RetryNotify(op, backoff.WithContext(b, req.Context()), notify); err != nil {
		return nil, err
	}
	return resp, nil
}

// rateLimitTransport waits on a shared limiter before every request
type rateLimitTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// newTransport builds auth -> backoff -> rate limit -> base. Basic auth is
// used when a user is configured, a bearer token otherwise.
func newTransport(opts Options, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}

	var rt http.RoundTripper = base
	if opts.RateLimit > 0 {
		rt = &rateLimitTransport{
			next:    rt,
			limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		}
	}
	rt = newBackoffTransport(rt, opts.RetryMaxElapsed)

	if opts.Token == "" {
		return rt
	}
	if opts.User != "" {
		return &gh.BasicAuthTransport{
			Username:  opts.User,
			Password:  opts.Token,
			Transport: rt,
		}
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
	return &oauth2.Transport{Source: src, Base: rt}
}
