package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"StockOracle/internal/logger"
	"StockOracle/internal/metrics"
	"StockOracle/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// bodyCheck inspects a 2xx body for provider-level errors.
type bodyCheck func(symbol string, body []byte) error

// httpGetter is the HTTP plumbing shared by providers: a minimum interval
// between calls, bounded retries with exponential backoff for transient
// failures, and a circuit breaker that stops hammering a failing upstream.
type httpGetter struct {
	provider string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	retry    RetryPolicy
	minGap   time.Duration
	log      *logrus.Entry
}

func newHTTPGetter(provider string, opts Options) *httpGetter {
	client := opts.Client
	if client == nil {
		transport := &http.Transport{}
		if opts.Proxy != "" {
			if u, err := url.Parse(opts.Proxy); err == nil {
				transport.Proxy = http.ProxyURL(u)
			}
		}
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout, Transport: transport}
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}

	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	log := logger.WithComponent("collector").WithField("provider", provider)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    provider,
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// permanent failures say nothing about upstream health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, model.ErrPermanentFetch)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &httpGetter{
		provider: provider,
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		breaker:  breaker,
		retry:    RetryPolicy{MaxAttempts: attempts, Base: opts.BackoffBase, Max: opts.BackoffMax},
		minGap:   opts.MinInterval,
		log:      log,
	}
}

// MinInterval is the enforced minimum gap between provider calls.
func (g *httpGetter) MinInterval() time.Duration { return g.minGap }

// get performs a GET with retries. Permanent failures return immediately;
// transient ones are retried until the attempt budget is spent.
func (g *httpGetter) get(ctx context.Context, symbol, rawURL string, header http.Header, check bodyCheck) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := g.retry.Backoff(attempt - 1)
			g.log.WithField("symbol", symbol).Warnf("attempt %d/%d failed: %v, retrying in %v",
				attempt-1, g.retry.MaxAttempts, lastErr, wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
		}

		body, err := g.once(ctx, symbol, rawURL, header, check)
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, model.ErrPermanentFetch) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%d attempts exhausted: %w", g.retry.MaxAttempts, lastErr)
}

func (g *httpGetter) once(ctx context.Context, symbol, rawURL string, header http.Header, check bodyCheck) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.do(ctx, symbol, rawURL, header, check)
	})

	outcome := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "breaker_open"
		err = &model.FetchError{Provider: g.provider, Symbol: symbol, Err: err}
	case errors.Is(err, model.ErrPermanentFetch):
		outcome = "permanent"
	case err != nil:
		outcome = "transient"
	}
	metrics.RecordFetch(g.provider, outcome, time.Since(start))

	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (g *httpGetter) do(ctx context.Context, symbol, rawURL string, header http.Header, check bodyCheck) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &model.FetchError{Provider: g.provider, Symbol: symbol, Permanent: true, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &model.FetchError{Provider: g.provider, Symbol: symbol, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.FetchError{Provider: g.provider, Symbol: symbol, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &model.FetchError{
			Provider:   g.provider,
			Symbol:     symbol,
			StatusCode: resp.StatusCode,
			Permanent:  isPermanentStatus(resp.StatusCode),
			Err:        fmt.Errorf("body: %s", truncate(body, 200)),
		}
	}
	if check != nil {
		if err := check(symbol, body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// isPermanentStatus: 4xx other than 408/429 will not improve on retry.
func isPermanentStatus(code int) bool {
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return false
	}
	return code >= 400 && code < 500
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
