package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mkhalitova/climate-covariates/internal/common"
	"github.com/mkhalitova/climate-covariates/internal/covariate"
)

// ErrRateLimited marks a backend rate-limit signal. Exhausting retries
// on it aborts the whole run; callers distinguish it with errors.Is.
var ErrRateLimited = covariate.ErrRateLimited

var (
	errServerError = errors.New("server error")
	errUnexpected  = errors.New("unexpected status code")
	errCircuitOpen = errors.New("circuit open")
)

// breaker wraps a circuit breaker and remembers the last failure that
// fed it, so an open circuit can be attributed to its cause instead of
// being reported as a bare state change.
type breaker struct {
	cb *gobreaker.CircuitBreaker

	mu      sync.Mutex
	lastErr error
}

func newBreaker(settings gobreaker.Settings) *breaker {
	return &breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	if err != nil && !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.mu.Lock()
		b.lastErr = err
		b.mu.Unlock()
	}
	return result, err
}

// lastError is the most recent failure the breaker counted. Zero while
// the breaker has never seen one.
func (b *breaker) lastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// BackoffConfig controls the two retry regimes: exponential backoff for
// rate-limit signals, a fixed shorter delay for everything else.
type BackoffConfig struct {
	MaxAttempts   int
	RateLimitBase time.Duration // doubles per rate-limited attempt
	RetryDelay    time.Duration // fixed delay for other errors
}

// HTTPClientConfig bundles the shared HTTP client and retry settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

// attemptFunc performs one request/decode cycle against a backend.
type attemptFunc func(ctx context.Context) (covariate.Values, error)

// fetchWithRetry runs attempt under the provider's circuit breaker.
// Rate-limit signals back off exponentially and, once the attempt
// ceiling is hit, surface as ErrRateLimited. Any other error retries on
// the fixed delay and finally degrades to an all-absent result. An
// open circuit is always an error, attributed to the failures that
// tripped it, because an absent recorded here would be cached as
// final.
func fetchWithRetry(
	ctx context.Context,
	name string,
	cfg BackoffConfig,
	cb *breaker,
	variables []string,
	attempt attemptFunc,
) (covariate.Values, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	delay := cfg.RateLimitBase

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return attempt(ctx)
		})
		if err == nil {
			vals, ok := result.(covariate.Values)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return vals, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// An open circuit means the backend is already failing hard.
		// Absent values are final once cached, so never record them
		// here; surface the cause and let the batch be abandoned.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			if last := cb.lastError(); errors.Is(last, ErrRateLimited) {
				return nil, fmt.Errorf("%s circuit open after rate limiting: %w", name, ErrRateLimited)
			}
			return nil, fmt.Errorf("%s %w: last failure: %v", name, errCircuitOpen, cb.lastError())
		}

		if errors.Is(err, ErrRateLimited) {
			if n >= cfg.MaxAttempts {
				return nil, fmt.Errorf("%s exhausted %d attempts: %w", name, n, ErrRateLimited)
			}
			log.Printf("WARN: %s rate limited, sleeping %s (attempt %d/%d)", name, delay, n, cfg.MaxAttempts)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
			continue
		}

		if n >= cfg.MaxAttempts {
			log.Printf("WARN: %s fetch failed after %d attempts, recording absent: %v", name, n, err)
			return covariate.AllAbsent(variables), nil
		}
		if err := sleep(ctx, cfg.RetryDelay); err != nil {
			return nil, err
		}
	}
}

// classifyResponse turns a non-2xx response into the retry taxonomy.
// The body is consulted because the vegetation backend reports quota
// exhaustion as error text, not only as a 429.
func classifyResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if common.ContainsAny(string(body), "quota", "rate limit", "ratelimit") {
		return fmt.Errorf("%w: status %d: %s", ErrRateLimited, resp.StatusCode, body)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
	}
	return fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
