package dataflows

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Backoff spaces retries of a failed call: Base, Base*Factor, ... capped
// at Max. Attempts counts the retries after the first call.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	Factor   float64
}

var defaultBackoff = Backoff{Attempts: 3, Base: time.Second, Max: 30 * time.Second, Factor: 2}

func (b Backoff) delay(retry int) time.Duration {
	d := time.Duration(float64(b.Base) * math.Pow(b.Factor, float64(retry-1)))
	if d > b.Max {
		return b.Max
	}
	return d
}

// Retry calls fn until it succeeds, returns a permanent error, the retries
// run out or ctx is done.
func (b Backoff) Retry(ctx context.Context, fn func() error) error {
	var err error
	for retry := 0; retry <= b.Attempts; retry++ {
		if retry > 0 {
			t := time.NewTimer(b.delay(retry))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", b.Attempts+1, err)
}

// permanentError marks a failure retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

// Guard throttles calls to one remote source and stops calling it while it
// keeps failing.
type Guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	backoff Backoff
}

// NewGuard allows rps requests per second with the given burst. The breaker
// opens after 3 consecutive failures, or a failure rate above 5% once 20
// requests were seen, and half-opens after a minute.
func NewGuard(name string, rps float64, burst int) *Guard {
	st := gobreaker.Settings{
		Name:     name,
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
		},
	}
	return &Guard{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		backoff: defaultBackoff,
	}
}

func (g *Guard) WithBackoff(b Backoff) *Guard {
	g.backoff = b
	return g
}

// Do runs fn under the rate limit, the breaker and the backoff. An open
// breaker is not retried.
func (g *Guard) Do(ctx context.Context, fn func() error) error {
	return g.backoff.Retry(ctx, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return permanent(err)
		}
		_, err := g.breaker.Execute(func() (any, error) {
			return nil, fn()
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return permanent(err)
		}
		return err
	})
}

func (g *Guard) State() string {
	return g.breaker.State().String()
}
