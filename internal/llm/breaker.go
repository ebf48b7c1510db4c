package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Breaker wraps an Adapter in a circuit breaker. While the circuit is open
// calls fail immediately with an AdapterError, so the stage moves straight
// to its fallback instead of waiting out another timeout.
type Breaker struct {
	next Adapter
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker trips after failures consecutive errors and probes again after cooldown
func NewBreaker(next Adapter, failures uint32, cooldown time.Duration, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// output that fails to parse is not a provider outage
			var parseErr *ParseFailure
			return err == nil || errors.As(err, &parseErr) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Name returns the wrapped provider name
func (b *Breaker) Name() string {
	return b.next.Name()
}

// State exposes the breaker state for diagnostics
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Invoke runs the wrapped adapter through the breaker
func (b *Breaker) Invoke(ctx context.Context, req Request) (*Response, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Invoke(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &AdapterError{Provider: b.Name(), Err: err}
		}
		return nil, err
	}
	return out.(*Response), nil
}
