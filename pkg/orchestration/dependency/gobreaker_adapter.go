package dependency

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
)

// NamedBreaker wraps sony/gobreaker's CircuitBreaker for the core's
// optional, out-of-band external collaborators (the L3 managed knowledge
// base): unlike CircuitBreaker above, which implements
// the sample-rate breaker the rest of this package's tests already pin
// down, a best-effort enrichment call only needs "stop hammering a
// dependency that just failed a few times in a row", which is exactly
// gobreaker's default consecutive-failures ReadyToTrip.
type NamedBreaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewNamedBreaker builds a breaker named name that opens after
// consecutiveFailures in a row and probes again after openTimeout.
func NewNamedBreaker(name string, consecutiveFailures uint32, openTimeout time.Duration) *NamedBreaker {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
	}
	return &NamedBreaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Execute runs fn through the breaker, short-circuiting with
// gobreaker.ErrOpenState while tripped.
func (b *NamedBreaker) Execute(_ context.Context, fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current state name ("closed", "open",
// "half-open"), mirroring CircuitBreaker.GetState's string form for
// consistent logging across both breaker flavors in this package.
func (b *NamedBreaker) State() string {
	return b.cb.State().String()
}
