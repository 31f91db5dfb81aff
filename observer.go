package dbcon

import "time"

// Borrow outcomes reported to an Observer.
const (
	OutcomeOK        = "ok"
	OutcomeExhausted = "exhausted"
	OutcomeError     = "error"
)

// Pool lifecycle events reported to an Observer.
const (
	EventCreated   = "created"
	EventDestroyed = "destroyed"
)

// Observer receives borrow and lifecycle events. Implementations must be safe
// for concurrent use. See the metrics package for a Prometheus one.
type Observer interface {
	ObserveBorrow(synonym, outcome string, wait time.Duration)
	ObservePoolEvent(synonym, event string)
}

type nopObserver struct{}

func (nopObserver) ObserveBorrow(string, string, time.Duration) {}
func (nopObserver) ObservePoolEvent(string, string)             {}
