package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is the position of a Breaker.
type State int

const (
	Closed   State = iota // calls pass through
	Open                  // calls fail fast with ErrOpen
	HalfOpen              // one trial call is let through
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned by Guard while the breaker rejects calls.
var ErrOpen = eris.New("resilience: circuit open")

// BreakerSettings configures a Breaker. Zero fields take the values of
// DefaultBreakerSettings.
type BreakerSettings struct {
	Threshold int           // consecutive counted failures that open the circuit
	Cooldown  time.Duration // time spent open before a trial call

	// Counts decides which errors are failures. Nil counts every error except
	// caller cancellation.
	Counts func(error) bool

	OnChange func(from, to State)
}

// DefaultBreakerSettings opens after 5 failures and cools down for 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{Threshold: 5, Cooldown: 30 * time.Second}
}

// BreakerFromSeconds builds BreakerSettings from config units. Non-positive
// values keep the defaults.
func BreakerFromSeconds(threshold, cooldownSecs int) BreakerSettings {
	s := DefaultBreakerSettings()
	if threshold > 0 {
		s.Threshold = threshold
	}
	if cooldownSecs > 0 {
		s.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return s
}

// Breaker fails calls fast after a run of failures. After Cooldown a single
// trial call decides whether it closes again.
type Breaker struct {
	set BreakerSettings
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool
}

// NewBreaker creates a closed Breaker.
func NewBreaker(s BreakerSettings) *Breaker {
	d := DefaultBreakerSettings()
	if s.Threshold <= 0 {
		s.Threshold = d.Threshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = d.Cooldown
	}
	if s.Counts == nil {
		s.Counts = countsAsFailure
	}
	return &Breaker{set: s, now: time.Now}
}

func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Guard runs fn unless b is open. Returns ErrOpen without calling fn when
// the circuit is open or a trial call is already in flight.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := b.acquire(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	b.release(err)
	return val, err
}

// State reports the current position, showing HalfOpen once the cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cooled() {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) cooled() bool {
	return b.now().Sub(b.openedAt) >= b.set.Cooldown
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.cooled() {
		b.move(HalfOpen)
	}
	switch {
	case b.state == Open:
		return ErrOpen
	case b.state == HalfOpen && b.trial:
		return ErrOpen
	case b.state == HalfOpen:
		b.trial = true
	}
	return nil
}

func (b *Breaker) release(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := b.set.Counts(err)
	if b.state == HalfOpen {
		b.trial = false
		switch {
		case failed:
			b.openedAt = b.now()
			b.move(Open)
		case err == nil:
			b.failures = 0
			b.move(Closed)
		}
		return
	}

	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == Closed && b.failures >= b.set.Threshold {
		b.openedAt = b.now()
		b.move(Open)
	}
}

func (b *Breaker) move(to State) {
	from := b.state
	b.state = to
	if from != to && b.set.OnChange != nil {
		b.set.OnChange(from, to)
	}
}

// LogTransitions returns an OnChange hook that logs state changes for service.
func LogTransitions(service string) func(from, to State) {
	return func(from, to State) {
		zap.L().Warn("resilience: circuit state change",
			zap.String("service", service),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
}
