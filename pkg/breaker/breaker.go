package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
)

// State represents the circuit breaker state.
type State int

const (
	Closed   State = iota // Normal operation, calls pass through.
	Open                  // Calls rejected immediately.
	HalfOpen              // One probe call allowed to test recovery.
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

const (
	reasonRate     = "request_rate"
	reasonFailures = "consecutive_failures"
	reasonProbe    = "probe_in_flight"
)

// Settings are the per-instance limits.
type Settings struct {
	Window           time.Duration // sliding request window
	MaxRequests      int           // admitted calls allowed per window
	FailureThreshold int           // consecutive failures that trip the breaker
	Cooldown         time.Duration // time open before a probe is let through
}

// DefaultSettings mirror the production defaults of the gateway integration.
func DefaultSettings() Settings {
	return Settings{
		Window:           60 * time.Second,
		MaxRequests:      30,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker guards calls for a single key. It only decides allow/reject and
// never retries on the caller's behalf. Thread-safe.
type Breaker struct {
	mu       sync.Mutex
	key      string
	settings Settings

	state               State
	admitted            []time.Time // admitted call timestamps inside the window
	consecutiveFailures int
	trippedAt           time.Time
	tripReason          string
	probeInFlight       bool

	now           func() time.Time
	isFailure     func(error) bool
	onStateChange func(key string, from, to State)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(b *Breaker) { b.now = fn }
}

// WithFailureClassifier decides which call errors count against the breaker.
func WithFailureClassifier(fn func(error) bool) Option {
	return func(b *Breaker) { b.isFailure = fn }
}

// WithStateChangeHook is invoked (outside the lock) on every state change.
func WithStateChangeHook(fn func(key string, from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// DefaultFailureClassifier treats every error except caller cancellation as
// a failure.
func DefaultFailureClassifier(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

func New(key string, settings Settings, opts ...Option) *Breaker {
	def := DefaultSettings()
	if settings.Window <= 0 {
		settings.Window = def.Window
	}
	if settings.MaxRequests <= 0 {
		settings.MaxRequests = def.MaxRequests
	}
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = def.FailureThreshold
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = def.Cooldown
	}
	b := &Breaker{
		key:       key,
		settings:  settings,
		state:     Closed,
		now:       time.Now,
		isFailure: DefaultFailureClassifier,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current state, applying a pending open -> half-open move.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen(b.now())
	return b.state
}

// Allow admits or rejects one call. An admitted call must be followed by
// exactly one Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	now := b.now()
	from := b.state
	err := b.allowLocked(now)
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	if err != nil {
		rejectionsTotal.WithLabelValues(err.Reason).Inc()
		return err
	}
	return nil
}

func (b *Breaker) allowLocked(now time.Time) *pkgError.CircuitOpenError {
	b.maybeHalfOpen(now)

	if b.state == Open {
		return b.rejection(b.tripReason, b.settings.Cooldown-now.Sub(b.trippedAt))
	}
	if b.state == HalfOpen && b.probeInFlight {
		return b.rejection(reasonProbe, b.settings.Cooldown)
	}

	// The request ceiling does not trip the breaker; calls are refused until
	// the oldest admitted call slides out of the window.
	b.prune(now)
	if len(b.admitted) >= b.settings.MaxRequests {
		return b.rejection(reasonRate, b.admitted[0].Add(b.settings.Window).Sub(now))
	}

	if b.state == HalfOpen {
		b.probeInFlight = true
	}
	b.admit(now)
	return nil
}

// Record reports the outcome of an admitted call.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	from := b.state
	now := b.now()
	failed := b.isFailure(err)

	switch b.state {
	case HalfOpen:
		b.probeInFlight = false
		if failed {
			b.trip(now, reasonFailures)
		} else {
			b.state = Closed
			b.consecutiveFailures = 0
		}
	case Closed:
		if failed {
			b.consecutiveFailures++
			if b.consecutiveFailures >= b.settings.FailureThreshold {
				b.trip(now, reasonFailures)
			}
		} else {
			b.consecutiveFailures = 0
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// Execute runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err)
	return err
}

// Snapshot is a point-in-time view for health reporting.
type Snapshot struct {
	Key                 string    `json:"key"`
	State               string    `json:"state"`
	RequestsInWindow    int       `json:"requests_in_window"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TrippedAt           time.Time `json:"tripped_at,omitempty"`
	TripReason          string    `json:"trip_reason,omitempty"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.maybeHalfOpen(now)
	b.prune(now)
	return Snapshot{
		Key:                 b.key,
		State:               b.state.String(),
		RequestsInWindow:    len(b.admitted),
		ConsecutiveFailures: b.consecutiveFailures,
		TrippedAt:           b.trippedAt,
		TripReason:          b.tripReason,
	}
}

// Reset forces the breaker back to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.consecutiveFailures = 0
	b.admitted = b.admitted[:0]
	b.probeInFlight = false
	b.tripReason = ""
	b.mu.Unlock()
	b.notify(from, Closed)
}

// Must be called with mu held.
func (b *Breaker) maybeHalfOpen(now time.Time) {
	if b.state == Open && now.Sub(b.trippedAt) >= b.settings.Cooldown {
		b.state = HalfOpen
		b.probeInFlight = false
	}
}

// Must be called with mu held.
func (b *Breaker) trip(now time.Time, reason string) {
	b.state = Open
	b.trippedAt = now
	b.tripReason = reason
	b.probeInFlight = false
}

func (b *Breaker) admit(now time.Time) {
	b.admitted = append(b.admitted, now)
}

// prune drops admitted timestamps that left the window. Must be called with mu held.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.settings.Window)
	i := 0
	for i < len(b.admitted) && !b.admitted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.admitted = append(b.admitted[:0], b.admitted[i:]...)
	}
}

func (b *Breaker) rejection(reason string, retryAfter time.Duration) *pkgError.CircuitOpenError {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &pkgError.CircuitOpenError{Key: b.key, Reason: reason, RetryAfter: retryAfter}
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	stateChangesTotal.WithLabelValues(to.String()).Inc()
	if b.onStateChange != nil {
		b.onStateChange(b.key, from, to)
	}
}
