package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errGateway = errors.New("gateway down")

func failing(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errGateway
	}
}

func succeeding(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return nil
	}
}

func TestBreaker_TripsAfterThresholdWithoutNetworkCall(t *testing.T) {
	clock := newFakeClock()
	b := New("t1/whatsapp/i1", Settings{Window: time.Minute, MaxRequests: 100, FailureThreshold: 3, Cooldown: 10 * time.Second}, WithClock(clock.Now))
	ctx := context.Background()

	calls := 0
	for i := 0; i < 3; i++ {
		err := b.Execute(ctx, failing(&calls))
		require.ErrorIs(t, err, errGateway)
	}
	assert.Equal(t, Open, b.State())

	err := b.Execute(ctx, failing(&calls))
	require.True(t, pkgError.IsCircuitOpen(err), "4th call must be rejected locally, got %v", err)
	assert.Equal(t, 3, calls, "rejected call must not reach the gateway")

	var open *pkgError.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, reasonFailures, open.Reason)
	assert.Equal(t, 10*time.Second, open.RetryAfter)
}

func TestBreaker_CooldownAllowsProbe(t *testing.T) {
	clock := newFakeClock()
	b := New("k", Settings{Window: time.Minute, MaxRequests: 100, FailureThreshold: 2, Cooldown: 10 * time.Second}, WithClock(clock.Now))
	ctx := context.Background()

	calls := 0
	_ = b.Execute(ctx, failing(&calls))
	_ = b.Execute(ctx, failing(&calls))
	require.Equal(t, Open, b.State())

	clock.Advance(9 * time.Second)
	assert.True(t, pkgError.IsCircuitOpen(b.Execute(ctx, succeeding(&calls))))

	clock.Advance(time.Second)
	assert.Equal(t, HalfOpen, b.State())
	require.NoError(t, b.Execute(ctx, succeeding(&calls)))
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 3, calls)
}

func TestBreaker_FailedProbeRestartsCooldown(t *testing.T) {
	clock := newFakeClock()
	b := New("k", Settings{Window: time.Minute, MaxRequests: 100, FailureThreshold: 1, Cooldown: 10 * time.Second}, WithClock(clock.Now))
	ctx := context.Background()

	calls := 0
	_ = b.Execute(ctx, failing(&calls))
	clock.Advance(10 * time.Second)

	require.ErrorIs(t, b.Execute(ctx, failing(&calls)), errGateway)
	assert.Equal(t, Open, b.State())

	clock.Advance(5 * time.Second)
	assert.True(t, pkgError.IsCircuitOpen(b.Execute(ctx, succeeding(&calls))), "trip timestamp must reset on failed probe")
	assert.Equal(t, 2, calls)
}

func TestBreaker_OnlyOneProbeInHalfOpen(t *testing.T) {
	clock := newFakeClock()
	b := New("k", Settings{Window: time.Minute, MaxRequests: 100, FailureThreshold: 1, Cooldown: time.Second}, WithClock(clock.Now))

	calls := 0
	_ = b.Execute(context.Background(), failing(&calls))
	clock.Advance(time.Second)

	require.NoError(t, b.Allow())
	err := b.Allow()
	require.True(t, pkgError.IsCircuitOpen(err))
	b.Record(nil)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_RequestCeilingRejects(t *testing.T) {
	clock := newFakeClock()
	b := New("k", Settings{Window: time.Minute, MaxRequests: 3, FailureThreshold: 5, Cooldown: 5 * time.Second}, WithClock(clock.Now))
	ctx := context.Background()

	calls := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Execute(ctx, succeeding(&calls)))
		clock.Advance(time.Second)
	}
	before := testutil.ToFloat64(rejectionsTotal.WithLabelValues(reasonRate))

	err := b.Execute(ctx, succeeding(&calls))
	require.True(t, pkgError.IsCircuitOpen(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, before+1, testutil.ToFloat64(rejectionsTotal.WithLabelValues(reasonRate)))

	var open *pkgError.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, 57*time.Second, open.RetryAfter, "retry once the first call leaves the window")
	assert.Equal(t, Closed, b.State(), "rate ceiling does not trip the breaker")

	clock.Advance(57 * time.Second)
	require.NoError(t, b.Execute(ctx, succeeding(&calls)))
	assert.Equal(t, 4, calls)
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b := New("k", Settings{Window: time.Minute, MaxRequests: 100, FailureThreshold: 2, Cooldown: time.Minute})
	ctx := context.Background()

	calls := 0
	_ = b.Execute(ctx, failing(&calls))
	_ = b.Execute(ctx, succeeding(&calls))
	_ = b.Execute(ctx, failing(&calls))
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 1, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_ClassifierIgnoresNonFailures(t *testing.T) {
	notFound := pkgError.NotFoundError("no such instance")
	b := New("k", Settings{Window: time.Minute, MaxRequests: 100, FailureThreshold: 1, Cooldown: time.Minute},
		WithFailureClassifier(func(err error) bool {
			return DefaultFailureClassifier(err) && !pkgError.IsNotFound(err)
		}))

	for i := 0; i < 5; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return notFound })
		require.ErrorIs(t, err, notFound)
	}
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_StateChangeHook(t *testing.T) {
	var seen []State
	b := New("k", Settings{Window: time.Minute, MaxRequests: 100, FailureThreshold: 1, Cooldown: time.Minute},
		WithStateChangeHook(func(_ string, _, to State) { seen = append(seen, to) }))

	calls := 0
	_ = b.Execute(context.Background(), failing(&calls))
	b.Reset()
	assert.Equal(t, []State{Open, Closed}, seen)
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	r := NewRegistry(Settings{Window: time.Minute, MaxRequests: 100, FailureThreshold: 1, Cooldown: time.Minute})
	a := Key{TenantID: "t1", ChannelType: "whatsapp", InstanceID: "i1"}
	b := Key{TenantID: "t2", ChannelType: "whatsapp", InstanceID: "i1"}

	calls := 0
	_ = r.Execute(context.Background(), a, failing(&calls))
	assert.True(t, pkgError.IsCircuitOpen(r.Execute(context.Background(), a, succeeding(&calls))))
	assert.NoError(t, r.Execute(context.Background(), b, succeeding(&calls)))

	snap, ok := r.Snapshot(a)
	require.True(t, ok)
	assert.Equal(t, "open", snap.State)

	r.Remove(a)
	_, ok = r.Snapshot(a)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ConcurrentExecute(t *testing.T) {
	r := NewRegistry(Settings{Window: time.Minute, MaxRequests: 50, FailureThreshold: 1000, Cooldown: time.Minute})
	key := Key{TenantID: "t", ChannelType: "whatsapp", InstanceID: "i"}

	var mu sync.Mutex
	admitted := 0
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Execute(context.Background(), key, func(context.Context) error {
				mu.Lock()
				admitted++
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, admitted)
}

// Within any window, the breaker never admits more than MaxRequests calls and
// never admits a call while open inside the cooldown.
func TestBreaker_PropertyAdmissionBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clock := newFakeClock()
		settings := Settings{
			Window:           time.Duration(rapid.IntRange(5, 60).Draw(rt, "window")) * time.Second,
			MaxRequests:      rapid.IntRange(1, 10).Draw(rt, "max"),
			FailureThreshold: rapid.IntRange(1, 5).Draw(rt, "threshold"),
			Cooldown:         time.Duration(rapid.IntRange(1, 30).Draw(rt, "cooldown")) * time.Second,
		}
		b := New("prop", settings, WithClock(clock.Now))

		var admittedAt []time.Time
		steps := rapid.IntRange(1, 80).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			clock.Advance(time.Duration(rapid.IntRange(0, 4000).Draw(rt, "advance_ms")) * time.Millisecond)
			fail := rapid.Bool().Draw(rt, "fail")

			wasOpen := b.State() == Open
			err := b.Execute(context.Background(), func(context.Context) error {
				admittedAt = append(admittedAt, clock.Now())
				if fail {
					return errGateway
				}
				return nil
			})
			if wasOpen && !pkgError.IsCircuitOpen(err) {
				rt.Fatalf("call admitted while open")
			}
		}

		for i := range admittedAt {
			count := 0
			for j := i; j < len(admittedAt); j++ {
				if admittedAt[j].Sub(admittedAt[i]) < settings.Window {
					count++
				}
			}
			if count > settings.MaxRequests {
				rt.Fatalf("admitted %d calls within one window (max %d)", count, settings.MaxRequests)
			}
		}
	})
}
