package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(clock *fakeClock, threshold int, cooldown time.Duration) *Breaker {
	return NewBreaker(Options{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
		FailureWindow:    10 * time.Minute,
		Now:              clock.Now,
	})
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 3, time.Minute)

	for i := 0; i < 3; i++ {
		require.Equal(t, Proceed, b.Allow())
		b.RecordOutcome(false)
	}

	require.Equal(t, Reject, b.Allow())
	require.Equal(t, "OPEN", b.Snapshot().Status)
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 3, time.Minute)

	b.RecordOutcome(false)
	b.RecordOutcome(false)
	b.RecordOutcome(true)
	b.RecordOutcome(false)
	b.RecordOutcome(false)

	require.Equal(t, Proceed, b.Allow())
	snap := b.Snapshot()
	require.Equal(t, "CLOSED", snap.Status)
	require.Equal(t, 2, snap.ConsecutiveFailures)
}

func TestBreaker_RejectsDuringCooldown(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, time.Minute)

	b.RecordOutcome(false)
	require.Equal(t, Reject, b.Allow())

	clock.Advance(59 * time.Second)
	require.Equal(t, Reject, b.Allow())
}

func TestBreaker_SingleProbeAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, time.Minute)

	b.RecordOutcome(false)
	clock.Advance(61 * time.Second)

	require.Equal(t, ProceedAsProbe, b.Allow())
	// Concurrent arrivals during the probe are treated like OPEN.
	require.Equal(t, Reject, b.Allow())
	require.Equal(t, Reject, b.Allow())
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, time.Minute)

	b.RecordOutcome(false)
	clock.Advance(61 * time.Second)
	require.Equal(t, ProceedAsProbe, b.Allow())

	b.RecordOutcome(true)

	snap := b.Snapshot()
	require.Equal(t, "CLOSED", snap.Status)
	require.Equal(t, 0, snap.ConsecutiveFailures)
	require.Equal(t, Proceed, b.Allow())
}

func TestBreaker_ProbeFailureExtendsCooldown(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, time.Minute)

	b.RecordOutcome(false)
	openedAt := clock.Now()

	clock.Advance(61 * time.Second)
	require.Equal(t, ProceedAsProbe, b.Allow())
	b.RecordOutcome(false)

	snap := b.Snapshot()
	require.Equal(t, "OPEN", snap.Status)
	// The cooldown restarts from the probe failure, not the original open.
	require.True(t, snap.OpenedAt.After(openedAt))

	clock.Advance(59 * time.Second)
	require.Equal(t, Reject, b.Allow())
	clock.Advance(2 * time.Second)
	require.Equal(t, ProceedAsProbe, b.Allow())
}

func TestBreaker_QuietPeriodResetsStreak(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(Options{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
		FailureWindow:    time.Minute,
		Now:              clock.Now,
	})

	b.RecordOutcome(false)
	b.RecordOutcome(false)
	clock.Advance(2 * time.Minute)
	b.RecordOutcome(false)

	snap := b.Snapshot()
	require.Equal(t, "CLOSED", snap.Status)
	require.Equal(t, 1, snap.ConsecutiveFailures)
}

func TestBreaker_CancelProbeReleasesSlot(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, time.Minute)

	b.RecordOutcome(false)
	clock.Advance(61 * time.Second)

	require.Equal(t, ProceedAsProbe, b.Allow())
	require.Equal(t, Reject, b.Allow())

	b.CancelProbe()
	require.Equal(t, ProceedAsProbe, b.Allow())
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 5, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			switch b.Allow() {
			case Proceed, ProceedAsProbe:
				b.RecordOutcome(n%2 == 0)
			}
			_ = b.Snapshot()
		}(i)
	}
	wg.Wait()
}

func TestRegistry_SharedPerPath(t *testing.T) {
	r := NewRegistry(Options{FailureThreshold: 1, Cooldown: time.Minute})

	a := r.For("private-tunnel")
	b := r.For("private-tunnel")
	require.Same(t, a, b)

	a.RecordOutcome(false)
	snaps := r.Snapshots()
	require.Equal(t, "OPEN", snaps["private-tunnel"].Status)
}
