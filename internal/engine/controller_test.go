package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/applimit/internal/clock"
	"github.com/vitaliisemenov/applimit/internal/core"
)

type limitCall struct {
	observerID core.ObserverID
	userID     core.UserID
	limitMs    uint64
	elapsedMs  uint64
	callback   Callback
}

type sessionEndCall struct {
	observerID core.ObserverID
	userID     core.UserID
	elapsedMs  uint64
	callback   Callback
}

type recordingNotifier struct {
	mu           sync.Mutex
	limitCalls   []limitCall
	sessionCalls []sessionEndCall
}

func (n *recordingNotifier) OnLimitReached(observerID core.ObserverID, userID core.UserID, limitMs, elapsedMs uint64, cb Callback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.limitCalls = append(n.limitCalls, limitCall{observerID, userID, limitMs, elapsedMs, cb})
}

func (n *recordingNotifier) OnSessionEnd(observerID core.ObserverID, userID core.UserID, elapsedMs uint64, cb Callback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessionCalls = append(n.sessionCalls, sessionEndCall{observerID, userID, elapsedMs, cb})
}

func (n *recordingNotifier) limits() []limitCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]limitCall(nil), n.limitCalls...)
}

func (n *recordingNotifier) sessionEnds() []sessionEndCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sessionEndCall(nil), n.sessionCalls...)
}

func newTestController(t *testing.T, fc *clockwork.FakeClock, notifier Notifier) *Controller {
	t.Helper()
	c := NewController(ControllerConfig{
		Clock:    clock.New(fc),
		Notifier: notifier,
	})
	t.Cleanup(c.Close)
	return c
}

func awaitCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.FailNow(t, "condition never became true")
}

// Scenario 1 (spec.md §8): basic crossing via a direct stop.
func TestBasicCrossing(t *testing.T) {
	fc := clockwork.NewFakeClock()
	n := &recordingNotifier{}
	c := newTestController(t, fc, n)

	require.NoError(t, c.AddAppUsageObserver(1, 1, []core.EntityName{"A"}, 60_000, "cb", 100))
	require.NoError(t, c.NoteUsageStart("A", 100))
	fc.Advance(60_000 * time.Millisecond)
	require.NoError(t, c.NoteUsageStop("A", 100))

	calls := n.limits()
	require.Len(t, calls, 1)
	assert.EqualValues(t, 60_000, calls[0].limitMs)
	assert.EqualValues(t, 60_000, calls[0].elapsedMs)
}

// Scenario 2 (spec.md §8): timer-driven crossing, then no further callback.
func TestTimerDrivenCrossing(t *testing.T) {
	fc := clockwork.NewFakeClock()
	n := &recordingNotifier{}
	c := newTestController(t, fc, n)

	require.NoError(t, c.AddAppUsageObserver(1, 1, []core.EntityName{"A"}, 60_000, "cb", 100))
	require.NoError(t, c.NoteUsageStart("A", 100))

	fc.BlockUntil(1)
	fc.Advance(60_000 * time.Millisecond)
	awaitCondition(t, 2*time.Second, func() bool { return len(n.limits()) == 1 })

	fc.Advance(10_000 * time.Millisecond)
	require.NoError(t, c.NoteUsageStop("A", 100))

	assert.Len(t, n.limits(), 1)
}

// Scenario 3 (spec.md §8): overlapping entities in one group.
func TestOverlappingEntitiesOneGroup(t *testing.T) {
	fc := clockwork.NewFakeClock()
	n := &recordingNotifier{}
	c := newTestController(t, fc, n)

	require.NoError(t, c.AddAppUsageObserver(1, 1, []core.EntityName{"A", "B"}, 60_000, "cb", 100))
	require.NoError(t, c.NoteUsageStart("A", 100))

	fc.Advance(10_000 * time.Millisecond)
	require.NoError(t, c.NoteUsageStart("B", 100))

	fc.Advance(30_000 * time.Millisecond)
	require.NoError(t, c.NoteUsageStop("A", 100))

	fc.BlockUntil(1)
	fc.Advance(20_000 * time.Millisecond) // t=60_000 total: timer should fire
	awaitCondition(t, 2*time.Second, func() bool { return len(n.limits()) == 1 })

	fc.Advance(10_000 * time.Millisecond) // t=70_000
	require.NoError(t, c.NoteUsageStop("B", 100))

	calls := n.limits()
	require.Len(t, calls, 1)
	assert.EqualValues(t, 60_000, calls[0].elapsedMs)
}

// Scenario 4 (spec.md §8): session rollover after a long gap resets usage.
func TestSessionRollover(t *testing.T) {
	fc := clockwork.NewFakeClock()
	n := &recordingNotifier{}
	c := newTestController(t, fc, n)

	require.NoError(t, c.AddUsageSessionObserver(1, 1, []core.EntityName{"A"}, 60_000, 30_000, "limit-cb", "end-cb", 100))
	require.NoError(t, c.NoteUsageStart("A", 100))
	fc.Advance(60_000 * time.Millisecond)
	require.NoError(t, c.NoteUsageStop("A", 100))

	require.Len(t, n.limits(), 1)

	fc.BlockUntil(1)
	fc.Advance(30_000 * time.Millisecond) // relative t=90_000: session-end threshold elapses
	awaitCondition(t, 2*time.Second, func() bool { return len(n.sessionEnds()) == 1 })
	assert.EqualValues(t, 60_000, n.sessionEnds()[0].elapsedMs)

	// Gap since the stop at t=60_000 is 140_000ms, well past the 30_000ms
	// threshold, so this start opens a fresh session.
	fc.Advance(110_000 * time.Millisecond) // relative t=200_000
	require.NoError(t, c.NoteUsageStart("A", 100))

	fc.Advance(10_000 * time.Millisecond)
	require.NoError(t, c.NoteUsageStop("A", 100))

	assert.Len(t, n.limits(), 1, "no further limit callback after reset below limit")
	assert.Len(t, n.sessionEnds(), 1, "no further session-end callback")
}

// Scenario 5 (spec.md §8): a short gap extends the session instead of
// resetting it, cancelling the pending session-end.
func TestSessionExtension(t *testing.T) {
	fc := clockwork.NewFakeClock()
	n := &recordingNotifier{}
	c := newTestController(t, fc, n)

	require.NoError(t, c.AddUsageSessionObserver(1, 1, []core.EntityName{"A"}, 60_000, 30_000, "limit-cb", "end-cb", 100))
	require.NoError(t, c.NoteUsageStart("A", 100))
	fc.Advance(60_000 * time.Millisecond)
	require.NoError(t, c.NoteUsageStop("A", 100))
	require.Len(t, n.limits(), 1)

	fc.Advance(20_000 * time.Millisecond) // gap 20_000 <= 30_000 threshold; relative t=80_000
	require.NoError(t, c.NoteUsageStart("A", 100))

	// Advance past the original 90_000ms session-end deadline; it must not
	// fire, since starting at t=80_000 should have cancelled it.
	time.Sleep(10 * time.Millisecond)
	fc.Advance(20_000 * time.Millisecond) // relative t=100_000
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, n.sessionEnds(), "session-end must be cancelled by the extension")

	require.NoError(t, c.NoteUsageStop("A", 100))
	c.Dump(discard{})
}

// Scenario 6 (spec.md §8): per-uid quota.
func TestQuotaEnforcement(t *testing.T) {
	fc := clockwork.NewFakeClock()
	n := &recordingNotifier{}
	c := newTestController(t, fc, n)

	for i := 0; i < 1000; i++ {
		err := c.AddAppUsageObserver(42, core.ObserverID(i), []core.EntityName{"A"}, 60_000, nil, 1)
		require.NoErrorf(t, err, "observer %d should register", i)
	}
	err := c.AddAppUsageObserver(42, 1000, []core.EntityName{"A"}, 60_000, nil, 1)
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.QuotaExceeded, kind)

	c.RemoveAppUsageObserver(42, 0)
	require.NoError(t, c.AddAppUsageObserver(42, 1000, []core.EntityName{"A"}, 60_000, nil, 1))
}

func TestInvalidArgumentBelowMinimumLimit(t *testing.T) {
	c := newTestController(t, clockwork.NewFakeClock(), &recordingNotifier{})
	err := c.AddAppUsageObserver(1, 1, []core.EntityName{"A"}, 1000, nil, 1)
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.InvalidArgument, kind)
}

func TestStateConflictOnDoubleStart(t *testing.T) {
	c := newTestController(t, clockwork.NewFakeClock(), &recordingNotifier{})
	require.NoError(t, c.NoteUsageStart("A", 1))
	err := c.NoteUsageStart("A", 1)
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.StateConflict, kind)
}

func TestStateConflictOnStopWithoutStart(t *testing.T) {
	c := newTestController(t, clockwork.NewFakeClock(), &recordingNotifier{})
	err := c.NoteUsageStop("A", 1)
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.StateConflict, kind)
}

func TestColdStartCountsAlreadyActiveEntity(t *testing.T) {
	c := newTestController(t, clockwork.NewFakeClock(), &recordingNotifier{})
	require.NoError(t, c.NoteUsageStart("A", 1))
	require.NoError(t, c.AddAppUsageObserver(1, 1, []core.EntityName{"A"}, 60_000, nil, 1))

	c.mu.Lock()
	g := c.observerTables[1].appGroups[1]
	actives := g.Actives
	c.mu.Unlock()
	assert.Equal(t, 1, actives)
}

func TestOnUserRemovedDropsUserState(t *testing.T) {
	c := newTestController(t, clockwork.NewFakeClock(), &recordingNotifier{})
	require.NoError(t, c.NoteUsageStart("A", 1))
	c.OnUserRemoved(1)

	c.mu.Lock()
	_, exists := c.users[1]
	c.mu.Unlock()
	assert.False(t, exists)

	// A fresh start for the same user and entity must succeed post-removal.
	require.NoError(t, c.NoteUsageStart("A", 1))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
