// Package engine implements the app-usage time-limit monitor: UserState,
// ObserverAppData, the AppUsageGroup/SessionUsageGroup state machines, and
// the Controller façade that ties them to the Timer Service under a single
// global lock.
package engine

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/applimit/internal/clock"
	"github.com/vitaliisemenov/applimit/internal/core"
	"github.com/vitaliisemenov/applimit/internal/metrics"
	"github.com/vitaliisemenov/applimit/internal/timer"
)

// ControllerConfig configures a Controller. Nil fields take the defaults
// returned by core.DefaultConfig and a real clock/logger.
type ControllerConfig struct {
	Config   core.Config
	Clock    clock.Clock
	Notifier Notifier
	Logger   *slog.Logger
	// Metrics is optional; nil disables instrumentation entirely.
	Metrics *metrics.EngineMetrics
	// StateEvictionCap bounds the number of userState instances kept warm
	// (SPEC_FULL.md §4.7); 0 disables eviction entirely.
	StateEvictionCap int
}

// Controller is the public façade (spec.md §4.6). All exported methods
// acquire the internal mutex; none perform I/O while holding it except the
// injected Notifier call for synchronous (non-timer-delivered) firings,
// matching the source's callback-under-lock behavior for that path.
type Controller struct {
	mu sync.Mutex

	clock    clock.Clock
	timers   *timer.Service
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.EngineMetrics
	cfg      atomic.Pointer[core.Config]
	pool     *StatePool

	users          map[core.UserID]*userState
	observerTables map[core.UID]*observerTable
}

// NewController builds a Controller and starts its Timer Service goroutine.
// Callers must call Close when done to stop it.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewReal()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Controller{
		clock:          cfg.Clock,
		notifier:       cfg.Notifier,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		users:          make(map[core.UserID]*userState),
		observerTables: make(map[core.UID]*observerTable),
	}
	conf := cfg.Config
	if conf == (core.Config{}) {
		conf = core.DefaultConfig()
	}
	c.cfg.Store(&conf)
	c.timers = timer.New(cfg.Clock.Underlying(), c.handleTimer, cfg.Logger)

	if cfg.StateEvictionCap > 0 {
		pool, err := NewStatePool(cfg.StateEvictionCap, c.userIsIdleLocked, c.forgetUserLocked)
		if err != nil {
			cfg.Logger.Warn("state pool disabled: invalid capacity", "capacity", cfg.StateEvictionCap, "error", err)
		} else {
			c.pool = pool
		}
	}
	return c
}

// userIsIdleLocked and forgetUserLocked back the StatePool's eviction
// decisions. They're only ever called from StatePool.Touch, which the
// Controller always invokes while already holding c.mu.
func (c *Controller) userIsIdleLocked(userID core.UserID) bool {
	us, ok := c.users[userID]
	return !ok || us.idle()
}

func (c *Controller) forgetUserLocked(userID core.UserID) {
	delete(c.users, userID)
}

// Close stops the Timer Service. No further timer firings are delivered
// after Close returns; pending entries are simply dropped.
func (c *Controller) Close() { c.timers.Stop() }

// UpdateConfig hot-swaps the engine's tunables (SPEC_FULL.md §4.11); it
// never blocks the event path since readers load the pointer atomically.
func (c *Controller) UpdateConfig(cfg core.Config) { c.cfg.Store(&cfg) }

func (c *Controller) config() core.Config { return *c.cfg.Load() }

func (c *Controller) getOrCreateUserStateLocked(userID core.UserID) *userState {
	us, ok := c.users[userID]
	if !ok {
		us = newUserState()
		c.users[userID] = us
	}
	return us
}

func (c *Controller) getOrCreateObserverTableLocked(uid core.UID) *observerTable {
	t, ok := c.observerTables[uid]
	if !ok {
		t = newObserverTable()
		c.observerTables[uid] = t
	}
	return t
}

func (c *Controller) resolveLocked(key core.GroupKey) (usageGroup, bool) {
	table, ok := c.observerTables[key.UID]
	if !ok {
		return nil, false
	}
	switch key.Variant {
	case core.VariantApp:
		g, ok := table.appGroups[key.ObserverID]
		if !ok || g.Key != key {
			return nil, false
		}
		return g, true
	default:
		g, ok := table.sessionGroups[key.ObserverID]
		if !ok || g.Key != key {
			return nil, false
		}
		return g, true
	}
}

// detachGroupLocked removes a group's registration entirely: the observer
// table entry, the UserState reverse index, and any pending timers. Used
// both for upsert-replace and for limit-triggered AppUsageGroup removal.
func (c *Controller) detachGroupLocked(key core.GroupKey, observed []core.EntityName) {
	c.timers.CancelAll(key)
	if table, ok := c.observerTables[key.UID]; ok {
		switch key.Variant {
		case core.VariantApp:
			delete(table.appGroups, key.ObserverID)
		default:
			delete(table.sessionGroups, key.ObserverID)
		}
	}
	if us, ok := c.users[key.UserID]; ok {
		us.removeGroup(key, observed)
	}
}

// applyTimerActions performs the Post/Cancel side effects of an Effect.
// Caller holds the lock.
func (c *Controller) applyTimerActions(key core.GroupKey, eff Effect) {
	if eff.PostCheckTimeout {
		c.timers.Post(timer.CheckTimeout, key, clock.MsToDuration(eff.CheckTimeoutDelay))
	}
	if eff.CancelCheckTimeout {
		c.timers.Cancel(timer.CheckTimeout, key)
	}
	if eff.PostSessionEnd {
		c.timers.Post(timer.InformSessionEnd, key, clock.MsToDuration(eff.SessionEndDelay))
	}
	if eff.CancelSessionEnd {
		c.timers.Cancel(timer.InformSessionEnd, key)
	}
	if c.metrics != nil {
		c.metrics.TimerPending.Set(float64(c.timers.PendingLen()))
	}
}

// applyEffectLocked applies timer actions, removal, and (since this is the
// direct, non-timer-delivered call path) fires the Notifier synchronously,
// still under the lock — matching spec.md §5's default policy for the
// caller-initiated path.
func (c *Controller) applyEffectLocked(g usageGroup, eff Effect) {
	key := g.key()
	c.applyTimerActions(key, eff)

	if eff.RemoveAfterEffect {
		c.detachGroupLocked(key, g.observed())
	}
	if eff.FireLimitReached {
		c.fireLimitReached(g, key, eff.TimeElapsedMs)
	}
	if eff.FireSessionEnd {
		c.fireSessionEnd(g, key, eff.TimeElapsedMs)
	}
}

func (c *Controller) fireLimitReached(g usageGroup, key core.GroupKey, elapsed uint64) {
	if c.metrics != nil {
		c.metrics.LimitReachedTotal.Inc()
	}
	ag, ok := g.(*appGroup)
	if !ok {
		sg := g.(*sessionGroup)
		c.notifier.OnLimitReached(key.ObserverID, key.UserID, sg.TimeLimitMs, elapsed, sg.Callback)
		return
	}
	c.notifier.OnLimitReached(key.ObserverID, key.UserID, ag.TimeLimitMs, elapsed, ag.Callback)
}

func (c *Controller) fireSessionEnd(g usageGroup, key core.GroupKey, elapsed uint64) {
	sg, ok := g.(*sessionGroup)
	if !ok {
		return
	}
	if c.metrics != nil {
		c.metrics.SessionEndTotal.Inc()
	}
	c.notifier.OnSessionEnd(key.ObserverID, key.UserID, elapsed, sg.SessionEndCallback)
}

// recordGroupCountsLocked refreshes the active-groups and per-uid
// observer-count gauges. Called after any registration or removal; it
// recomputes the totals with one pass over the observer tables rather than
// tracking them incrementally across every add/remove/upsert path.
func (c *Controller) recordGroupCountsLocked(uid core.UID) {
	if c.metrics == nil {
		return
	}
	var totalApp, totalSession int
	for _, t := range c.observerTables {
		totalApp += len(t.appGroups)
		totalSession += len(t.sessionGroups)
	}
	c.metrics.ActiveGroups.WithLabelValues("app").Set(float64(totalApp))
	c.metrics.ActiveGroups.WithLabelValues("session").Set(float64(totalSession))

	if t, ok := c.observerTables[uid]; ok {
		c.metrics.ObserversTotal.WithLabelValues(strconv.Itoa(int(uid))).Set(float64(len(t.appGroups) + len(t.sessionGroups)))
	}
}

// AddAppUsageObserver registers an AppUsageGroup (spec.md §4.6). Replaces
// any existing observer with the same observerID for this uid.
func (c *Controller) AddAppUsageObserver(uid core.UID, observerID core.ObserverID, observed []core.EntityName, limitMs uint64, cb Callback, userID core.UserID) error {
	if len(observed) == 0 {
		return core.NewInvalidArgument("observed set must not be empty")
	}
	cfg := c.config()
	if limitMs < cfg.MinTimeLimitMs {
		return core.NewInvalidArgument("timeLimitMs %d below minimum %d", limitMs, cfg.MinTimeLimitMs)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	table := c.getOrCreateObserverTableLocked(uid)
	if existing, ok := table.appGroups[observerID]; ok {
		c.detachGroupLocked(existing.Key, existing.Observed)
	}
	if len(table.appGroups) >= cfg.MaxObserversPerUID {
		return core.NewQuotaExceeded("uid %d has reached the app-observer limit of %d", uid, cfg.MaxObserversPerUID)
	}

	key := core.GroupKey{UserID: userID, UID: uid, ObserverID: observerID, Variant: core.VariantApp}
	g := newAppGroup(key, observed, limitMs, cb, c.logger)
	table.appGroups[observerID] = g

	us := c.getOrCreateUserStateLocked(userID)
	us.addGroup(key, observed)

	// Cold start (spec.md §9): each already-active observed entity below
	// drives its own noteUsageStart call, so a group registered against
	// more than one already-active entity ends up with actives inflated
	// past the one concurrent session actually in progress. Left as-is;
	// the correct fix needs a product decision on what "actives" should
	// mean at registration time.
	now := c.clock.NowMs()
	for _, name := range observed {
		if _, active := us.currentlyActive[name]; active {
			eff := g.noteUsageStart(now, now)
			c.applyEffectLocked(g, eff)
		}
	}
	c.recordGroupCountsLocked(uid)
	return nil
}

// RemoveAppUsageObserver removes an AppUsageGroup; idempotent.
func (c *Controller) RemoveAppUsageObserver(uid core.UID, observerID core.ObserverID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, ok := c.observerTables[uid]
	if !ok {
		return
	}
	g, ok := table.appGroups[observerID]
	if !ok {
		return
	}
	c.detachGroupLocked(g.Key, g.Observed)
	c.recordGroupCountsLocked(uid)
}

// AddUsageSessionObserver registers a SessionUsageGroup (spec.md §4.6,
// symmetric with AddAppUsageObserver).
func (c *Controller) AddUsageSessionObserver(uid core.UID, observerID core.ObserverID, observed []core.EntityName, limitMs, newSessionThresholdMs uint64, limitCb, sessionEndCb Callback, userID core.UserID) error {
	if len(observed) == 0 {
		return core.NewInvalidArgument("observed set must not be empty")
	}
	cfg := c.config()
	if limitMs < cfg.MinTimeLimitMs {
		return core.NewInvalidArgument("timeLimitMs %d below minimum %d", limitMs, cfg.MinTimeLimitMs)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	table := c.getOrCreateObserverTableLocked(uid)
	if existing, ok := table.sessionGroups[observerID]; ok {
		c.detachGroupLocked(existing.Key, existing.Observed)
	}
	if len(table.sessionGroups) >= cfg.MaxObserversPerUID {
		return core.NewQuotaExceeded("uid %d has reached the session-observer limit of %d", uid, cfg.MaxObserversPerUID)
	}

	key := core.GroupKey{UserID: userID, UID: uid, ObserverID: observerID, Variant: core.VariantSession}
	g := newSessionGroup(key, observed, limitMs, newSessionThresholdMs, limitCb, sessionEndCb, c.logger)
	table.sessionGroups[observerID] = g

	us := c.getOrCreateUserStateLocked(userID)
	us.addGroup(key, observed)

	now := c.clock.NowMs()
	for _, name := range observed {
		if _, active := us.currentlyActive[name]; active {
			eff := g.noteUsageStart(now, now)
			c.applyEffectLocked(g, eff)
		}
	}
	c.recordGroupCountsLocked(uid)
	return nil
}

// RemoveUsageSessionObserver removes a SessionUsageGroup; idempotent.
func (c *Controller) RemoveUsageSessionObserver(uid core.UID, observerID core.ObserverID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, ok := c.observerTables[uid]
	if !ok {
		return
	}
	g, ok := table.sessionGroups[observerID]
	if !ok {
		return
	}
	c.detachGroupLocked(g.Key, g.Observed)
	c.recordGroupCountsLocked(uid)
}

// NoteUsageStart ingests a start event (spec.md §4.6).
func (c *Controller) NoteUsageStart(name core.EntityName, userID core.UserID) error {
	start := time.Now()
	if c.metrics != nil {
		defer func() { c.metrics.ObserveEvent(time.Since(start)) }()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	us := c.getOrCreateUserStateLocked(userID)
	if _, active := us.currentlyActive[name]; active {
		return core.NewStateConflict("entity %q already active for user %d", name, userID)
	}
	keys := us.markActive(name)
	now := c.clock.NowMs()
	for _, key := range keys {
		g, ok := c.resolveLocked(key)
		if !ok {
			continue
		}
		eff := g.noteUsageStart(now, now)
		c.applyEffectLocked(g, eff)
	}
	if c.pool != nil {
		c.pool.Touch(userID)
	}
	return nil
}

// NoteUsageStop ingests a stop event (spec.md §4.6).
func (c *Controller) NoteUsageStop(name core.EntityName, userID core.UserID) error {
	start := time.Now()
	if c.metrics != nil {
		defer func() { c.metrics.ObserveEvent(time.Since(start)) }()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	us, ok := c.users[userID]
	if !ok {
		return core.NewStateConflict("entity %q not active for user %d", name, userID)
	}
	if _, active := us.currentlyActive[name]; !active {
		return core.NewStateConflict("entity %q not active for user %d", name, userID)
	}
	keys := us.markInactive(name)
	now := c.clock.NowMs()
	for _, key := range keys {
		g, ok := c.resolveLocked(key)
		if !ok {
			continue
		}
		eff := g.noteUsageStop(now)
		c.applyEffectLocked(g, eff)
	}
	if c.pool != nil {
		c.pool.Touch(userID)
	}
	return nil
}

// handleTimer is the Timer Service Handler (spec.md §4.2). It re-acquires
// the lock, re-validates the group is still live, applies timer/removal
// effects under the lock, then — per SPEC_FULL.md §5 — releases the lock
// before invoking the Notifier, since this path runs on the Timer Service's
// own goroutine rather than a caller's, and there is no caller blocked on
// the result.
func (c *Controller) handleTimer(kind timer.Kind, key core.GroupKey) {
	c.mu.Lock()
	g, ok := c.resolveLocked(key)
	if !ok {
		c.mu.Unlock()
		return
	}

	var eff Effect
	switch kind {
	case timer.CheckTimeout:
		us := c.users[key.UserID]
		stillActive := us != nil && us.isAnyActive(g.observed())
		eff = g.onCheckTimeout(c.clock.NowMs(), stillActive)
	case timer.InformSessionEnd:
		sg, isSession := g.(*sessionGroup)
		if _, live := c.users[key.UserID]; !isSession || !live {
			c.mu.Unlock()
			return
		}
		eff = sg.onSessionEnd()
	}

	c.applyTimerActions(key, eff)
	if eff.RemoveAfterEffect {
		c.detachGroupLocked(key, g.observed())
	}
	c.mu.Unlock()

	if eff.FireLimitReached {
		c.fireLimitReached(g, key, eff.TimeElapsedMs)
	}
	if eff.FireSessionEnd {
		c.fireSessionEnd(g, key, eff.TimeElapsedMs)
	}
}

// OnUserRemoved drops a user's state (spec.md §4.6). The user's groups stay
// in their observer tables and their pending timers are not cancelled; while
// the user has no UserState, handleTimer turns those firings into no-ops (a
// CHECK_TIMEOUT finds no observed entity active, an INFORM_SESSION_END is
// dropped).
func (c *Controller) OnUserRemoved(userID core.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, userID)
	if c.pool != nil {
		c.pool.Forget(userID)
	}
}

// Dump writes a diagnostic text dump of all users and observer apps
// (spec.md §4.6).
func (c *Controller) Dump(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(w, "users: %d\n", len(c.users))
	for userID, us := range c.users {
		fmt.Fprintf(w, "  user %d: active=%d indexed-entities=%d\n", userID, len(us.currentlyActive), len(us.observedIndex))
	}
	fmt.Fprintf(w, "observer tables: %d\n", len(c.observerTables))
	for uid, t := range c.observerTables {
		fmt.Fprintf(w, "  uid %d: app=%d session=%d\n", uid, len(t.appGroups), len(t.sessionGroups))
		for id, g := range t.appGroups {
			fmt.Fprintf(w, "    app observer %d: observed=%v usage=%dms limit=%dms actives=%d\n",
				id, g.Observed, g.UsageTimeMs, g.TimeLimitMs, g.Actives)
		}
		for id, g := range t.sessionGroups {
			fmt.Fprintf(w, "    session observer %d: observed=%v usage=%dms limit=%dms actives=%d threshold=%dms\n",
				id, g.Observed, g.UsageTimeMs, g.TimeLimitMs, g.Actives, g.NewSessionThresholdMs)
		}
	}
}
