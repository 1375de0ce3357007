package engine

import (
	"log/slog"

	"github.com/vitaliisemenov/applimit/internal/core"
)

// Effect is what a usage-group state transition wants its caller to do next.
// Group methods never touch the Timer Service, Notifier, or the containers
// that index them directly — they only read and mutate their own fields and
// hand back an Effect. The Controller applies its timer and removal actions
// under the same lock that produced it; a timer-delivered notification is
// fired after that lock is released. This keeps a group's only durable handle to the outside world
// its own core.GroupKey, so a group outliving its containers (a stale timer
// firing after removal) can never dereference anything dangling.
type Effect struct {
	PostCheckTimeout   bool
	CheckTimeoutDelay  uint64 // ms
	CancelCheckTimeout bool

	PostSessionEnd   bool
	SessionEndDelay  uint64 // ms
	CancelSessionEnd bool

	FireLimitReached  bool
	FireSessionEnd    bool
	TimeElapsedMs     uint64 // snapshot of usageTimeMs at the moment of firing
	RemoveAfterEffect bool
}

// baseGroup holds the fields shared by AppUsageGroup and SessionUsageGroup
// (spec.md §3). No reference to UserState or ObserverAppData: those
// containers hold the group, not the other way around, and the Controller
// resolves a group from its Key rather than the group resolving its
// containers.
type baseGroup struct {
	Key         core.GroupKey
	Observed    []core.EntityName
	TimeLimitMs uint64
	Callback    Callback

	UsageTimeMs      uint64
	Actives          int
	LastKnownUsageMs uint64

	logger *slog.Logger
}

func (b *baseGroup) observedLen() int { return len(b.Observed) }

// noteStart applies the AppUsageGroup start accounting shared by both
// variants (spec.md §4.4, reused verbatim by §4.5's session variant).
func (b *baseGroup) noteStart(startMs, nowMs uint64) Effect {
	b.Actives++
	var eff Effect
	if b.Actives == 1 {
		b.LastKnownUsageMs = startMs
		remaining := int64(b.TimeLimitMs) - int64(b.UsageTimeMs) + (int64(nowMs) - int64(startMs))
		if remaining > 0 {
			eff.PostCheckTimeout = true
			eff.CheckTimeoutDelay = uint64(remaining)
		}
	}
	if b.Actives > b.observedLen() {
		b.logger.Warn("usage group actives exceeded observed set, clamping",
			"key", b.Key, "actives", b.Actives, "observed", b.observedLen())
		b.Actives = b.observedLen()
	}
	return eff
}

// noteStop applies the shared stop accounting and reports whether the group
// crossed its limit on this call. It never decides removal — AppUsageGroup
// and SessionUsageGroup differ on that (spec.md §4.4 vs §4.5).
func (b *baseGroup) noteStop(stopMs uint64) (eff Effect, crossedLimit bool) {
	crossedBefore := b.UsageTimeMs < b.TimeLimitMs
	b.Actives--
	if b.Actives < 0 {
		b.logger.Warn("usage group actives underflowed, clamping", "key", b.Key)
		b.Actives = 0
	}
	if b.Actives == 0 {
		b.UsageTimeMs += stopMs - b.LastKnownUsageMs
		eff.CancelCheckTimeout = true
		if crossedBefore && b.UsageTimeMs >= b.TimeLimitMs {
			crossedLimit = true
			eff.FireLimitReached = true
			eff.TimeElapsedMs = b.UsageTimeMs
		}
	}
	return eff, crossedLimit
}

// checkTimeout applies the shared CHECK_TIMEOUT handling (spec.md §4.4).
// stillActive reports whether at least one of Observed is still active in
// UserState; the Controller computes it under the lock before calling in,
// since the group has no index to consult itself.
func (b *baseGroup) checkTimeout(nowMs uint64, stillActive bool) Effect {
	remaining := int64(b.TimeLimitMs) - int64(b.UsageTimeMs)
	if remaining <= 0 {
		return Effect{}
	}
	if !stillActive {
		return Effect{}
	}
	used := int64(nowMs) - int64(b.LastKnownUsageMs)
	if remaining <= used {
		b.UsageTimeMs += uint64(used)
		b.LastKnownUsageMs = nowMs
		return Effect{FireLimitReached: true, TimeElapsedMs: b.UsageTimeMs}
	}
	return Effect{PostCheckTimeout: true, CheckTimeoutDelay: uint64(remaining - used)}
}

// usageGroup is the variant-dispatch interface the Controller drives.
// AppUsageGroup and SessionUsageGroup both satisfy it; this replaces the
// inheritance the reference design describes in spec.md §9 with a tagged
// variant behind a shared interface.
type usageGroup interface {
	key() core.GroupKey
	noteUsageStart(startMs, nowMs uint64) Effect
	noteUsageStop(stopMs uint64) Effect
	onCheckTimeout(nowMs uint64, stillActive bool) Effect
	observed() []core.EntityName
}
