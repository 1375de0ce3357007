package engine

import (
	"log/slog"

	"github.com/vitaliisemenov/applimit/internal/core"
)

// appGroup is the AppUsageGroup variant (spec.md §4.4): it self-removes the
// instant its limit is crossed, whether the crossing is observed on a stop
// or on a fired CHECK_TIMEOUT.
type appGroup struct {
	baseGroup
}

func newAppGroup(key core.GroupKey, observed []core.EntityName, limitMs uint64, cb Callback, logger *slog.Logger) *appGroup {
	return &appGroup{baseGroup{
		Key:         key,
		Observed:    observed,
		TimeLimitMs: limitMs,
		Callback:    cb,
		logger:      logger,
	}}
}

func (g *appGroup) key() core.GroupKey          { return g.Key }
func (g *appGroup) observed() []core.EntityName { return g.Observed }

func (g *appGroup) noteUsageStart(startMs, nowMs uint64) Effect {
	return g.noteStart(startMs, nowMs)
}

// noteUsageStop applies spec.md §4.4's stop transition: a limit crossing
// here always removes the group, since AppUsageGroup has no session to
// keep accounting toward after the limit fires.
func (g *appGroup) noteUsageStop(stopMs uint64) Effect {
	eff, crossed := g.noteStop(stopMs)
	if crossed {
		eff.RemoveAfterEffect = true
	}
	return eff
}

// onCheckTimeout is CHECK_TIMEOUT delivery (spec.md §4.4): a crossing here
// also removes the group.
func (g *appGroup) onCheckTimeout(nowMs uint64, stillActive bool) Effect {
	eff := g.checkTimeout(nowMs, stillActive)
	if eff.FireLimitReached {
		eff.RemoveAfterEffect = true
	}
	return eff
}
