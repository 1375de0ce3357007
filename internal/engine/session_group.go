package engine

import (
	"log/slog"

	"github.com/vitaliisemenov/applimit/internal/core"
)

// sessionGroup is the SessionUsageGroup variant (spec.md §4.5): it keeps
// accounting across a limit crossing and instead tracks when a session of
// activity has been over the limit for long enough, idle, to count as
// ended. A new activation before newSessionThresholdMs extends the current
// session rather than starting a fresh one.
type sessionGroup struct {
	baseGroup

	LastUsageEndMs        uint64
	NewSessionThresholdMs uint64
	SessionEndCallback    Callback
}

func newSessionGroup(key core.GroupKey, observed []core.EntityName, limitMs, thresholdMs uint64, limitCb, sessionEndCb Callback, logger *slog.Logger) *sessionGroup {
	return &sessionGroup{
		baseGroup: baseGroup{
			Key:         key,
			Observed:    observed,
			TimeLimitMs: limitMs,
			Callback:    limitCb,
			logger:      logger,
		},
		NewSessionThresholdMs: thresholdMs,
		SessionEndCallback:    sessionEndCb,
	}
}

func (g *sessionGroup) key() core.GroupKey          { return g.Key }
func (g *sessionGroup) observed() []core.EntityName { return g.Observed }

// noteUsageStart applies spec.md §4.5: when no observed entity was active,
// any pending INFORM_SESSION_END is cancelled, and a gap since the last
// activity longer than newSessionThreshold also starts a fresh session
// (usageTime resets to 0); the shared start accounting then runs.
func (g *sessionGroup) noteUsageStart(startMs, nowMs uint64) Effect {
	var eff Effect
	if g.Actives == 0 {
		gap := int64(startMs) - int64(g.LastUsageEndMs)
		if gap > int64(g.NewSessionThresholdMs) {
			g.UsageTimeMs = 0
		}
		eff.CancelSessionEnd = true
	}
	start := g.noteStart(startMs, nowMs)
	eff.PostCheckTimeout = start.PostCheckTimeout
	eff.CheckTimeoutDelay = start.CheckTimeoutDelay
	return eff
}

// noteUsageStop applies spec.md §4.5: the shared stop accounting runs but a
// limit crossing never removes the group; instead, reaching actives==0
// while over limit arms INFORM_SESSION_END after newSessionThreshold of
// continued idleness.
func (g *sessionGroup) noteUsageStop(stopMs uint64) Effect {
	eff, _ := g.noteStop(stopMs)
	eff.RemoveAfterEffect = false
	if g.Actives == 0 {
		g.LastUsageEndMs = stopMs
		if g.UsageTimeMs >= g.TimeLimitMs {
			eff.PostSessionEnd = true
			eff.SessionEndDelay = g.NewSessionThresholdMs
		}
	}
	return eff
}

// onCheckTimeout runs the shared CHECK_TIMEOUT logic; unlike AppUsageGroup's,
// a limit crossing reached via the timer does not remove a SessionUsageGroup.
// INFORM_SESSION_END is armed by the subsequent stop once actives returns to
// 0 (the timer only fires while actives ≥ 1).
func (g *sessionGroup) onCheckTimeout(nowMs uint64, stillActive bool) Effect {
	return g.checkTimeout(nowMs, stillActive)
}

// onSessionEnd is INFORM_SESSION_END delivery (spec.md §4.5): reports the
// session as ended without removing the group, since another activation
// may open a new session later.
func (g *sessionGroup) onSessionEnd() Effect {
	return Effect{FireSessionEnd: true, TimeElapsedMs: g.UsageTimeMs}
}
