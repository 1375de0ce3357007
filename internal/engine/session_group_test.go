package engine

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/applimit/internal/core"
)

func testSessionKey() core.GroupKey {
	return core.GroupKey{UserID: 1, UID: 1, ObserverID: 1, Variant: core.VariantSession}
}

func TestSessionGroupStopOverLimitArmsSessionEnd(t *testing.T) {
	g := newSessionGroup(testSessionKey(), []core.EntityName{"A"}, 60_000, 30_000, "limit-cb", "end-cb", slog.Default())

	g.noteUsageStart(0, 0)
	eff := g.noteUsageStop(60_000)

	assert.True(t, eff.FireLimitReached)
	assert.False(t, eff.RemoveAfterEffect, "a session group never self-removes on limit")
	assert.True(t, eff.PostSessionEnd)
	assert.EqualValues(t, 30_000, eff.SessionEndDelay)
	assert.EqualValues(t, 60_000, g.LastUsageEndMs)
}

func TestSessionGroupShortGapExtendsSession(t *testing.T) {
	g := newSessionGroup(testSessionKey(), []core.EntityName{"A"}, 60_000, 30_000, "limit-cb", "end-cb", slog.Default())
	g.noteUsageStart(0, 0)
	g.noteUsageStop(60_000)

	eff := g.noteUsageStart(80_000, 80_000) // gap 20_000 <= 30_000
	assert.True(t, eff.CancelSessionEnd)
	assert.EqualValues(t, 60_000, g.UsageTimeMs, "usage must not reset on a session extension")
}

func TestSessionGroupLongGapResetsUsage(t *testing.T) {
	g := newSessionGroup(testSessionKey(), []core.EntityName{"A"}, 60_000, 30_000, "limit-cb", "end-cb", slog.Default())
	g.noteUsageStart(0, 0)
	g.noteUsageStop(60_000)

	eff := g.noteUsageStart(200_000, 200_000) // gap 140_000 > 30_000
	assert.True(t, eff.CancelSessionEnd)
	assert.EqualValues(t, 0, g.UsageTimeMs)
}

func TestSessionGroupOnSessionEndDoesNotRemove(t *testing.T) {
	g := newSessionGroup(testSessionKey(), []core.EntityName{"A"}, 60_000, 30_000, "limit-cb", "end-cb", slog.Default())
	g.noteUsageStart(0, 0)
	g.noteUsageStop(60_000)

	eff := g.onSessionEnd()
	assert.True(t, eff.FireSessionEnd)
	assert.False(t, eff.RemoveAfterEffect)
	assert.EqualValues(t, 60_000, eff.TimeElapsedMs)
}

func TestSessionGroupBelowLimitNoSessionEndArmed(t *testing.T) {
	g := newSessionGroup(testSessionKey(), []core.EntityName{"A"}, 60_000, 30_000, "limit-cb", "end-cb", slog.Default())
	g.noteUsageStart(0, 0)

	eff := g.noteUsageStop(10_000)
	assert.False(t, eff.PostSessionEnd)
	assert.False(t, eff.FireLimitReached)
}
