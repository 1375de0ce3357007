package engine

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/applimit/internal/clock"
	"github.com/vitaliisemenov/applimit/internal/core"
	"github.com/vitaliisemenov/applimit/internal/metrics"
)

func TestMetricsTrackObserverAndGroupCounts(t *testing.T) {
	fc := clockwork.NewFakeClock()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	c := NewController(ControllerConfig{
		Clock:    clock.New(fc),
		Notifier: &recordingNotifier{},
		Metrics:  m,
	})
	t.Cleanup(c.Close)

	require.NoError(t, c.AddAppUsageObserver(1, 1, []core.EntityName{"chrome"}, 60_000, nil, 100))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ActiveGroups.WithLabelValues("app")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ObserversTotal.WithLabelValues("1")))

	require.NoError(t, c.AddUsageSessionObserver(1, 2, []core.EntityName{"chrome"}, 60_000, 30_000, nil, nil, 100))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ActiveGroups.WithLabelValues("session")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.ObserversTotal.WithLabelValues("1")))

	c.RemoveAppUsageObserver(1, 1)
	require.Equal(t, float64(0), testutil.ToFloat64(m.ActiveGroups.WithLabelValues("app")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ObserversTotal.WithLabelValues("1")))

	c.RemoveUsageSessionObserver(1, 2)
	require.Equal(t, float64(0), testutil.ToFloat64(m.ActiveGroups.WithLabelValues("session")))
	require.Equal(t, float64(0), testutil.ToFloat64(m.ObserversTotal.WithLabelValues("1")))
}

func TestMetricsCountLimitReachedAndEventDuration(t *testing.T) {
	fc := clockwork.NewFakeClock()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	c := NewController(ControllerConfig{
		Clock:    clock.New(fc),
		Notifier: &recordingNotifier{},
		Metrics:  m,
	})
	t.Cleanup(c.Close)

	require.NoError(t, c.AddAppUsageObserver(1, 1, []core.EntityName{"chrome"}, 60_000, nil, 100))
	require.NoError(t, c.NoteUsageStart("chrome", 100))
	fc.Advance(60_001_000_000) // nanoseconds, well past the 60s limit
	require.NoError(t, c.NoteUsageStop("chrome", 100))

	require.Equal(t, float64(1), testutil.ToFloat64(m.LimitReachedTotal))
	require.Equal(t, 1, testutil.CollectAndCount(m.EventDurationSeconds))
}
