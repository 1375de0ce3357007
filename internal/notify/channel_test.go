package notify_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/applimit/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestChannelNotifierPublishesLimitReached(t *testing.T) {
	n := notify.NewChannelNotifier(1, 4, testLogger())

	n.OnLimitReached(7, 100, 60_000, 61_000, nil)

	select {
	case ev := <-n.Events():
		assert.Equal(t, notify.KindLimitReached, ev.Kind)
		assert.EqualValues(t, 100, ev.UserID)
		assert.EqualValues(t, 7, ev.ObserverID)
		assert.EqualValues(t, 61_000, ev.TimeElapsedMs)
	default:
		t.Fatal("expected an event on the channel")
	}
}

func TestChannelNotifierDropsWhenFull(t *testing.T) {
	n := notify.NewChannelNotifier(1, 1, testLogger())

	n.OnSessionEnd(1, 1, 1_000, nil)
	n.OnSessionEnd(1, 1, 2_000, nil) // buffer full, dropped

	require.Equal(t, uint64(1), n.Dropped())
	<-n.Events() // drain the one that made it through
}
