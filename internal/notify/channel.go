package notify

import (
	"log/slog"
	"sync/atomic"

	"github.com/vitaliisemenov/applimit/internal/core"
	"github.com/vitaliisemenov/applimit/internal/engine"
)

// ChannelNotifier fans fired notifications out to a buffered Go channel of
// Events, for in-process consumers such as the API façade's websocket
// stream. A full channel drops the event rather than blocking the
// Controller; the drop is logged and counted by the caller via Dropped.
//
// The Controller may call OnLimitReached/OnSessionEnd from the direct
// caller path (under its own lock) or, for timer-delivered firings, from
// the Timer Service's dispatch goroutine after releasing that lock — so
// two calls can race here even though no single uid-scoped registration
// ever fires concurrently with itself.
type ChannelNotifier struct {
	uid     core.UID
	events  chan Event
	logger  *slog.Logger
	dropped atomic.Uint64
}

// NewChannelNotifier creates a ChannelNotifier with the given buffer size.
func NewChannelNotifier(uid core.UID, bufferSize int, logger *slog.Logger) *ChannelNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelNotifier{
		uid:    uid,
		events: make(chan Event, bufferSize),
		logger: logger,
	}
}

// Events returns the read side of the channel for subscribers.
func (n *ChannelNotifier) Events() <-chan Event { return n.events }

// Dropped returns the number of events dropped because the channel was full.
func (n *ChannelNotifier) Dropped() uint64 { return n.dropped.Load() }

func (n *ChannelNotifier) OnLimitReached(observerID core.ObserverID, userID core.UserID, timeLimitMs, timeElapsedMs uint64, _ engine.Callback) {
	n.publish(NewEvent(KindLimitReached, int32(n.uid), int32(userID), int32(observerID), timeLimitMs, timeElapsedMs))
}

func (n *ChannelNotifier) OnSessionEnd(observerID core.ObserverID, userID core.UserID, timeElapsedMs uint64, _ engine.Callback) {
	n.publish(NewEvent(KindSessionEnd, int32(n.uid), int32(userID), int32(observerID), 0, timeElapsedMs))
}

func (n *ChannelNotifier) publish(ev Event) {
	select {
	case n.events <- ev:
	default:
		n.dropped.Add(1)
		n.logger.Warn("notify: channel full, dropping event", "kind", ev.Kind, "user_id", ev.UserID)
	}
}
