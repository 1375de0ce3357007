package notify

import (
	"github.com/vitaliisemenov/applimit/internal/core"
	"github.com/vitaliisemenov/applimit/internal/engine"
)

// Multi composes several Notifiers behind the single engine.Notifier
// interface the Controller calls. Every sink in the slice is invoked
// unconditionally, in order; cmd/applimitd leaves a disabled sink (Redis)
// out of the slice.
type Multi struct {
	sinks []engine.Notifier
}

// NewMulti composes sinks into a single Notifier, called in order.
func NewMulti(sinks ...engine.Notifier) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) OnLimitReached(observerID core.ObserverID, userID core.UserID, timeLimitMs, timeElapsedMs uint64, callback engine.Callback) {
	for _, s := range m.sinks {
		s.OnLimitReached(observerID, userID, timeLimitMs, timeElapsedMs, callback)
	}
}

func (m *Multi) OnSessionEnd(observerID core.ObserverID, userID core.UserID, timeElapsedMs uint64, callback engine.Callback) {
	for _, s := range m.sinks {
		s.OnSessionEnd(observerID, userID, timeElapsedMs, callback)
	}
}
