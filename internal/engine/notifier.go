package engine

import "github.com/vitaliisemenov/applimit/internal/core"

// Callback is an opaque, caller-supplied token passed through to Notifier
// unchanged. The engine never inspects it.
type Callback any

// Notifier is the injected sink for the two fired-notification kinds. Both
// methods are called synchronously from the Controller; implementations
// must not block on I/O or re-enter the Controller.
type Notifier interface {
	OnLimitReached(observerID core.ObserverID, userID core.UserID, timeLimitMs, timeElapsedMs uint64, callback Callback)
	OnSessionEnd(observerID core.ObserverID, userID core.UserID, timeElapsedMs uint64, callback Callback)
}

// NopNotifier discards every notification. Useful for tests that only
// check engine-internal state.
type NopNotifier struct{}

func (NopNotifier) OnLimitReached(core.ObserverID, core.UserID, uint64, uint64, Callback) {}
func (NopNotifier) OnSessionEnd(core.ObserverID, core.UserID, uint64, Callback)           {}
