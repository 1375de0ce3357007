package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/applimit/internal/core"
	"github.com/vitaliisemenov/applimit/internal/engine"
)

// WrappingNotifier decorates an engine.Notifier: it invokes the wrapped
// Notifier first, then best-effort appends an audit row. A failed append
// is logged and never surfaces to the Controller (spec.md §7: Notifier
// callbacks are called best-effort).
type WrappingNotifier struct {
	next   engine.Notifier
	store  *Store
	uid    core.UID
	logger *slog.Logger
}

// Wrap returns a Notifier that forwards to next and records every
// invocation to store under uid. uid is attached here because
// engine.Notifier's methods don't carry it; the Controller owns exactly
// one Notifier per uid-scoped registration path in cmd/applimitd's wiring.
func Wrap(next engine.Notifier, store *Store, uid core.UID, logger *slog.Logger) *WrappingNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WrappingNotifier{next: next, store: store, uid: uid, logger: logger}
}

func (w *WrappingNotifier) OnLimitReached(observerID core.ObserverID, userID core.UserID, timeLimitMs, timeElapsedMs uint64, callback engine.Callback) {
	w.next.OnLimitReached(observerID, userID, timeLimitMs, timeElapsedMs, callback)
	w.record(KindLimitReached, observerID, userID, timeLimitMs, timeElapsedMs, callback)
}

func (w *WrappingNotifier) OnSessionEnd(observerID core.ObserverID, userID core.UserID, timeElapsedMs uint64, callback engine.Callback) {
	w.next.OnSessionEnd(observerID, userID, timeElapsedMs, callback)
	w.record(KindSessionEnd, observerID, userID, 0, timeElapsedMs, callback)
}

func (w *WrappingNotifier) record(kind Kind, observerID core.ObserverID, userID core.UserID, timeLimitMs, timeElapsedMs uint64, callback engine.Callback) {
	raw, err := json.Marshal(callback)
	if err != nil {
		raw = json.RawMessage("null")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = w.store.Record(ctx, Record{
		Kind:          kind,
		UID:           int32(w.uid),
		UserID:        int32(userID),
		ObserverID:    int32(observerID),
		TimeLimitMs:   timeLimitMs,
		TimeElapsedMs: timeElapsedMs,
		FiredAt:       time.Now(),
		Callback:      raw,
	})
	if err != nil {
		w.logger.Warn("failed to append audit record", "kind", kind, "uid", w.uid, "user_id", userID, "error", err)
	}
}
