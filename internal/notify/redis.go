package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/applimit/internal/core"
	"github.com/vitaliisemenov/applimit/internal/engine"
	"github.com/vitaliisemenov/applimit/internal/retry"
)

// RedisNotifier publishes every fired notification as JSON to a Redis
// pub/sub channel, so multiple applimitd replicas (each owning a disjoint
// shard of userIds, a deployment concern the engine itself is unaware of)
// can broadcast to a shared set of remote listeners. Publish failures are
// logged and discarded, matching the best-effort Notifier contract.
type RedisNotifier struct {
	uid     core.UID
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
	timeout time.Duration
}

// NewRedisNotifier wires a RedisNotifier against client, publishing to
// channel (typically "applimit:notifications" or a uid-scoped variant).
func NewRedisNotifier(uid core.UID, client redis.UniversalClient, channel string, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{uid: uid, client: client, channel: channel, logger: logger, timeout: 2 * time.Second}
}

func (n *RedisNotifier) OnLimitReached(observerID core.ObserverID, userID core.UserID, timeLimitMs, timeElapsedMs uint64, _ engine.Callback) {
	n.publish(NewEvent(KindLimitReached, int32(n.uid), int32(userID), int32(observerID), timeLimitMs, timeElapsedMs))
}

func (n *RedisNotifier) OnSessionEnd(observerID core.ObserverID, userID core.UserID, timeElapsedMs uint64, _ engine.Callback) {
	n.publish(NewEvent(KindSessionEnd, int32(n.uid), int32(userID), int32(observerID), 0, timeElapsedMs))
}

func (n *RedisNotifier) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Warn("notify: failed to marshal event for redis", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	err = retry.WithRetry(ctx, retry.DefaultPolicy(), func() error {
		return n.client.Publish(ctx, n.channel, payload).Err()
	})
	if err != nil {
		n.logger.Warn("notify: failed to publish event to redis", "channel", n.channel, "error", err)
	}
}
