package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vitaliisemenov/applimit/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NotificationStreamHandler upgrades to a websocket and streams
// notify.Events from notifier's channel, rate-limited per connection
// (SPEC_FULL.md §4.12). The limiter paces writes after an event has left the
// ChannelNotifier's buffer; events arriving faster than that pace wait in the
// buffer, which drops new events once it is full.
func NotificationStreamHandler(notifier *notify.ChannelNotifier, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		limiter := rate.NewLimiter(rate.Limit(50), 10)
		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-notifier.Events():
				if !ok {
					return
				}
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(ev); err != nil {
					logger.Warn("websocket write failed, closing", "error", err)
					return
				}
			}
		}
	}
}
