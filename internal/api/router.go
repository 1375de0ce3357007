// Package api implements the HTTP façade over a running engine.Controller
// (SPEC_FULL.md §4.12): REST registration/event endpoints, a websocket
// notification stream, Prometheus metrics, and Swagger UI.
package api

import (
	"log/slog"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vitaliisemenov/applimit/internal/notify"
)

// RouterConfig bundles everything NewRouter needs to wire handlers.
type RouterConfig struct {
	Handler  *Handler
	Notifier *notify.ChannelNotifier // nil disables the websocket route
	Registry *prometheus.Registry    // nil uses prometheus's default registry
	Logger   *slog.Logger
}

// NewRouter builds the gorilla/mux router for applimitd (SPEC_FULL.md
// §4.12): RequestID and logging middleware wrap every route, matching the
// teacher's always-on middleware pair ahead of route-specific ones.
func NewRouter(cfg RouterConfig) *mux.Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(cfg.Logger))
	router.Use(recoveryMiddleware(cfg.Logger))

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/users/{userId}/events/{name}/start", cfg.Handler.HandleNoteUsageStart).Methods("POST")
	v1.HandleFunc("/users/{userId}/events/{name}/stop", cfg.Handler.HandleNoteUsageStop).Methods("POST")
	v1.HandleFunc("/users/{userId}/audit", cfg.Handler.HandleListAudit).Methods("GET")

	v1.HandleFunc("/uids/{uid}/observers/app", cfg.Handler.HandleAddAppObserver).Methods("POST")
	v1.HandleFunc("/uids/{uid}/observers/app/{observerId}", cfg.Handler.HandleRemoveAppObserver).Methods("DELETE")
	v1.HandleFunc("/uids/{uid}/observers/session", cfg.Handler.HandleAddSessionObserver).Methods("POST")
	v1.HandleFunc("/uids/{uid}/observers/session/{observerId}", cfg.Handler.HandleRemoveSessionObserver).Methods("DELETE")

	v1.HandleFunc("/dump", cfg.Handler.HandleDump).Methods("GET")

	if cfg.Notifier != nil {
		v1.HandleFunc("/ws/notifications", NotificationStreamHandler(cfg.Notifier, cfg.Logger))
	}

	if cfg.Registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})).Methods("GET")
	} else {
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	return router
}
