package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/applimit/internal/audit"
	"github.com/vitaliisemenov/applimit/internal/core"
	"github.com/vitaliisemenov/applimit/internal/engine"
)

// Handler wires the HTTP surface onto a single Controller (SPEC_FULL.md
// §4.12). validate is shared across requests; go-playground/validator's
// Validate is safe for concurrent use once built.
type Handler struct {
	controller *engine.Controller
	auditStore *audit.Store
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewHandler builds a Handler over an already-running Controller.
// auditStore is optional; nil disables the audit-query endpoint.
func NewHandler(controller *engine.Controller, auditStore *audit.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{controller: controller, auditStore: auditStore, validate: validator.New(), logger: logger}
}

func pathInt32(r *http.Request, key string) (int32, bool) {
	raw := mux.Vars(r)[key]
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(v), true
}

func (h *Handler) decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

// HandleNoteUsageStart handles POST /v1/users/{userId}/events/{name}/start.
func (h *Handler) HandleNoteUsageStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt32(r, "userId")
	if !ok {
		writeError(w, r, newAPIError(CodeValidationError, "userId must be an integer"))
		return
	}
	name := mux.Vars(r)["name"]
	if name == "" {
		writeError(w, r, newAPIError(CodeValidationError, "name must not be empty"))
		return
	}
	if err := h.controller.NoteUsageStart(core.EntityName(name), core.UserID(userID)); err != nil {
		writeError(w, r, engineErrorToAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Status: "ok"})
}

// HandleNoteUsageStop handles POST /v1/users/{userId}/events/{name}/stop.
func (h *Handler) HandleNoteUsageStop(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt32(r, "userId")
	if !ok {
		writeError(w, r, newAPIError(CodeValidationError, "userId must be an integer"))
		return
	}
	name := mux.Vars(r)["name"]
	if name == "" {
		writeError(w, r, newAPIError(CodeValidationError, "name must not be empty"))
		return
	}
	if err := h.controller.NoteUsageStop(core.EntityName(name), core.UserID(userID)); err != nil {
		writeError(w, r, engineErrorToAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Status: "ok"})
}

// HandleAddAppObserver handles POST /v1/uids/{uid}/observers/app.
func (h *Handler) HandleAddAppObserver(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathInt32(r, "uid")
	if !ok {
		writeError(w, r, newAPIError(CodeValidationError, "uid must be an integer"))
		return
	}
	var req addAppObserverRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, r, newAPIError(CodeValidationError, err.Error()))
		return
	}
	observed := make([]core.EntityName, len(req.Observed))
	for i, s := range req.Observed {
		observed[i] = core.EntityName(s)
	}
	err := h.controller.AddAppUsageObserver(core.UID(uid), core.ObserverID(req.ObserverID), observed, req.TimeLimitMs, req.Callback, core.UserID(req.UserID))
	if err != nil {
		writeError(w, r, engineErrorToAPIError(err))
		return
	}
	writeJSON(w, http.StatusCreated, okResponse{Status: "ok"})
}

// HandleRemoveAppObserver handles DELETE /v1/uids/{uid}/observers/app/{observerId}.
func (h *Handler) HandleRemoveAppObserver(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathInt32(r, "uid")
	if !ok {
		writeError(w, r, newAPIError(CodeValidationError, "uid must be an integer"))
		return
	}
	observerID, ok := pathInt32(r, "observerId")
	if !ok {
		writeError(w, r, newAPIError(CodeValidationError, "observerId must be an integer"))
		return
	}
	h.controller.RemoveAppUsageObserver(core.UID(uid), core.ObserverID(observerID))
	writeJSON(w, http.StatusOK, okResponse{Status: "ok"})
}

// HandleAddSessionObserver handles POST /v1/uids/{uid}/observers/session.
func (h *Handler) HandleAddSessionObserver(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathInt32(r, "uid")
	if !ok {
		writeError(w, r, newAPIError(CodeValidationError, "uid must be an integer"))
		return
	}
	var req addSessionObserverRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, r, newAPIError(CodeValidationError, err.Error()))
		return
	}
	observed := make([]core.EntityName, len(req.Observed))
	for i, s := range req.Observed {
		observed[i] = core.EntityName(s)
	}
	err := h.controller.AddUsageSessionObserver(
		core.UID(uid), core.ObserverID(req.ObserverID), observed,
		req.TimeLimitMs, req.NewSessionThresholdMs,
		req.LimitCallback, req.SessionEndCallback, core.UserID(req.UserID),
	)
	if err != nil {
		writeError(w, r, engineErrorToAPIError(err))
		return
	}
	writeJSON(w, http.StatusCreated, okResponse{Status: "ok"})
}

// HandleRemoveSessionObserver handles DELETE /v1/uids/{uid}/observers/session/{observerId}.
func (h *Handler) HandleRemoveSessionObserver(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathInt32(r, "uid")
	if !ok {
		writeError(w, r, newAPIError(CodeValidationError, "uid must be an integer"))
		return
	}
	observerID, ok := pathInt32(r, "observerId")
	if !ok {
		writeError(w, r, newAPIError(CodeValidationError, "observerId must be an integer"))
		return
	}
	h.controller.RemoveUsageSessionObserver(core.UID(uid), core.ObserverID(observerID))
	writeJSON(w, http.StatusOK, okResponse{Status: "ok"})
}

// HandleDump handles GET /v1/dump, writing the Controller's debug dump
// (engine.Controller.Dump) directly to the response body.
func (h *Handler) HandleDump(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	h.controller.Dump(w)
}

// HandleListAudit handles GET /v1/users/{userId}/audit?limit=N, reading
// the append-only audit log (internal/audit) for the given user.
func (h *Handler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	if h.auditStore == nil {
		writeError(w, r, newAPIError(CodeInternalError, "audit store not configured"))
		return
	}
	userID, ok := pathInt32(r, "userId")
	if !ok {
		writeError(w, r, newAPIError(CodeValidationError, "userId must be an integer"))
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, newAPIError(CodeValidationError, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	records, err := h.auditStore.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, newAPIError(CodeInternalError, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, records)
}
