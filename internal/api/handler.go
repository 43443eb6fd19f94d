package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/alerts"
	"github.com/casamarzia/opsbell/internal/chimes"
	"github.com/casamarzia/opsbell/internal/metrics"
	"github.com/casamarzia/opsbell/internal/redis"
	"github.com/casamarzia/opsbell/internal/settings"
)

// SettingsSource is the slice of the settings adapter the handlers use.
type SettingsSource interface {
	Current() settings.Settings
	Refresh(ctx context.Context) error
	UsingDefaults() bool
}

// AlertRequest represents the incoming request body
type AlertRequest struct {
	Category    string          `json:"category"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data,omitempty"`
	ActionURL   string          `json:"action_url,omitempty"`
	ActionLabel string          `json:"action_label,omitempty"`
}

// AlertResponse is returned after creating an alert
type AlertResponse struct {
	ID       string `json:"id"`
	Priority string `json:"priority"`
}

// PolicyResponse describes how the dashboard should present a category
// right now: priority tier, sound/toast decision, and playback volume.
type PolicyResponse struct {
	Category  string  `json:"category"`
	Priority  string  `json:"priority"`
	PlaySound bool    `json:"play_sound"`
	ShowToast bool    `json:"show_toast"`
	Volume    float64 `json:"volume"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// streamEvent is one SSE payload: the full collection snapshot.
type streamEvent struct {
	Alerts []alerts.Alert `json:"alerts"`
	Count  int            `json:"count"`
	Unread int            `json:"unread"`
}

// streamHeartbeat keeps idle SSE connections alive through proxies.
const streamHeartbeat = 15 * time.Second

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	hub         *alerts.Manager
	source      SettingsSource
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, hub *alerts.Manager, source SettingsSource) *Handler {
	return &Handler{
		logger:      logger,
		hub:         hub,
		source:      source,
		idempotency: nil, // Idempotency disabled by default
	}
}

// NewHandlerWithIdempotency creates a handler with idempotency support
func NewHandlerWithIdempotency(logger *zap.Logger, hub *alerts.Manager, source SettingsSource, idempotency *redis.IdempotencyService) *Handler {
	return &Handler{
		logger:      logger,
		hub:         hub,
		source:      source,
		idempotency: idempotency,
	}
}

// CreateAlert handles POST /v1/alerts
// Supports idempotency via the Idempotency-Key header. A suppressed draft
// is a policy outcome and answers 422, not an error status.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Category == "" || req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "category and title are required")
		return
	}

	if len(req.Data) > 0 && !json.Valid(req.Data) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid data", "data must be valid JSON")
		return
	}

	// Check idempotency if key provided
	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			h.replayCached(w, req.Category, cached)
			return
		}
	}

	alert, ok := h.hub.Add(alerts.Draft{
		Category:    req.Category,
		Title:       req.Title,
		Message:     req.Message,
		Data:        req.Data,
		ActionURL:   req.ActionURL,
		ActionLabel: req.ActionLabel,
	})

	if !ok {
		reason := h.hub.SuppressionReason(req.Category)
		h.storeIdempotency(ctx, idempotencyKey, &redis.IdempotencyResult{
			Accepted:   false,
			StatusCode: http.StatusUnprocessableEntity,
		})
		h.writeError(w, http.StatusUnprocessableEntity, "alert_suppressed",
			"Alert suppressed by notification policy", reason)
		return
	}

	h.storeIdempotency(ctx, idempotencyKey, &redis.IdempotencyResult{
		AlertID:    alert.ID.String(),
		Accepted:   true,
		StatusCode: http.StatusCreated,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(AlertResponse{
		ID:       alert.ID.String(),
		Priority: alert.Priority,
	})
}

// replayCached answers a repeated Idempotency-Key with the original outcome.
func (h *Handler) replayCached(w http.ResponseWriter, category string, cached *redis.IdempotencyResult) {
	w.Header().Set("X-Idempotency-Replayed", "true")
	if !cached.Accepted {
		h.writeError(w, cached.StatusCode, "alert_suppressed",
			"Alert suppressed by notification policy", h.hub.SuppressionReason(category))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(cached.StatusCode)
	_ = json.NewEncoder(w).Encode(AlertResponse{ID: cached.AlertID})
}

func (h *Handler) storeIdempotency(ctx context.Context, key string, result *redis.IdempotencyResult) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Store(ctx, key, result); err != nil {
		h.logger.Warn("failed to store idempotency result",
			zap.Error(err),
			zap.String("idempotency_key", key),
		)
	}
}

// ListAlerts handles GET /v1/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	list := h.hub.Notifications()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   list,
		"count":  len(list),
		"unread": h.hub.UnreadCount(),
	})
}

// UnreadCount handles GET /v1/alerts/unread-count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{
		"unread": h.hub.UnreadCount(),
	})
}

// MarkRead handles POST /v1/alerts/{id}/read
// Marking an unknown or already-read alert is a no-op, not an error.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert ID", "ID must be a valid UUID")
		return
	}

	h.hub.MarkRead(id)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     idStr,
		"status": "read",
	})
}

// MarkAllRead handles POST /v1/alerts/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	h.hub.MarkAllRead()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{
		"unread": 0,
	})
}

// Dismiss handles DELETE /v1/alerts/{id}
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert ID", "ID must be a valid UUID")
		return
	}

	h.hub.Dismiss(id)
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /v1/alerts
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	h.hub.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// Stream handles GET /v1/alerts/stream, an SSE feed that pushes the full
// collection snapshot on every mutation, plus one snapshot on connect.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Buffered so a slow client drops snapshots instead of blocking the
	// manager's broadcast.
	events := make(chan []alerts.Alert, 8)
	unsubscribe := h.hub.Subscribe(func(snap []alerts.Alert) {
		select {
		case events <- snap:
		default:
		}
	})
	defer unsubscribe()

	h.logger.Debug("stream client connected", zap.String("remote", r.RemoteAddr))

	if !h.writeSnapshot(w, flusher, h.hub.Notifications()) {
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("stream client disconnected", zap.String("remote", r.RemoteAddr))
			return
		case snap := <-events:
			if !h.writeSnapshot(w, flusher, snap) {
				return
			}
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, flusher http.Flusher, snap []alerts.Alert) bool {
	unread := 0
	for _, a := range snap {
		if !a.Read {
			unread++
		}
	}

	payload, err := json.Marshal(streamEvent{
		Alerts: snap,
		Count:  len(snap),
		Unread: unread,
	})
	if err != nil {
		h.logger.Error("failed to marshal stream event", zap.Error(err))
		return false
	}

	if _, err := w.Write([]byte("data: ")); err != nil {
		return false
	}
	if _, err := w.Write(payload); err != nil {
		return false
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// Policy handles GET /v1/policy/{category}
func (h *Handler) Policy(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	if !settings.ValidCategory(category) {
		h.writeError(w, http.StatusNotFound, "unknown_category", "Unknown category", category)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(PolicyResponse{
		Category:  category,
		Priority:  h.hub.PriorityFor(category),
		PlaySound: h.hub.ShouldPlaySound(category),
		ShowToast: h.hub.ShouldShowToast(category),
		Volume:    h.hub.MasterVolume(),
	})
}

// GetSettings handles GET /v1/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	source := "store"
	if h.source.UsingDefaults() {
		source = "defaults"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"settings": h.source.Current(),
		"source":   source,
	})
}

// RefreshSettings handles POST /v1/settings/refresh, a manual re-fetch of
// the settings row, the same path a change-feed event takes.
func (h *Handler) RefreshSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.source.Refresh(r.Context()); err != nil {
		metrics.RecordSettingsRefresh("error")
		h.logger.Error("manual settings refresh failed", zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "settings_refresh_failed",
			"Failed to refresh settings from store", err.Error())
		return
	}
	metrics.RecordSettingsRefresh("ok")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"settings": h.source.Current(),
	})
}

// Chime handles GET /v1/chimes/{category}, a WAV preview of the category
// chime at the current master volume. Answers 204 when the category would
// not play a sound right now.
func (h *Handler) Chime(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	if !settings.ValidCategory(category) {
		h.writeError(w, http.StatusNotFound, "unknown_category", "Unknown category", category)
		return
	}

	if !h.hub.ShouldPlaySound(category) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	wav, err := chimes.Render(category, h.hub.MasterVolume())
	if err != nil {
		h.logger.Error("failed to render chime", zap.Error(err), zap.String("category", category))
		h.writeError(w, http.StatusInternalServerError, "render_error", "Failed to render chime", "")
		return
	}
	if wav == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

// ChimeBoard handles GET /v1/chimes, every category chime in sequence,
// for the settings screen's "test sounds" button.
func (h *Handler) ChimeBoard(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Current()
	if !snap.Enabled || !snap.SoundEnabled {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	wav, err := chimes.RenderAll(h.hub.MasterVolume(), 300*time.Millisecond)
	if err != nil {
		h.logger.Error("failed to render chime board", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "render_error", "Failed to render chimes", "")
		return
	}
	if wav == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
