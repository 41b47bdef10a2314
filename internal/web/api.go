// Package web exposes the routing hub over HTTP with JSON bodies under
// the /api prefix, and performs the external-trigger side-effect on
// inbound ingest.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/haasonsaas/chathub/internal/observability"
	"github.com/haasonsaas/chathub/internal/service"
	"github.com/haasonsaas/chathub/internal/store"
	"github.com/haasonsaas/chathub/internal/trigger"
	"github.com/haasonsaas/chathub/pkg/models"
)

// API is the HTTP adapter over the service.
type API struct {
	service *service.Service
	trigger trigger.Runner
	metrics *observability.Metrics
	logger  *slog.Logger
	mux     *http.ServeMux
}

// Config wires an API handler.
type Config struct {
	Service *service.Service
	Trigger trigger.Runner
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// New builds the API and its routes.
func New(cfg Config) *API {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Trigger == nil {
		cfg.Trigger = trigger.New(trigger.Config{})
	}
	a := &API{
		service: cfg.Service,
		trigger: cfg.Trigger,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "http"),
		mux:     http.NewServeMux(),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("POST /api/messages", a.handleIngest)
	a.mux.HandleFunc("POST /api/responses", a.handleRespond)
	a.mux.HandleFunc("GET /api/timeline/{platform}/{chatId}", a.handleTimeline)
	a.mux.HandleFunc("GET /api/timeline", a.handleUnifiedTimeline)
	a.mux.HandleFunc("GET /api/conversations", a.handleConversations)
	a.mux.HandleFunc("GET /api/conversations/{platform}/{chatId}", a.handleConversation)
	a.mux.HandleFunc("GET /api/health", a.handleHealth)
}

// Handler returns the API wrapped in its middleware.
func (a *API) Handler() http.Handler {
	return a.corsMiddleware(a.metricsMiddleware(a.mux))
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var msg models.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	entry, err := a.service.IngestMessage(r.Context(), &msg)
	if err != nil {
		a.writeError(w, err)
		return
	}

	// The trigger fires only for inbound entries carrying text, and its
	// completion gates the response. Failure never fails the ingest.
	if entry.Direction == models.DirectionIn && entry.Text != nil {
		a.trigger.Run(r.Context(), string(entry.Platform), entry.PlatformChatID, entry.ID, *entry.Text)
	}

	a.metrics.RecordMessage(string(entry.Platform), string(entry.Direction))
	a.writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req models.OutboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	entry, err := a.service.RecordResponse(r.Context(), &req)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.metrics.RecordMessage(string(entry.Platform), string(entry.Direction))
	a.writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleTimeline(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	entries, err := a.service.Timeline(r.Context(),
		models.Platform(r.PathValue("platform")), r.PathValue("chatId"), page)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleUnifiedTimeline(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	entries, err := a.service.UnifiedTimeline(r.Context(), page)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit")
	if err != nil {
		a.writeError(w, err)
		return
	}
	var limitVal int
	if limit != nil {
		limitVal = int(*limit)
	}

	conversations, err := a.service.Conversations(r.Context(),
		models.Platform(r.URL.Query().Get("platform")), limitVal)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, conversations)
}

func (a *API) handleConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := a.service.Conversation(r.Context(),
		models.Platform(r.PathValue("platform")), r.PathValue("chatId"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, conv)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := a.service.HealthCheck(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, health)
}

func parsePage(r *http.Request) (store.Page, error) {
	after, err := parseIntParam(r, "after")
	if err != nil {
		return store.Page{}, err
	}
	before, err := parseIntParam(r, "before")
	if err != nil {
		return store.Page{}, err
	}
	limit, err := parseIntParam(r, "limit")
	if err != nil {
		return store.Page{}, err
	}

	page := store.Page{After: after, Before: before}
	if limit != nil {
		page.Limit = int(*limit)
	}
	return page, nil
}

func parseIntParam(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, service.ErrInvalidInput(name + " must be an integer")
	}
	return &v, nil
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		switch svcErr.Code {
		case service.ErrCodeInvalidInput:
			a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": svcErr.Message})
			return
		case service.ErrCodeNotFound:
			a.writeJSON(w, http.StatusNotFound, map[string]string{"error": svcErr.Message})
			return
		}
	}
	a.logger.Error("request failed", "error", err)
	a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error("response encode failed", "error", err)
	}
}
