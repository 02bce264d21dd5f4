// Package ops serves the operator HTTP endpoint: health, metrics and bot
// lifecycle control.
package ops

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	errors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/health"
	"github.com/Proton-105/flowbot/internal/manager"
	"github.com/Proton-105/flowbot/pkg/logger"
)

// Bots is the lifecycle API exposed over HTTP.
type Bots interface {
	List(ctx context.Context) []manager.Info
	Status(botID string) manager.Info
	Start(ctx context.Context, botID string) error
	Stop(ctx context.Context, botID string) error
}

type handler struct {
	bots    Bots
	checker *health.Checker
}

type botResponse struct {
	Bot   manager.Info `json:"bot"`
	Error string       `json:"error,omitempty"`
}

// NewHandler builds the ops router.
func NewHandler(bots Bots, checker *health.Checker, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &handler{bots: bots, checker: checker}

	r := chi.NewRouter()
	r.Use(logger.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(log))

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/bots", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Post("/{id}/start", h.start)
		r.Post("/{id}/stop", h.stop)
	})

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		writeJSON(w, http.StatusOK, health.Report{Healthy: true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report := h.checker.Check(ctx)
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bots.List(r.Context()))
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, botResponse{Bot: h.bots.Status(chi.URLParam(r, "id"))})
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.bots.Start(r.Context(), id)
	h.respond(w, id, err)
}

func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.bots.Stop(r.Context(), id)
	h.respond(w, id, err)
}

func (h *handler) respond(w http.ResponseWriter, botID string, err error) {
	resp := botResponse{Bot: h.bots.Status(botID)}
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Error = err.Error()
	writeJSON(w, statusFor(err), resp)
}

func statusFor(err error) int {
	switch {
	case stdErrors.Is(err, manager.ErrUnknownBot):
		return http.StatusNotFound
	case stdErrors.Is(err, manager.ErrStopTimeout):
		return http.StatusAccepted
	case errors.IsKind(err, errors.KindConfig):
		return http.StatusUnprocessableEntity
	case errors.IsKind(err, errors.KindFatalStartup):
		return http.StatusBadGateway
	default:
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
