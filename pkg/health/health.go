// Package health serves the worker's HTTP status surface.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ServiceName = "mood-tagger"

	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"

	QueueConnected    = "connected"
	QueueDisconnected = "disconnected"
	QueueError        = "error"

	pingTimeout = 2 * time.Second
)

type Report struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Worker      string `json:"worker"`
	ModelLoaded bool   `json:"model_loaded"`
	QueueStatus string `json:"queue_status"`
	Backend     string `json:"backend"`
	Queue       string `json:"queue"`
	WorkerState string `json:"worker_state"`
}

// StatusSource reports the live state of the worker process.
type StatusSource interface {
	Status(ctx context.Context) Report
}

type Handler struct {
	workerID  string
	queueName string
	source    StatusSource
	logger    *slog.Logger
}

func NewRouter(workerID, queueName string, source StatusSource, logger *slog.Logger) *mux.Router {
	h := &Handler{workerID: workerID, queueName: queueName, source: source, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/", h.root).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/tags", h.tags).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
		"worker":  h.workerID,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	report := h.source.Status(ctx)
	report.Service = ServiceName
	report.Worker = h.workerID

	code := http.StatusOK
	if report.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, report)
}

// tags is kept for callers of the old synchronous endpoint.
func (h *Handler) tags(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": "This service now processes requests via message queue",
		"worker":  h.workerID,
		"queue":   h.queueName,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}
