package dashboard

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/store"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/syncer"
)

// Engine is the part of the sync service the dashboard drives.
type Engine interface {
	Status(ctx context.Context) (syncer.Status, error)
	Sync(ctx context.Context) (syncer.CycleReport, error)
	QueueSummary(ctx context.Context, minAttempts int) (store.QueueSummary, error)
	ClearFailed(ctx context.Context, minAttempts int) (int64, error)
	ClearQueue(ctx context.Context) (int64, error)
	ResetCursor(ctx context.Context) error
	RequeueUnsynced(ctx context.Context) (int, error)
}

// CycleStartedData is the payload of a cycle_started message.
type CycleStartedData struct {
	Trigger syncer.Trigger `json:"trigger"`
	At      time.Time      `json:"at"`
}

// AdminData is the payload of an admin message.
type AdminData struct {
	Action   string `json:"action"`
	Affected int64  `json:"affected"`
}

// Handler forwards sync cycle events to the server and serves the admin API.
type Handler struct {
	server *Server
	engine Engine
	logger *log.Logger

	mu   sync.Mutex
	last *syncer.CycleReport
}

// NewHandler creates a handler and registers its routes on server. Subscribe
// the returned handler to the sync service to receive cycle events.
func NewHandler(server *Server, engine Engine, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{
		server: server,
		engine: engine,
		logger: logger,
	}

	server.Handle("GET /api/status", http.HandlerFunc(h.handleStatus))
	server.Handle("POST /api/sync", http.HandlerFunc(h.handleSync))
	server.Handle("GET /api/queue", http.HandlerFunc(h.handleQueue))
	server.Handle("DELETE /api/queue", http.HandlerFunc(h.handleClearQueue))
	server.Handle("DELETE /api/queue/failed", http.HandlerFunc(h.handleClearFailed))
	server.Handle("DELETE /api/cursor", http.HandlerFunc(h.handleResetCursor))
	server.Handle("POST /api/requeue", http.HandlerFunc(h.handleRequeue))
	server.SetWelcome(h.welcome)

	return h
}

// CycleStarted implements syncer.Observer.
func (h *Handler) CycleStarted(trigger syncer.Trigger, at time.Time) {
	h.server.BroadcastData(MessageTypeCycleStarted, CycleStartedData{Trigger: trigger, At: at})
}

// CycleFinished implements syncer.Observer.
func (h *Handler) CycleFinished(report syncer.CycleReport) {
	if report.Error != "" {
		h.logger.Printf("Cycle (%s) failed: %s", report.Trigger, report.Error)
	}

	h.mu.Lock()
	h.last = &report
	h.mu.Unlock()

	h.server.BroadcastData(MessageTypeCycleFinished, report)
	h.broadcastStatus()
}

// LastCycle returns the most recent finished cycle, if any.
func (h *Handler) LastCycle() (syncer.CycleReport, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return syncer.CycleReport{}, false
	}
	return *h.last, true
}

func (h *Handler) broadcastStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := h.engine.Status(ctx)
	if err != nil {
		h.logger.Printf("Failed to read status: %v", err)
		return
	}
	h.server.BroadcastData(MessageTypeStatus, status)
}

func (h *Handler) welcome() (Message, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := h.engine.Status(ctx)
	if err != nil {
		h.logger.Printf("Failed to read status: %v", err)
		return Message{}, false
	}
	msg, err := NewMessage(MessageTypeStatus, status)
	if err != nil {
		return Message{}, false
	}
	return msg, true
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Sync(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	minAttempts, ok := minAttemptsParam(w, r)
	if !ok {
		return
	}
	summary, err := h.engine.QueueSummary(r.Context(), minAttempts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.ClearQueue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.admin(w, "clear_queue", n)
}

func (h *Handler) handleClearFailed(w http.ResponseWriter, r *http.Request) {
	minAttempts, ok := minAttemptsParam(w, r)
	if !ok {
		return
	}
	n, err := h.engine.ClearFailed(r.Context(), minAttempts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.admin(w, "clear_failed", n)
}

func (h *Handler) handleResetCursor(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResetCursor(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.admin(w, "reset_cursor", 0)
}

func (h *Handler) handleRequeue(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.RequeueUnsynced(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.admin(w, "requeue", int64(n))
}

// admin answers an admin request and tells connected clients about it.
func (h *Handler) admin(w http.ResponseWriter, action string, affected int64) {
	data := AdminData{Action: action, Affected: affected}
	writeJSON(w, http.StatusOK, data)
	h.server.BroadcastData(MessageTypeAdmin, data)
	h.broadcastStatus()
}

func minAttemptsParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("min_attempts")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "min_attempts must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
