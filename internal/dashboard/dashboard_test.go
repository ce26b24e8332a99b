package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/store"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/syncer"
)

type fakeEngine struct {
	mu          sync.Mutex
	calls       []string
	minAttempts int
	syncErr     error
}

func (e *fakeEngine) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeEngine) Status(ctx context.Context) (syncer.Status, error) {
	return syncer.Status{State: "idle", Online: true, Interval: "30s"}, nil
}

func (e *fakeEngine) Sync(ctx context.Context) (syncer.CycleReport, error) {
	e.record("sync")
	report := syncer.CycleReport{Trigger: syncer.TriggerManual}
	if e.syncErr != nil {
		report.Error = e.syncErr.Error()
	}
	return report, e.syncErr
}

func (e *fakeEngine) QueueSummary(ctx context.Context, minAttempts int) (store.QueueSummary, error) {
	e.record("queue")
	e.mu.Lock()
	e.minAttempts = minAttempts
	e.mu.Unlock()
	return store.QueueSummary{Total: 3, Pending: 2, Failed: 1}, nil
}

func (e *fakeEngine) ClearFailed(ctx context.Context, minAttempts int) (int64, error) {
	e.record("clear_failed")
	return 1, nil
}

func (e *fakeEngine) ClearQueue(ctx context.Context) (int64, error) {
	e.record("clear_queue")
	return 3, nil
}

func (e *fakeEngine) ResetCursor(ctx context.Context) error {
	e.record("reset_cursor")
	return nil
}

func (e *fakeEngine) RequeueUnsynced(ctx context.Context) (int, error) {
	e.record("requeue")
	return 2, nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "[test] ", log.LstdFlags)
}

func startServer(t *testing.T) (*Server, *Handler, *fakeEngine) {
	t.Helper()
	server := NewServer(&Config{Port: 0, Logger: testLogger()})
	engine := &fakeEngine{}
	handler := NewHandler(server, engine, testLogger())

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server, handler, engine
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketWelcomeStatus(t *testing.T) {
	server, _, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("welcome type = %s, want %s", msg.Type, MessageTypeStatus)
	}
	var status syncer.Status
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if status.State != "idle" || !status.Online {
		t.Errorf("welcome status = %+v", status)
	}
	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}
}

func TestHandlerCycleEvents(t *testing.T) {
	server, handler, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn) // welcome

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	handler.CycleStarted(syncer.TriggerTick, at)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeCycleStarted {
		t.Fatalf("type = %s, want %s", msg.Type, MessageTypeCycleStarted)
	}
	var started CycleStartedData
	if err := json.Unmarshal(msg.Data, &started); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if started.Trigger != syncer.TriggerTick || !started.At.Equal(at) {
		t.Errorf("started = %+v", started)
	}

	report := syncer.CycleReport{
		Trigger: syncer.TriggerTick,
		Push:    syncer.PushReport{Processed: 2},
		Pull:    syncer.PullReport{Rows: 5},
	}
	handler.CycleFinished(report)

	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeCycleFinished {
		t.Fatalf("type = %s, want %s", msg.Type, MessageTypeCycleFinished)
	}
	var finished syncer.CycleReport
	if err := json.Unmarshal(msg.Data, &finished); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if finished.Push.Processed != 2 || finished.Pull.Rows != 5 {
		t.Errorf("finished = %+v", finished)
	}

	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStatus {
		t.Errorf("type after cycle = %s, want %s", msg.Type, MessageTypeStatus)
	}

	last, ok := handler.LastCycle()
	if !ok || last.Pull.Rows != 5 {
		t.Errorf("LastCycle() = %+v, %v", last, ok)
	}
}

func TestAdminAPI(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})
	engine := &fakeEngine{}
	NewHandler(server, engine, testLogger())

	tests := []struct {
		method   string
		target   string
		wantCode int
		wantCall string
		wantBody string
	}{
		{http.MethodGet, "/api/status", http.StatusOK, "", `"state":"idle"`},
		{http.MethodPost, "/api/sync", http.StatusOK, "sync", `"trigger":"manual"`},
		{http.MethodGet, "/api/queue", http.StatusOK, "queue", `"failed":1`},
		{http.MethodGet, "/api/queue?min_attempts=x", http.StatusBadRequest, "", "min_attempts"},
		{http.MethodDelete, "/api/queue", http.StatusOK, "clear_queue", `"affected":3`},
		{http.MethodDelete, "/api/queue/failed", http.StatusOK, "clear_failed", `"affected":1`},
		{http.MethodDelete, "/api/cursor", http.StatusOK, "reset_cursor", `"action":"reset_cursor"`},
		{http.MethodPost, "/api/requeue", http.StatusOK, "requeue", `"affected":2`},
		{http.MethodPost, "/api/status", http.StatusMethodNotAllowed, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			before := len(engine.Calls())

			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.wantBody)
			}

			calls := engine.Calls()[before:]
			var want []string
			if tt.wantCall != "" {
				want = []string{tt.wantCall}
			}
			if diff := cmp.Diff(want, calls, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("engine calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAdminAPI_MinAttempts(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})
	engine := &fakeEngine{}
	NewHandler(server, engine, testLogger())

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue?min_attempts=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if engine.minAttempts != 5 {
		t.Errorf("minAttempts = %d, want 5", engine.minAttempts)
	}
}

func TestAdminAPI_SyncFailure(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})
	engine := &fakeEngine{syncErr: errors.New("remote down")}
	NewHandler(server, engine, testLogger())

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}

	var report syncer.CycleReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.Error != "remote down" {
		t.Errorf("report.Error = %q", report.Error)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var health map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", health["status"])
	}
}
