package server

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jpalmerr/walletfleet/internal/stats"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestTable returns a table with one entry per wallet, each marked with
// the given status.
func newTestTable(t *testing.T, status string, wallets ...string) *stats.Table {
	t.Helper()
	table := stats.NewTable()
	for _, w := range wallets {
		e, err := table.Add(w)
		if err != nil {
			t.Fatalf("Add(%q) error: %v", w, err)
		}
		e.Update(func(s *stats.Stat) { s.Status = status })
	}
	return table
}

func parseSSEEvents(body string) []stats.Stat {
	var out []stats.Stat
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var st stats.Stat
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &st); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// --- SSE ---

func TestHandleSSE_SendsSnapshotFirst(t *testing.T) {
	table := newTestTable(t, stats.StatusReady, "wallet-1", "wallet-2")
	srv := NewServer(table, 0, nil, "", testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	events := parseSSEEvents(rec.Body.String())
	if len(events) != 2 {
		t.Fatalf("expected 2 initial events, got %d: %s", len(events), rec.Body.String())
	}
	if events[0].PublicID != "wallet-1" || events[1].PublicID != "wallet-2" {
		t.Errorf("events out of fleet order: %+v", events)
	}
}

func TestHandleSSE_StreamsUpdates(t *testing.T) {
	table := stats.NewTable()
	entry, _ := table.Add("wallet-1")
	srv := NewServer(table, 0, nil, "", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	// give handler time to subscribe
	time.Sleep(50 * time.Millisecond)

	entry.Update(func(s *stats.Stat) {
		s.RequestsSent = 1
		s.Status = stats.StatusSending
	})

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}

	found := false
	for _, e := range parseSSEEvents(rec.Body.String()) {
		if e.Status == stats.StatusSending && e.RequestsSent == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("streamed update missing, got: %s", rec.Body.String())
	}
}

func TestHandleSSE_Headers(t *testing.T) {
	srv := NewServer(stats.NewTable(), 0, nil, "", testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.handleSSE(rec, req)

	headers := map[string]string{
		"Content-Type":  "text/event-stream",
		"Cache-Control": "no-cache",
		"Connection":    "keep-alive",
	}
	for k, want := range headers {
		if got := rec.Header().Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}
}

// nonFlusher is a ResponseWriter that cannot stream.
type nonFlusher struct {
	header http.Header
	code   int
}

func (n *nonFlusher) Header() http.Header         { return n.header }
func (n *nonFlusher) Write(b []byte) (int, error) { return len(b), nil }
func (n *nonFlusher) WriteHeader(code int)        { n.code = code }

func TestHandleSSE_SSENotSupported(t *testing.T) {
	srv := NewServer(stats.NewTable(), 0, nil, "", testLogger())

	w := &nonFlusher{header: http.Header{}}
	srv.handleSSE(w, httptest.NewRequest(http.MethodGet, "/api/sse", nil))

	if w.code != http.StatusInternalServerError {
		t.Errorf("expected 500 for non-flushing writer, got %d", w.code)
	}
}

func TestHandleSSE_ServerShutdownIntegration(t *testing.T) {
	table := newTestTable(t, stats.StatusReady, "wallet-1")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	srv := NewServer(table, port, nil, "", testLogger())
	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	if err := srv.Start(serverCtx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	const clients = 3
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/api/sse")
			if err != nil {
				return
			}
			defer func() { _ = resp.Body.Close() }()
			_, _ = io.Copy(io.Discard, resp.Body)
		}()
	}

	// give clients time to connect and subscribe
	time.Sleep(150 * time.Millisecond)
	serverCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("not all SSE clients disconnected after shutdown")
	}
}

// --- Stats API ---

func TestHandleStats_ReturnsSnapshot(t *testing.T) {
	table := newTestTable(t, stats.StatusSuccess, "wallet-1", "wallet-2")
	srv := NewServer(table, 0, nil, "", testLogger())

	rec := httptest.NewRecorder()
	srv.handleStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 stats, got %d", len(got))
	}
	if got[0]["wallet"] != "wallet-1" {
		t.Errorf("first wallet = %v, want wallet-1", got[0]["wallet"])
	}
	if got[0]["status"] != stats.StatusSuccess {
		t.Errorf("status = %v, want %s", got[0]["status"], stats.StatusSuccess)
	}
}

func TestHandleStats_MethodNotAllowed(t *testing.T) {
	srv := NewServer(stats.NewTable(), 0, nil, "", testLogger())

	rec := httptest.NewRecorder()
	srv.handleStats(rec, httptest.NewRequest(http.MethodPost, "/api/stats", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

// --- WebSocket ---

func TestHandleWS_SnapshotAndUpdates(t *testing.T) {
	table := stats.NewTable()
	entry, _ := table.Add("wallet-1")
	srv := NewServer(table, 0, nil, "", testLogger())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first stats.Stat
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.PublicID != "wallet-1" {
		t.Errorf("snapshot wallet = %q, want wallet-1", first.PublicID)
	}

	// the handler subscribes before sending the snapshot, so this is delivered
	entry.Update(func(s *stats.Stat) {
		s.Successes = 1
		s.Status = stats.StatusSuccess
	})

	var next stats.Stat
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Status != stats.StatusSuccess || next.Successes != 1 {
		t.Errorf("update = %+v, want success with 1 success", next)
	}
}

func TestHandleWS_RejectsPlainHTTP(t *testing.T) {
	srv := NewServer(stats.NewTable(), 0, nil, "", testLogger())

	rec := httptest.NewRecorder()
	srv.handleWS(rec, httptest.NewRequest(http.MethodGet, "/api/ws", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for non-upgrade request", rec.Code)
	}
}

// --- Start ---

func TestStart_AvailablePort_ReturnsNil(t *testing.T) {
	srv := NewServer(stats.NewTable(), 0, nil, "", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Errorf("Start() on available port returned error: %v", err)
	}
}

func TestStart_PortInUse_ReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer func() { _ = ln.Close() }()

	srv := NewServer(stats.NewTable(), ln.Addr().(*net.TCPAddr).Port, nil, "", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = srv.Start(ctx)
	if err == nil {
		t.Fatal("Start() on occupied port should return error")
	}
	if !strings.Contains(err.Error(), "failed to bind") {
		t.Errorf("expected bind error, got: %v", err)
	}
}

// --- Dashboard ---

// mockFS implements fs.ReadFileFS for testing dashboard rendering.
type mockFS struct {
	content string
}

func (m *mockFS) Open(name string) (fs.File, error) {
	return nil, fs.ErrNotExist
}

func (m *mockFS) ReadFile(name string) ([]byte, error) {
	if name == "assets/index.html" {
		return []byte(m.content), nil
	}
	return nil, fs.ErrNotExist
}

func TestHandleDashboard_Title(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"custom", "Fleet A", "<title>Fleet A</title>"},
		{"default", "", "<title>Node Runner</title>"},
		{"escaped script", "<script>alert('xss')</script>", "<title>&lt;script&gt;"},
		{"escaped ampersand", "Nodes & Wallets", "<title>Nodes &amp; Wallets</title>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assets := &mockFS{content: "<title>{{.Title}}</title>"}
			srv := NewServer(stats.NewTable(), 0, assets, tt.title, testLogger())

			rec := httptest.NewRecorder()
			srv.handleDashboard(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			body := rec.Body.String()
			if !strings.Contains(body, tt.want) {
				t.Errorf("body = %q, want it to contain %q", body, tt.want)
			}
			if strings.Contains(body, "<script>") {
				t.Error("title must be HTML-escaped")
			}
		})
	}
}

func TestHandleDashboard_NilAssets(t *testing.T) {
	srv := NewServer(stats.NewTable(), 0, nil, "", testLogger())

	rec := httptest.NewRecorder()
	srv.handleDashboard(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHandleDashboard_NonRootPath(t *testing.T) {
	srv := NewServer(stats.NewTable(), 0, &mockFS{content: "x"}, "", testLogger())

	rec := httptest.NewRecorder()
	srv.handleDashboard(rec, httptest.NewRequest(http.MethodGet, "/other", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
