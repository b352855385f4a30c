package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/admitly/viva/internal/app"
	"github.com/admitly/viva/internal/config"
	"github.com/admitly/viva/internal/interview"
	"github.com/admitly/viva/internal/store"
	storemock "github.com/admitly/viva/internal/store/mock"
	"github.com/admitly/viva/internal/transport"
)

// testConfig returns a minimal config pointing at the given backend URL.
func testConfig(endpoint string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			LogLevel: config.LogInfo,
		},
		Transport: config.TransportConfig{
			Endpoints:            []string{endpoint},
			MaxReconnectAttempts: 2,
			ReconnectDelay:       time.Millisecond,
			ReconnectMaxDelay:    5 * time.Millisecond,
		},
		Store: config.StoreConfig{
			Backend: config.StoreHTTP,
			BaseURL: "http://127.0.0.1:1/api",
		},
	}
}

// startBackend runs a WebSocket server that completes the interview after
// sending one transcript entry.
func startBackend(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func acceptSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var setup map[string]any
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Logf("read setup: %v", err)
		return
	}
	if err := json.Unmarshal(data, &setup); err != nil {
		t.Errorf("unmarshal setup: %v", err)
		return
	}
	ack, _ := json.Marshal(map[string]any{
		"type":       "connected",
		"session_id": setup["session_id"],
	})
	if err := conn.Write(ctx, websocket.MessageText, ack); err != nil {
		t.Logf("write ack: %v", err)
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("send: %v (may be expected on close)", err)
	}
}

func newApp(t *testing.T, cfg *config.Config, st store.Store) *app.App {
	t.Helper()
	a, err := app.New(t.Context(), cfg,
		app.WithStore(st),
		app.WithDialer(transport.NewDialer()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})
	return a
}

func TestNewWithMocks(t *testing.T) {
	a := newApp(t, testConfig("ws://127.0.0.1:1/ws"), storemock.New())
	if a.Session() != nil {
		t.Error("Session() before Run should be nil")
	}
}

func TestNewBuildsHTTPStoreFromConfig(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1/ws")
	a, err := app.New(t.Context(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestRunRequiresTargetID(t *testing.T) {
	a := newApp(t, testConfig("ws://127.0.0.1:1/ws"), storemock.New())
	if err := a.Run(t.Context(), app.RunConfig{}); err == nil {
		t.Error("Run without target id accepted")
	}
}

func TestRunCompletesInterview(t *testing.T) {
	srv := startBackend(t, func(conn *websocket.Conn) {
		acceptSetup(t, conn)
		send(t, conn, map[string]any{
			"type": "transcript",
			"entry": store.TranscriptEntry{
				ID: "e1", Speaker: store.SpeakerAgent, Text: "Tell me about yourself.",
				Sequence: 0, Timestamp: time.Now().UTC(),
			},
		})
		send(t, conn, map[string]any{"type": "interview_complete"})
		time.Sleep(100 * time.Millisecond)
	})

	st := storemock.New()
	cfg := testConfig(wsURL(srv))
	cfg.Resume.Dir = t.TempDir()
	a := newApp(t, cfg, st)

	if err := a.Run(t.Context(), app.RunConfig{TargetID: "job-42"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sess := a.Session()
	if sess == nil {
		t.Fatal("Session() is nil after Run")
	}
	if got := sess.Phase(); got != interview.PhaseCompleted {
		t.Errorf("phase = %v, want %v", got, interview.PhaseCompleted)
	}
	if got := len(sess.Transcript()); got != 1 {
		t.Errorf("transcript has %d entries, want 1", got)
	}

	persisted, err := st.GetSession(t.Context(), sess.ID())
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if persisted.Status != store.StateCompleted {
		t.Errorf("persisted status = %v, want %v", persisted.Status, store.StateCompleted)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	started := make(chan struct{})
	srv := startBackend(t, func(conn *websocket.Conn) {
		acceptSetup(t, conn)
		close(started)
		// Hold the connection open until the client goes away.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		conn.Read(ctx)
	})

	cfg := testConfig(wsURL(srv))
	cfg.Resume.Dir = t.TempDir()
	a := newApp(t, cfg, storemock.New())

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		<-started
		cancel()
	}()

	if err := a.Run(ctx, app.RunConfig{TargetID: "job-42"}); err == nil {
		t.Error("Run on cancelled context returned nil")
	}
	if got := a.Session().Phase(); got != interview.PhaseInterrupted {
		t.Errorf("phase = %v, want %v", got, interview.PhaseInterrupted)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	a := newApp(t, testConfig("ws://127.0.0.1:1/ws"), storemock.New())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
