package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/admitly/viva/internal/transport"
)

// A dropped connection is replaced by a resumed one: the second setup
// message carries resume=true and the caller-supplied last sequence, and the
// OnReconnect callback receives the fresh connection.
func TestReconnector_ReconnectsWithResume(t *testing.T) {
	var connCount atomic.Int32
	resumeSetups := make(chan map[string]any, 1)

	srv := startBackend(t, func(conn *websocket.Conn, r *http.Request) {
		n := connCount.Add(1)
		setup := acceptSetup(t, conn)
		if n == 1 {
			conn.Close(websocket.StatusInternalError, "backend crash")
			return
		}
		resumeSetups <- setup
		<-conn.CloseRead(context.Background()).Done()
	})

	var lastSeq atomic.Int64
	lastSeq.Store(12)

	reconnected := make(chan *transport.Conn, 1)
	r := transport.NewReconnector(transport.ReconnectorConfig{
		Dialer:    transport.NewDialer(transport.WithMetrics(testMetrics(t))),
		Endpoints: []string{wsURL(srv)},
		Setup: func() transport.Setup {
			s := testSetup()
			if connCount.Load() > 0 {
				s.Resume = true
				s.LastSequence = lastSeq.Load()
			}
			return s
		},
		MaxRetries:  3,
		Backoff:     time.Millisecond,
		OnReconnect: func(c *transport.Conn) { reconnected <- c },
		Metrics:     testMetrics(t),
	})
	t.Cleanup(func() { r.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := r.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	r.Monitor(ctx)

	ev := waitEvent(t, conn.Events())
	if ev.Type != transport.EventDropped {
		t.Fatalf("event = %+v, want dropped", ev)
	}
	r.NotifyDisconnect()

	select {
	case newConn := <-reconnected:
		if newConn == conn {
			t.Error("OnReconnect delivered the old connection")
		}
		if r.Connection() != newConn {
			t.Error("Connection() does not return the new connection")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for reconnection")
	}

	setup := <-resumeSetups
	if setup["resume"] != true {
		t.Error("resumed setup did not carry resume=true")
	}
	if seq, ok := setup["last_sequence"].(float64); !ok || int64(seq) != 12 {
		t.Errorf("last_sequence = %v, want 12", setup["last_sequence"])
	}
}

func TestReconnector_ExhaustedInvokesCallback(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(dead.Close)

	exhausted := make(chan error, 1)
	r := transport.NewReconnector(transport.ReconnectorConfig{
		Dialer:      transport.NewDialer(transport.WithMetrics(testMetrics(t))),
		Endpoints:   []string{wsURL(dead)},
		Setup:       testSetup,
		MaxRetries:  2,
		Backoff:     time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
		OnExhausted: func(err error) { exhausted <- err },
		Metrics:     testMetrics(t),
	})
	t.Cleanup(func() { r.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Monitor(ctx)
	r.NotifyDisconnect()

	select {
	case err := <-exhausted:
		if !errors.Is(err, transport.ErrConnectFailed) {
			t.Errorf("OnExhausted error = %v, want ErrConnectFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for OnExhausted")
	}
}

// Stopping while a reconnect dial is in flight must not resurrect the
// reconnector: the late-arriving connection is closed, never adopted.
func TestReconnector_StopDuringDialDiscardsConnection(t *testing.T) {
	var connCount atomic.Int32
	dialing := make(chan struct{})
	release := make(chan struct{})
	readErr := make(chan error, 1)

	srv := startBackend(t, func(conn *websocket.Conn, r *http.Request) {
		if connCount.Add(1) == 1 {
			acceptSetup(t, conn)
			conn.Close(websocket.StatusInternalError, "backend crash")
			return
		}
		// Hold the handshake open until the test has called Stop, then let
		// it complete and wait for the client to close the connection.
		var setup map[string]any
		readJSON(t, conn, &setup)
		close(dialing)
		<-release
		writeJSON(t, conn, map[string]any{
			"type":       "connected",
			"session_id": setup["session_id"],
		})
		rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer rcancel()
		_, _, err := conn.Read(rctx)
		readErr <- err
	})

	reconnected := make(chan *transport.Conn, 1)
	r := transport.NewReconnector(transport.ReconnectorConfig{
		Dialer:      transport.NewDialer(transport.WithMetrics(testMetrics(t))),
		Endpoints:   []string{wsURL(srv)},
		Setup:       testSetup,
		MaxRetries:  3,
		Backoff:     time.Millisecond,
		OnReconnect: func(c *transport.Conn) { reconnected <- c },
		Metrics:     testMetrics(t),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := r.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	r.Monitor(ctx)

	if ev := waitEvent(t, conn.Events()); ev.Type != transport.EventDropped {
		t.Fatalf("event = %+v, want dropped", ev)
	}
	r.NotifyDisconnect()

	select {
	case <-dialing:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for reconnect dial")
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(release)

	// The stopped reconnector must close the fresh connection instead of
	// adopting it. The backend sees the closure as an ended read.
	select {
	case err := <-readErr:
		if errors.Is(err, context.DeadlineExceeded) {
			t.Error("late connection was not closed after Stop")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for late connection to close")
	}

	select {
	case c := <-reconnected:
		t.Errorf("OnReconnect fired after Stop with %v", c)
	case <-time.After(100 * time.Millisecond):
	}
	if r.Connection() != nil {
		t.Error("Connection() not nil after Stop")
	}
}

func TestReconnector_StopClosesConnection(t *testing.T) {
	srv := startBackend(t, func(conn *websocket.Conn, r *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	r := transport.NewReconnector(transport.ReconnectorConfig{
		Dialer:    transport.NewDialer(transport.WithMetrics(testMetrics(t))),
		Endpoints: []string{wsURL(srv)},
		Setup:     testSetup,
		Metrics:   testMetrics(t),
	})

	conn, err := r.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if r.Connection() != nil {
		t.Error("Connection() not nil after Stop")
	}
	if err := conn.SendFrame(context.Background(), []byte{0}); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("SendFrame after Stop = %v, want ErrClosed", err)
	}
}
