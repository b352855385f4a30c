package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/admitly/viva/internal/observe"
)

// defaultDialTimeout bounds a single connection attempt including the
// setup/connected handshake.
const defaultDialTimeout = 8 * time.Second

// eventBuffer is the capacity of the inbound event channel. Audio playback
// events dominate; control messages are rare.
const eventBuffer = 64

// Dialer establishes acknowledged interview connections.
type Dialer struct {
	timeout time.Duration
	header  http.Header
	metrics *observe.Metrics
	log     *slog.Logger
}

// DialOption is a functional option for configuring a Dialer.
type DialOption func(*Dialer)

// WithDialTimeout bounds each single connection attempt. Defaults to 8s.
func WithDialTimeout(d time.Duration) DialOption {
	return func(dl *Dialer) { dl.timeout = d }
}

// WithHeader attaches extra HTTP headers to the WebSocket handshake, such as
// an Authorization bearer token.
func WithHeader(h http.Header) DialOption {
	return func(dl *Dialer) { dl.header = h }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) DialOption {
	return func(dl *Dialer) { dl.metrics = m }
}

// NewDialer creates a Dialer with the given options.
func NewDialer(opts ...DialOption) *Dialer {
	d := &Dialer{
		timeout: defaultDialTimeout,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Connect tries each candidate endpoint strictly in order and returns the
// first connection the backend acknowledges. An attempt only counts as
// successful once the setup message has been answered with a connected
// acknowledgement; a dial that succeeds but never acknowledges is torn down
// and the next candidate is tried. When all candidates fail the returned
// error wraps ErrConnectFailed and the last attempt's cause.
func (d *Dialer) Connect(ctx context.Context, endpoints []string, setup Setup) (*Conn, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints configured", ErrConnectFailed)
	}
	var lastErr error
	for _, endpoint := range endpoints {
		start := time.Now()
		attemptCtx, span := observe.StartSpan(ctx, "transport.connect",
			trace.WithAttributes(attribute.String("endpoint", endpoint)))
		conn, err := d.attempt(attemptCtx, endpoint, setup)
		span.End()
		if err != nil {
			lastErr = err
			d.metrics.RecordConnectAttempt(ctx, endpoint, "error")
			observe.Logger(attemptCtx).Warn("connection attempt failed",
				"endpoint", endpoint,
				"session_id", setup.SessionID,
				"error", err,
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		d.metrics.RecordConnectAttempt(ctx, endpoint, "ok")
		d.metrics.HandshakeDuration.Record(ctx, time.Since(start).Seconds())
		d.log.Info("connected",
			"endpoint", endpoint,
			"session_id", setup.SessionID,
			"resume", setup.Resume,
		)
		return conn, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrConnectFailed, lastErr)
}

// attempt dials one endpoint, performs the setup handshake, and when the
// backend acknowledges starts the receive loop.
func (d *Dialer) attempt(ctx context.Context, endpoint string, setup Setup) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
		HTTPHeader: d.header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	data, err := json.Marshal(newSetupMessage(setup))
	if err != nil {
		ws.Close(websocket.StatusInternalError, "setup encode failed")
		return nil, fmt.Errorf("marshal setup: %w", err)
	}
	if err := ws.Write(dialCtx, websocket.MessageText, data); err != nil {
		ws.Close(websocket.StatusProtocolError, "setup write failed")
		return nil, fmt.Errorf("write setup: %w", err)
	}

	// The backend must acknowledge before any other traffic counts.
	if err := awaitConnected(dialCtx, ws, setup.SessionID); err != nil {
		ws.Close(websocket.StatusProtocolError, "no acknowledgement")
		return nil, err
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:        ws,
		endpoint:  endpoint,
		sessionID: setup.SessionID,
		events:    make(chan Event, eventBuffer),
		state:     StateConnected,
		metrics:   d.metrics,
		log:       d.log.With("endpoint", endpoint, "session_id", setup.SessionID),
		ctx:       connCtx,
		cancel:    connCancel,
	}
	go c.receiveLoop()
	return c, nil
}

// awaitConnected reads messages until the connected acknowledgement arrives.
// A server error message aborts the attempt; anything else before the
// acknowledgement is a protocol violation.
func awaitConnected(ctx context.Context, ws *websocket.Conn, sessionID string) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("await acknowledgement: %w", err)
		}
		if typ != websocket.MessageText {
			return fmt.Errorf("await acknowledgement: unexpected binary frame")
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		switch msg.Type {
		case "connected":
			if msg.SessionID != "" && msg.SessionID != sessionID {
				return fmt.Errorf("acknowledged wrong session %q", msg.SessionID)
			}
			return nil
		case "error":
			detail := "unknown error"
			if msg.Error != nil {
				detail = msg.Error.Message
			}
			return fmt.Errorf("backend rejected setup: %s", detail)
		default:
			return fmt.Errorf("unexpected %q before acknowledgement", msg.Type)
		}
	}
}

// Conn is an established, acknowledged connection. Inbound traffic is
// delivered on Events; outbound audio goes through SendFrame. The receive
// loop owns the events channel and closes it when the connection ends.
type Conn struct {
	ws        *websocket.Conn
	endpoint  string
	sessionID string
	events    chan Event
	metrics   *observe.Metrics
	log       *slog.Logger

	mu     sync.Mutex
	state  ConnectionState
	errVal error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Events returns the inbound event channel. It is closed when the
// connection ends, after a final EventDropped when the loss was unclean.
func (c *Conn) Events() <-chan Event { return c.events }

// Endpoint returns the endpoint this connection was established against.
func (c *Conn) Endpoint() string { return c.endpoint }

// State returns the current connection state.
func (c *Conn) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the terminal error after the events channel closes, or nil
// for a clean shutdown.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// SendFrame writes one PCM16 audio frame as a binary message. Returns
// ErrClosed once the connection has ended; the caller decides whether to
// drop or buffer.
func (c *Conn) SendFrame(ctx context.Context, frame []byte) error {
	if c.State() != StateConnected {
		return ErrClosed
	}
	if err := c.ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	c.metrics.AudioFramesSent.Add(ctx, 1)
	return nil
}

// Close shuts the connection down cleanly. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.state == StateConnected {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// receiveLoop reads frames until the connection ends and dispatches them as
// events. It owns the events channel.
func (c *Conn) receiveLoop() {
	defer close(c.events)

	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			dropErr := fmt.Errorf("%w: %v", ErrTransportDropped, err)
			c.mu.Lock()
			c.state = StateError
			c.errVal = dropErr
			c.mu.Unlock()
			c.metrics.RecordTransportError(c.ctx, "dropped")
			c.log.Warn("connection dropped", "error", err)
			c.deliver(Event{Type: EventDropped, Err: dropErr})
			return
		}

		if typ == websocket.MessageBinary {
			audio := make([]byte, len(data))
			copy(audio, data)
			c.deliver(Event{Type: EventAudio, Audio: audio})
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.dropMalformed(fmt.Errorf("%w: %v", ErrMalformedMessage, err))
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *Conn) dispatch(msg *serverMessage) {
	switch msg.Type {
	case "status":
		if msg.State == "" {
			c.dropMalformed(fmt.Errorf("%w: status without state", ErrMalformedMessage))
			return
		}
		c.deliver(Event{Type: EventStatus, State: msg.State})

	case "transcript", "transcript_update":
		if msg.Entry == nil || msg.Entry.ID == "" {
			c.dropMalformed(fmt.Errorf("%w: %s without entry", ErrMalformedMessage, msg.Type))
			return
		}
		t := EventTranscript
		if msg.Type == "transcript_update" {
			t = EventTranscriptUpdate
		}
		c.deliver(Event{Type: t, Entry: *msg.Entry})

	case "interview_complete":
		c.deliver(Event{Type: EventComplete})

	case "error":
		ev := Event{Type: EventServerError, Message: "unknown error"}
		if msg.Error != nil {
			ev.Code = msg.Error.Code
			ev.Message = msg.Error.Message
		}
		c.deliver(ev)

	default:
		// Forward-compatible: unknown control messages are ignored.
		c.log.Debug("ignoring unknown message type", "type", msg.Type)
	}
}

// dropMalformed records and logs a message the decoder rejected. The
// connection stays up.
func (c *Conn) dropMalformed(err error) {
	c.metrics.MalformedMessages.Add(c.ctx, 1)
	c.log.Warn("dropping malformed message", "error", err)
}

func (c *Conn) deliver(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}
