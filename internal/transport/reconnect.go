package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/admitly/viva/internal/observe"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Reconnector monitors an interview connection and automatically reconnects
// on disconnection, resuming the session in place.
//
// Callers obtain the initial connection via [Reconnector.Connect], then call
// [Reconnector.Monitor] to start a background goroutine that watches for
// disconnections. When a drop is detected (via [Reconnector.NotifyDisconnect]),
// the monitor attempts reconnection with exponential backoff and invokes the
// configured OnReconnect callback on success. When every attempt fails the
// OnExhausted callback fires and monitoring stops for that cycle.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	dialer      *Dialer
	endpoints   []string
	setup       func() Setup
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(*Conn)
	onExhausted func(error)
	metrics     *observe.Metrics

	mu           sync.Mutex
	conn         *Conn
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when a disconnect is detected
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Dialer establishes connections.
	Dialer *Dialer

	// Endpoints are the candidate URLs, tried strictly in order on every
	// attempt.
	Endpoints []string

	// Setup builds the setup message for each attempt. It is called per
	// attempt so resume metadata (notably the last transcript sequence)
	// reflects the moment of reconnection.
	Setup func() Setup

	// MaxRetries is the maximum number of reconnection attempts before giving up.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial backoff duration between retries. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnReconnect is called after a successful reconnection with the new
	// connection. May be nil.
	OnReconnect func(*Conn)

	// OnExhausted is called once when MaxRetries attempts have all failed,
	// with the last attempt's error. May be nil.
	OnExhausted func(error)

	// Metrics overrides the metrics instance. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Reconnector{
		dialer:       cfg.Dialer,
		endpoints:    cfg.Endpoints,
		setup:        cfg.Setup,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onReconnect:  cfg.OnReconnect,
		onExhausted:  cfg.OnExhausted,
		metrics:      metrics,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Connect performs the initial connection.
func (r *Reconnector) Connect(ctx context.Context) (*Conn, error) {
	conn, err := r.dialer.Connect(ctx, r.endpoints, r.setup())
	if err != nil {
		return nil, fmt.Errorf("reconnector initial connect: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	return conn, nil
}

// Monitor starts monitoring the connection in a background goroutine.
// If a disconnection is signalled via [Reconnector.NotifyDisconnect], it
// attempts reconnection with exponential backoff.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals the monitor that the connection has been lost
// and reconnection should be attempted. Safe to call multiple times; only
// the first call per reconnection cycle has effect.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
		// Already signalled; avoid blocking.
	}
}

// Stop halts monitoring and disconnects the current connection.
// Safe to call multiple times.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Connection returns the current active connection. May return nil during
// reconnection.
func (r *Reconnector) Connection() *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// monitorLoop waits for disconnect notifications and attempts reconnection.
func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect tries to reconnect with exponential backoff.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	currentBackoff := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		slog.Info("attempting reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)
		r.metrics.ReconnectAttempts.Add(ctx, 1)

		conn, err := r.dialer.Connect(ctx, r.endpoints, r.setup())
		if err == nil {
			r.mu.Lock()
			// Stop may have run while the dial was in flight. Adopting the
			// connection now would resurrect a stopped reconnector, so close
			// it and bail instead.
			select {
			case <-r.done:
				r.mu.Unlock()
				_ = conn.Close()
				return
			default:
			}
			oldConn := r.conn
			r.conn = conn
			r.mu.Unlock()

			// Close the old (failed) connection to release its resources.
			if oldConn != nil {
				_ = oldConn.Close()
			}

			slog.Info("reconnection successful", "attempt", attempt)

			if r.onReconnect != nil {
				r.onReconnect(conn)
			}
			return
		}
		lastErr = err

		slog.Warn("reconnection attempt failed",
			"attempt", attempt,
			"error", err,
		)

		// Wait before retrying.
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		// Exponential backoff.
		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("reconnection failed after max retries",
		"max_retries", r.maxRetries,
	)
	if r.onExhausted != nil {
		r.onExhausted(fmt.Errorf("%w: retries exhausted: %v", ErrConnectFailed, lastErr))
	}
}
