// Package app wires the Viva subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives a single interview session to its end, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithAudioSource, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/admitly/viva/internal/config"
	"github.com/admitly/viva/internal/health"
	"github.com/admitly/viva/internal/interview"
	"github.com/admitly/viva/internal/interview/resume"
	"github.com/admitly/viva/internal/observe"
	"github.com/admitly/viva/internal/store"
	"github.com/admitly/viva/internal/store/postgres"
	"github.com/admitly/viva/internal/transport"
	"github.com/admitly/viva/pkg/audio"
	"github.com/admitly/viva/pkg/audio/malgodev"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// shutdownGrace bounds individual closer calls that need their own context.
const shutdownGrace = 5 * time.Second

// RunConfig carries the per-invocation parameters of a single interview,
// as opposed to the deployment settings in [config.Config].
type RunConfig struct {
	// TargetID identifies the interview target (e.g. a job posting).
	TargetID string

	// DeclineResume forces a fresh session even when an interrupted one
	// could be picked back up.
	DeclineResume bool

	// OnPhase is called on every session phase change. May be nil.
	OnPhase func(interview.Phase)

	// OnAudio receives agent speech (PCM16 bytes) for playback. May be
	// nil, in which case agent audio is discarded.
	OnAudio func([]byte)
}

// App owns all subsystem lifetimes and drives the interview session.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	store   store.Store
	resume  *resume.Store
	dialer  *transport.Dialer
	source  audio.Source
	httpSrv *http.Server

	session *interview.Session

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithResumeStore injects a resume store instead of creating one from config.
func WithResumeStore(r *resume.Store) Option {
	return func(a *App) { a.resume = r }
}

// WithDialer injects a transport dialer instead of creating one from config.
func WithDialer(d *transport.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithAudioSource injects an audio source instead of opening the default
// capture device.
func WithAudioSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initResume(); err != nil {
		return nil, fmt.Errorf("app: init resume store: %w", err)
	}
	a.initDialer()
	a.initSource()
	a.initObservabilityServer()

	return a, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "viva",
		ServiceVersion: Version,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return shutdown(closeCtx)
	})
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Store.Backend {
	case config.StorePostgres:
		pg, err := postgres.New(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return err
		}
		a.store = pg
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
	default:
		var opts []store.HTTPOption
		if a.cfg.Store.AuthToken != "" {
			opts = append(opts, store.WithAuthToken(a.cfg.Store.AuthToken))
		}
		hs, err := store.NewHTTPStore(a.cfg.Store.BaseURL, opts...)
		if err != nil {
			return err
		}
		a.store = hs
	}
	return nil
}

func (a *App) initResume() error {
	if a.resume != nil || a.cfg.Resume.Dir == "" {
		return nil
	}
	var opts []resume.Option
	if a.cfg.Resume.TTL > 0 {
		opts = append(opts, resume.WithTTL(a.cfg.Resume.TTL))
	}
	rs, err := resume.NewStore(a.cfg.Resume.Dir, opts...)
	if err != nil {
		return err
	}
	a.resume = rs
	return nil
}

func (a *App) initDialer() {
	if a.dialer != nil {
		return
	}
	var opts []transport.DialOption
	if a.cfg.Transport.DialTimeout > 0 {
		opts = append(opts, transport.WithDialTimeout(a.cfg.Transport.DialTimeout))
	}
	if a.cfg.Transport.AuthToken != "" {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+a.cfg.Transport.AuthToken)
		opts = append(opts, transport.WithHeader(h))
	}
	a.dialer = transport.NewDialer(opts...)
}

func (a *App) initSource() {
	if a.source != nil || !a.cfg.Audio.Enabled {
		return
	}
	// Capture device failures surface at session start, not here: a broken
	// microphone leaves the session listen-only.
	a.source = malgodev.New()
}

// initObservabilityServer prepares the /healthz, /readyz and /metrics server.
// The listener is started in Run so a constructed-but-never-run App does not
// bind ports.
func (a *App) initObservabilityServer() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	checkers := []health.Checker{a.storeChecker()}
	if a.cfg.Resume.Dir != "" {
		checkers = append(checkers, resumeDirChecker(a.cfg.Resume.Dir))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.closers = append(a.closers, func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.httpSrv.Shutdown(closeCtx); err != nil {
			return a.httpSrv.Close()
		}
		return nil
	})
}

// storeChecker probes the session store. A not-found answer for the probe ID
// still proves the store is reachable and responding.
func (a *App) storeChecker() health.Checker {
	return health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := a.store.GetSession(ctx, "readiness-probe")
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			return nil
		},
	}
}

// resumeDirChecker verifies the resume-record directory is still present, so
// an unmounted or deleted state volume flips readiness before a session is
// interrupted without anywhere to save its record.
func resumeDirChecker(dir string) health.Checker {
	return health.Checker{
		Name: "resume_dir",
		Check: func(ctx context.Context) error {
			info, err := os.Stat(dir)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			return nil
		},
	}
}

// Session returns the interview session created by Run, or nil before Run.
func (a *App) Session() *interview.Session {
	return a.session
}

// Run prepares and drives one interview session to completion. It blocks
// until the session reaches a terminal phase or ctx is cancelled; on
// cancellation the session is stopped so a resume record survives.
//
// Run returns nil when the interview completed, [interview.ErrStopped] when
// the user ended it early, and the underlying failure otherwise.
func (a *App) Run(ctx context.Context, rc RunConfig) error {
	if rc.TargetID == "" {
		return fmt.Errorf("app: target id is required")
	}

	a.startObservabilityServer()

	sess := interview.NewSession(interview.Config{
		Store:        a.store,
		Resume:       a.resume,
		Dialer:       a.dialer,
		Endpoints:    a.cfg.Transport.Endpoints,
		Source:       a.source,
		TargetRate:   a.cfg.Audio.SampleRate,
		FrameSamples: a.cfg.Audio.FrameSamples,
		MaxRetries:   a.cfg.Transport.MaxReconnectAttempts,
		Backoff:      a.cfg.Transport.ReconnectDelay,
		MaxBackoff:   a.cfg.Transport.ReconnectMaxDelay,
		MaxDuration:  a.cfg.Interview.MaxDuration,
		OnPhase:      rc.OnPhase,
		OnAudio:      rc.OnAudio,
	})
	a.session = sess

	if err := sess.Prepare(ctx, rc.TargetID); err != nil {
		return fmt.Errorf("app: prepare session: %w", err)
	}

	if sess.Phase() == interview.PhaseResumeAvailable {
		if rc.DeclineResume {
			slog.Info("declining resumable session, starting fresh")
			if err := sess.DeclineResume(ctx); err != nil {
				return fmt.Errorf("app: decline resume: %w", err)
			}
		} else {
			slog.Info("resuming interrupted session", "session_id", sess.ID())
		}
	}

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := sess.Stop(stopCtx); err != nil {
			slog.Warn("session stop error", "err", err)
		}
	}

	return sess.Err()
}

func (a *App) startObservabilityServer() {
	if a.httpSrv == nil {
		return
	}
	go func() {
		slog.Info("observability server listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("observability server error", "err", err)
		}
	}()
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
