package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/admitly/viva/internal/observe"
	"github.com/admitly/viva/internal/interview/resume"
	"github.com/admitly/viva/internal/store"
	"github.com/admitly/viva/internal/transcript"
	"github.com/admitly/viva/internal/transport"
	"github.com/admitly/viva/pkg/audio"
)

// ErrStopped is the terminal error of a session the user ended early.
var ErrStopped = errors.New("interview: stopped by user")

// persistTimeout bounds the final status writes during teardown, which run
// on a fresh context because the session context may already be cancelled.
const persistTimeout = 5 * time.Second

// Config wires a Session to its collaborators.
type Config struct {
	// Store persists the session record and transcript. Required.
	Store store.Store

	// Resume persists local records of interrupted sessions. Optional;
	// when nil interrupted sessions cannot be picked back up.
	Resume *resume.Store

	// Dialer establishes transport connections. Required.
	Dialer *transport.Dialer

	// Endpoints are the candidate backend URLs, tried strictly in order.
	Endpoints []string

	// Source captures microphone audio. Optional; a session without a
	// source, or whose source fails to start, runs listen-only.
	Source audio.Source

	// TargetRate is the PCM16 sample rate sent on the wire. Defaults to
	// [audio.DefaultTargetRate].
	TargetRate int

	// FrameSamples is the number of samples per outbound frame. Defaults
	// to [audio.DefaultFrameSamples].
	FrameSamples int

	// MaxRetries, Backoff and MaxBackoff tune automatic reconnection. Zero
	// values take the transport defaults.
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration

	// MaxDuration ends the interview when it elapses. Zero disables the
	// limit.
	MaxDuration time.Duration

	// OnPhase is called synchronously on every phase change. May be nil.
	OnPhase func(Phase)

	// OnAudio receives agent speech (PCM16 bytes) for playback. May be nil,
	// in which case agent audio is discarded.
	OnAudio func([]byte)

	// Metrics overrides the metrics instance. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

type controlMsg int

const ctrlStop controlMsg = iota

// Session coordinates one interview. All lifecycle decisions are taken on a
// single run loop goroutine; the exported methods only post to it or read
// snapshot state, so there is exactly one writer of the phase.
type Session struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	id       string
	targetID string
	resuming bool

	entries *transcript.Log

	pipeline    *audio.Pipeline
	frames      <-chan audio.Frame
	reconnector *transport.Reconnector
	conn        *transport.Conn

	connSwaps chan *transport.Conn
	exhausted chan error
	control   chan controlMsg
	done      chan struct{}

	everConnected atomic.Bool
	startedAt     time.Time

	mu      sync.Mutex
	phase   Phase
	started bool
	lastErr error
}

// NewSession creates an unprepared session.
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = audio.DefaultTargetRate
	}
	return &Session{
		cfg:       cfg,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		entries:   transcript.NewLog(),
		connSwaps: make(chan *transport.Conn, 1),
		exhausted: make(chan error, 1),
		control:   make(chan controlMsg, 1),
		done:      make(chan struct{}),
		phase:     PhaseSetup,
	}
}

// ID returns the session ID. Empty before Prepare.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Err returns the terminal error after the session ends, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Done is closed when the run loop has exited and teardown finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Transcript returns the entries seen so far, ordered by sequence.
func (s *Session) Transcript() []store.TranscriptEntry {
	return s.entries.Ordered()
}

// AudioLevel returns the current microphone level in [0, 1], or 0 when no
// capture is running.
func (s *Session) AudioLevel() float64 {
	if s.pipeline == nil {
		return 0
	}
	return s.pipeline.Level()
}

// setPhase moves the session to next, enforcing the transition table. A
// disallowed transition is a coordinator bug; it is logged and ignored so a
// stray event can never move the session out of a terminal phase. The OnPhase
// callback runs synchronously, outside the lock.
func (s *Session) setPhase(next Phase) {
	s.mu.Lock()
	prev := s.phase
	if prev == next {
		s.mu.Unlock()
		return
	}
	if !prev.CanTransition(next) {
		s.mu.Unlock()
		s.log.Error("phase transition rejected", "from", prev.String(), "to", next.String())
		return
	}
	s.phase = next
	s.mu.Unlock()

	s.log.Debug("phase change", "from", prev.String(), "to", next.String())
	if s.cfg.OnPhase != nil {
		s.cfg.OnPhase(next)
	}
}

// Prepare binds the session to an interview target. When a fresh resume
// record exists for the target the session enters PhaseResumeAvailable and
// adopts the recorded session ID; otherwise a new session is registered with
// the store and the phase becomes PhaseReady.
func (s *Session) Prepare(ctx context.Context, targetID string) error {
	if s.Phase() != PhaseSetup {
		return fmt.Errorf("interview: prepare in phase %s", s.Phase())
	}
	s.targetID = targetID

	if s.cfg.Resume != nil {
		rec, ok, err := s.cfg.Resume.Load(targetID)
		if err != nil {
			s.log.Warn("resume record unreadable, starting fresh", "target_id", targetID, "error", err)
		} else if ok && s.verifyRecord(ctx, rec) {
			s.mu.Lock()
			s.id = rec.SessionID
			s.resuming = true
			s.mu.Unlock()
			s.log.Info("resumable session found",
				"session_id", rec.SessionID,
				"target_id", targetID,
				"last_sequence", rec.LastSequence,
				"saved_at", rec.SavedAt,
			)
			s.setPhase(PhaseResumeAvailable)
			return nil
		}
	}
	return s.registerNew(ctx)
}

// verifyRecord checks a local resume record against the store, which is
// authoritative. A record that never captured an interview underway, whose
// session the backend no longer knows, has since completed, or has been
// superseded by a newer session for the same target is discarded. Transient
// store trouble keeps the offer: the record is rechecked against the live
// transcript after connecting anyway.
func (s *Session) verifyRecord(ctx context.Context, rec resume.Record) bool {
	if rec.Status != store.StateInProgress && rec.Status != store.StateInterrupted {
		s.log.Info("resume record not from an interview underway, discarding",
			"session_id", rec.SessionID, "status", rec.Status)
		if err := s.cfg.Resume.Delete(rec.TargetID); err != nil {
			s.log.Warn("failed to delete resume record", "target_id", rec.TargetID, "error", err)
		}
		return false
	}
	remote, err := s.cfg.Store.GetSessionByTarget(ctx, rec.TargetID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.log.Info("resume record has no backend session, discarding", "session_id", rec.SessionID)
	case err != nil:
		s.log.Warn("could not verify resume record against store", "session_id", rec.SessionID, "error", err)
		return true
	case remote.ID != rec.SessionID:
		s.log.Info("resume record superseded by a newer session, discarding",
			"recorded_session_id", rec.SessionID, "latest_session_id", remote.ID)
	case remote.Status == store.StateCompleted:
		s.log.Info("recorded session already completed, discarding resume record", "session_id", rec.SessionID)
	default:
		return true
	}
	if err := s.cfg.Resume.Delete(rec.TargetID); err != nil {
		s.log.Warn("failed to delete resume record", "target_id", rec.TargetID, "error", err)
	}
	return false
}

// DeclineResume discards the offered resume record and registers a fresh
// session instead. Only valid in PhaseResumeAvailable.
func (s *Session) DeclineResume(ctx context.Context) error {
	if s.Phase() != PhaseResumeAvailable {
		return fmt.Errorf("interview: decline resume in phase %s", s.Phase())
	}
	if err := s.cfg.Resume.Delete(s.targetID); err != nil {
		s.log.Warn("failed to delete resume record", "target_id", s.targetID, "error", err)
	}
	// The abandoned session will never continue; drop its partial
	// transcript server-side. Best-effort like all mid-session writes.
	if err := s.cfg.Store.ClearTranscript(ctx, s.ID()); err != nil {
		s.log.Warn("failed to clear abandoned transcript", "session_id", s.ID(), "error", err)
	}
	s.mu.Lock()
	s.resuming = false
	s.mu.Unlock()
	return s.registerNew(ctx)
}

// registerNew creates a new durable session record and enters PhaseReady.
func (s *Session) registerNew(ctx context.Context) error {
	id := uuid.NewString()
	now := time.Now().UTC()
	if err := s.cfg.Store.CreateSession(ctx, store.Session{
		ID:        id,
		TargetID:  s.targetID,
		Status:    store.StateReady,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("interview: register session: %w", err)
	}
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	s.setPhase(PhaseReady)
	return nil
}

// Start connects to the backend and begins the interview. A resumed session
// (PhaseResumeAvailable) reconciles the remote transcript before going
// active. When every candidate endpoint fails the session ends in
// PhaseInterrupted and the error wraps transport.ErrConnectFailed.
//
// A failing microphone is not fatal: the session continues listen-only.
func (s *Session) Start(ctx context.Context) error {
	phase := s.Phase()
	if phase != PhaseReady && phase != PhaseResumeAvailable {
		return fmt.Errorf("interview: start in phase %s", phase)
	}
	s.setPhase(PhaseConnecting)

	s.reconnector = transport.NewReconnector(transport.ReconnectorConfig{
		Dialer:     s.cfg.Dialer,
		Endpoints:  s.cfg.Endpoints,
		Setup:      s.buildSetup,
		MaxRetries: s.cfg.MaxRetries,
		Backoff:    s.cfg.Backoff,
		MaxBackoff: s.cfg.MaxBackoff,
		Metrics:    s.metrics,
		OnReconnect: func(c *transport.Conn) {
			s.connSwaps <- c
		},
		OnExhausted: func(err error) {
			select {
			case s.exhausted <- err:
			default:
			}
		},
	})

	conn, err := s.reconnector.Connect(ctx)
	if err != nil {
		// Handshake failed against every candidate endpoint: terminal.
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.setPhase(PhaseInterrupted)
		s.persist(ctx, store.StatusUpdate{Status: store.StateInterrupted})
		close(s.done)
		return fmt.Errorf("interview: start: %w", err)
	}
	s.conn = conn
	s.everConnected.Store(true)

	now := time.Now().UTC()
	s.startedAt = now
	s.persist(ctx, store.StatusUpdate{Status: store.StateInProgress, StartedAt: &now})

	if s.resuming {
		if completed := s.reconcile(ctx); completed {
			s.finishRejected(ctx)
			return nil
		}
	}

	s.startCapture()

	runCtx, cancel := context.WithCancel(ctx)
	s.reconnector.Monitor(runCtx)

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.metrics.ActiveSessions.Add(ctx, 1)
	s.setPhase(PhaseActive)

	go func() {
		defer cancel()
		s.run(runCtx)
	}()
	return nil
}

// finishRejected handles the edge where a resumed session turns out to be
// already completed on the backend: no run loop ever starts.
func (s *Session) finishRejected(ctx context.Context) {
	s.log.Info("session already completed remotely", "session_id", s.ID())
	s.deleteResumeRecord()
	_ = s.reconnector.Stop()
	s.setPhase(PhaseCompleted)
	close(s.done)
}

// buildSetup is called by the reconnector on every connection attempt so the
// resume metadata reflects the moment of dialing.
func (s *Session) buildSetup() transport.Setup {
	s.mu.Lock()
	id := s.id
	resuming := s.resuming
	s.mu.Unlock()
	setup := transport.Setup{
		SessionID:  id,
		TargetID:   s.targetID,
		SampleRate: s.cfg.TargetRate,
	}
	if resuming || s.everConnected.Load() {
		setup.Resume = true
		setup.LastSequence = s.entries.MaxSequence()
	}
	return setup
}

// startCapture starts the microphone pipeline. Failure is logged and the
// session proceeds without outbound audio.
func (s *Session) startCapture() {
	if s.cfg.Source == nil {
		s.log.Info("no audio source configured, running listen-only")
		return
	}
	p := audio.NewPipeline(audio.PipelineConfig{
		Source:       s.cfg.Source,
		TargetRate:   s.cfg.TargetRate,
		FrameSamples: s.cfg.FrameSamples,
	})
	frames, err := p.Start()
	if err != nil {
		s.log.Warn("microphone failed to start, continuing without it", "error", err)
		return
	}
	s.pipeline = p
	s.frames = frames
}

// run is the single-writer event loop. It exits on completion, interruption,
// user stop, or context cancellation, then tears the session down.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	var timerC <-chan time.Time
	if s.cfg.MaxDuration > 0 {
		timer := time.NewTimer(s.cfg.MaxDuration)
		defer timer.Stop()
		timerC = timer.C
	}

	events := s.conn.Events()
	frames := s.frames

	for {
		select {
		case <-ctx.Done():
			s.interrupt(ctx.Err())
			return

		case <-s.control:
			s.interrupt(ErrStopped)
			return

		case <-timerC:
			s.log.Info("interview time limit reached", "session_id", s.ID())
			s.complete()
			return

		case err := <-s.exhausted:
			s.log.Error("reconnection exhausted", "session_id", s.ID(), "error", err)
			s.interrupt(err)
			return

		case newConn := <-s.connSwaps:
			s.conn = newConn
			events = newConn.Events()
			if completed := s.reconcile(ctx); completed {
				s.complete()
				return
			}
			s.setPhase(PhaseActive)
			s.saveResumeRecord()

		case ev, ok := <-events:
			if !ok {
				// Channel closed after a drop; wait for the swap or
				// the exhausted signal.
				events = nil
				continue
			}
			if s.handleEvent(ctx, ev) {
				return
			}

		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			s.sendFrame(ctx, frame)
		}
	}
}

// handleEvent processes one inbound event. It reports whether the run loop
// should exit.
func (s *Session) handleEvent(ctx context.Context, ev transport.Event) bool {
	switch ev.Type {
	case transport.EventTranscript, transport.EventTranscriptUpdate:
		if !ev.Entry.Speaker.IsValid() {
			s.log.Warn("transcript entry with unknown speaker", "entry_id", ev.Entry.ID, "speaker", ev.Entry.Speaker)
		}
		if s.entries.Append(ev.Entry) {
			s.metrics.RecordTranscriptEntry(ctx, string(ev.Entry.Speaker))
			if err := s.cfg.Store.AppendEntries(ctx, s.ID(), []store.TranscriptEntry{ev.Entry}); err != nil {
				s.log.Warn("transcript persistence failed", "entry_id", ev.Entry.ID, "error", err)
			}
		}

	case transport.EventStatus:
		s.log.Info("backend status", "session_id", s.ID(), "state", ev.State)

	case transport.EventAudio:
		if s.cfg.OnAudio != nil {
			s.cfg.OnAudio(ev.Audio)
		}

	case transport.EventServerError:
		s.log.Warn("backend error", "session_id", s.ID(), "code", ev.Code, "message", ev.Message)

	case transport.EventComplete:
		s.complete()
		return true

	case transport.EventDropped:
		s.setPhase(PhaseReconnecting)
		s.saveResumeRecord()
		s.reconnector.NotifyDisconnect()
	}
	return false
}

// sendFrame forwards one captured frame. Frames are discarded, and counted,
// whenever the session is not actively connected.
func (s *Session) sendFrame(ctx context.Context, frame audio.Frame) {
	if s.Phase() != PhaseActive {
		s.metrics.AudioFramesDropped.Add(ctx, 1)
		return
	}
	if err := s.conn.SendFrame(ctx, frame.Data); err != nil {
		s.metrics.AudioFramesDropped.Add(ctx, 1)
		if !errors.Is(err, transport.ErrClosed) {
			s.log.Warn("frame send failed", "error", err)
		}
	}
}

// reconcile refetches the durable session and transcript in parallel and
// merges the remote transcript into the local log. It reports whether the
// backend already considers the session completed. Fetch failures are logged
// and treated as "not completed"; the local transcript stands.
func (s *Session) reconcile(ctx context.Context) (completed bool) {
	id := s.ID()
	var (
		sess    store.Session
		remote  []store.TranscriptEntry
		g, gctx = errgroup.WithContext(ctx)
	)
	g.Go(func() error {
		var err error
		sess, err = s.cfg.Store.GetSession(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		remote, err = s.cfg.Store.GetTranscript(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Warn("reconciliation fetch failed", "session_id", id, "error", err)
		return false
	}
	if changed := s.entries.Reconcile(remote); changed > 0 {
		s.log.Info("transcript reconciled", "session_id", id, "changed", changed)
	}
	return sess.Status == store.StateCompleted
}

// Stop ends the session early. It is safe to call in any phase and more than
// once; it blocks until teardown finishes or ctx expires.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case s.control <- ctrlStop:
	default:
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// complete finalises a session the backend finished: durable state becomes
// completed and the resume record is removed.
func (s *Session) complete() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	now := time.Now().UTC()
	s.persist(ctx, store.StatusUpdate{Status: store.StateCompleted, CompletedAt: &now})
	s.deleteResumeRecord()
	s.metrics.SessionDuration.Record(ctx, time.Since(s.startedAt).Seconds())
	s.setPhase(PhaseCompleted)
}

// interrupt ends the session without completing it, leaving a resume record
// behind so the interview can be picked up within the retention window.
func (s *Session) interrupt(cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	s.mu.Lock()
	s.lastErr = cause
	s.mu.Unlock()

	s.setPhase(PhaseInterrupted)
	s.saveResumeRecord()
	s.persist(ctx, store.StatusUpdate{Status: store.StateInterrupted})
	s.metrics.SessionDuration.Record(ctx, time.Since(s.startedAt).Seconds())
}

// teardown releases session resources in a fixed order: capture first so no
// more frames are produced, then the reconnector so no new connection
// appears, then the transport itself. The duration timer is owned by the run
// loop and stops with it.
func (s *Session) teardown() {
	if s.pipeline != nil {
		s.pipeline.Stop()
	}
	if s.reconnector != nil {
		_ = s.reconnector.Stop()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	s.metrics.ActiveSessions.Add(ctx, -1)
	s.log.Info("session torn down", "session_id", s.ID(), "phase", s.Phase().String())
}

// persist applies a durable status update, best-effort. Storage trouble
// never ends a live session.
func (s *Session) persist(ctx context.Context, u store.StatusUpdate) {
	if err := s.cfg.Store.UpdateSession(ctx, s.ID(), u); err != nil {
		s.log.Warn("status persistence failed", "session_id", s.ID(), "status", u.Status, "error", err)
	}
}

func (s *Session) saveResumeRecord() {
	if s.cfg.Resume == nil {
		return
	}
	rec := resume.Record{
		SessionID:    s.ID(),
		TargetID:     s.targetID,
		Status:       s.Phase().Persisted(),
		LastSequence: s.entries.MaxSequence(),
	}
	if err := s.cfg.Resume.Save(rec); err != nil {
		s.log.Warn("resume record save failed", "target_id", s.targetID, "error", err)
	}
}

func (s *Session) deleteResumeRecord() {
	if s.cfg.Resume == nil {
		return
	}
	if err := s.cfg.Resume.Delete(s.targetID); err != nil {
		s.log.Warn("resume record delete failed", "target_id", s.targetID, "error", err)
	}
}
