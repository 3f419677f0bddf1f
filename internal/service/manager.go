// Package service drives a streaming session: it paces frame capture, routes
// backend replies into the snapshot store and reconnects when a session ends.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"livedetect/internal/capture"
	"livedetect/internal/config"
	"livedetect/internal/logger"
	"livedetect/internal/metrics"
	"livedetect/internal/model"
	"livedetect/internal/normalize"
	"livedetect/internal/protocol"
	"livedetect/internal/session"
	"livedetect/internal/store"
)

const (
	defaultCaptureInterval = 500 * time.Millisecond
	minReconnectDelay      = time.Second
	maxReconnectDelay      = 30 * time.Second
	noticeBuffer           = 16
)

// ErrStopped is returned by Run after Stop was called.
var ErrStopped = errors.New("streaming stopped")

// Notice is a user-visible message raised by a backend error reply or a
// failed session.
type Notice struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Manager owns the live pipeline for one client: frame source, the current
// session and the snapshot store fed by it.
type Manager struct {
	config     *config.Config
	source     capture.Source
	store      *store.SnapshotStore
	normalizer *normalize.Normalizer
	metrics    *metrics.Metrics
	logger     *logger.Logger
	dialer     session.Dialer

	interval        time.Duration
	minBackoff      time.Duration
	maxBackoff      time.Duration
	measureViewport bool

	token  *frameToken
	seq    atomic.Uint64
	status atomic.Int32

	mu         sync.Mutex
	language   string
	current    *stream
	cancelRun  context.CancelFunc
	stopped    bool
	lastFrame  capture.Frame
	lastNotice Notice
	notices    chan Notice
}

// stream is the state of one session lifetime.
type stream struct {
	session       *session.Session
	cancelCapture context.CancelFunc
	captureDone   chan struct{}
	once          sync.Once

	// applyMu orders snapshot updates against teardown; once closed is set
	// no batch from this session reaches the store.
	applyMu sync.Mutex
	closed  bool
}

// NewManager wires a manager. A nil dialer uses the websocket dialer with the
// configured handshake timeout.
func NewManager(cfg *config.Config, source capture.Source, st *store.SnapshotStore, n *normalize.Normalizer, m *metrics.Metrics, log *logger.Logger, dialer session.Dialer) *Manager {
	if dialer == nil {
		dialer = session.NewWebsocketDialer(cfg.HandshakeTimeout)
	}
	if log == nil {
		log = logger.Discard()
	}
	if m == nil {
		m = metrics.New()
	}

	interval := cfg.CaptureInterval
	if interval <= 0 {
		interval = defaultCaptureInterval
	}

	mgr := &Manager{
		config:     cfg,
		source:     source,
		store:      st,
		normalizer: n,
		metrics:    m,
		logger:     log,
		dialer:     dialer,
		interval:   interval,
		minBackoff: minReconnectDelay,
		maxBackoff: maxReconnectDelay,
		token:      newFrameToken(cfg.InFlightTimeout),
		language:   cfg.Language,
		notices:    make(chan Notice, noticeBuffer),
	}

	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		n.SetViewport(float64(cfg.ViewportWidth), float64(cfg.ViewportHeight))
	} else {
		mgr.measureViewport = true
	}
	mgr.status.Store(int32(model.StatusDisconnected))

	log.Info("🎬 Manager ready - capturing every %s, reference %.0fx%.0f",
		interval, n.Reference().Width, n.Reference().Height)
	return mgr
}

// Run connects and streams until ctx is cancelled or Stop is called. A session
// that ends or fails to connect is retried with exponential backoff.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	m.cancelRun = cancel
	m.mu.Unlock()

	delay := m.minBackoff
	for attempt := 0; ; attempt++ {
		if m.isStopped() {
			return ErrStopped
		}
		if attempt > 0 {
			m.metrics.Reconnects.Add(1)
		}

		sess, err := m.Connect(ctx)
		if err == nil {
			delay = m.minBackoff
			err = m.Stream(ctx, sess)
		}

		if ctx.Err() != nil {
			if m.isStopped() {
				return ErrStopped
			}
			return nil
		}

		if err != nil {
			m.logger.Warning("⚠️  Streaming session ended: %v - reconnecting in %s", err, delay)
		} else {
			m.logger.Info("Streaming session ended - reconnecting in %s", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			if m.isStopped() {
				return ErrStopped
			}
			return nil
		case <-timer.C:
		}
		delay = min(delay*2, m.maxBackoff)
	}
}

// Connect opens one session with the current language preference.
func (m *Manager) Connect(ctx context.Context) (*session.Session, error) {
	return session.Connect(ctx, session.Options{
		Endpoint:       m.config.Endpoint,
		Username:       m.config.Username,
		Language:       m.Language(),
		Dialer:         m.dialer,
		Logger:         m.logger,
		Metrics:        m.metrics,
		OnStatusChange: m.onStatusChange,
	})
}

// Stream runs the capture and dispatch loops for sess until the session ends
// or ctx is cancelled, then tears it down.
func (m *Manager) Stream(ctx context.Context, sess *session.Session) error {
	captureCtx, cancelCapture := context.WithCancel(ctx)
	st := &stream{
		session:       sess,
		cancelCapture: cancelCapture,
		captureDone:   make(chan struct{}),
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		cancelCapture()
		close(st.captureDone)
		m.teardown(st)
		return ErrStopped
	}
	m.current = st
	m.mu.Unlock()

	m.token.reset()
	go func() {
		defer close(st.captureDone)
		m.captureLoop(captureCtx, sess)
	}()

	err := m.dispatch(ctx, st)
	m.teardown(st)

	m.mu.Lock()
	if m.current == st {
		m.current = nil
	}
	m.mu.Unlock()
	return err
}

// Stop ends streaming: the capture timer is cancelled before the session is
// closed so no frame follows stop, and the snapshot is cleared.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	st := m.current
	cancel := m.cancelRun
	m.mu.Unlock()

	if st != nil {
		m.teardown(st)
	}
	if cancel != nil {
		cancel()
	}
	m.logger.Info("🛑 Streaming stopped")
}

func (m *Manager) teardown(st *stream) {
	st.once.Do(func() {
		st.applyMu.Lock()
		st.closed = true
		st.applyMu.Unlock()

		st.cancelCapture()
		<-st.captureDone
		if err := st.session.Close(); err != nil {
			m.logger.Warning("Closing session %s: %v", st.session.ID(), err)
		}
		m.token.reset()
		m.store.Clear()
	})
}

func (m *Manager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// SetLanguage updates the label language. The live session, if any, is told
// immediately; later sessions start with it.
func (m *Manager) SetLanguage(language string) bool {
	m.mu.Lock()
	m.language = language
	st := m.current
	m.mu.Unlock()

	if st == nil {
		return false
	}
	return st.session.SetLanguage(language)
}

// Language returns the current language preference.
func (m *Manager) Language() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.language
}

// Status returns the status of the current session.
func (m *Manager) Status() model.Status {
	return model.Status(m.status.Load())
}

// SessionID returns the id of the live session, or "".
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.session.ID()
}

// Notices delivers user-visible notices. When nobody reads, new notices are
// dropped; LastNotice always holds the newest.
func (m *Manager) Notices() <-chan Notice {
	return m.notices
}

// LastNotice returns the newest notice, if any was raised.
func (m *Manager) LastNotice() (Notice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastNotice, !m.lastNotice.At.IsZero()
}

// LastFrame returns the most recently captured frame.
func (m *Manager) LastFrame() (capture.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFrame, len(m.lastFrame.JPEG) > 0
}

// Store returns the snapshot store fed by this manager.
func (m *Manager) Store() *store.SnapshotStore {
	return m.store
}

// Normalizer returns the coordinate normalizer.
func (m *Manager) Normalizer() *normalize.Normalizer {
	return m.normalizer
}

// Metrics returns the client counters.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

func (m *Manager) onStatusChange(status model.Status) {
	m.status.Store(int32(status))
}

func (m *Manager) captureLoop(ctx context.Context, sess *session.Session) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.captureTick(ctx, sess)
		}
	}
}

func (m *Manager) captureTick(ctx context.Context, sess *session.Session) {
	ok, expired := m.token.acquire(time.Now())
	if !ok {
		m.metrics.FramesSkipped.Add(1)
		return
	}
	if expired {
		m.logger.Warning("⚠️  No reply for the previous frame within %s - sending next frame", m.config.InFlightTimeout)
	}

	frame, err := m.source.Capture(ctx)
	if err != nil {
		m.token.release(time.Now())
		if ctx.Err() == nil {
			m.metrics.CaptureErrors.Add(1)
			m.logger.Error("Frame capture failed: %v", err)
		}
		return
	}
	m.metrics.FramesCaptured.Add(1)
	m.observeFrame(frame)

	if ctx.Err() != nil {
		m.token.release(time.Now())
		return
	}
	if !sess.SendFrame(frame.JPEG) {
		m.token.release(time.Now())
	}
}

// observeFrame keeps the frame for previews and measures the viewport from
// it when none was configured.
func (m *Manager) observeFrame(frame capture.Frame) {
	m.mu.Lock()
	m.lastFrame = frame
	m.mu.Unlock()

	if m.measureViewport && frame.Width > 0 && frame.Height > 0 {
		vp := m.normalizer.Viewport()
		if vp.Width != float64(frame.Width) || vp.Height != float64(frame.Height) {
			m.normalizer.SetViewport(float64(frame.Width), float64(frame.Height))
			m.logger.Info("📐 Viewport measured: %dx%d", frame.Width, frame.Height)
		}
	}
}

// dispatch is the single consumer of the session's events.
func (m *Manager) dispatch(ctx context.Context, st *stream) error {
	sess := st.session
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sess.Events():
			if !ok {
				return sess.Err()
			}
			m.handleEvent(st, ev)
		}
	}
}

func (m *Manager) handleEvent(st *stream, ev session.Event) {
	if ev.IsStatus() {
		m.handleStatus(ev)
		return
	}

	switch msg := ev.Message.(type) {
	case protocol.Detection:
		m.releaseToken()
		m.handleDetection(st, msg, ev.At)
	case protocol.Status:
		m.logger.Info("Backend status: %s", msg.Message)
	case protocol.Error:
		m.releaseToken()
		m.metrics.BackendErrors.Add(1)
		m.logger.Warning("⚠️  Backend error: %s", msg.Message)
		m.raiseNotice(msg.Message, ev.At)
	}
}

func (m *Manager) handleStatus(ev session.Event) {
	if !ev.Status.Terminal() {
		return
	}
	m.store.Clear()
	if ev.Status == model.StatusError && ev.Err != nil {
		m.raiseNotice("connection failed: "+ev.Err.Error(), ev.At)
	}
}

func (m *Manager) handleDetection(st *stream, msg protocol.Detection, at time.Time) {
	m.metrics.DetectionsAccepted.Add(uint64(len(msg.Results)))
	m.metrics.DetectionsDropped.Add(uint64(msg.Dropped))
	if msg.Dropped > 0 {
		m.logger.Debug("Dropped %d invalid detection(s)", msg.Dropped)
	}

	detections, err := m.normalizer.Apply(msg.Results)
	if err != nil {
		m.metrics.SnapshotsDeferred.Add(1)
		m.logger.Debug("Detection batch not applied: %v", err)
		return
	}

	st.applyMu.Lock()
	defer st.applyMu.Unlock()
	if st.closed {
		m.logger.Debug("Detection batch after stop ignored")
		return
	}

	snapshot := model.Snapshot{
		SessionID:  st.session.ID(),
		Seq:        m.seq.Add(1),
		Detections: detections,
		ReceivedAt: at,
	}
	if m.store.Update(snapshot) {
		m.metrics.SnapshotsApplied.Add(1)
	}
}

func (m *Manager) releaseToken() {
	if held, ok := m.token.release(time.Now()); ok {
		m.metrics.RoundTripMs.Store(uint64(held.Milliseconds()))
	}
}

func (m *Manager) raiseNotice(message string, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	n := Notice{Message: message, At: at}

	m.mu.Lock()
	m.lastNotice = n
	m.mu.Unlock()

	select {
	case m.notices <- n:
	default:
	}
}
