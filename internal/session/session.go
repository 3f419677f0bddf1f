// Package session owns the socket to the detection backend: connect and
// handshake, guarded sends, teardown and the typed inbound event stream.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"livedetect/internal/logger"
	"livedetect/internal/metrics"
	"livedetect/internal/model"
	"livedetect/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrInvalidEndpoint = errors.New("endpoint must be a wss:// URI")
	ErrEmptyUsername   = errors.New("username must not be empty")
)

const defaultEventBuffer = 32

// Event is one item of the session's event stream: either a status change
// (Message is nil) or a validated inbound message.
type Event struct {
	Status  model.Status
	Message protocol.Incoming
	Err     error
	At      time.Time
}

// IsStatus reports whether the event describes a status change.
func (e Event) IsStatus() bool {
	return e.Message == nil
}

// Options configures Connect.
type Options struct {
	Endpoint       string
	Username       string
	Language       string
	Dialer         Dialer
	Logger         *logger.Logger
	Metrics        *metrics.Metrics
	OnStatusChange func(model.Status)
	EventBuffer    int
}

// Session is one lifetime of a streaming connection. A session that reached
// disconnected (after Close) or error is never reused.
type Session struct {
	id       string
	endpoint string
	username string

	logger   *logger.Logger
	metrics  *metrics.Metrics
	onStatus func(model.Status)

	writeMu  sync.Mutex // serializes writes; taken before mu
	mu       sync.Mutex
	status   model.Status
	closing  bool
	language string
	cause    error
	conn     Transport

	events    chan Event
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Connect opens a session to the backend. Once the socket is open it sends
// start{username} followed by set_language{language}. On failure the session
// has already moved to error and the error is returned.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	if err := ValidateEndpoint(opts.Endpoint); err != nil {
		return nil, err
	}
	if opts.Username == "" {
		return nil, ErrEmptyUsername
	}

	if opts.Dialer == nil {
		opts.Dialer = NewWebsocketDialer(0)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.EventBuffer < 4 {
		opts.EventBuffer = defaultEventBuffer
	}

	s := &Session{
		id:       uuid.NewString(),
		endpoint: opts.Endpoint,
		username: opts.Username,
		language: opts.Language,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		onStatus: opts.OnStatusChange,
		status:   model.StatusDisconnected,
		events:   make(chan Event, opts.EventBuffer),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.transition(model.StatusConnecting, nil)
	s.events <- Event{Status: model.StatusConnecting, At: time.Now()}

	conn, err := opts.Dialer.Dial(ctx, opts.Endpoint)
	if err != nil {
		err = fmt.Errorf("connect %s: %w", opts.Endpoint, err)
		s.transition(model.StatusError, err)
		close(s.closed)
		close(s.events)
		close(s.done)
		return nil, err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.transition(model.StatusConnected, nil)
	s.events <- Event{Status: model.StatusConnected, At: time.Now()}
	if s.metrics != nil {
		s.metrics.Connects.Add(1)
	}

	go s.readLoop()

	if !s.Send(protocol.Start{Username: s.username}) || !s.Send(protocol.SetLanguage{Language: s.language}) {
		cause := s.Err()
		if cause == nil {
			cause = errors.New("connection closed")
		}
		return nil, fmt.Errorf("session %s handshake failed: %w", s.id, cause)
	}

	s.logger.Info("🔌 Session %s connected to %s as %s", s.id, s.endpoint, s.username)
	return s, nil
}

// ValidateEndpoint checks that endpoint is a secure websocket URI with a host.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "wss" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Status returns the current status.
func (s *Session) Status() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Language returns the current language preference.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// Err returns the failure that moved the session to error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Events returns the session's event stream. It is closed after the final
// status event once the socket is gone. Exactly one goroutine should consume it.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed when the session's reader has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send transmits msg if the session is connected. Otherwise the message is
// dropped and logged; nothing is queued. It reports whether msg was written.
func (s *Session) Send(msg protocol.Outgoing) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.log().Error("Session %s: %v", s.id, err)
		return false
	}

	s.writeMu.Lock()
	s.mu.Lock()
	status := s.status
	ok := status == model.StatusConnected && !s.closing && s.conn != nil
	conn := s.conn
	s.mu.Unlock()

	if !ok {
		s.writeMu.Unlock()
		s.log().Debug("Session %s: dropping %s message (status %s)", s.id, msg.Type(), status)
		if msg.Type() == protocol.TypeFrame && s.metrics != nil {
			s.metrics.FramesDropped.Add(1)
		}
		return false
	}

	err = conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()

	if err != nil {
		s.fail(fmt.Errorf("write %s: %w", msg.Type(), err))
		return false
	}
	if msg.Type() == protocol.TypeFrame && s.metrics != nil {
		s.metrics.FramesSent.Add(1)
	}
	return true
}

// SendFrame transmits one JPEG frame.
func (s *Session) SendFrame(jpeg []byte) bool {
	return s.Send(protocol.NewFrame(jpeg))
}

// SetLanguage records a new language preference and sends set_language.
func (s *Session) SetLanguage(language string) bool {
	s.mu.Lock()
	s.language = language
	s.mu.Unlock()
	return s.Send(protocol.SetLanguage{Language: language})
}

// Close sends stop if connected, then closes the transport. Calling Close on
// a session that is already closed or failed is a no-op.
func (s *Session) Close() error {
	s.writeMu.Lock()
	s.mu.Lock()
	if s.closing || s.status != model.StatusConnected {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return nil
	}
	s.closing = true
	conn := s.conn
	s.mu.Unlock()

	if data, err := protocol.Encode(protocol.Stop{}); err == nil {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.log().Warning("Session %s: failed to send stop: %v", s.id, err)
		}
	}
	s.writeMu.Unlock()

	s.transition(model.StatusDisconnected, nil)
	s.closeTransport()
	s.log().Info("🛑 Session %s closed", s.id)
	return nil
}

// transition applies one status edge and fires the callback outside the lock.
func (s *Session) transition(to model.Status, cause error) bool {
	s.mu.Lock()
	if !CanTransition(s.status, to) {
		s.mu.Unlock()
		return false
	}
	from := s.status
	s.status = to
	if cause != nil && s.cause == nil {
		s.cause = cause
	}
	s.mu.Unlock()

	if to == model.StatusError {
		s.log().Error("Session %s: %s -> %s: %v", s.id, from, to, cause)
		if s.metrics != nil {
			s.metrics.SessionErrors.Add(1)
		}
	} else {
		s.log().Debug("Session %s: %s -> %s", s.id, from, to)
	}
	if s.metrics != nil {
		s.metrics.SessionStatus.Store(uint64(to))
	}
	if s.onStatus != nil {
		s.onStatus(to)
	}
	return true
}

// fail moves a live session to error and tears down the transport.
func (s *Session) fail(err error) {
	if s.transition(model.StatusError, err) {
		s.closeTransport()
	}
}

func (s *Session) closeTransport() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			if err := conn.Close(); err != nil {
				s.log().Debug("Session %s: transport close: %v", s.id, err)
			}
		}
	})
}

// readLoop is the only producer of message events. Nothing read from the
// network may panic past this point; bad frames are logged and dropped.
func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			s.emitFinal()
			return
		}

		if s.metrics != nil {
			s.metrics.MessagesReceived.Add(1)
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			s.log().Warning("Session %s: discarding inbound message: %v", s.id, err)
			if s.metrics != nil {
				s.metrics.MessagesMalformed.Add(1)
			}
			continue
		}

		select {
		case s.events <- Event{Message: msg, At: time.Now()}:
		case <-s.closed:
		}
	}
}

func (s *Session) handleReadError(err error) {
	s.mu.Lock()
	status := s.status
	closing := s.closing
	s.mu.Unlock()

	if status != model.StatusConnected {
		return
	}
	if closing {
		s.transition(model.StatusDisconnected, nil)
		s.closeTransport()
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log().Info("Session %s: backend closed the connection", s.id)
		s.transition(model.StatusDisconnected, nil)
		s.closeTransport()
		return
	}
	s.fail(fmt.Errorf("read: %w", err))
}

func (s *Session) emitFinal() {
	s.mu.Lock()
	final := Event{Status: s.status, Err: s.cause, At: time.Now()}
	s.mu.Unlock()

	select {
	case s.events <- final:
	default:
		s.log().Warning("Session %s: event buffer full, final status %s not queued", s.id, final.Status)
	}
}

func (s *Session) log() *logger.Logger {
	if s.logger == nil {
		return logger.Discard()
	}
	return s.logger
}
