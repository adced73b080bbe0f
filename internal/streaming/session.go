package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Default session constants.
const (
	DefaultResponseChannelSize = 32
)

// ErrSessionClosed is returned by Send methods after Close.
var ErrSessionClosed = errors.New("session is closed")

// MessageHandler decodes a raw WebSocket message into zero or more values.
// Returning a non-nil error ends the session with that error.
type MessageHandler[T any] func(data []byte) ([]T, error)

// SessionConfig configures a streaming Session.
type SessionConfig[T any] struct {
	// Conn is the underlying connected WebSocket. Required.
	Conn *Conn

	// OnMessage decodes raw messages. Required.
	OnMessage MessageHandler[T]

	// ResponseChannelSize sets the buffer size of the response channel.
	ResponseChannelSize int

	// Logger for session-level messages. Defaults to the connection logger.
	Logger Logger
}

// Session runs a receive loop over a Conn, decodes messages with the
// caller-provided handler and emits the decoded values on Response. The
// response channel is closed exactly once when the loop exits, and Err
// reports why.
type Session[T any] struct {
	conn   *Conn
	cfg    SessionConfig[T]
	ctx    context.Context
	cancel context.CancelFunc

	responseCh chan T
	done       chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

// NewSession creates and starts a streaming session. The receive loop is
// started in a background goroutine.
func NewSession[T any](ctx context.Context, cfg SessionConfig[T]) (*Session[T], error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("streaming.SessionConfig.Conn is required")
	}
	if cfg.OnMessage == nil {
		return nil, fmt.Errorf("streaming.SessionConfig.OnMessage is required")
	}
	if cfg.ResponseChannelSize <= 0 {
		cfg.ResponseChannelSize = DefaultResponseChannelSize
	}
	if cfg.Logger == nil {
		cfg.Logger = cfg.Conn.cfg.Logger
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	s := &Session[T]{
		conn:       cfg.Conn,
		cfg:        cfg,
		ctx:        sessionCtx,
		cancel:     cancel,
		responseCh: make(chan T, cfg.ResponseChannelSize),
		done:       make(chan struct{}),
	}

	go s.receiveLoop()

	return s, nil
}

// SendJSON JSON-encodes and sends a text message.
func (s *Session[T]) SendJSON(msg any) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	return s.conn.SendJSON(msg)
}

// SendBinary sends a binary message.
func (s *Session[T]) SendBinary(data []byte) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	return s.conn.SendBinary(data)
}

// Response returns the channel of decoded values. It is closed when the session ends.
func (s *Session[T]) Response() <-chan T {
	return s.responseCh
}

// Done returns a channel that is closed after the receive loop exits.
func (s *Session[T]) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session, or nil for a normal close.
// It is only meaningful after Done is closed.
func (s *Session[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close terminates the session and closes the underlying connection.
// Safe to call multiple times.
func (s *Session[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.conn.Close()
}

// Conn returns the underlying connection.
func (s *Session[T]) Conn() *Conn {
	return s.conn
}

func (s *Session[T]) checkClosed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session[T]) receiveLoop() {
	defer func() {
		s.cancel()
		close(s.responseCh)
		close(s.done)
	}()

	msgCh := make(chan []byte, s.cfg.ResponseChannelSize)
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.conn.ReceiveLoop(s.ctx, msgCh)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return

		case err := <-errCh:
			if !s.drain(msgCh) {
				return
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				s.cfg.Logger.Warn("receive loop error", "error", err)
				s.setErr(err)
			}
			return

		case data := <-msgCh:
			if !s.handleMessage(data) {
				return
			}
		}
	}
}

// drain handles messages that were read before the receive loop stopped.
func (s *Session[T]) drain(msgCh <-chan []byte) bool {
	for {
		select {
		case data := <-msgCh:
			if !s.handleMessage(data) {
				return false
			}
		default:
			return true
		}
	}
}

func (s *Session[T]) handleMessage(data []byte) bool {
	values, err := s.cfg.OnMessage(data)
	if err != nil {
		s.cfg.Logger.Warn("message handler error", "error", err)
		s.setErr(err)
		return false
	}
	for i := range values {
		select {
		case s.responseCh <- values[i]:
		case <-s.ctx.Done():
			return false
		}
	}
	return true
}

func (s *Session[T]) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
