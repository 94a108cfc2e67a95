// Package session implements the per-connection SOCKS5 protocol driver:
// method negotiation, optional username/password sub-negotiation, request
// parsing, and the transition into relay mode. It is grounded on
// proxymux's socks5protocol.Socks5Request.Read driver, generalized from a
// fixed IP-allowlist authorizer to the pluggable Authenticator and
// ConnectionFilter callbacks spec.md §6 names.
package session

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/duratarskeyk/socks5gate/connector"
	"github.com/duratarskeyk/socks5gate/corestructs"
	"github.com/duratarskeyk/socks5gate/events"
	"github.com/duratarskeyk/socks5gate/socks5"
)

// Phase is the session's position in the state machine spec.md §3/§4.3
// define.
type Phase int

const (
	PhaseGreeting Phase = iota
	PhaseAwaitingAuth
	PhaseAwaitingRequest
	PhaseConnecting
	PhaseRelaying
	PhaseClosed
)

// Authenticator validates RFC 1929 credentials. Returning a non-nil error
// rejects the sub-negotiation. Configuring one makes USER_PASS the only
// method the session will ever select (spec.md §4.3's method-selection
// rule).
type Authenticator func(ctx context.Context, username, password string, client net.Addr) error

// ConnectionFilter is consulted after a ConnectRequest is parsed and
// before the outbound factory runs. Returning a non-nil error rejects the
// request with CONNECTION_NOT_ALLOWED.
type ConnectionFilter func(ctx context.Context, destination string, origin net.Addr) error

var (
	// ErrAuthFailure wraps any error that aborted the sub-negotiation,
	// whether a protocol error or an Authenticator rejection.
	ErrAuthFailure = errors.New("socks5: authentication failed")
	// ErrHandshakeFailure wraps any error that aborted method negotiation
	// or request parsing.
	ErrHandshakeFailure = errors.New("socks5: handshake failed")
	// ErrNoAcceptableMethod is reported when no method both client and
	// server advertise is acceptable.
	ErrNoAcceptableMethod = errors.New("socks5: no acceptable authentication method")
)

type wrapErr struct {
	sentinel error
	cause    error
}

func (w *wrapErr) Error() string { return w.sentinel.Error() + ": " + w.cause.Error() }
func (w *wrapErr) Unwrap() error { return w.cause }
func (w *wrapErr) Is(target error) bool { return target == w.sentinel }

func wrap(sentinel, cause error) error {
	if cause == nil {
		return nil
	}
	return &wrapErr{sentinel: sentinel, cause: cause}
}

// Options bundles the callbacks and dependencies a Session needs beyond
// the raw connection, mirroring spec.md §6's "options" record.
type Options struct {
	Authenticate     Authenticator
	ConnectionFilter ConnectionFilter
	Dial             connector.Dialer
	Timeouts         *corestructs.Timeouts
	Logger           *zap.Logger
	Events           events.Sink
	// BytesPerSecond, when positive, bounds the outbound leg of the
	// relay to a token bucket of this rate (see relay.Limited).
	BytesPerSecond int64
}

// Session drives one accepted connection through Greeting ->
// [AwaitingAuth] -> AwaitingRequest -> Connecting -> Relaying | Closed.
// Sessions are reused via sync.Pool (Get/Put below), grounded on
// socks5protocol/socks5_request_pool.go.
type Session struct {
	opts Options

	conn  net.Conn
	phase Phase

	method byte
	dst    socks5.Address
	port   uint16

	upstream net.Conn

	logFields []zapcore.Field

	// frame is scratch capacity carried with the pooled Session and
	// truncated by reset. The frame readers (runGreeting, runAuth,
	// runRequest) allocate their own buffers and do not read into it.
	frame []byte
}

var pool = sync.Pool{
	New: func() any {
		return &Session{frame: make([]byte, 0, 512)}
	},
}

// Get returns a pooled Session ready for reuse.
func Get() *Session {
	return pool.Get().(*Session)
}

// Put clears s and returns it to the pool.
func Put(s *Session) {
	s.reset()
	pool.Put(s)
}

func (s *Session) reset() {
	s.opts = Options{}
	s.conn = nil
	s.upstream = nil
	s.phase = PhaseGreeting
	s.method = 0
	s.dst = socks5.Address{}
	s.port = 0
	s.logFields = s.logFields[:0]
	s.frame = s.frame[:0]
}

// Handle drives conn through the full SOCKS5 lifecycle: handshake,
// optional auth, request, and — on success — relay, until the session
// terminates. It never returns until the connection is done with, and it
// always leaves conn closed.
func (s *Session) Handle(ctx context.Context, conn net.Conn, opts Options) {
	s.conn = conn
	s.opts = opts
	s.phase = PhaseGreeting
	defer conn.Close()

	defer func() {
		if r := recover(); r != nil {
			err := recoveredError(r)
			if s.phase != PhaseRelaying {
				s.writeShortFailure(socks5.ReplyGeneralFailure)
			}
			s.emit(events.ProxyError{Err: err})
		}
	}()

	s.emit(events.Handshake{Client: conn.RemoteAddr()})
	s.logFields = append(s.logFields, zap.Stringer("client", conn.RemoteAddr()))

	if !s.runGreeting(ctx) {
		return
	}
	if s.phase == PhaseAwaitingAuth {
		if !s.runAuth(ctx) {
			return
		}
	}
	if !s.runRequest(ctx) {
		return
	}
	s.runRelay(ctx)
}

func recoveredError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errPanic(r)
}

type panicErr struct{ v any }

func errPanic(v any) error { return &panicErr{v} }
func (p *panicErr) Error() string { return "session panic" }

func (s *Session) log(msg string, fields ...zapcore.Field) {
	if s.opts.Logger == nil {
		return
	}
	s.opts.Logger.Info(msg, append(append([]zapcore.Field{}, s.logFields...), fields...)...)
}

func (s *Session) emit(e events.Event) {
	if s.opts.Events == nil {
		return
	}
	s.opts.Events.Emit(e)
}
