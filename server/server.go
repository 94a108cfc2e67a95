// Package server binds a listener, spawns a session per accepted
// connection, and exposes the facade spec.md §4.6/§6 names:
// listen/close/address plus the published event stream. It is grounded
// on proxymux/mux.Handler's shape (an options bundle of callbacks wired
// to a Handle entrypoint spawned by an accept loop) generalized into an
// *owned* accept loop, since this module's facade must own accept/close
// rather than delegate it to an external caller the way the teacher's
// mux.Handler does.
package server

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/duratarskeyk/socks5gate/connector"
	"github.com/duratarskeyk/socks5gate/corestructs"
	"github.com/duratarskeyk/socks5gate/events"
	"github.com/duratarskeyk/socks5gate/session"
)

// Options bundles everything a Server needs beyond the listen address,
// mirroring spec.md §6's "options" record.
type Options struct {
	// Authenticate, if set, makes USER_PASS the only method the server
	// will ever select and is consulted for every sub-negotiation.
	Authenticate session.Authenticator
	// ConnectionFilter, if set, is consulted once per ConnectRequest
	// before the outbound factory runs.
	ConnectionFilter session.ConnectionFilter
	// Dial overrides the default direct-TCP outbound factory
	// (connector.Direct(nil)).
	Dial connector.Dialer
	// Timeouts bounds every blocking operation a session performs. A
	// nil Timeouts leaves connections unbounded, which is how a
	// zero-value *corestructs.Timeouts (and net.Pipe()-based tests)
	// behave.
	Timeouts *corestructs.Timeouts
	// Logger receives one structured line per session lifecycle
	// transition. Defaults to zap.NewNop().
	Logger *zap.Logger
	// Events receives every lifecycle event spec.md §6 names, in addition
	// to the server's own log sink. When nil, events reach only the log
	// sink.
	Events events.Sink
	// BytesPerSecond, when positive, rate-limits every session's
	// outbound leg to this many bytes per second (relay.Limited).
	BytesPerSecond int64
}

func (o Options) sessionOptions() session.Options {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := events.Sink(logSink{logger: logger})
	if o.Events != nil {
		sink = events.Multi{sink, o.Events}
	}
	dial := o.Dial
	if dial == nil {
		dial = connector.Direct(nil)
	}
	return session.Options{
		Authenticate:     o.Authenticate,
		ConnectionFilter: o.ConnectionFilter,
		Dial:             dial,
		Timeouts:         o.Timeouts,
		Logger:           logger,
		Events:           sink,
		BytesPerSecond:   o.BytesPerSecond,
	}
}

// logSink bridges the event stream to the session's zap logger, so every
// deployment gets at least a structured-log trail of connect/auth failures
// and relay errors even if it never configures its own events.Sink. It is
// combined with a caller-supplied Events sink through events.Multi.
type logSink struct {
	logger *zap.Logger
}

// Emit implements events.Sink.
func (l logSink) Emit(e events.Event) {
	switch ev := e.(type) {
	case events.AuthenticateError:
		l.logger.Warn("authentication rejected", zap.String("username", ev.Username), zap.Error(ev.Err))
	case events.ConnectionFilter:
		if ev.Err != nil {
			l.logger.Warn("connection filtered", zap.String("destination", ev.Destination), zap.Error(ev.Err))
		}
	case events.ProxyError:
		l.logger.Error("proxy error", zap.Error(ev.Err))
	case events.ProxyEnd:
		l.logger.Debug("proxy end", zap.String("destination", ev.Destination), zap.Uint8("reply_code", ev.ReplyCode))
	}
}

// sessionEntry is what the registry holds per active session: its
// inbound connection (closed by Close to unblock a session parked in a
// frame read) and its cancellation (to unwind anything in that session
// still watching the session's context, such as an in-progress dial or
// relay).
type sessionEntry struct {
	conn   net.Conn
	cancel context.CancelFunc
}

// Server is the SOCKS5 gateway facade: it owns a listener, spawns one
// session per accepted connection, and tracks every active session so
// Close can end them all.
type Server struct {
	opts Options

	mu       sync.Mutex
	listener net.Listener
	sessions map[*session.Session]sessionEntry
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// New constructs a Server from opts. The server does not listen on
// anything until ListenAndServe is called.
func New(opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:     opts,
		sessions: make(map[*session.Session]sessionEntry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ListenAndServe binds addr on network (normally "tcp"), then accepts
// connections and spawns a session per connection until the listener is
// closed by Close or by an accept error. It blocks until the accept loop
// exits and returns the error that ended it (nil after a clean Close).
func (s *Server) ListenAndServe(ctx context.Context, network, addr string) error {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-s.ctx.Done()
		ln.Close()
	}()
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.Close()
			case <-s.ctx.Done():
			}
		}()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		s.spawn(conn)
	}
}

// Addr returns the listener's bound address. It is nil until
// ListenAndServe has successfully bound a listener.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close ends the listener (refusing new accepts) and every active
// session — including one parked in a blocking frame read, by closing
// its inbound connection directly, since cancelling its context alone
// would not unblock an in-progress io.ReadFull — then waits for their
// goroutines to finish. It is safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	entries := make([]sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	s.cancel()
	if ln != nil {
		ln.Close()
	}
	for _, e := range entries {
		e.cancel()
		e.conn.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) spawn(conn net.Conn) {
	sessCtx, sessCancel := context.WithCancel(s.ctx)
	sess := session.Get()

	s.mu.Lock()
	s.sessions[sess] = sessionEntry{conn: conn, cancel: sessCancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sessCancel()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess)
			s.mu.Unlock()
			session.Put(sess)
		}()
		sess.Handle(sessCtx, conn, s.opts.sessionOptions())
	}()
}
