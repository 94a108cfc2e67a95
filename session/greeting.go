package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/duratarskeyk/socks5gate/events"
	"github.com/duratarskeyk/socks5gate/socks5"
)

// runGreeting reads the client's Greeting, selects a method per spec.md
// §4.3's selection rule, and writes the MethodReply. It returns false if
// the session should terminate (either a protocol error, or no mutually
// acceptable method).
func (s *Session) runGreeting(ctx context.Context) bool {
	header := make([]byte, 2)
	if err := readFull(s.conn, s.readTimeout(), header); err != nil {
		s.phase = PhaseClosed
		s.writeShortFailure(socks5.ReplyGeneralFailure)
		s.emit(events.ProxyError{Err: wrap(ErrHandshakeFailure, err)})
		return false
	}
	methods := make([]byte, header[1])
	if len(methods) > 0 {
		if err := readFull(s.conn, s.readTimeout(), methods); err != nil {
			s.phase = PhaseClosed
			s.writeShortFailure(socks5.ReplyGeneralFailure)
			s.emit(events.ProxyError{Err: wrap(ErrHandshakeFailure, err)})
			return false
		}
	}
	frame := append(append([]byte{}, header...), methods...)
	greeting, _, err := socks5.DecodeGreeting(frame)
	if err != nil {
		s.phase = PhaseClosed
		s.writeShortFailure(socks5.ReplyGeneralFailure)
		s.emit(events.ProxyError{Err: wrap(ErrHandshakeFailure, err)})
		return false
	}

	method := s.selectMethod(greeting.Methods)
	if err := writeAll(s.conn, s.writeTimeout(), socks5.EncodeMethodReply(method)); err != nil {
		s.phase = PhaseClosed
		return false
	}
	if method == socks5.MethodNoAcceptable {
		s.phase = PhaseClosed
		s.emit(events.AuthenticateError{Err: ErrNoAcceptableMethod})
		return false
	}

	s.method = method
	if method == socks5.MethodUserPass {
		s.phase = PhaseAwaitingAuth
	} else {
		s.phase = PhaseAwaitingRequest
	}
	s.log("method negotiated", zap.Uint8("method", method))
	return true
}

// selectMethod implements spec.md §4.3's rule: if an Authenticator is
// configured, USER_PASS is required and NO_AUTH is never offered back;
// otherwise NO_AUTH is selected if offered. GSSAPI is never selected.
func (s *Session) selectMethod(offered []byte) byte {
	has := func(want byte) bool {
		for _, m := range offered {
			if m == want {
				return true
			}
		}
		return false
	}
	if s.opts.Authenticate != nil {
		if has(socks5.MethodUserPass) {
			return socks5.MethodUserPass
		}
		return socks5.MethodNoAcceptable
	}
	if has(socks5.MethodNoAuth) {
		return socks5.MethodNoAuth
	}
	return socks5.MethodNoAcceptable
}
