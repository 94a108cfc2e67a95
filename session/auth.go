package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/duratarskeyk/socks5gate/events"
	"github.com/duratarskeyk/socks5gate/socks5"
)

// runAuth reads an AuthRequest and invokes the configured Authenticator,
// grounded on socks5protocol/authorization.go's read-then-decide shape
// but generalized to a plain func(...) error callback per spec.md §9's
// "callback-with-error discipline -> result-returning closures" note.
func (s *Session) runAuth(ctx context.Context) bool {
	header := make([]byte, 2)
	if err := readFull(s.conn, s.readTimeout(), header); err != nil {
		return s.failAuth("", wrap(ErrAuthFailure, err))
	}
	ulen := int(header[1])
	unameAndPlen := make([]byte, ulen+1)
	if err := readFull(s.conn, s.readTimeout(), unameAndPlen); err != nil {
		return s.failAuth("", wrap(ErrAuthFailure, err))
	}
	plen := int(unameAndPlen[ulen])
	passwd := make([]byte, plen)
	if plen > 0 {
		if err := readFull(s.conn, s.readTimeout(), passwd); err != nil {
			return s.failAuth("", wrap(ErrAuthFailure, err))
		}
	}

	frame := make([]byte, 0, 2+len(unameAndPlen)+len(passwd))
	frame = append(frame, header...)
	frame = append(frame, unameAndPlen...)
	frame = append(frame, passwd...)

	req, _, err := socks5.DecodeAuthRequest(frame)
	if err != nil {
		return s.failAuth("", wrap(ErrAuthFailure, err))
	}

	if err := s.opts.Authenticate(ctx, req.Username, req.Password, s.conn.RemoteAddr()); err != nil {
		return s.failAuth(req.Username, wrap(ErrAuthFailure, err))
	}

	if err := writeAll(s.conn, s.writeTimeout(), socks5.EncodeAuthReply(socks5.AuthSuccess)); err != nil {
		s.phase = PhaseClosed
		return false
	}
	s.phase = PhaseAwaitingRequest
	s.emit(events.Authenticate{Username: req.Username})
	s.log("authenticated", zap.String("username", req.Username))
	return true
}

func (s *Session) failAuth(username string, err error) bool {
	s.phase = PhaseClosed
	_ = writeAll(s.conn, s.writeTimeout(), socks5.EncodeAuthReply(socks5.AuthFailure))
	s.emit(events.AuthenticateError{Username: username, Err: err})
	return false
}
