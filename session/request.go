package session

import (
	"context"
	"errors"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/duratarskeyk/socks5gate/connector"
	"github.com/duratarskeyk/socks5gate/events"
	"github.com/duratarskeyk/socks5gate/socks5"
)

var (
	socks5ErrUnknownAtyp  = errors.New("socks5: unsupported address type")
	errBadReserved        = errors.New("socks5: non-zero reserved byte")
	errUnsupportedCommand = errors.New("socks5: unsupported command")
)

// runRequest reads the ConnectRequest, enforces CONNECT-only /
// reserved-byte / known-atyp invariants, runs the connection filter, and
// dials the destination through the configured outbound factory.
// Grounded on socks5protocol/command.go's readCommand, generalized from
// its four fixed commands to spec.md §4.3's state table.
func (s *Session) runRequest(ctx context.Context) bool {
	header := make([]byte, 4)
	if err := readFull(s.conn, s.readTimeout(), header); err != nil {
		s.phase = PhaseClosed
		s.emit(events.ProxyError{Err: wrap(ErrHandshakeFailure, err)})
		return false
	}

	atyp := header[3]
	var addrLen int
	switch atyp {
	case socks5.ATYPIPv4:
		addrLen = 4
	case socks5.ATYPIPv6:
		addrLen = 16
	case socks5.ATYPDomain:
		lenByte := make([]byte, 1)
		if err := readFull(s.conn, s.readTimeout(), lenByte); err != nil {
			s.phase = PhaseClosed
			return false
		}
		header = append(header, lenByte...)
		addrLen = int(lenByte[0])
	default:
		return s.failRequest(socks5.ReplyAddrTypeNotSupported, wrap(ErrHandshakeFailure, socks5ErrUnknownAtyp))
	}

	rest := make([]byte, addrLen+2)
	if err := readFull(s.conn, s.readTimeout(), rest); err != nil {
		s.phase = PhaseClosed
		return false
	}
	frame := append(header, rest...)

	req, _, err := socks5.DecodeConnectRequest(frame)
	if err != nil {
		de, ok := err.(*socks5.DecodeError)
		if ok && de.Kind == socks5.BadAtyp {
			return s.failRequest(socks5.ReplyAddrTypeNotSupported, wrap(ErrHandshakeFailure, err))
		}
		return s.failRequest(socks5.ReplyGeneralFailure, wrap(ErrHandshakeFailure, err))
	}

	if req.Reserved != 0 {
		return s.failRequest(socks5.ReplyGeneralFailure, errBadReserved)
	}
	if req.Cmd != socks5.CmdConnect {
		return s.failRequest(socks5.ReplyCommandNotSupported, errUnsupportedCommand)
	}

	s.dst = req.Dst
	s.port = req.Port
	destination := net.JoinHostPort(req.Dst.Text(), portString(req.Port))
	s.logFields = append(s.logFields, zap.String("destination", destination))

	if s.opts.ConnectionFilter != nil {
		if err := s.opts.ConnectionFilter(ctx, destination, s.conn.RemoteAddr()); err != nil {
			s.emit(events.ConnectionFilter{Destination: destination, Origin: s.conn.RemoteAddr(), Err: err})
			return s.failRequest(socks5.ReplyConnectionNotAllowed, err)
		}
	}
	s.emit(events.ConnectionFilter{Destination: destination, Origin: s.conn.RemoteAddr()})

	s.phase = PhaseConnecting
	dialCtx := ctx
	var cancel context.CancelFunc
	if t := s.connectTimeout(); t > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	upstream, err := s.opts.Dial(dialCtx, req.Dst.Text(), req.Port)
	if err != nil {
		ce := connector.ClassifyError(err)
		return s.failRequest(replyCodeForKind(ce.Kind), ce)
	}

	s.upstream = upstream
	s.emit(events.ProxyConnect{Destination: destination, Outbound: upstream})

	if err := writeAll(s.conn, s.writeTimeout(), socks5.EncodeConnectReply(socks5.ReplySucceeded, req.Dst, req.Port)); err != nil {
		upstream.Close()
		s.phase = PhaseClosed
		s.emit(events.ProxyEnd{ReplyCode: socks5.ReplySucceeded, Destination: destination})
		return false
	}

	s.phase = PhaseRelaying
	s.log("connect succeeded", zap.String("destination", destination))
	return true
}

func (s *Session) failRequest(replyCode byte, cause error) bool {
	s.phase = PhaseClosed
	dst := s.dst
	var destination string
	if dst.Type == 0 {
		dst = socks5.Address{Type: socks5.ATYPIPv4, Value: []byte{0, 0, 0, 0}}
	} else {
		destination = net.JoinHostPort(dst.Text(), portString(s.port))
	}
	_ = writeAll(s.conn, s.writeTimeout(), socks5.EncodeConnectReply(replyCode, dst, s.port))
	s.emit(events.ProxyError{Err: cause})
	s.emit(events.ProxyEnd{ReplyCode: replyCode, Destination: destination})
	return false
}

func replyCodeForKind(k connector.Kind) byte {
	switch k {
	case connector.KindRefused:
		return socks5.ReplyConnectionRefused
	case connector.KindHostUnreachable:
		return socks5.ReplyHostUnreachable
	case connector.KindNetworkUnreachable:
		return socks5.ReplyNetworkUnreachable
	default:
		return socks5.ReplyNetworkUnreachable
	}
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}
