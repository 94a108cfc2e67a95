package session

import (
	"io"
	"net"
	"time"

	"github.com/duratarskeyk/socks5gate/socks5"
)

// readFull reads exactly len(buf) bytes from conn, bounded by timeout.
// A zero timeout leaves any deadline conn already has untouched, which is
// how the default zero-value corestructs.Timeouts behaves in tests.
func readFull(conn net.Conn, timeout time.Duration, buf []byte) error {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := io.ReadFull(conn, buf)
	return err
}

func writeAll(conn net.Conn, timeout time.Duration, buf []byte) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := conn.Write(buf)
	return err
}

// readTimeout/writeTimeout fall back to zero (no deadline) when s.opts
// has no Timeouts configured, so a Session works against net.Pipe() in
// tests without callers having to supply one.
func (s *Session) readTimeout() time.Duration {
	if s.opts.Timeouts == nil {
		return 0
	}
	return s.opts.Timeouts.Handshake
}

func (s *Session) writeTimeout() time.Duration {
	if s.opts.Timeouts == nil {
		return 0
	}
	return s.opts.Timeouts.Write
}

func (s *Session) connectTimeout() time.Duration {
	if s.opts.Timeouts == nil {
		return 0
	}
	return s.opts.Timeouts.Connect
}

func (s *Session) writeShortFailure(replyCode byte) {
	_ = writeAll(s.conn, s.writeTimeout(), socks5.EncodeShortFailure(replyCode))
}
