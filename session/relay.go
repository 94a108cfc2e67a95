package session

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/duratarskeyk/socks5gate/events"
	"github.com/duratarskeyk/socks5gate/relay"
	"github.com/duratarskeyk/socks5gate/socks5"
)

// runRelay splices the client and upstream connections bidirectionally
// until either side ends, then emits the relay-lifecycle events and
// closes both. It is called once per session, exactly once, after
// SUCCEEDED has been written (s.phase == PhaseRelaying on entry).
func (s *Session) runRelay(ctx context.Context) {
	defer s.upstream.Close()

	destination := net.JoinHostPort(s.dst.Text(), portString(s.port))
	upstream := s.upstream
	if bps := s.bytesPerSecond(); bps > 0 {
		upstream = relay.Limited(upstream, bps)
	}

	onChunk := func(clientToUpstream bool, n int) {
		s.emit(events.ProxyData{Destination: destination, Bytes: n, ClientToUpstream: clientToUpstream})
	}
	c2u, u2c, err := relay.Splice(ctx, s.conn, upstream, s.spliceBufferSize(), s.relayIdleTimeout(), onChunk)
	s.phase = PhaseClosed

	s.emit(events.ProxyDisconnect{Origin: s.conn.RemoteAddr(), Destination: destination, HadError: err != nil})
	if err != nil {
		s.emit(events.ProxyError{Err: err})
	}
	s.emit(events.ProxyEnd{ReplyCode: socks5.ReplySucceeded, Destination: destination})
	s.log("relay ended", zap.Int64("client_to_upstream", c2u), zap.Int64("upstream_to_client", u2c), zap.Error(err))
}

func (s *Session) spliceBufferSize() int {
	if s.opts.Timeouts == nil || s.opts.Timeouts.Splice == 0 {
		return relay.DefaultBufferSize
	}
	return int(s.opts.Timeouts.Splice) * 1024
}

func (s *Session) bytesPerSecond() int64 {
	return s.opts.BytesPerSecond
}

// relayIdleTimeout bounds how long either relay direction may go without
// a read before Splice unblocks it, taken from corestructs.Timeouts.Read.
func (s *Session) relayIdleTimeout() time.Duration {
	if s.opts.Timeouts == nil {
		return 0
	}
	return s.opts.Timeouts.Read
}
