// Package relay implements the post-handshake byte pipe between a
// client connection and an outbound connection. It is grounded on the
// shape of proxymux/socks5protocol/socks5_read_writer.go's readWriter
// (a net.Conn wrapper counting bytes through Read/Write), fanned out to
// two directions with half-close-on-EOF, which the teacher's
// single-direction wrapper never needed to do.
package relay

import (
	"context"
	"io"
	"net"
	"time"

	"go.uber.org/atomic"
)

// DefaultBufferSize is used when Splice is called with bufBytes <= 0.
const DefaultBufferSize = 32 * 1024

// halfCloser is satisfied by *net.TCPConn and any other net.Conn that can
// shut down one direction without tearing down the whole connection.
type halfCloser interface {
	CloseWrite() error
}

// ChunkFunc is invoked once per chunk successfully copied by Splice, with
// clientToUpstream identifying the direction and n the chunk's length.
// It is used to surface spec.md §6's per-chunk proxyData notification;
// a nil ChunkFunc disables the callback entirely.
type ChunkFunc func(clientToUpstream bool, n int)

// Splice couples client and upstream bidirectionally until both
// directions have finished, copying bufBytes at a time (DefaultBufferSize
// if bufBytes <= 0). idleTimeout, if positive, is applied as a sliding
// read deadline before every Read on both sides, so a relay with no
// traffic for that long unblocks instead of holding the connection pair
// open forever. It returns the byte counts in each direction and the
// first error either direction observed, which is nil on a clean
// double-EOF shutdown. A clean EOF from one side's read half-closes (or,
// failing that, fully closes) the other side's write half so the still-
// open direction can drain; ctx cancellation tears down both sides
// immediately.
func Splice(ctx context.Context, client, upstream net.Conn, bufBytes int, idleTimeout time.Duration, onChunk ChunkFunc) (clientToUpstream, upstreamToClient int64, err error) {
	if bufBytes <= 0 {
		bufBytes = DefaultBufferSize
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
			upstream.Close()
		case <-done:
		}
	}()

	var c2u, u2c atomic.Int64
	errs := make(chan error, 2)

	go func() {
		n, copyErr := copyHalf(upstream, client, make([]byte, bufBytes), idleTimeout, func(n int) {
			if onChunk != nil {
				onChunk(true, n)
			}
		})
		c2u.Store(n)
		errs <- copyErr
	}()
	go func() {
		n, copyErr := copyHalf(client, upstream, make([]byte, bufBytes), idleTimeout, func(n int) {
			if onChunk != nil {
				onChunk(false, n)
			}
		})
		u2c.Store(n)
		errs <- copyErr
	}()

	first := <-errs
	second := <-errs
	if first == nil {
		first = second
	}
	return c2u.Load(), u2c.Load(), first
}

// copyHalf copies from src to dst until src reaches EOF or either side
// errors, calling onChunk after every successful write, then half-closes
// dst's write side (or closes it outright if it cannot half-close) so the
// peer's read sees a clean EOF instead of hanging. It is a manual
// io.CopyBuffer-style loop rather than io.CopyBuffer itself, since
// io.CopyBuffer has no hook to report progress per chunk.
func copyHalf(dst, src net.Conn, buf []byte, idleTimeout time.Duration, onChunk func(int)) (int64, error) {
	var total int64
	for {
		if idleTimeout > 0 {
			src.SetReadDeadline(time.Now().Add(idleTimeout))
		}
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			if nw > 0 {
				total += int64(nw)
				onChunk(nw)
			}
			if ew != nil {
				closeWrite(dst)
				return total, ew
			}
			if nr != nw {
				closeWrite(dst)
				return total, io.ErrShortWrite
			}
		}
		if er != nil {
			closeWrite(dst)
			if er == io.EOF {
				er = nil
			}
			return total, er
		}
	}
}

func closeWrite(dst net.Conn) {
	if hc, ok := dst.(halfCloser); ok {
		hc.CloseWrite()
	} else {
		dst.Close()
	}
}
