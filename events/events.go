// Package events models the server's fire-and-forget lifecycle
// notifications as a small closed tagged union, grounded on the
// "event-bus pattern -> typed channel or observer list" design note: a
// statically typed alternative to a string-keyed runtime event emitter.
package events

import "net"

// Event is implemented by every concrete event type below. It carries no
// behavior; switching on the concrete type is the intended consumption
// pattern.
type Event interface {
	eventMarker()
}

type base struct{}

func (base) eventMarker() {}

// Handshake fires once a client connection has been accepted and the
// session begins reading its Greeting.
type Handshake struct {
	base
	Client net.Addr
}

// Authenticate fires after a username/password sub-negotiation succeeds.
type Authenticate struct {
	base
	Username string
}

// AuthenticateError fires after a username/password sub-negotiation is
// rejected, either by the configured Authenticator or by protocol error.
// It also fires, with an empty Username, when method negotiation finds no
// acceptable method.
type AuthenticateError struct {
	base
	Username string
	Err      error
}

// ConnectionFilter fires after a ConnectRequest has been parsed and the
// configured filter callback has run (or been skipped because none is
// configured, in which case Err is nil).
type ConnectionFilter struct {
	base
	Destination string
	Origin      net.Addr
	Err         error
}

// ProxyConnect fires exactly once per successful CONNECT, after the
// outbound connection has been established and before relaying starts.
type ProxyConnect struct {
	base
	Destination string
	Outbound    net.Conn
}

// ProxyData fires for each chunk relayed in either direction. Sinks that
// care about high-volume notifications should downsample or ignore this
// event; the Discard sink drops it for free.
type ProxyData struct {
	base
	Destination string
	Bytes       int
	ClientToUpstream bool
}

// ProxyDisconnect fires once relaying ends, in either direction.
type ProxyDisconnect struct {
	base
	Origin      net.Addr
	Destination string
	HadError    bool
}

// ProxyError reports an error that ended or interrupted a session outside
// the authentication step: a failed greeting, a rejected or failed
// request (emitted alongside the reply that was sent), an error during
// relaying, or a recovered panic.
type ProxyError struct {
	base
	Err error
}

// ProxyEnd fires once for each session that answers its ConnectRequest:
// after a rejection reply, after a failed write of the SUCCEEDED reply, or
// after relaying ends. Sessions that end during greeting, authentication,
// or while the request frame is still being read do not emit it. It
// carries the reply code and the destination, which is empty when the
// request was rejected before its destination was accepted (unsupported
// address type or command, non-zero reserved byte, malformed frame).
type ProxyEnd struct {
	base
	ReplyCode   byte
	Destination string
}

// Sink receives events. Emit must not block on slow consumers for long;
// implementations that need to fan out to slow subscribers should queue
// internally.
type Sink interface {
	Emit(Event)
}

// Func adapts a plain function to the Sink interface.
type Func func(Event)

// Emit implements Sink.
func (f Func) Emit(e Event) { f(e) }

// Discard is a Sink that drops every event.
type Discard struct{}

// Emit implements Sink.
func (Discard) Emit(Event) {}

// Multi fans an event out to every sink in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
