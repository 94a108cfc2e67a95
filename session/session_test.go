package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/duratarskeyk/socks5gate/connector"
	"github.com/duratarskeyk/socks5gate/events"
	"github.com/duratarskeyk/socks5gate/socks5"
)

// recordingSink collects every event emitted during a test so assertions
// can check ordering and counts, grounded on spec.md §8's "frame
// atomicity" property (exactly one MethodReply/AuthReply/ConnectReply).
type recordingSink struct {
	events []events.Event
}

func (r *recordingSink) Emit(e events.Event) { r.events = append(r.events, e) }

func pipeDialer(serverSide **net.Conn) connector.Dialer {
	return func(ctx context.Context, host string, port uint16) (net.Conn, error) {
		a, b := net.Pipe()
		*serverSide = &b
		return a, nil
	}
}

func refusingDialer(err error) connector.Dialer {
	return func(ctx context.Context, host string, port uint16) (net.Conn, error) {
		return nil, err
	}
}

func readExact(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := ioReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf
}

func ioReadFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TestUnauthenticatedConnect mirrors spec.md §8 scenario 1: a client with
// no credentials configured negotiates NO_AUTH and CONNECTs successfully.
func TestUnauthenticatedConnect(t *testing.T) {
	clientConn, clientFacing := net.Pipe()
	var destSide *net.Conn
	sink := &recordingSink{}

	sess := Get()
	defer Put(sess)
	done := make(chan struct{})
	go func() {
		sess.Handle(context.Background(), clientFacing, Options{
			Dial:   pipeDialer(&destSide),
			Events: sink,
		})
		close(done)
	}()

	clientConn.Write([]byte{0x05, 0x01, 0x00})
	reply := readExact(t, clientConn, 2)
	if reply[0] != 0x05 || reply[1] != socks5.MethodNoAuth {
		t.Fatalf("method reply = %v, want [05 00]", reply)
	}

	clientConn.Write([]byte{0x05, socks5.CmdConnect, 0x00, socks5.ATYPIPv4, 127, 0, 0, 1, 0x01, 0xBB})
	connectReply := readExact(t, clientConn, 10)
	if connectReply[0] != 0x05 || connectReply[1] != socks5.ReplySucceeded {
		t.Fatalf("connect reply = %v, want success", connectReply)
	}

	clientConn.Write([]byte("ping"))
	got := readExact(t, *destSide, 4)
	if string(got) != "ping" {
		t.Fatalf("upstream got %q, want ping", got)
	}

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}

	var methodReplies, connectReplies int
	for _, e := range sink.events {
		switch e.(type) {
		case events.Handshake:
		case events.ConnectionFilter:
		case events.ProxyConnect:
		case events.ProxyEnd:
			connectReplies++
		}
	}
	_ = methodReplies
	if connectReplies != 1 {
		t.Errorf("expected exactly one ProxyEnd, got %d", connectReplies)
	}
}

// TestAuthenticatedConnectWrongCredentials mirrors spec.md §8 scenario 3.
func TestAuthenticatedConnectWrongCredentials(t *testing.T) {
	clientConn, clientFacing := net.Pipe()
	sink := &recordingSink{}

	authErr := errors.New("bad credentials")
	sess := Get()
	defer Put(sess)
	done := make(chan struct{})
	go func() {
		sess.Handle(context.Background(), clientFacing, Options{
			Authenticate: func(ctx context.Context, username, password string, client net.Addr) error {
				if username == "testuser" && password == "testpass" {
					return nil
				}
				return authErr
			},
			Events: sink,
		})
		close(done)
	}()

	clientConn.Write([]byte{0x05, 0x01, 0x02})
	reply := readExact(t, clientConn, 2)
	if reply[0] != 0x05 || reply[1] != socks5.MethodUserPass {
		t.Fatalf("method reply = %v, want [05 02]", reply)
	}

	authFrame := []byte{0x01, 9, 'w', 'r', 'o', 'n', 'g', 'u', 's', 'e', 'r', 9, 'w', 'r', 'o', 'n', 'g', 'p', 'a', 's', 's'}
	clientConn.Write(authFrame)
	authReply := readExact(t, clientConn, 2)
	if authReply[0] != 0x01 || authReply[1] != socks5.AuthFailure {
		t.Fatalf("auth reply = %v, want [01 FF]", authReply)
	}

	buf := make([]byte, 1)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := clientConn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed after auth failure")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

// TestConnectToRefusedPort mirrors spec.md §8 scenario 4.
func TestConnectToRefusedPort(t *testing.T) {
	clientConn, clientFacing := net.Pipe()

	sess := Get()
	defer Put(sess)
	done := make(chan struct{})
	go func() {
		sess.Handle(context.Background(), clientFacing, Options{
			Dial: refusingDialer(&connector.Error{Kind: connector.KindRefused, Err: errors.New("refused")}),
		})
		close(done)
	}()

	clientConn.Write([]byte{0x05, 0x01, 0x00})
	readExact(t, clientConn, 2)

	clientConn.Write([]byte{0x05, socks5.CmdConnect, 0x00, socks5.ATYPIPv4, 127, 0, 0, 1, 0x00, 0x01})
	reply := readExact(t, clientConn, 10)
	if reply[1] != socks5.ReplyConnectionRefused {
		t.Fatalf("reply code = %#x, want CONNECTION_REFUSED", reply[1])
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

// TestUnsupportedAddressType mirrors spec.md §8 scenario 5.
func TestUnsupportedAddressType(t *testing.T) {
	clientConn, clientFacing := net.Pipe()

	sess := Get()
	defer Put(sess)
	done := make(chan struct{})
	go func() {
		sess.Handle(context.Background(), clientFacing, Options{})
		close(done)
	}()

	clientConn.Write([]byte{0x05, 0x01, 0x00})
	readExact(t, clientConn, 2)

	clientConn.Write([]byte{0x05, socks5.CmdConnect, 0x00, 0x02})
	reply := readExact(t, clientConn, 10)
	if reply[1] != socks5.ReplyAddrTypeNotSupported {
		t.Fatalf("reply code = %#x, want ADDRESS_TYPE_NOT_SUPPORTED", reply[1])
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

// TestUnsupportedCommand covers the BIND/UDP_ASSOCIATE rejection spec.md
// §9's second divergence note mandates (reply COMMAND_NOT_SUPPORTED,
// never SUCCEEDED).
func TestUnsupportedCommand(t *testing.T) {
	clientConn, clientFacing := net.Pipe()

	sess := Get()
	defer Put(sess)
	done := make(chan struct{})
	go func() {
		sess.Handle(context.Background(), clientFacing, Options{})
		close(done)
	}()

	clientConn.Write([]byte{0x05, 0x01, 0x00})
	readExact(t, clientConn, 2)

	clientConn.Write([]byte{0x05, socks5.CmdBind, 0x00, socks5.ATYPIPv4, 127, 0, 0, 1, 0x00, 0x01})
	reply := readExact(t, clientConn, 10)
	if reply[1] != socks5.ReplyCommandNotSupported {
		t.Fatalf("reply code = %#x, want COMMAND_NOT_SUPPORTED", reply[1])
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

// TestNoAcceptableMethod checks the method-byte placement spec.md §9's
// third divergence note requires: 0xFF lands in the MethodReply, never a
// ConnectReply reply-code byte.
func TestNoAcceptableMethod(t *testing.T) {
	clientConn, clientFacing := net.Pipe()

	sess := Get()
	defer Put(sess)
	done := make(chan struct{})
	go func() {
		sess.Handle(context.Background(), clientFacing, Options{
			Authenticate: func(ctx context.Context, u, p string, a net.Addr) error { return nil },
		})
		close(done)
	}()

	clientConn.Write([]byte{0x05, 0x01, 0x00}) // offers only NO_AUTH, server requires USER_PASS
	reply := readExact(t, clientConn, 2)
	if reply[0] != 0x05 || reply[1] != socks5.MethodNoAcceptable {
		t.Fatalf("method reply = %v, want [05 FF]", reply)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

// TestReservedByteRejected exercises this module's Open Question
// decision: a non-zero reserved byte yields GENERAL_FAILURE.
func TestReservedByteRejected(t *testing.T) {
	clientConn, clientFacing := net.Pipe()

	sess := Get()
	defer Put(sess)
	done := make(chan struct{})
	go func() {
		sess.Handle(context.Background(), clientFacing, Options{})
		close(done)
	}()

	clientConn.Write([]byte{0x05, 0x01, 0x00})
	readExact(t, clientConn, 2)

	clientConn.Write([]byte{0x05, socks5.CmdConnect, 0x01, socks5.ATYPIPv4, 127, 0, 0, 1, 0x00, 0x01})
	reply := readExact(t, clientConn, 10)
	if reply[1] != socks5.ReplyGeneralFailure {
		t.Fatalf("reply code = %#x, want GENERAL_FAILURE", reply[1])
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}
