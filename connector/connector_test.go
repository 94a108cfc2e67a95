package connector

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestDirectDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	var port uint16
	for _, r := range portStr {
		port = port*10 + uint16(r-'0')
	}

	dial := Direct(&net.Dialer{Timeout: 2 * time.Second})
	conn, err := dial(context.Background(), host, port)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}

func TestDirectDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	dial := Direct(nil)
	_, err = dial(context.Background(), "127.0.0.1", uint16(addr.Port))
	if err == nil {
		t.Fatal("expected a connection-refused error")
	}
	ce := ClassifyError(err)
	if ce.Kind != KindRefused {
		t.Errorf("Kind = %v, want KindRefused", ce.Kind)
	}
}

func TestClassifyErrorIdempotent(t *testing.T) {
	orig := &Error{Kind: KindHostUnreachable, Err: context.DeadlineExceeded}
	if got := ClassifyError(orig); got != orig {
		t.Error("ClassifyError should return an already-classified *Error unchanged")
	}
}
