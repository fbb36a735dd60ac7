package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestListenOnEphemeralPortThenServeAcceptsConnections(t *testing.T) {
	transport, err := Listen("127.0.0.1", 0, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if transport.Port() == 0 {
		t.Fatal("Port() = 0, want a bound ephemeral port")
	}

	ctx, cancel := context.WithCancel(context.Background())
	accepted := make(chan net.Conn, 1)
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- transport.Serve(ctx, func(_ context.Context, conn net.Conn) {
			accepted <- conn
		})
	}()

	conn, err := net.DialTimeout("tcp", transport.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not dispatch the accepted connection")
	}

	cancel()
	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve returned error after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancel")
	}
}

func TestServeNoGoroutineLeakAfterCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport, err := Listen("127.0.0.1", 0, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- transport.Serve(ctx, func(_ context.Context, conn net.Conn) {
			conn.Close()
		})
	}()

	conn, err := net.DialTimeout("tcp", transport.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()

	cancel()
	select {
	case <-serveDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancel")
	}
}
