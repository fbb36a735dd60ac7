package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pardeike/gabp-server/pkg/gabp"
)

func TestConnectionSendWritesAFullFrame(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	conn := NewConnection("c1", serverSide)
	msg, err := gabp.NewRequest("r1", "session/hello", map[string]string{"token": "t"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.Send(msg) }()

	decoder := gabp.NewDecoder()
	buf := make([]byte, 4096)
	n, err := clientSide.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	decoder.Append(buf[:n])
	got, err := decoder.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if got == nil || got.Method != "session/hello" {
		t.Errorf("got = %+v", got)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestConnectionRunDeliversDecodedMessagesAndStopsOnClose(t *testing.T) {
	serverSide, clientSide := net.Pipe()

	conn := NewConnection("c1", serverSide)
	received := make(chan *gabp.Message, 4)

	runDone := make(chan error, 1)
	go func() {
		runDone <- conn.Run(context.Background(), func(m *gabp.Message) error {
			received <- m
			return nil
		})
	}()

	msg, _ := gabp.NewRequest("r1", "session/hello", map[string]string{"token": "t"})
	encoded, err := gabp.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := clientSide.Write(encoded); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case got := <-received:
		if got.Method != "session/hello" {
			t.Errorf("got method = %q", got.Method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded message")
	}

	clientSide.Close()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned error on close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after client closed")
	}
}

func TestConnectionRunClosesOnMalformedFrame(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	conn := NewConnection("c1", serverSide)
	runDone := make(chan error, 1)
	go func() {
		runDone <- conn.Run(context.Background(), func(m *gabp.Message) error { return nil })
	}()

	// Missing Content-Length header entirely.
	malformed := []byte("Content-Type: application/json\r\n\r\n{}")
	if _, err := clientSide.Write(malformed); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case err := <-runDone:
		if err == nil {
			t.Error("Run returned nil error for a malformed frame, want an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after malformed frame")
	}
	if conn.Connected() {
		t.Error("connection should be closed after a malformed frame")
	}
}
