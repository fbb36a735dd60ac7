// Package tcp implements the loopback TCP transport: an accept loop that
// hands each new socket to a per-connection handler. GABP is
// loopback-only by design, so this never terminates TLS or proxies to an
// upstream — it only frames bytes.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// acceptBackoff is how long Transport waits after a transient Accept
// error before retrying, rather than busy-looping on a broken listener.
const acceptBackoff = time.Second

// Handler is invoked once per accepted connection. It should block until
// the connection is done being served; Transport does not limit
// concurrency, since each handler owns exactly one goroutine.
type Handler func(ctx context.Context, conn net.Conn)

// Transport listens on a loopback address and dispatches each accepted
// connection to a Handler.
type Transport struct {
	listener net.Listener
	logger   *slog.Logger
}

// Listen binds a TCP listener on host:port. Passing port 0 binds an
// ephemeral port; callers read the actual port back via Addr().
func Listen(host string, port int, logger *slog.Logger) (*Transport, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen on %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{listener: ln, logger: logger}, nil
}

// Addr returns the bound address, e.g. "127.0.0.1:51900".
func (t *Transport) Addr() string {
	return t.listener.Addr().String()
}

// Port returns the bound TCP port.
func (t *Transport) Port() int {
	if tcpAddr, ok := t.listener.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed via Close. Each accepted connection is dispatched to handler on
// its own goroutine.
func (t *Transport) Serve(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		_ = t.listener.Close()
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				time.Sleep(acceptBackoff)
				continue
			}
			t.logger.Warn("tcp: accept error, retrying", "error", err)
			time.Sleep(acceptBackoff)
			continue
		}
		go handler(ctx, conn)
	}
}

// Close stops the accept loop by closing the listener.
func (t *Transport) Close() error {
	return t.listener.Close()
}
