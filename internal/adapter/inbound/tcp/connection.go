package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pardeike/gabp-server/pkg/gabp"
)

// readScratchSize is the per-Read buffer size fed into the frame
// decoder's growing internal buffer.
const readScratchSize = 8 * 1024

// Connection wraps one accepted socket: a serialized write path (GABP
// frames must not interleave on the wire) and a read loop that feeds raw
// bytes through a gabp.Decoder. Connection implements event.Subscriber.
type Connection struct {
	id   string
	conn net.Conn

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewConnection wraps conn, identified by id (typically a UUID assigned
// at accept time).
func NewConnection(id string, conn net.Conn) *Connection {
	return &Connection{id: id, conn: conn}
}

// ID returns the connection's identifier.
func (c *Connection) ID() string { return c.id }

// Connected reports whether the connection has not yet been closed.
func (c *Connection) Connected() bool { return !c.closed.Load() }

// Send encodes and writes msg as a single frame. Concurrent Sends are
// serialized so frames never interleave.
func (c *Connection) Send(msg *gabp.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return fmt.Errorf("tcp: connection %s is closed", c.id)
	}
	return gabp.WriteTo(c.conn, msg)
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// Run reads frames until the connection closes, ctx is cancelled, or a
// malformed frame is decoded — a malformed frame
// is fatal to the connection rather than silently dropped. onMessage is
// called synchronously for each decoded message in arrival order.
func (c *Connection) Run(ctx context.Context, onMessage func(*gabp.Message) error) error {
	defer c.Close()

	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	decoder := gabp.NewDecoder()
	buf := make([]byte, readScratchSize)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			decoder.Append(buf[:n])
			for {
				msg, decodeErr := decoder.Pop()
				if decodeErr != nil {
					return fmt.Errorf("tcp: connection %s: %w", c.id, decodeErr)
				}
				if msg == nil {
					break
				}
				if err := onMessage(msg); err != nil {
					return fmt.Errorf("tcp: connection %s: %w", c.id, err)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("tcp: connection %s: read: %w", c.id, err)
		}
	}
}
