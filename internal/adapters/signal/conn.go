// Package signal is the WebSocket transport adapter: it upgrades
// connections, runs the read/write pumps, and feeds raw frames into the
// coordinator.
package signal

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrBackpressure = errors.New("backpressure")

// wsConn wraps one websocket connection with a buffered outbound queue.
// The coordinator writes through TrySend; only writePump touches the
// socket for writes.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		conn: ws,
		send: make(chan []byte, buffer),
	}
}

// TrySend queues a frame without blocking. A full queue means the client
// is not keeping up; the frame is dropped and the caller decides whether
// that matters.
func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
