package transport

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send/Recv once the connection has been closed.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a bidirectional message channel over one upgraded websocket. It
// serializes writes (gorilla's *websocket.Conn forbids concurrent
// writers) behind a mutex and leaves reads to a single caller, matching
// how every connection in this system is driven: one reader goroutine
// decoding inbound frames, any number of goroutines calling Send.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, closed: make(chan struct{})}
}

// Send writes one binary message. Safe for concurrent use.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Recv blocks for the next binary message. Must be called from a single
// goroutine at a time.
func (c *Conn) Recv() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close closes the underlying websocket. Safe to call more than once and
// concurrently with Send/Recv.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}
