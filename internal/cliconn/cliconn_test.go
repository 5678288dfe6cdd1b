package cliconn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tabmux/tab/internal/broker"
	"github.com/tabmux/tab/internal/wire"
)

type fakeConn struct {
	mu     sync.Mutex
	toSend [][]byte // queued for Recv to hand back, in order
	sent   [][]byte // everything written via Send
	recvCh chan []byte
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{recvCh: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	c.sent = append(c.sent, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Recv() ([]byte, error) {
	select {
	case data := <-c.recvCh:
		return data, nil
	case <-c.closed:
		return nil, errClosed
	}
}

func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *fakeConn) push(req wire.Request) {
	data, err := wire.EncodeRequest(req)
	if err != nil {
		panic(err)
	}
	c.recvCh <- data
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errClosed = sentinelErr("fake conn closed")

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestNewSendsInitImmediately(t *testing.T) {
	b := broker.New(nil)
	conn := newFakeConn()
	New(conn, b)
	waitFor(t, func() bool { return conn.sentCount() >= 1 })
}

func TestCreateTabRequestEndToEnd(t *testing.T) {
	b := broker.New(nil)
	conn := newFakeConn()
	s := New(conn, b)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	conn.push(wire.CreateTabRequest{Meta: wire.CreateTabMetadata{Name: "a"}})

	waitFor(t, func() bool {
		return len(b.ListTabs()) == 1
	})
	conn.Close()
}

func TestSubscribeAndInputFlow(t *testing.T) {
	b := broker.New(nil)
	meta, err := b.CreateTab(wire.CreateTabMetadata{Name: "a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	conn := newFakeConn()
	s := New(conn, b)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	conn.push(wire.SubscribeRequest{TabID: meta.ID})
	waitFor(t, func() bool { return conn.sentCount() >= 2 }) // init + scrollback

	conn.push(wire.InputRequest{TabID: meta.ID, Chunk: wire.InputChunk{Data: []byte("ls\n")}})
	// No assigned pty yet; this should simply not crash or hang.
	time.Sleep(10 * time.Millisecond)
	conn.Close()
}
