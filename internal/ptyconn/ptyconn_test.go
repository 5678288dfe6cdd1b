package ptyconn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tabmux/tab/internal/broker"
	"github.com/tabmux/tab/internal/subscription"
	"github.com/tabmux/tab/internal/wire"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
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

func (c *fakeConn) push(r wire.PtyResponse) {
	data, err := wire.EncodePtyResponse(r)
	if err != nil {
		panic(err)
	}
	c.recvCh <- data
}

func (c *fakeConn) lastSent() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
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

func TestRegisterReceivesOutstandingOffer(t *testing.T) {
	b := broker.New(nil)
	meta, err := b.CreateTab(wire.CreateTabMetadata{Name: "a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	conn := newFakeConn()
	s := New(conn, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return conn.sentCount() >= 1 })
	req, err := wire.DecodePtyRequest(conn.lastSent())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	init, ok := req.(wire.PtyInitRequest)
	if !ok || init.Meta.ID != meta.ID {
		t.Fatalf("expected PtyInitRequest for %v, got %#v", meta.ID, req)
	}
	conn.Close()
}

func TestAcceptAssignmentThenOutputForwarded(t *testing.T) {
	b := broker.New(nil)
	meta, _ := b.CreateTab(wire.CreateTabMetadata{Name: "a"})

	conn := newFakeConn()
	s := New(conn, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn.push(wire.PtyStartedResponse{Meta: meta})
	waitFor(t, func() bool { return s.assigned })

	cli := &recordingCli{}
	if err := b.Subscribe(cli, meta.ID); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	conn.push(wire.PtyOutputResponse{Chunk: wire.OutputChunk{Index: 0, Data: []byte("hi")}})
	waitFor(t, func() bool { return cli.count() >= 2 }) // scrollback + output

	conn.Close()
}

type recordingCli struct {
	mu  sync.Mutex
	sub *subscription.Subscription
	got []wire.Response
}

func (c *recordingCli) Send(r wire.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, r)
}

func (c *recordingCli) Subscription() *subscription.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		c.sub = subscription.New()
	}
	return c.sub
}

func (c *recordingCli) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}
