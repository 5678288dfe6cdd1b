// Package cliconn implements the daemon-side half of one command
// connection (C6): decoding Requests off the wire, dispatching them to
// the broker, and queuing Responses back out. It is grounded on the
// teacher's ws.Client ReadPump/WritePump split (referenced by
// internal/ws/router.go), adapted from raw byte frames fanned out by a
// pty.Hub to typed Request/Response envelopes routed through a
// broker.Broker.
package cliconn

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/tabmux/tab/internal/broker"
	"github.com/tabmux/tab/internal/subscription"
	"github.com/tabmux/tab/internal/wire"
)

// Conn is the minimal transport surface cliconn needs, satisfied by
// *transport.Conn.
type Conn interface {
	Send([]byte) error
	Recv() ([]byte, error)
	Close() error
}

// sendQueueSize bounds how much backpressure a slow command connection
// can absorb before Session starts dropping it from the broker's
// perspective by simply falling behind; the queue itself never blocks
// the broker, only the connection's own writer goroutine.
const sendQueueSize = 256

// Session is one connected command's daemon-side state. It implements
// broker.CliHandle.
type Session struct {
	conn Conn
	b    *broker.Broker
	sub  *subscription.Subscription

	// id has no protocol meaning; it exists purely so this session's log
	// lines can be correlated to one connection across reconnects.
	id uuid.UUID

	outbox chan wire.Response
	done   chan struct{}
}

// New wraps an accepted connection as a command session and registers it
// with the broker, sending the Init snapshot immediately.
func New(conn Conn, b *broker.Broker) *Session {
	s := &Session{
		conn:   conn,
		b:      b,
		sub:    subscription.New(),
		id:     uuid.New(),
		outbox: make(chan wire.Response, sendQueueSize),
		done:   make(chan struct{}),
	}
	init := b.RegisterCli(s)
	s.Send(init)
	return s
}

// Send implements broker.CliHandle. It never blocks the broker: a full
// outbox means this connection is either dead or pathologically slow, and
// further responses are dropped rather than stalling every other tab.
func (s *Session) Send(r wire.Response) {
	select {
	case s.outbox <- r:
	default:
		log.Printf("cliconn: dropping response, outbox full")
	}
}

// Subscription implements broker.CliHandle.
func (s *Session) Subscription() *subscription.Subscription {
	return s.sub
}

// Run drives the connection until ctx is cancelled or the peer
// disconnects: one goroutine drains the outbox, the calling goroutine
// reads and dispatches inbound requests.
func (s *Session) Run(ctx context.Context) {
	go s.writeLoop(ctx)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.Close()
		case <-s.done:
		}
	}()
	s.readLoop()
	close(s.done)
	log.Printf("cliconn[%s]: disconnected", s.id)
	s.b.UnregisterCli(s)
	_ = s.conn.Close()
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case resp := <-s.outbox:
			data, err := wire.EncodeResponse(resp)
			if err != nil {
				log.Printf("cliconn: encode response: %v", err)
				continue
			}
			if err := s.conn.Send(data); err != nil {
				return
			}
		}
	}
}

func (s *Session) readLoop() {
	for {
		data, err := s.conn.Recv()
		if err != nil {
			return
		}
		req, err := wire.DecodeRequest(data)
		if err != nil {
			log.Printf("cliconn: decode request: %v", err)
			continue
		}
		s.dispatch(req)
	}
}

func (s *Session) dispatch(req wire.Request) {
	switch r := req.(type) {
	case wire.SubscribeRequest:
		if err := s.b.Subscribe(s, r.TabID); err != nil {
			log.Printf("cliconn: subscribe %v: %v", r.TabID, err)
		}
	case wire.UnsubscribeRequest:
		s.b.Unsubscribe(s)
	case wire.InputRequest:
		s.b.Input(r.TabID, r.Chunk)
	case wire.CreateTabRequest:
		if _, err := s.b.CreateTab(r.Meta); err != nil {
			log.Printf("cliconn: create_tab %q: %v", r.Meta.Name, err)
		}
	case wire.ResizeTabRequest:
		if err := s.b.ResizeTab(r.TabID, r.Dimensions); err != nil {
			log.Printf("cliconn: resize_tab %v: %v", r.TabID, err)
		}
	case wire.RetaskRequest:
		s.b.Retask(r.TabID, r.Target)
	case wire.CloseTabRequest:
		if err := s.b.CloseTabByID(r.TabID); err != nil {
			log.Printf("cliconn: close_tab %v: %v", r.TabID, err)
		}
	case wire.CloseNamedTabRequest:
		if err := s.b.CloseTabByName(r.Name); err != nil {
			log.Printf("cliconn: close_named_tab %q: %v", r.Name, err)
		}
	case wire.DisconnectTabRequest:
		s.b.Retask(r.TabID, wire.Disconnect())
	case wire.GlobalShutdownRequest:
		s.b.GlobalShutdown()
	case wire.ListTabsRequest:
		s.Send(wire.TabListResponse{Tabs: s.b.ListTabs()})
	default:
		log.Printf("cliconn: unhandled request type %T", req)
	}
}
