// Package ptyconn implements the daemon-side half of one pty helper
// connection (C7): racing to accept an assignment offer, then forwarding
// Input/Resize/Terminate down to the helper and Output/Started/Stopped
// back up to the broker. Structurally it mirrors internal/cliconn (same
// read-loop/write-queue split grounded on the teacher's ws.Client), but
// speaks the PtyRequest/PtyResponse sum types instead of
// Request/Response, and additionally drives the accept-or-walk-away
// assignment handshake that cliconn has no equivalent of.
package ptyconn

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/tabmux/tab/internal/broker"
	"github.com/tabmux/tab/internal/tabid"
	"github.com/tabmux/tab/internal/wire"
)

// Conn is the minimal transport surface ptyconn needs, satisfied by
// *transport.Conn.
type Conn interface {
	Send([]byte) error
	Recv() ([]byte, error)
	Close() error
}

const sendQueueSize = 64

// Session is one connected pty helper's daemon-side state. It implements
// broker.PtyHandle, both while pending (receiving offers) and once assigned.
type Session struct {
	conn Conn
	b    *broker.Broker

	// id has no protocol meaning; it exists so reconnect/retry log lines
	// can be correlated to one physical helper process across the
	// handful of log.Printf calls in this file.
	id uuid.UUID

	assignedID tabid.ID
	assigned   bool

	outbox chan wire.PtyRequest
	done   chan struct{}
}

// New wraps an accepted pty connection, registering it with the broker
// as a pending (unassigned) helper.
func New(conn Conn, b *broker.Broker) *Session {
	s := &Session{
		conn:   conn,
		b:      b,
		id:     uuid.New(),
		outbox: make(chan wire.PtyRequest, sendQueueSize),
		done:   make(chan struct{}),
	}
	b.RegisterPtyHelper(s)
	return s
}

// Send implements broker.PtyHandle.
func (s *Session) Send(r wire.PtyRequest) {
	select {
	case s.outbox <- r:
	default:
		log.Printf("ptyconn: dropping pty request, outbox full")
	}
}

// Run drives the connection until the peer disconnects or ctx is
// cancelled.
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

	if s.assigned {
		log.Printf("ptyconn[%s]: disconnected, tearing down %s", s.id, s.assignedID)
		s.b.UnregisterPtyHelper(s.assignedID)
	} else {
		log.Printf("ptyconn[%s]: disconnected before accepting an assignment", s.id)
		s.b.UnregisterPendingPtyHelper(s)
	}
	_ = s.conn.Close()
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case req := <-s.outbox:
			data, err := wire.EncodePtyRequest(req)
			if err != nil {
				log.Printf("ptyconn: encode pty request: %v", err)
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
		resp, err := wire.DecodePtyResponse(data)
		if err != nil {
			log.Printf("ptyconn: decode pty response: %v", err)
			continue
		}
		s.dispatch(resp)
	}
}

func (s *Session) dispatch(resp wire.PtyResponse) {
	switch r := resp.(type) {
	case wire.PtyStartedResponse:
		s.accept(r.Meta)
	case wire.PtyOutputResponse:
		if !s.assigned {
			return
		}
		s.b.PublishOutput(s.assignedID, r.Chunk)
	case wire.PtyStoppedResponse:
		// The read loop returning on disconnect handles cleanup; a clean
		// stop notification lets Run's teardown happen immediately rather
		// than waiting on the socket to actually close.
		_ = s.conn.Close()
	default:
		log.Printf("ptyconn: unhandled pty response type %T", resp)
	}
}

// accept is called when the helper announces it has started a shell for
// a given tab (i.e. it won the race to accept that tab's offer). The
// broker is the authority on whether this helper actually won; if
// another helper already claimed the tab, this one is told to stop.
func (s *Session) accept(meta wire.TabMetadata) {
	if s.b.AcceptAssignmentByTabID(meta.ID, s) {
		s.assigned = true
		s.assignedID = meta.ID
		return
	}
	s.Send(wire.PtyTerminateRequest{})
}
