// Package subscription implements the per-command subscription state
// machine (C8): None -> AwaitingScrollback -> Selected, and the
// at-most-once-delivery arithmetic that decides what to do with a fresh
// output chunk given a subscriber's current read position. It is grounded
// on the teacher's pty.Hub broadcast loop, generalized from "send every
// byte to every registered channel" to "send only the bytes a given
// subscriber hasn't already seen."
package subscription

import (
	"sync"

	"github.com/tabmux/tab/internal/tabid"
	"github.com/tabmux/tab/internal/wire"
)

// State is the subscription lifecycle of one command connection with
// respect to a single tab.
type State int

const (
	// None means the command is not subscribed to any tab.
	None State = iota
	// AwaitingScrollback means a Subscribe was issued and the scrollback
	// reply has not yet been sent; live output is buffered rather than
	// forwarded so nothing is lost or duplicated ahead of the scrollback.
	AwaitingScrollback
	// Selected means the command has received scrollback and is caught
	// up; live output is forwarded starting at NextIndex.
	Selected
)

// Subscription tracks one command's read position in one tab's output
// stream. It is mutated from two different goroutines per command
// connection — the command's own readLoop (Subscribe/Unsubscribe/Retask
// dispatch) and whichever pty's readLoop is currently publishing output
// for the subscribed tab — so every access goes through mu, matching
// tabstate.State's mutex-guarded pattern.
type Subscription struct {
	mu        sync.Mutex
	state     State
	tabID     tabid.ID
	buffered  []wire.OutputChunk
	nextIndex uint64
}

// New creates a subscription in the None state.
func New() *Subscription {
	return &Subscription{state: None}
}

// State reports the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TabID reports the tab this subscription refers to. Only meaningful
// when State is not None.
func (s *Subscription) TabID() tabid.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabID
}

// BeginSubscribe transitions to AwaitingScrollback for the given tab,
// discarding any prior subscription state.
func (s *Subscription) BeginSubscribe(id tabid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = AwaitingScrollback
	s.tabID = id
	s.buffered = nil
	s.nextIndex = 0
}

// Buffer records a live chunk seen while still awaiting scrollback, so it
// can be replayed (with overlap trimmed) once scrollback arrives.
func (s *Subscription) Buffer(chunk wire.OutputChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != AwaitingScrollback {
		return
	}
	s.buffered = append(s.buffered, chunk)
}

// CompleteScrollback transitions to Selected once scrollback has been
// sent, returning the buffered chunks (if any) trimmed to start exactly
// where the scrollback left off, ready to forward immediately after the
// ScrollbackResponse.
func (s *Subscription) CompleteScrollback(scrollbackEnd uint64) []wire.OutputChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.buffered
	s.buffered = nil
	s.state = Selected
	s.nextIndex = scrollbackEnd

	var toSend []wire.OutputChunk
	for _, chunk := range pending {
		if trimmed, ok := s.advance(chunk); ok {
			toSend = append(toSend, trimmed)
		}
	}
	return toSend
}

// Unsubscribe resets to None.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = None
	s.buffered = nil
	s.nextIndex = 0
}

// SendOutput decides what (if anything) to forward to the subscriber for
// a freshly produced chunk, enforcing at-most-once delivery per byte
// offset:
//
//   - If the chunk ends at or before NextIndex, it is entirely old; drop it.
//   - If the chunk starts at or after NextIndex, forward it unmodified.
//   - Otherwise the chunk straddles NextIndex; forward only the overlap
//     past NextIndex.
//
// ok is false when nothing should be sent (None state, or the chunk is
// wholly stale).
func (s *Subscription) SendOutput(id tabid.ID, chunk wire.OutputChunk) (wire.OutputChunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Selected || s.tabID != id {
		return wire.OutputChunk{}, false
	}
	return s.advance(chunk)
}

// advance applies the drop/truncate/forward decision and moves nextIndex
// forward when a chunk (or its tail) is forwarded. Callers must hold mu.
func (s *Subscription) advance(chunk wire.OutputChunk) (wire.OutputChunk, bool) {
	end := chunk.End()
	if end <= s.nextIndex {
		return wire.OutputChunk{}, false
	}
	if chunk.Index >= s.nextIndex {
		s.nextIndex = end
		return chunk, true
	}
	skip := s.nextIndex - chunk.Index
	trimmed := wire.OutputChunk{
		Index: s.nextIndex,
		Data:  chunk.Data[skip:],
	}
	s.nextIndex = end
	return trimmed, true
}
