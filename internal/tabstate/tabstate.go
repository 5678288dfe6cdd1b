// Package tabstate implements the command-side view of "what tab am I
// attached to" (C9): the small state machine a running `tab` process
// drives as it waits for a name to resolve to an id, selects it, and
// reacts to the tab disappearing out from under it. It mirrors the
// structure of internal/subscription's daemon-side state machine — None
// -> Awaiting -> Selected — but from the opposite end of the wire, with
// its own name/metadata cache fed by every TabUpdateResponse the daemon
// sends.
package tabstate

import (
	"sync"

	"github.com/tabmux/tab/internal/tabid"
	"github.com/tabmux/tab/internal/wire"
)

// Phase is the command's attachment lifecycle.
type Phase int

const (
	// PhaseNone means the command has not asked to attach to any tab yet.
	PhaseNone Phase = iota
	// PhaseAwaitingName means a name was requested but no tab with that
	// name exists yet in the local cache (it may still be created).
	PhaseAwaitingName
	// PhaseAwaitingID means Subscribe has been sent for a known id and
	// the command is waiting for the daemon's ScrollbackResponse.
	PhaseAwaitingID
	// PhaseSelected means the command is attached and streaming.
	PhaseSelected
	// PhaseTerminated means the selected tab was closed; the command
	// should exit after draining any trailing output.
	PhaseTerminated
)

// State tracks one command's attachment and the daemon's full tab-name
// cache, which the command needs to resolve names to ids locally (e.g.
// for -l/--list and tab completion) without a round trip per lookup.
type State struct {
	mu sync.Mutex

	phase   Phase
	current tabid.ID

	byName map[string]wire.TabMetadata
	byID   map[tabid.ID]wire.TabMetadata
}

// New creates an empty command-side state tracker.
func New() *State {
	return &State{
		byName: make(map[string]wire.TabMetadata),
		byID:   make(map[tabid.ID]wire.TabMetadata),
	}
}

// ApplyInit seeds the name/metadata cache from the daemon's Init snapshot
// sent immediately after connecting.
func (s *State) ApplyInit(tabs map[tabid.ID]wire.TabMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, meta := range tabs {
		s.byID[id] = meta
		s.byName[meta.Name] = meta
	}
}

// ApplyTabUpdate records a created or updated tab.
func (s *State) ApplyTabUpdate(meta wire.TabMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[meta.ID] = meta
	s.byName[meta.Name] = meta
}

// ApplyTabTerminated removes a tab from the cache and, if it was the
// currently selected tab, transitions to PhaseTerminated.
func (s *State) ApplyTabTerminated(id tabid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if meta, ok := s.byID[id]; ok {
		delete(s.byName, meta.Name)
	}
	delete(s.byID, id)
	if s.phase != PhaseNone && s.current == id {
		s.phase = PhaseTerminated
	}
}

// Lookup resolves a normalized name to metadata using the local cache.
func (s *State) Lookup(name string) (wire.TabMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.byName[wire.NormalizeName(name)]
	return meta, ok
}

// Names returns every known tab name, for tab-name completion.
func (s *State) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	return out
}

// List returns every known tab's metadata, for -l/--list sorted by the
// caller on LastSelected.
func (s *State) List() []wire.TabMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.TabMetadata, 0, len(s.byID))
	for _, meta := range s.byID {
		out = append(out, meta)
	}
	return out
}

// BeginAwaitingName records that the command wants to attach to a name
// not yet known to exist.
func (s *State) BeginAwaitingName() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseAwaitingName
}

// BeginAwaitingID records that a Subscribe was sent for a known id.
func (s *State) BeginAwaitingID(id tabid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseAwaitingID
	s.current = id
}

// CompleteSelection transitions to PhaseSelected once scrollback has been
// received for the awaited id.
func (s *State) CompleteSelection(id tabid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAwaitingID || s.current != id {
		return
	}
	s.phase = PhaseSelected
}

// ApplyRetask switches the command's current tab locally when the daemon
// broadcasts a retask for the tab it is attached to. Retasks for any
// other tab are ignored.
func (s *State) ApplyRetask(resp wire.RetaskResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseNone || s.current != resp.TabID {
		return
	}
	if resp.Target.IsDisconnect() {
		s.phase = PhaseNone
		return
	}
	s.current = *resp.Target.TabID
	s.phase = PhaseAwaitingID
}

// Phase reports the current lifecycle phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Current reports the tab id currently awaited or selected. Only
// meaningful outside PhaseNone/PhaseAwaitingName.
func (s *State) Current() tabid.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
