// Package broker implements the tab broker (C5): the central router that
// translates between command connections and pty connections, owning the
// registry, per-tab scrollback buffers, and the pty assignment board. It
// is grounded on the teacher's pty.Hub, generalized from "one pty, many
// readers" to "many tabs, each with one pty and many subscribing
// commands" — the same register/unregister/broadcast shape, scaled up
// with a tab-keyed map instead of a single client-channel set, and
// serialized behind a single mutex rather than per-field locks so that a
// tab close, a retask, and an output chunk can never interleave into an
// inconsistent view.
package broker

import (
	"errors"
	"sync"

	"github.com/tabmux/tab/internal/assignment"
	"github.com/tabmux/tab/internal/registry"
	"github.com/tabmux/tab/internal/scrollback"
	"github.com/tabmux/tab/internal/subscription"
	"github.com/tabmux/tab/internal/tabid"
	"github.com/tabmux/tab/internal/wire"
)

// ErrUnknownTab is returned when an operation names a tab id or name with
// no live record.
var ErrUnknownTab = errors.New("broker: unknown tab")

// CliHandle is the broker's view of one connected command. Implementations
// live in internal/cliconn; the broker never imports that package, only
// this interface, to keep the dependency direction one-way.
type CliHandle interface {
	// Send delivers a Response to this command. Implementations must not
	// block the broker on a slow or dead peer; they typically hand off to
	// a per-connection write queue and return immediately.
	Send(wire.Response)
	// Subscription returns this command's single subscription state
	// machine, which the broker drives directly.
	Subscription() *subscription.Subscription
}

// PtyHandle is the broker's view of one connected pty helper.
type PtyHandle interface {
	Send(wire.PtyRequest)
}

// Spawner asks the supervisor to launch a new pty helper process for a
// tab that has no taker yet.
type Spawner interface {
	Spawn(id tabid.ID, meta wire.TabMetadata)
}

// Broker is the daemon's single source of truth for tab state. All
// exported methods are safe for concurrent use.
type Broker struct {
	mu sync.Mutex

	reg         *registry.Registry
	scrollbacks map[tabid.ID]*scrollback.Buffer
	board       *assignment.Board

	clis        map[CliHandle]struct{}
	pendingPtys map[PtyHandle]struct{} // connected, not yet assigned to a tab
	ptys        map[tabid.ID]PtyHandle // assigned
	subsByTab   map[tabid.ID]map[CliHandle]struct{}

	onShutdown func()
}

// SetShutdownHook registers a callback invoked at the end of every
// GlobalShutdown call, after it has notified every pty and command, so the daemon process itself can
// wind down (see internal/supervisor.Shutdown). It is separate from the
// terminate-all fan-out above because that part is also exercised
// directly by tests that don't care about process exit.
func (b *Broker) SetShutdownHook(fn func()) {
	b.mu.Lock()
	b.onShutdown = fn
	b.mu.Unlock()
}

// New creates a broker. spawner may be nil in tests that don't exercise
// pty assignment.
func New(spawner Spawner) *Broker {
	b := &Broker{
		scrollbacks: make(map[tabid.ID]*scrollback.Buffer),
		clis:        make(map[CliHandle]struct{}),
		pendingPtys: make(map[PtyHandle]struct{}),
		ptys:        make(map[tabid.ID]PtyHandle),
		subsByTab:   make(map[tabid.ID]map[CliHandle]struct{}),
	}
	b.reg = registry.New(b.broadcastSnapshotDelta)
	var spawnFn func(tabid.ID, wire.TabMetadata)
	if spawner != nil {
		spawnFn = spawner.Spawn
	}
	b.board = assignment.NewBoard(b.broadcastOffer, spawnFn)
	return b
}

// broadcastSnapshotDelta is the registry's onSnapshot callback. It doesn't
// have enough information on its own to know whether a tab was created,
// updated, or removed, so CreateTab/CloseTabByID/etc. send their own
// TabUpdate/TabTerminated broadcasts directly. The hook is a no-op: a
// registry mutation that no broker method broadcasts is not sent to
// commands.
func (b *Broker) broadcastSnapshotDelta(registry.Snapshot) {}

// broadcastOffer sends an outstanding offer to every pty helper that has
// connected but not yet been assigned a tab; each decides locally whether
// to accept via AcceptAssignment.
func (b *Broker) broadcastOffer(o *assignment.Offer) {
	b.mu.Lock()
	pending := make([]PtyHandle, 0, len(b.pendingPtys))
	for h := range b.pendingPtys {
		pending = append(pending, h)
	}
	b.mu.Unlock()
	for _, h := range pending {
		h.Send(wire.PtyInitRequest{Meta: o.Meta})
	}
}

// RegisterCli adds a newly connected command and returns the Init
// snapshot it should be sent immediately.
func (b *Broker) RegisterCli(h CliHandle) wire.InitResponse {
	b.mu.Lock()
	b.clis[h] = struct{}{}
	b.mu.Unlock()
	return wire.InitResponse{Tabs: b.reg.Snapshot().Tabs}
}

// UnregisterCli drops a command and its subscription on disconnect.
func (b *Broker) UnregisterCli(h CliHandle) {
	b.mu.Lock()
	delete(b.clis, h)
	for _, set := range b.subsByTab {
		delete(set, h)
	}
	b.mu.Unlock()
}

// RegisterPtyHelper adds a newly connected, not-yet-assigned pty helper
// and replays any outstanding offers to it so it can race to accept one
// that was posted before it connected.
func (b *Broker) RegisterPtyHelper(h PtyHandle) {
	b.mu.Lock()
	b.pendingPtys[h] = struct{}{}
	b.mu.Unlock()

	for _, o := range b.board.Outstanding() {
		h.Send(wire.PtyInitRequest{Meta: o.Meta})
	}
}

// UnregisterPendingPtyHelper drops a pty helper that disconnected before
// ever accepting an assignment (e.g. it lost the race for every offer it
// saw and its process exited).
func (b *Broker) UnregisterPendingPtyHelper(h PtyHandle) {
	b.mu.Lock()
	delete(b.pendingPtys, h)
	b.mu.Unlock()
}

// AcceptAssignment is called by a pty connection when its helper accepts
// an offer. ok is false if another helper already won the race, in which
// case the caller should tear down without starting a child process.
func (b *Broker) AcceptAssignment(offer *assignment.Offer, h PtyHandle) bool {
	if !offer.Accept() {
		return false
	}
	b.mu.Lock()
	delete(b.pendingPtys, h)
	b.ptys[offer.TabID] = h
	b.mu.Unlock()
	b.board.Resolve(offer.TabID)
	b.reg.MarkAssigned(offer.TabID)
	return true
}

// AcceptAssignmentByTabID looks up the outstanding offer for a tab and
// accepts it on behalf of h. Used when a pty helper announces it has
// already started a shell for a tab (PtyStartedResponse) rather than
// holding onto the *assignment.Offer value itself.
func (b *Broker) AcceptAssignmentByTabID(id tabid.ID, h PtyHandle) bool {
	offer, ok := b.board.Get(id)
	if !ok {
		return false
	}
	return b.AcceptAssignment(offer, h)
}

// UnregisterPtyHelper is called when an assigned pty's connection closes
// (the child shell exited, or the helper crashed). It marks the tab
// stopped and tells every subscribed command the tab is gone.
func (b *Broker) UnregisterPtyHelper(id tabid.ID) {
	b.mu.Lock()
	delete(b.ptys, id)
	subs := b.subsByTab[id]
	delete(b.subsByTab, id)
	b.mu.Unlock()

	b.reg.MarkStopped(id)
	b.reg.CloseByID(id)
	for h := range subs {
		h.Subscription().Unsubscribe()
	}
	b.broadcastToAllCli(wire.TabTerminatedResponse{TabID: id})
}

// CreateTab registers a new tab and posts its pty assignment offer.
func (b *Broker) CreateTab(create wire.CreateTabMetadata) (wire.TabMetadata, error) {
	meta, err := b.reg.Create(create)
	if err != nil {
		return wire.TabMetadata{}, err
	}
	b.broadcastToAllCli(wire.TabUpdateResponse{Meta: meta})
	b.board.Post(meta.ID, meta)
	return meta, nil
}

// CloseTabByID closes a tab by id, terminating its pty and notifying
// every subscriber.
func (b *Broker) CloseTabByID(id tabid.ID) error {
	return b.closeTab(id)
}

// CloseTabByName closes a tab by normalized name.
func (b *Broker) CloseTabByName(name string) error {
	meta, ok := b.reg.GetByName(name)
	if !ok {
		return ErrUnknownTab
	}
	return b.closeTab(meta.ID)
}

func (b *Broker) closeTab(id tabid.ID) error {
	if _, ok := b.reg.Get(id); !ok {
		return ErrUnknownTab
	}

	b.mu.Lock()
	pty := b.ptys[id]
	delete(b.ptys, id)
	subs := b.subsByTab[id]
	delete(b.subsByTab, id)
	b.mu.Unlock()

	b.board.Resolve(id)
	b.reg.CloseByID(id)

	if pty != nil {
		pty.Send(wire.PtyTerminateRequest{})
	}
	for h := range subs {
		h.Subscription().Unsubscribe()
	}
	b.broadcastToAllCli(wire.TabTerminatedResponse{TabID: id})
	return nil
}

// ResizeTab updates a tab's dimensions and forwards the resize to its pty.
func (b *Broker) ResizeTab(id tabid.ID, dims wire.Dimensions) error {
	meta, ok := b.reg.Resize(id, dims)
	if !ok {
		return ErrUnknownTab
	}
	b.broadcastToAllCli(wire.TabUpdateResponse{Meta: meta})

	b.mu.Lock()
	pty := b.ptys[id]
	b.mu.Unlock()
	if pty != nil {
		pty.Send(wire.PtyResizeRequest{Dimensions: dims})
	}
	return nil
}

// Input forwards raw bytes from a command to a tab's assigned pty. It is
// silently dropped if the tab has no assigned pty yet (the shell hasn't
// started), matching a real terminal dropping keystrokes typed before the
// shell is ready.
func (b *Broker) Input(id tabid.ID, chunk wire.InputChunk) {
	b.mu.Lock()
	pty := b.ptys[id]
	b.mu.Unlock()
	if pty != nil {
		pty.Send(wire.PtyInputRequest{Chunk: chunk})
	}
}

// Subscribe moves a command onto a tab: it buffers live output until the
// scrollback snapshot is captured, then sends ScrollbackResponse followed
// by any output that arrived in the interim, trimmed for at-most-once
// delivery.
func (b *Broker) Subscribe(h CliHandle, id tabid.ID) error {
	if _, ok := b.reg.Get(id); !ok {
		return ErrUnknownTab
	}

	b.mu.Lock()
	buf := b.scrollbackFor(id)
	set := b.subsByTab[id]
	if set == nil {
		set = make(map[CliHandle]struct{})
		b.subsByTab[id] = set
	}
	set[h] = struct{}{}
	b.mu.Unlock()

	h.Subscription().BeginSubscribe(id)
	chunks := buf.CloneQueue()
	var end uint64
	if n := len(chunks); n > 0 {
		end = chunks[n-1].End()
	}
	h.Send(wire.ScrollbackResponse{TabID: id, Chunks: chunks})

	for _, chunk := range h.Subscription().CompleteScrollback(end) {
		h.Send(wire.OutputResponse{TabID: id, Chunk: chunk})
	}
	b.reg.UpdateSelectedTimestamp(id)
	return nil
}

// Unsubscribe detaches a command from whatever tab it is currently
// subscribed to, if any.
func (b *Broker) Unsubscribe(h CliHandle) {
	sub := h.Subscription()
	if sub.State() == subscription.None {
		return
	}
	id := sub.TabID()

	b.mu.Lock()
	if set := b.subsByTab[id]; set != nil {
		delete(set, h)
	}
	b.mu.Unlock()

	sub.Unsubscribe()
}

// Retask moves every command currently subscribed to `from` onto target,
// broadcasting the decision so each affected command can switch locally
// without the broker needing to track which handle issued the request.
func (b *Broker) Retask(from tabid.ID, target wire.RetaskTarget) {
	b.mu.Lock()
	set := b.subsByTab[from]
	handles := make([]CliHandle, 0, len(set))
	for h := range set {
		handles = append(handles, h)
	}
	delete(b.subsByTab, from)
	if !target.IsDisconnect() {
		dest := b.subsByTab[*target.TabID]
		if dest == nil {
			dest = make(map[CliHandle]struct{})
			b.subsByTab[*target.TabID] = dest
		}
		for _, h := range handles {
			dest[h] = struct{}{}
		}
	}
	b.mu.Unlock()

	for _, h := range handles {
		h.Subscription().Unsubscribe()
	}

	// Landing state here is None, not Selected: spec.md §4.8 requires
	// Retask(from, Some(to)) to land in AwaitingScrollback(to, []), and
	// the only thing that actually puts a subscription there is the
	// client's own Subscribe request, sent after it observes this
	// RetaskResponse (cmd/tab's post-retask resubscribe). Transitioning
	// straight to Selected here would race PublishOutput for the
	// destination tab against the client's receipt of RetaskResponse,
	// delivering tab-B output before the client even knows it switched.
	for _, h := range handles {
		h.Send(wire.RetaskResponse{TabID: from, Target: target})
	}
}

// PublishOutput appends a chunk to a tab's scrollback and forwards it to
// every command currently subscribed to that tab, each per its own
// at-most-once delivery position.
func (b *Broker) PublishOutput(id tabid.ID, chunk wire.OutputChunk) {
	b.mu.Lock()
	buf := b.scrollbackFor(id)
	set := b.subsByTab[id]
	handles := make([]CliHandle, 0, len(set))
	for h := range set {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	buf.Append(chunk)

	for _, h := range handles {
		sub := h.Subscription()
		if sub.State() == subscription.AwaitingScrollback {
			sub.Buffer(chunk)
			continue
		}
		if out, ok := sub.SendOutput(id, chunk); ok {
			h.Send(wire.OutputResponse{TabID: id, Chunk: out})
		}
	}
}

// Board returns the broker's assignment board, for the supervisor to
// drive its retraction ticker. The broker remains the sole owner of
// board's lifecycle; the supervisor only ever calls Tick on it.
func (b *Broker) Board() *assignment.Board {
	return b.board
}

// ListTabs returns every live tab's metadata.
func (b *Broker) ListTabs() []wire.TabMetadata {
	snap := b.reg.Snapshot()
	out := make([]wire.TabMetadata, 0, len(snap.Tabs))
	for _, m := range snap.Tabs {
		out = append(out, m)
	}
	return out
}

// GlobalShutdown terminates every tab's pty and notifies every command
// that the daemon is shutting down.
func (b *Broker) GlobalShutdown() {
	b.mu.Lock()
	ptys := make([]PtyHandle, 0, len(b.ptys))
	for _, h := range b.ptys {
		ptys = append(ptys, h)
	}
	clis := make([]CliHandle, 0, len(b.clis))
	for h := range b.clis {
		clis = append(clis, h)
	}
	b.mu.Unlock()

	for _, h := range ptys {
		h.Send(wire.PtyTerminateRequest{})
	}
	for _, h := range clis {
		h.Send(wire.DisconnectResponse{})
	}

	b.mu.Lock()
	hook := b.onShutdown
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (b *Broker) broadcastToAllCli(resp wire.Response) {
	b.mu.Lock()
	clis := make([]CliHandle, 0, len(b.clis))
	for h := range b.clis {
		clis = append(clis, h)
	}
	b.mu.Unlock()
	for _, h := range clis {
		h.Send(resp)
	}
}

// scrollbackFor returns (creating if necessary) a tab's scrollback
// buffer. Caller must hold b.mu.
func (b *Broker) scrollbackFor(id tabid.ID) *scrollback.Buffer {
	buf, ok := b.scrollbacks[id]
	if !ok {
		buf = scrollback.New()
		b.scrollbacks[id] = buf
	}
	return buf
}
