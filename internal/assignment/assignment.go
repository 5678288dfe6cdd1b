// Package assignment implements pty assignment (C4): matching each pending
// tab with exactly one pty helper. It is grounded on the teacher's
// pty.Hub, generalizing its register/broadcast/unregister channel idiom
// from "many readers of one pty's output" to "many pty helpers racing to
// accept one offer" — the atomic CAS on Offer.taken replaces the Hub's
// single-assignment-by-construction model, since here the assignment
// really can race.
package assignment

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tabmux/tab/internal/tabid"
	"github.com/tabmux/tab/internal/wire"
)

// RetractInterval is how often an unaccepted offer is rebroadcast to
// newly-connected pty helpers.
const RetractInterval = 25 * time.Millisecond

// SpawnRateLimit is the minimum interval between successive pty-helper
// spawn triggers for the same tab, to avoid a storm of helper processes
// if spawning is slow or failing.
const SpawnRateLimit = 500 * time.Millisecond

// Offer is a tab waiting for a pty helper to claim it. Accept is safe for
// concurrent use by multiple pty connections racing to take the same
// offer; exactly one call returns true.
type Offer struct {
	TabID     tabid.ID
	Meta      wire.TabMetadata
	CreatedAt time.Time

	taken atomic.Bool
}

// NewOffer creates an unaccepted offer for the given tab.
func NewOffer(id tabid.ID, meta wire.TabMetadata) *Offer {
	return &Offer{TabID: id, Meta: meta, CreatedAt: time.Now()}
}

// Accept atomically claims the offer. Returns true exactly once, for
// whichever caller wins the race.
func (o *Offer) Accept() bool {
	return o.taken.CompareAndSwap(false, true)
}

// Taken reports whether the offer has already been accepted, without
// claiming it.
func (o *Offer) Taken() bool {
	return o.taken.Load()
}

// Board tracks outstanding offers and broadcasts them to pty helpers as
// they connect, retracting (by simply ceasing rebroadcast) once accepted.
type Board struct {
	mu        sync.Mutex
	offers    map[tabid.ID]*Offer
	lastSpawn map[tabid.ID]time.Time

	broadcast func(*Offer)
	spawn     func(tabid.ID, wire.TabMetadata)
}

// NewBoard creates an assignment board. broadcast is called with an offer
// when it is posted and again on every Tick while it remains unaccepted
// (a newly connecting helper is sent earlier offers via Outstanding, not
// through broadcast); spawn is called (rate-limited) to
// ask the supervisor to launch a new pty helper process for a tab with no
// taker.
func NewBoard(broadcast func(*Offer), spawn func(tabid.ID, wire.TabMetadata)) *Board {
	return &Board{
		offers:    make(map[tabid.ID]*Offer),
		lastSpawn: make(map[tabid.ID]time.Time),
		broadcast: broadcast,
		spawn:     spawn,
	}
}

// Post adds a new offer for a tab and immediately broadcasts it.
func (b *Board) Post(id tabid.ID, meta wire.TabMetadata) *Offer {
	offer := NewOffer(id, meta)
	b.mu.Lock()
	b.offers[id] = offer
	b.mu.Unlock()

	if b.broadcast != nil {
		b.broadcast(offer)
	}
	return offer
}

// Outstanding returns every unaccepted offer, typically called once when
// a new pty connection registers so it can be sent offers posted before
// it connected.
func (b *Board) Outstanding() []*Offer {
	b.mu.Lock()
	defer b.mu.Unlock()
	offers := make([]*Offer, 0, len(b.offers))
	for _, o := range b.offers {
		if !o.Taken() {
			offers = append(offers, o)
		}
	}
	return offers
}

// Get returns the outstanding offer for a tab, if any.
func (b *Board) Get(id tabid.ID) (*Offer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.offers[id]
	return o, ok
}

// Resolve removes an offer once it has been accepted or the tab has been
// closed out from under it.
func (b *Board) Resolve(id tabid.ID) {
	b.mu.Lock()
	delete(b.offers, id)
	delete(b.lastSpawn, id)
	b.mu.Unlock()
}

// Tick re-broadcasts any offer older than RetractInterval that remains
// unaccepted, and rate-limit-triggers a fresh helper spawn for it. Callers
// run Tick on a RetractInterval ticker for the lifetime of the board.
func (b *Board) Tick() {
	now := time.Now()

	b.mu.Lock()
	var stale, needSpawn []*Offer
	for id, o := range b.offers {
		if o.Taken() || now.Sub(o.CreatedAt) < RetractInterval {
			continue
		}
		stale = append(stale, o)
		if last, ok := b.lastSpawn[id]; !ok || now.Sub(last) >= SpawnRateLimit {
			b.lastSpawn[id] = now
			needSpawn = append(needSpawn, o)
		}
	}
	b.mu.Unlock()

	if b.broadcast != nil {
		for _, o := range stale {
			b.broadcast(o)
		}
	}
	if b.spawn != nil {
		for _, o := range needSpawn {
			b.spawn(o.TabID, o.Meta)
		}
	}
}
