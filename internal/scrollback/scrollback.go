// Package scrollback implements the bounded, coalescing, indexed byte log
// kept per tab so that a late-subscribing command can catch up on output it
// missed. It is grounded on the teacher's pty.Hub, which also guards a
// single mutable resource (the pty) with a short-held mutex and exposes a
// cheap read path for many consumers.
package scrollback

import (
	"sync"

	"github.com/tabmux/tab/internal/wire"
)

// MaxChunkLen is the largest a single coalesced chunk is allowed to grow.
// A chunk at or above this size is appended as its own entry rather than
// merged into the previous one.
const MaxChunkLen = 4096

// MinCapacity is the soft floor on retained bytes: eviction never drops the
// front chunk if doing so would leave the remaining chunks plus the chunk
// being appended at or under this size (see evictLocked).
const MinCapacity = 8192

// Buffer is a per-tab scrollback log. Append is called by exactly one
// writer (the tab's assigned pty connection); CloneQueue may be called by
// many readers concurrently. The lock is held only for the duration of a
// queue mutation or a slice copy, never across a channel or socket
// operation.
type Buffer struct {
	mu    sync.Mutex
	queue []wire.OutputChunk
	total int
}

// New creates an empty scrollback buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append first evicts from the front as evictLocked allows, then adds the
// chunk, coalescing it into the back chunk when that keeps the merged chunk
// under MaxChunkLen.
//
// Convention: Index always stores the offset of Data[0], even after a
// chunk has absorbed later segments. This keeps the external contract
// simple — end = Index+len(Data) is true for every chunk CloneQueue ever
// hands out, live or coalesced — which is exactly what C8's send_output
// arithmetic assumes. (The alternative convention, storing the start of
// the last coalesced segment, would need send_output to reconstruct the
// true start from len(Data); storing the true start up front avoids that
// bookkeeping entirely.)
func (b *Buffer) Append(chunk wire.OutputChunk) {
	newLen := len(chunk.Data)
	if newLen == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictLocked(newLen)

	if n := len(b.queue); n > 0 {
		back := &b.queue[n-1]
		if len(back.Data)+newLen < MaxChunkLen {
			back.Data = append(back.Data, chunk.Data...)
			b.total += newLen
			return
		}
	}

	b.queue = append(b.queue, wire.OutputChunk{
		Index: chunk.Index,
		Data:  append([]byte(nil), chunk.Data...),
	})
	b.total += newLen
}

// evictLocked pops chunks from the front while doing so would still leave
// more than MinCapacity bytes retained once the about-to-be-appended
// newLen bytes land — i.e. only when eviction actually frees meaningful
// space rather than churning the buffer near its floor. The caller must
// hold b.mu.
func (b *Buffer) evictLocked(newLen int) {
	for len(b.queue) > 0 {
		frontLen := len(b.queue[0].Data)
		if b.total <= frontLen+newLen {
			break
		}
		if (b.total-frontLen)+newLen <= MinCapacity {
			break
		}
		b.queue = b.queue[1:]
		b.total -= frontLen
	}
}

// CloneQueue returns a snapshot of the current chunk queue. The snapshot is
// safe to read without further locking: each chunk's Data is its own copy.
func (b *Buffer) CloneQueue() []wire.OutputChunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]wire.OutputChunk, len(b.queue))
	for i, c := range b.queue {
		data := make([]byte, len(c.Data))
		copy(data, c.Data)
		out[i] = wire.OutputChunk{Index: c.Index, Data: data}
	}
	return out
}

// TotalBytes reports the buffer's current retained size, for tests and
// diagnostics.
func (b *Buffer) TotalBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
