package scrollback

import (
	"bytes"
	"testing"

	"github.com/tabmux/tab/internal/wire"
)

func chunk(index uint64, data string) wire.OutputChunk {
	return wire.OutputChunk{Index: index, Data: []byte(data)}
}

func TestCoalescesSmallChunks(t *testing.T) {
	b := New()
	b.Append(chunk(0, "hello "))
	b.Append(chunk(6, "world"))

	got := b.CloneQueue()
	if len(got) != 1 {
		t.Fatalf("expected 1 coalesced chunk, got %d", len(got))
	}
	if got[0].Index != 0 {
		t.Errorf("expected coalesced chunk to keep the first index, got %d", got[0].Index)
	}
	if string(got[0].Data) != "hello world" {
		t.Errorf("expected concatenated data, got %q", got[0].Data)
	}
	if got[0].End() != 11 {
		t.Errorf("expected end == 11, got %d", got[0].End())
	}
}

func TestDoesNotCoalesceAtMaxChunkLen(t *testing.T) {
	b := New()
	big := bytes.Repeat([]byte("x"), MaxChunkLen-1)
	b.Append(wire.OutputChunk{Index: 0, Data: big})
	b.Append(chunk(uint64(len(big)), "y"))

	got := b.CloneQueue()
	if len(got) != 2 {
		t.Fatalf("expected chunk at MaxChunkLen to start a new entry, got %d chunks", len(got))
	}
}

func TestEvictionRespectsMinCapacity(t *testing.T) {
	b := New()
	// Each appended chunk is its own entry (size == MaxChunkLen-ish) so none
	// coalesce, letting us exercise eviction directly.
	chunkSize := MaxChunkLen - 1
	total := 0
	var idx uint64
	for total < MinCapacity*3 {
		data := bytes.Repeat([]byte("a"), chunkSize)
		b.Append(wire.OutputChunk{Index: idx, Data: data})
		idx += uint64(chunkSize)
		total += chunkSize
	}

	if b.TotalBytes() < MinCapacity {
		t.Fatalf("eviction dropped below MinCapacity: total=%d", b.TotalBytes())
	}

	queue := b.CloneQueue()
	if len(queue) == 0 {
		t.Fatal("expected some chunks retained")
	}
	// Sanity: remaining chunks are contiguous and monotone.
	for i := 1; i < len(queue); i++ {
		if queue[i-1].End() != queue[i].Index {
			t.Errorf("gap between retained chunks: %d != %d", queue[i-1].End(), queue[i].Index)
		}
	}
}

func TestEvictionNeverDropsOnlyChunk(t *testing.T) {
	b := New()
	huge := bytes.Repeat([]byte("z"), MinCapacity*10)
	b.Append(wire.OutputChunk{Index: 0, Data: huge})

	got := b.CloneQueue()
	if len(got) != 1 {
		t.Fatalf("expected the single oversized chunk to be retained, got %d chunks", len(got))
	}
}

func TestCloneQueueIsIndependentCopy(t *testing.T) {
	b := New()
	b.Append(chunk(0, "abc"))

	snap := b.CloneQueue()
	snap[0].Data[0] = 'X'

	again := b.CloneQueue()
	if string(again[0].Data) != "abc" {
		t.Fatalf("mutating a snapshot leaked into the buffer: %q", again[0].Data)
	}
}
