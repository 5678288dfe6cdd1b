// Package tabid defines the identifier type shared by every component that
// names a tab: the registry, the broker, the scrollback buffer, and the
// wire protocol.
package tabid

import "strconv"

// ID is an opaque tab identifier. It is monotonically assigned by the
// daemon's registry and is never reused within one daemon lifetime.
type ID uint16

// String renders the id the way log lines and error messages expect.
func (id ID) String() string {
	return "tab#" + strconv.FormatUint(uint64(id), 10)
}

// Counter hands out strictly increasing IDs. It is owned exclusively by
// the registry; nothing else may construct an ID from a raw integer except
// tests and the wire codec (which only ever round-trips an ID it was given).
type Counter struct {
	next ID
}

// Next returns the next unused ID and advances the counter.
func (c *Counter) Next() ID {
	id := c.next
	c.next++
	return id
}
