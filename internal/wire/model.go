// Package wire defines the data model and the wire-stable message schema
// shared by commands, the daemon, and pty helpers. Every type here is
// serialized as JSON over a websocket connection established by
// internal/transport; the envelope format is documented on Request and
// Response below.
package wire

import (
	"strings"
	"time"

	"github.com/tabmux/tab/internal/tabid"
)

// Dimensions is a terminal size in columns and rows.
type Dimensions struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// TabMetadata describes a tab. It is immutable after creation except for
// Dimensions, which mutates via an explicit resize, and LastSelected, which
// the registry bumps on selection.
type TabMetadata struct {
	ID          tabid.ID          `json:"id"`
	Name        string            `json:"name"`
	WorkingDir  string            `json:"working_dir,omitempty"`
	Shell       string            `json:"shell,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Dimensions  Dimensions        `json:"dimensions"`
	Doc         string            `json:"doc,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	LastSelected time.Time        `json:"last_selected"`
}

// CreateTabMetadata is the client-supplied description of a tab to create.
// NormalizeName must be applied before the registry compares names for
// uniqueness.
type CreateTabMetadata struct {
	Name       string            `json:"name"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Shell      string            `json:"shell,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Dimensions Dimensions        `json:"dimensions"`
	Doc        string            `json:"doc,omitempty"`
}

// NormalizeName trims a trailing "/" so that "a" and "a/" name the same tab.
func NormalizeName(name string) string {
	return strings.TrimSuffix(name, "/")
}

// OutputChunk is a run of pty output. Index is the byte offset of Data[0]
// within the tab's lifetime output stream. For any two chunks a, b emitted
// back-to-back by the same pty, a.Index+len(a.Data) == b.Index.
type OutputChunk struct {
	Index uint64 `json:"index"`
	Data  []byte `json:"data"`
}

// End returns the exclusive end offset of the chunk.
func (c OutputChunk) End() uint64 {
	return c.Index + uint64(len(c.Data))
}

// InputChunk is raw bytes destined for a tab's pty stdin.
type InputChunk struct {
	Data []byte `json:"data"`
}

// RetaskTarget names what an attached command retasks to: either another
// tab, or nothing (a request to disconnect). It is distinct from
// Unsubscribe: a retask to nothing still fans out a Retask broadcast that
// every subscriber of the "from" tab observes, whereas Unsubscribe only
// affects the issuing command's own subscription.
type RetaskTarget struct {
	TabID *tabid.ID `json:"tab_id,omitempty"`
}

// ToTab builds a RetaskTarget that retasks to a concrete tab.
func ToTab(id tabid.ID) RetaskTarget {
	return RetaskTarget{TabID: &id}
}

// Disconnect builds a RetaskTarget representing "retask to nothing".
func Disconnect() RetaskTarget {
	return RetaskTarget{}
}

// IsDisconnect reports whether the target is "retask to nothing".
func (t RetaskTarget) IsDisconnect() bool {
	return t.TabID == nil
}
