// Package registry implements the daemon's authoritative tab table (C2):
// the id-to-metadata map, name-uniqueness enforcement, and the snapshot
// emitted after every mutation. It follows the teacher's sessions.Manager
// shape (a mutex-guarded map behind a handful of named operations). The
// broker is its only caller, but it calls in from every connection's
// goroutine, so every operation takes the registry's own mutex.
package registry

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/tabmux/tab/internal/tabid"
	"github.com/tabmux/tab/internal/wire"
)

var (
	// ErrDuplicateName is returned by Create when a tab with the requested
	// name already exists. Per spec.md's chosen semantics ("first write
	// wins, later creates no-op"), the caller is expected to treat this as
	// a silent no-op rather than surfacing an error to the user.
	ErrDuplicateName = errors.New("registry: tab name already exists")

	// ErrNotFound names the "no record for this id or name" condition. The
	// registry's own lookups report that case as ok=false and do not
	// return this value.
	ErrNotFound = errors.New("registry: tab not found")
)

// Status is a tab's pty-assignment lifecycle state.
type Status int

const (
	StatusPending Status = iota
	StatusAssigned
	StatusStopped
)

// record is the registry's internal view of one tab.
type record struct {
	meta   wire.TabMetadata
	status Status
}

// Registry is the authoritative tab table. Zero value is not usable; use
// New.
type Registry struct {
	mu      sync.RWMutex
	counter tabid.Counter
	tabs    map[tabid.ID]*record
	byName  map[string]tabid.ID

	onSnapshot func(Snapshot)
}

// Snapshot is a point-in-time, independently-readable copy of the
// registry's tab metadata, keyed by id.
type Snapshot struct {
	Tabs map[tabid.ID]wire.TabMetadata
}

// New creates an empty registry. onSnapshot, if non-nil, is invoked
// synchronously after every mutation with the new state. The broker passes
// a no-op here and sends its own TabUpdate/TabTerminated broadcasts.
func New(onSnapshot func(Snapshot)) *Registry {
	return &Registry{
		tabs:       make(map[tabid.ID]*record),
		byName:     make(map[string]tabid.ID),
		onSnapshot: onSnapshot,
	}
}

// Create allocates a TabId and records a new tab. It returns ErrDuplicateName
// without mutating state if a tab with the same normalized name already
// exists.
func (r *Registry) Create(create wire.CreateTabMetadata) (wire.TabMetadata, error) {
	name := wire.NormalizeName(create.Name)

	r.mu.Lock()
	if _, exists := r.byName[name]; exists {
		r.mu.Unlock()
		return wire.TabMetadata{}, ErrDuplicateName
	}

	id := r.counter.Next()
	now := time.Now()
	env := make(map[string]string, len(create.Env)+2)
	for k, v := range create.Env {
		env[k] = v
	}
	// TAB and TAB_ID are always present in a tab's shell environment
	// regardless of what the creating command asked for: they're how a
	// shell running inside a tab discovers its own identity (e.g. to
	// retask itself rather than nesting, see cmd/tab's TAB_ID handling).
	env["TAB"] = name
	env["TAB_ID"] = strconv.FormatUint(uint64(id), 10)
	meta := wire.TabMetadata{
		ID:           id,
		Name:         name,
		WorkingDir:   create.WorkingDir,
		Shell:        create.Shell,
		Env:          env,
		Dimensions:   create.Dimensions,
		Doc:          create.Doc,
		CreatedAt:    now,
		LastSelected: now,
	}
	r.tabs[id] = &record{meta: meta, status: StatusPending}
	r.byName[name] = id
	r.mu.Unlock()

	r.emitSnapshot()
	return meta, nil
}

// CloseByID removes a tab record by id. It is a silent no-op if the id is
// unknown (the caller has already been told the tab is gone, or never
// existed).
func (r *Registry) CloseByID(id tabid.ID) (wire.TabMetadata, bool) {
	r.mu.Lock()
	rec, ok := r.tabs[id]
	if !ok {
		r.mu.Unlock()
		return wire.TabMetadata{}, false
	}
	meta := rec.meta
	delete(r.tabs, id)
	delete(r.byName, meta.Name)
	r.mu.Unlock()

	r.emitSnapshot()
	return meta, true
}

// CloseByName removes a tab record by its normalized name.
func (r *Registry) CloseByName(name string) (wire.TabMetadata, bool) {
	name = wire.NormalizeName(name)
	r.mu.RLock()
	id, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return wire.TabMetadata{}, false
	}
	return r.CloseByID(id)
}

// MarkAssigned transitions a tab's pty-assignment status to Assigned. It is
// a no-op if the tab no longer exists (e.g. it was closed while an offer
// was still outstanding).
func (r *Registry) MarkAssigned(id tabid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.tabs[id]; ok {
		rec.status = StatusAssigned
	}
}

// MarkStopped transitions a tab's pty-assignment status to Stopped. The
// record is retained (callers typically close it immediately afterward via
// CloseByID); Stopped exists so a narrow window between "pty died" and
// "registry removed the record" is observable.
func (r *Registry) MarkStopped(id tabid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.tabs[id]; ok {
		rec.status = StatusStopped
	}
}

// UpdateSelectedTimestamp bumps a tab's LastSelected to now, used for
// "previous tab" ordering in the command-side tab list.
func (r *Registry) UpdateSelectedTimestamp(id tabid.ID) {
	r.mu.Lock()
	rec, ok := r.tabs[id]
	if ok {
		rec.meta.LastSelected = time.Now()
	}
	r.mu.Unlock()
	if ok {
		r.emitSnapshot()
	}
}

// Resize updates a tab's dimensions.
func (r *Registry) Resize(id tabid.ID, dims wire.Dimensions) (wire.TabMetadata, bool) {
	r.mu.Lock()
	rec, ok := r.tabs[id]
	if ok {
		rec.meta.Dimensions = dims
	}
	r.mu.Unlock()
	if !ok {
		return wire.TabMetadata{}, false
	}
	r.emitSnapshot()
	return rec.meta, true
}

// Get returns a tab's current metadata.
func (r *Registry) Get(id tabid.ID) (wire.TabMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tabs[id]
	if !ok {
		return wire.TabMetadata{}, false
	}
	return rec.meta, true
}

// GetByName returns a tab's current metadata by normalized name.
func (r *Registry) GetByName(name string) (wire.TabMetadata, bool) {
	name = wire.NormalizeName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return wire.TabMetadata{}, false
	}
	return r.tabs[id].meta, true
}

// Status reports a tab's pty-assignment status.
func (r *Registry) Status(id tabid.ID) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tabs[id]
	if !ok {
		return 0, false
	}
	return rec.status, true
}

// Snapshot returns an independent copy of the current tab table.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() Snapshot {
	tabs := make(map[tabid.ID]wire.TabMetadata, len(r.tabs))
	for id, rec := range r.tabs {
		tabs[id] = rec.meta
	}
	return Snapshot{Tabs: tabs}
}

func (r *Registry) emitSnapshot() {
	if r.onSnapshot == nil {
		return
	}
	r.onSnapshot(r.Snapshot())
}
