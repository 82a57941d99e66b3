// Package registry implements the well-known name registry: the
// engine that maps human-readable bus names to owning connections,
// with replacement, FIFO queueing, and starter-handoff semantics.
package registry

import (
	"sync"

	"github.com/danderson/kdbus/internal/validate"
)

// MaxNameLength is the longest a well-known name may be.
const MaxNameLength = validate.MaxNameLength

// MaxNamesPerConnection bounds how many well-known names a single
// connection may own at once. The original kernel source this
// registry reimplements enforces an equivalent per-connection cap;
// the retrieved excerpt does not include the header defining its
// exact numeric value, so a documented round number is used instead.
const MaxNamesPerConnection = 256

// Registry is a hash-indexed set of name entries (C3). The zero value
// is not usable; construct with New.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New returns an empty name registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Lookup returns the entry for name, if one exists. It takes the
// registry lock only for the duration of the map probe.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return e, ok
}

// AcquireStatus classifies how an [Registry.Acquire] call was
// resolved.
type AcquireStatus int

const (
	// Created means no entry for the name existed and one was made,
	// owned by the acting connection.
	Created AcquireStatus = iota
	// AlreadyOwner means the acting connection was already the
	// owner; only its flags were updated.
	AlreadyOwner
	// Replaced means the acting connection took ownership from a
	// previous owner that allowed replacement.
	Replaced
	// Queued means the name was unavailable and the acting
	// connection was placed on the waiter queue.
	Queued
)

func (s AcquireStatus) String() string {
	switch s {
	case Created:
		return "created"
	case AlreadyOwner:
		return "already-owner"
	case Replaced:
		return "replaced"
	case Queued:
		return "queued"
	default:
		return "unknown"
	}
}

// AcquireResult is the outcome of a successful [Registry.Acquire]
// call.
type AcquireResult struct {
	// Flags is the effective flags the caller should treat as in
	// force, including InQueue if Status is Queued.
	Flags Flags
	// Status classifies how the call was resolved.
	Status AcquireStatus
	// Entry is the name's entry after the call.
	Entry *Entry
}

// Acquire requests ownership of name on behalf of conn, with the
// given flags. See spec §4.2 for the full algorithm.
//
// Acquire never creates an entry for an invalid name, and never
// mutates any state if it returns an error: the name validity and
// per-connection quota checks happen before the registry lock is
// taken, and every allocation inside the locked section happens
// before any list is mutated, so a failure leaves the registry and
// connection-side indexes exactly as they were.
func (r *Registry) Acquire(conn Connection, name string, flags Flags) (AcquireResult, error) {
	if !validate.Name(name) {
		return AcquireResult{}, &Error{Kind: InvalidName, Name: name}
	}
	if conn.NameCount() >= MaxNamesPerConnection {
		return AcquireResult{}, &Error{Kind: QuotaExceeded, Name: name}
	}

	var nb notifyBuffer

	r.mu.Lock()
	result, err := r.acquireLocked(conn, name, flags, &nb)
	r.mu.Unlock()

	nb.flush()
	return result, err
}

func (r *Registry) acquireLocked(conn Connection, name string, flags Flags, nb *notifyBuffer) (AcquireResult, error) {
	e, ok := r.entries[name]
	if !ok {
		e = &Entry{name: name}
		if conn.Starter() {
			e.starter = conn
			flags = AllowReplacement
		}
		e.flags = flags
		e.owner = conn
		conn.AttachOwned(e)
		r.entries[name] = e

		nb.stage(Notification{
			Kind:     Add,
			OldOwner: 0,
			NewOwner: conn.ID(),
			Flags:    flags,
			Name:     name,
		}, conn)

		return AcquireResult{Flags: flags, Status: Created, Entry: e}, nil
	}

	if e.owner == conn {
		e.flags = flags
		// Not an error: the caller's flags update is the intended
		// effect, and Status reports that no new ownership was
		// granted. Kind AlreadyOwned exists for callers (e.g. an
		// ioctl shim) that want to surface this as a numeric errno
		// even though it isn't fatal here.
		return AcquireResult{Flags: flags, Status: AlreadyOwner, Entry: e}, nil
	}

	return r.handleConflictLocked(e, conn, flags, nb)
}

// handleConflictLocked resolves a request for a name that already
// has a different owner. Must be called with r.mu held.
func (r *Registry) handleConflictLocked(e *Entry, conn Connection, flags Flags, nb *notifyBuffer) (AcquireResult, error) {
	if flags&ReplaceExisting != 0 && e.flags&AllowReplacement != 0 {
		return r.replaceLocked(e, conn, flags, nb)
	}

	if flags&Queue != 0 {
		w := &Waiter{Connection: conn, Flags: flags}
		e.pushWaiter(w)
		conn.AttachQueued(w)
		flags |= InQueue
		return AcquireResult{Flags: flags, Status: Queued, Entry: e}, nil
	}

	return AcquireResult{}, &Error{Kind: NameTaken, Name: e.name}
}

func (r *Registry) replaceLocked(e *Entry, conn Connection, flags Flags, nb *notifyBuffer) (AcquireResult, error) {
	// The displaced owner sits at the tail of the waiter queue at the
	// moment of displacement; it does not jump the line over waiters
	// already parked there.
	var pushed *Waiter
	if e.flags&Queue != 0 {
		pushed = &Waiter{Connection: e.owner, Flags: e.flags}
		e.pushWaiter(pushed)
		e.owner.AttachQueued(pushed)
	}

	if e.starter != nil {
		if err := conn.MoveMessagesFrom(e.starter); err != nil {
			// Abort before any ownership change becomes visible: undo
			// the waiter push staged above so the entry and connection
			// indexes are exactly as they were before this call.
			if pushed != nil {
				e.owner.DetachQueued(pushed)
				e.removeWaiter(pushed)
			}
			return AcquireResult{}, err
		}
		e.starter = nil
	}

	oldOwner := e.owner
	oldOwner.DetachOwned(e)
	conn.AttachOwned(e)
	e.owner = conn
	e.flags = flags

	nb.stage(Notification{
		Kind:     Change,
		OldOwner: oldOwner.ID(),
		NewOwner: conn.ID(),
		Flags:    flags,
		Name:     e.name,
	}, oldOwner, conn)

	return AcquireResult{Flags: flags, Status: Replaced, Entry: e}, nil
}

// ReleaseStatus classifies how a [Registry.Release] call resolved.
type ReleaseStatus int

const (
	// ReleasedOwner means the acting connection was the owner and
	// ownership passed on (to a waiter or the starter) or the entry
	// was destroyed.
	ReleasedOwner ReleaseStatus = iota
	// ReleasedWaiter means the acting connection withdrew from the
	// waiter queue without ever having been the owner.
	ReleasedWaiter
)

// Release relinquishes conn's stake in entry: ownership if conn is
// the owner, or conn's place in the waiter queue otherwise. It
// reports [NotPermitted] if conn has no stake in the name at all.
func (r *Registry) Release(conn Connection, entry *Entry) (ReleaseStatus, error) {
	var nb notifyBuffer

	r.mu.Lock()
	status, err := r.releaseLocked(conn, entry, &nb)
	r.mu.Unlock()

	nb.flush()
	return status, err
}

func (r *Registry) releaseLocked(conn Connection, e *Entry, nb *notifyBuffer) (ReleaseStatus, error) {
	if e.owner == conn {
		r.releaseEntryLocked(e, nb)
		return ReleasedOwner, nil
	}

	if w := e.removeWaiterByConn(conn); w != nil {
		conn.DetachQueued(w)
		return ReleasedWaiter, nil
	}

	return 0, &Error{Kind: NotPermitted, Name: e.name}
}

// releaseEntryLocked implements release_entry: the owner-mutating
// transition run when the real owner gives up a name. Must be called
// with r.mu held.
func (r *Registry) releaseEntryLocked(e *Entry, nb *notifyBuffer) {
	staleOwner := e.owner
	staleOwner.DetachOwned(e)

	if w := e.popWaiter(); w != nil {
		w.Connection.DetachQueued(w)
		e.flags = w.Flags &^ InQueue
		e.owner = w.Connection
		w.Connection.AttachOwned(e)

		nb.stage(Notification{
			Kind:     Change,
			OldOwner: staleOwner.ID(),
			NewOwner: e.owner.ID(),
			Flags:    e.flags,
			Name:     e.name,
		}, staleOwner, e.owner)
		return
	}

	if e.starter != nil && e.starter != staleOwner {
		e.owner = e.starter
		e.starter.AttachOwned(e)

		nb.stage(Notification{
			Kind:     Change,
			OldOwner: staleOwner.ID(),
			NewOwner: e.owner.ID(),
			Flags:    e.flags,
			Name:     e.name,
		}, staleOwner, e.owner)
		return
	}

	nb.stage(Notification{
		Kind:     Remove,
		OldOwner: staleOwner.ID(),
		NewOwner: 0,
		Flags:    e.flags,
		Name:     e.name,
	}, staleOwner)
	delete(r.entries, e.name)
	e.owner = nil
}

// PurgeConnection removes every trace of conn from the registry: all
// names it owns are released (and, if queued or starter-backed,
// handed to the next contender), and every waiter item it parked on
// any entry is withdrawn without notification.
//
// PurgeConnection has no failure path: it performs no allocation
// under the registry lock, so it always completes.
func (r *Registry) PurgeConnection(conn Connection) {
	owned, queued := conn.DetachAll()

	var nb notifyBuffer

	r.mu.Lock()
	for _, w := range queued {
		w.entry.removeWaiter(w)
	}
	for _, e := range owned {
		r.releaseEntryLocked(e, &nb)
	}
	r.mu.Unlock()

	nb.flush()
}
