package registry

// Connection is the registry's view of a bus peer. Concrete
// connections (kdbus.Conn) satisfy this interface; the registry never
// constructs one itself.
//
// Implementations are responsible for their own internal locking:
// AttachOwned/DetachOwned/AttachQueued/DetachQueued are called by the
// registry while the registry's own lock is held, and DetachAll just
// before that lock is taken; all of them must serialize against any
// other goroutine that reads the connection's owned/queued lists
// (e.g. for diagnostics).
type Connection interface {
	// ID returns the connection's unique bus id.
	ID() uint64
	// Starter reports whether this connection registered with
	// starter semantics (a launch placeholder).
	Starter() bool
	// Notifier returns the target that staged notifications
	// affecting this connection should be delivered to.
	Notifier() Notifier
	// NameCount returns the number of entries this connection
	// currently owns.
	NameCount() int
	// AttachOwned adds e to this connection's owned-name set.
	AttachOwned(e *Entry)
	// DetachOwned removes e from this connection's owned-name set.
	DetachOwned(e *Entry)
	// AttachQueued adds w to this connection's queued-item set.
	AttachQueued(w *Waiter)
	// DetachQueued removes w from this connection's queued-item set.
	DetachQueued(w *Waiter)
	// DetachAll atomically empties the connection's owned-name and
	// queued-item sets and returns their former contents. Used by
	// [Registry.PurgeConnection] so that traversal of the detached
	// lists cannot race with concurrent attach/detach calls.
	DetachAll() (owned []*Entry, queued []*Waiter)
	// MoveMessagesFrom migrates any inbound messages already queued
	// for src onto this connection. Called when this connection
	// replaces a starter-owned name.
	MoveMessagesFrom(src Connection) error
}

// Notifier is the delivery target for staged notifications, as
// returned by [Connection.Notifier].
type Notifier interface {
	Deliver(ns []Notification)
}

// Pool is the output-buffer allocator a connection reads command
// results from. See [Registry.List].
type Pool interface {
	// Alloc reserves size bytes and returns their offset.
	Alloc(size uint64) (offset uint64, err error)
	// Write copies data into the region starting at offset. Writing
	// beyond the allocated region fails.
	Write(offset uint64, data []byte) error
	// Free releases the region starting at offset.
	Free(offset uint64)
}
