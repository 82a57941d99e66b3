package kdbus

import (
	"fmt"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/danderson/kdbus/endpoint"
	"github.com/danderson/kdbus/registry"
)

const maxNotifyQueue = 64

// Creds are the credentials a connection was created with, carried as
// plain metadata since this core has no real socket to query
// SO_PEERCRED-style credentials from.
type Creds struct {
	UID uint32
	GID uint32
	PID uint32
}

// Conn is a single peer's session on an endpoint (the glossary's
// "Connection"): a unique id, the bus and endpoint it's reachable
// through, and the registry-side indexes of names it owns or is
// queued for. Conn satisfies [registry.Connection] and
// [registry.Notifier].
type Conn struct {
	id       uint64
	bus      *Bus
	endpoint *endpoint.Endpoint
	creds    Creds
	starter  bool

	notifications chan []registry.Notification
	overflow      chan struct{} // closed once, on first dropped batch

	mu     sync.Mutex
	closed bool
	owned  mapset.Set[*registry.Entry]
	queued mapset.Set[*registry.Waiter]
}

func newConn(id uint64, bus *Bus, ep *endpoint.Endpoint, creds Creds, starter bool) *Conn {
	return &Conn{
		id:            id,
		bus:           bus,
		endpoint:      ep,
		creds:         creds,
		starter:       starter,
		notifications: make(chan []registry.Notification, maxNotifyQueue),
		overflow:      make(chan struct{}),
		owned:         mapset.New[*registry.Entry](),
		queued:        mapset.New[*registry.Waiter](),
	}
}

// ID returns the connection's bus-unique id, satisfying
// [registry.Connection] and [endpoint.Conn].
func (c *Conn) ID() uint64 { return c.id }

// Starter reports whether this connection registered with starter
// (launch-placeholder) semantics, satisfying [registry.Connection].
func (c *Conn) Starter() bool { return c.starter }

// Creds returns the connection's credentials.
func (c *Conn) Creds() Creds { return c.creds }

// Endpoint returns the endpoint this connection is attached through.
func (c *Conn) Endpoint() *endpoint.Endpoint { return c.endpoint }

// Notifier returns c itself: a Conn is its own delivery target,
// satisfying [registry.Connection].
func (c *Conn) Notifier() registry.Notifier { return c }

// NameCount returns the number of well-known names c currently owns,
// satisfying [registry.Connection].
func (c *Conn) NameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owned.Len()
}

// AttachOwned records that c now owns e, satisfying
// [registry.Connection]. Called by the registry with its own lock
// held.
func (c *Conn) AttachOwned(e *registry.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owned.Add(e)
}

// DetachOwned records that c no longer owns e, satisfying
// [registry.Connection].
func (c *Conn) DetachOwned(e *registry.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owned.Remove(e)
}

// AttachQueued records that c is now parked as a waiter via w,
// satisfying [registry.Connection].
func (c *Conn) AttachQueued(w *registry.Waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queued.Add(w)
}

// DetachQueued records that c is no longer parked as a waiter via w,
// satisfying [registry.Connection].
func (c *Conn) DetachQueued(w *registry.Waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queued.Remove(w)
}

// DetachAll atomically empties c's owned and queued sets and returns
// their former contents, satisfying [registry.Connection]. Used by
// [registry.Registry.PurgeConnection], mirroring the
// swap-then-clear idiom danderson-dbus/conn.go's Close uses for its
// watcher and claim sets.
func (c *Conn) DetachAll() (owned []*registry.Entry, queued []*registry.Waiter) {
	c.mu.Lock()
	os, qs := c.owned, c.queued
	c.owned, c.queued = mapset.New[*registry.Entry](), mapset.New[*registry.Waiter]()
	c.mu.Unlock()

	for e := range os {
		owned = append(owned, e)
	}
	for w := range qs {
		queued = append(queued, w)
	}
	return owned, queued
}

// MoveMessagesFrom migrates any inbound messages already queued for
// src onto c, satisfying [registry.Connection]. This core has no
// message payloads to move (see SPEC_FULL.md's Non-goals), so this is
// a no-op that always succeeds; a real transport would drain src's
// inbox into c's here.
func (c *Conn) MoveMessagesFrom(src registry.Connection) error {
	return nil
}

// Deliver enqueues a batch of staged notifications for this
// connection to read, satisfying [registry.Notifier] and
// [endpoint.Conn]. Delivery is non-blocking: if the connection's
// queue is full, the batch is dropped and Overflowed starts reporting
// true, mirroring danderson-dbus/watcher.go's bounded-queue-with-
// overflow-flag behavior for exactly the same reason (a slow or dead
// reader must never stall a registry mutation for every other
// connection).
func (c *Conn) Deliver(ns []registry.Notification) {
	select {
	case c.notifications <- ns:
	default:
		select {
		case <-c.overflow:
		default:
			close(c.overflow)
		}
	}
}

// Notifications returns the channel of staged notification batches
// delivered to this connection.
func (c *Conn) Notifications() <-chan []registry.Notification {
	return c.notifications
}

// Overflowed reports whether this connection has ever dropped a
// notification batch because its queue was full.
func (c *Conn) Overflowed() bool {
	select {
	case <-c.overflow:
		return true
	default:
		return false
	}
}

// Close disconnects c from its bus: it is purged from the name
// registry and detached from its endpoint. Close is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.bus.Disconnect(c)
	return nil
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn#%d", c.id)
}
