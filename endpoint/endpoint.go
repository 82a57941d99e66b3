// Package endpoint implements the endpoint lifecycle (C5): the named,
// device-like handle through which connections attach to a bus and the
// scope against which notifications are addressed.
package endpoint

import (
	"fmt"
	"sync"

	"github.com/danderson/kdbus/registry"
)

// Mode, UID and GID describe the device-node permissions an endpoint
// is created with, mirroring the original kernel source's
// kdbus_ep_new parameters. The core has no real device node, so these
// are carried as metadata only.
type Mode uint32

// Default mode for an endpoint created without an explicit one, per
// original_source/ep.c's kdbus_ep_new ("mode > 0 ? mode : 0600").
const DefaultMode Mode = 0600

// Bus is the endpoint's view of the bus it belongs to: enough to
// allocate a monotonically increasing endpoint id and to report the
// path triple used in log lines. Concrete bus types (kdbus.Bus)
// satisfy this interface; endpoint never constructs one.
type Bus interface {
	// Name returns the bus's name, for the "bus/name" path triple.
	Name() string
	// NextEndpointID returns the next id to assign a newly created
	// endpoint on this bus.
	NextEndpointID() uint64
}

// Endpoint is a named access point to a bus (C5). Connections attach
// through it, and the registry addresses staged notifications to it
// via Deliver. The zero value is not usable; construct with Create.
type Endpoint struct {
	bus  Bus
	id   uint64
	name string
	mode Mode
	uid  uint32
	gid  uint32

	// policy is non-nil only for an endpoint literally named "bus",
	// mirroring ep.c's special case ("if (strcmp(name, "bus") == 0)
	// e->policy_db = kdbus_policy_db_new()").
	policy *policyDB

	mu           sync.Mutex
	refs         int
	disconnected bool
	conns        map[Conn]bool
}

// policyDB is a placeholder for the bus-wide access control table the
// original kernel source attaches to the endpoint named "bus". Policy
// enforcement is out of scope here (see SPEC_FULL.md's Non-goals); its
// presence is tracked only so Unref's reference-release sequence
// matches the original's shape.
type policyDB struct{}

// Conn is the endpoint's view of an attached connection: just enough
// to deliver notifications and report identity in log lines. Concrete
// connection types (kdbus.Conn) satisfy this interface.
type Conn interface {
	ID() uint64
	registry.Notifier
}

// Create allocates a new endpoint on bus with the next id from
// bus.NextEndpointID. It does not link the endpoint into any list of
// the bus; the caller keeps track of it. Reference count begins at 1,
// owned by the returned Endpoint's creator.
//
// If mode is 0, DefaultMode is used, matching the original's
// "mode > 0 ? mode : 0600".
func Create(bus Bus, name string, mode Mode, uid, gid uint32) (*Endpoint, error) {
	if name == "" {
		return nil, fmt.Errorf("endpoint: name must not be empty")
	}
	if mode == 0 {
		mode = DefaultMode
	}

	e := &Endpoint{
		bus:   bus,
		id:    bus.NextEndpointID(),
		name:  name,
		mode:  mode,
		uid:   uid,
		gid:   gid,
		refs:  1,
		conns: make(map[Conn]bool),
	}
	if name == "bus" {
		e.policy = &policyDB{}
	}
	return e, nil
}

// ID returns the endpoint's bus-unique identifier.
func (e *Endpoint) ID() uint64 { return e.id }

// Name returns the endpoint's name.
func (e *Endpoint) Name() string { return e.name }

// Mode returns the device-node permission bits the endpoint was
// created with.
func (e *Endpoint) Mode() Mode { return e.mode }

// Ref increments the endpoint's reference count and returns it, for
// use by callers that hand out a shared pointer (e.g. a newly
// attached connection).
func (e *Endpoint) Ref() *Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs++
	return e
}

// Unref releases one reference. When the count drops to zero, the
// endpoint is disconnected (if not already) and its remaining
// resources are released. Matches __kdbus_ep_free's deferred-cleanup
// shape: disconnect always runs under the same lock that guards the
// refcount, so a racing Ref can never observe a half-torn-down
// endpoint.
func (e *Endpoint) Unref() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs--
	if e.refs > 0 {
		return
	}
	e.disconnectLocked()
	e.policy = nil
}

// Disconnect idempotently marks the endpoint as disconnected and drops
// its set of attached connections: no further connections may attach,
// and Deliver reaches nobody. There is no device node or minor-number
// index to tear down. In-flight holders of a *Endpoint keep it alive
// until they Unref.
func (e *Endpoint) Disconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnectLocked()
}

func (e *Endpoint) disconnectLocked() {
	if e.disconnected {
		return
	}
	e.disconnected = true
	e.conns = nil
}

// Disconnected reports whether Disconnect has run.
func (e *Endpoint) Disconnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disconnected
}

// Attach records conn as reachable through this endpoint. It reports
// false if the endpoint is already disconnected.
func (e *Endpoint) Attach(conn Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disconnected {
		return false
	}
	e.conns[conn] = true
	return true
}

// Detach removes conn from the endpoint's set of reachable
// connections. A no-op if conn was never attached or the endpoint is
// already disconnected.
func (e *Endpoint) Detach(conn Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, conn)
}

// Deliver fans a batch of staged registry notifications out to every
// connection currently attached through this endpoint, satisfying
// [registry.Notifier]. In this core, an endpoint's connections
// themselves act as the per-connection [registry.Notifier] the
// registry addresses directly; Deliver exists for callers that want
// to address a notification at endpoint scope, such as a future
// bus-wide monitor that observes everything flowing through one
// endpoint.
func (e *Endpoint) Deliver(ns []registry.Notification) {
	e.mu.Lock()
	targets := make([]Conn, 0, len(e.conns))
	for c := range e.conns {
		targets = append(targets, c)
	}
	e.mu.Unlock()

	for _, c := range targets {
		c.Deliver(ns)
	}
}

// Find locates the endpoint named name among endpoints, by linear
// scan under the caller's bus lock. A false ok reports no match,
// mirroring original_source/ep.c's kdbus_ep_find ("endpoint not found
// so return NULL").
func Find(endpoints []*Endpoint, name string) (*Endpoint, bool) {
	for _, e := range endpoints {
		if e.name == name {
			return e, true
		}
	}
	return nil, false
}
