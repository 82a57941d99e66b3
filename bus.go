package kdbus

import (
	"fmt"
	"sync"

	"github.com/danderson/kdbus/endpoint"
	"github.com/danderson/kdbus/registry"
)

// Bus is a logically isolated communication space: one name registry,
// a set of endpoints connections attach through, and the index of
// connections by id that backs [Registry.List]'s unique-peer
// enumeration.
type Bus struct {
	name string

	mu         sync.Mutex
	closed     bool
	registry   *registry.Registry
	endpoints  []*endpoint.Endpoint
	conns      map[uint64]*Conn
	nextConnID uint64
	nextEPID   uint64
}

// NewBus creates an empty bus named name, with a "bus" endpoint
// already created (matching original_source/ep.c's policy-bearing
// endpoint convention: the endpoint literally named "bus" is where
// bus-wide policy lives).
func NewBus(name string) (*Bus, error) {
	b := &Bus{
		name:  name,
		conns: make(map[uint64]*Conn),
	}
	b.registry = registry.New()
	ep, err := endpoint.Create(b, "bus", 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("creating default endpoint: %w", err)
	}
	b.endpoints = append(b.endpoints, ep)
	return b, nil
}

// Name returns the bus's name, satisfying [endpoint.Bus].
func (b *Bus) Name() string { return b.name }

// NextEndpointID returns the next monotonically increasing endpoint
// id, satisfying [endpoint.Bus].
func (b *Bus) NextEndpointID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextEPID++
	return b.nextEPID
}

// Registry returns the bus's well-known name registry.
func (b *Bus) Registry() *registry.Registry { return b.registry }

// CreateEndpoint creates and links a new endpoint on the bus, named
// name, per original_source/ep.c's kdbus_ep_new.
func (b *Bus) CreateEndpoint(name string, mode endpoint.Mode, uid, gid uint32) (*endpoint.Endpoint, error) {
	ep, err := endpoint.Create(b, name, mode, uid, gid)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("kdbus: bus %q is closed", b.name)
	}
	b.endpoints = append(b.endpoints, ep)
	return ep, nil
}

// FindEndpoint locates a bus endpoint by name, per
// original_source/ep.c's kdbus_ep_find.
func (b *Bus) FindEndpoint(name string) (*endpoint.Endpoint, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return endpoint.Find(b.endpoints, name)
}

// RemoveEndpoint disconnects ep and unlinks it from the bus's
// endpoint list. The endpoint itself stays alive for any holder that
// still references it, per endpoint's own refcounting.
func (b *Bus) RemoveEndpoint(ep *endpoint.Endpoint) {
	ep.Disconnect()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.endpoints {
		if e == ep {
			b.endpoints = append(b.endpoints[:i], b.endpoints[i+1:]...)
			break
		}
	}
}

// Connect creates a new connection attached to ep, with the given
// credentials, and records it in the bus's connection-by-id index.
func (b *Bus) Connect(ep *endpoint.Endpoint, creds Creds, starter bool) (*Conn, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("kdbus: bus %q is closed", b.name)
	}
	b.nextConnID++
	id := b.nextConnID
	b.mu.Unlock()

	c := newConn(id, b, ep, creds, starter)
	if !ep.Attach(c) {
		return nil, fmt.Errorf("kdbus: endpoint %q is disconnected", ep.Name())
	}

	b.mu.Lock()
	b.conns[id] = c
	b.mu.Unlock()
	return c, nil
}

// Disconnect removes conn from the bus: it is purged from the name
// registry, detached from its endpoint, and dropped from the
// connection-by-id index.
func (b *Bus) Disconnect(conn *Conn) {
	b.registry.PurgeConnection(conn)
	conn.endpoint.Detach(conn)

	b.mu.Lock()
	delete(b.conns, conn.id)
	b.mu.Unlock()
}

// Peers returns a snapshot of every connection currently on the bus,
// for use as the peers argument to [registry.Registry.List].
func (b *Bus) Peers() []registry.Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]registry.Connection, 0, len(b.conns))
	for _, c := range b.conns {
		out = append(out, c)
	}
	return out
}

// Close shuts the bus down: every connection is purged from the
// registry and detached, and the bus refuses further connections and
// endpoint creation.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	conns := make([]*Conn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.conns = nil
	eps := b.endpoints
	b.endpoints = nil
	b.mu.Unlock()

	for _, c := range conns {
		b.registry.PurgeConnection(c)
	}
	for _, ep := range eps {
		ep.Disconnect()
	}
}
