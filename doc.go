// Package kdbus ties together the well-known name registry
// ([github.com/danderson/kdbus/registry]) and the endpoint lifecycle
// ([github.com/danderson/kdbus/endpoint]) into the concrete
// collaborators the registry's algorithm depends on: Bus, Conn, and
// Pool.
//
// A Bus owns one Registry and a set of Endpoints. A Conn is a single
// peer's session, reachable through exactly one Endpoint, and
// satisfies [registry.Connection] and [registry.Notifier]. A Pool is
// the output buffer a Conn reads [registry.Registry.List] results
// from.
//
// Wire transport, message delivery payloads, and policy enforcement
// are out of scope: this package exists to drive the registry and
// endpoint state machines under test and from the command line, not
// to be a working message bus.
package kdbus
