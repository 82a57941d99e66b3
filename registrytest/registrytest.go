// Package registrytest provides a helper to run an isolated,
// in-process bus for tests, mirroring the shape (not the content) of
// danderson-dbus/dbustest: a New(t) constructor that registers its own
// teardown via t.Cleanup, so tests of package kdbus never need a real
// transport.
package registrytest

import (
	"testing"

	"github.com/danderson/kdbus"
	"github.com/danderson/kdbus/endpoint"
)

// Bus is an isolated in-process kdbus instance for tests.
type Bus struct {
	t  *testing.T
	b  *kdbus.Bus
	ep *endpoint.Endpoint
}

// New creates a bus named name and connects it to a default "bus"
// endpoint, cleaning both up when the calling test finishes.
func New(t *testing.T, name string) *Bus {
	t.Helper()
	b, err := kdbus.NewBus(name)
	if err != nil {
		t.Fatalf("registrytest.New: %v", err)
	}
	ep, ok := b.FindEndpoint("bus")
	if !ok {
		t.Fatalf("registrytest.New: default endpoint missing")
	}
	ret := &Bus{t: t, b: b, ep: ep}
	t.Cleanup(ret.close)
	return ret
}

func (b *Bus) close() {
	b.b.Close()
}

// Bus returns the underlying kdbus.Bus.
func (b *Bus) Bus() *kdbus.Bus { return b.b }

// Endpoint returns the default "bus" endpoint connections attach
// through.
func (b *Bus) Endpoint() *endpoint.Endpoint { return b.ep }

// Connect creates and returns a new connection on the default
// endpoint, with zero credentials, cleaning it up when the calling
// test finishes.
func (b *Bus) Connect() *kdbus.Conn {
	b.t.Helper()
	return b.ConnectAs(kdbus.Creds{}, false)
}

// ConnectAs creates and returns a new connection with the given
// credentials and starter flag.
func (b *Bus) ConnectAs(creds kdbus.Creds, starter bool) *kdbus.Conn {
	b.t.Helper()
	c, err := b.b.Connect(b.ep, creds, starter)
	if err != nil {
		b.t.Fatalf("registrytest: connect: %v", err)
	}
	b.t.Cleanup(func() { c.Close() })
	return c
}
