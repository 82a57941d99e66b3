// Command kdbusctl exercises the name registry and endpoint lifecycle
// from the command line, against a fresh in-process bus built for
// each invocation. There is no real daemon or transport behind it (see
// SPEC_FULL.md's Non-goals): every subcommand builds whatever
// connections it needs, runs the operation it demonstrates, and prints
// the resulting state.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/danderson/kdbus"
	"github.com/danderson/kdbus/registry"
	"github.com/kr/pretty"
)

var globalArgs struct {
	BusName string `flag:"bus,Name of the demo bus to create"`
}

var acquireArgs struct {
	AllowReplacement bool `flag:"allow-replacement,Set ALLOW_REPLACEMENT on the acquired name"`
	ReplaceExisting  bool `flag:"replace-existing,Set REPLACE_EXISTING on the acquisition"`
	Queue            bool `flag:"queue,Set QUEUE on the acquisition"`
}

func main() {
	root := &command.C{
		Name:     "kdbusctl",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Commands: []*command.C{
			{
				Name:     "acquire",
				Usage:    "acquire name",
				Help:     "Acquire a well-known name on a single fresh connection.",
				SetFlags: command.Flags(flax.MustBind, &acquireArgs),
				Run:      command.Adapt(runAcquire),
			},
			{
				Name:  "replace",
				Usage: "replace name",
				Help: `Demonstrate name replacement.

Creates two connections: the first acquires name with ALLOW_REPLACEMENT
(and QUEUE, if --queue-incumbent is set), then the second replaces it
with REPLACE_EXISTING. Prints the registry state after each step.`,
				SetFlags: command.Flags(flax.MustBind, &replaceArgs),
				Run:      command.Adapt(runReplace),
			},
			{
				Name:  "release",
				Usage: "release name",
				Help:  "Acquire a name on one connection, then release it, printing both states.",
				Run:   command.Adapt(runRelease),
			},
			{
				Name:  "list",
				Usage: "list",
				Help:  "List the names and peers on a bus seeded with a couple of demo connections.",
				Run:   command.Adapt(runList),
			},
			{
				Name:  "purge",
				Usage: "purge name",
				Help:  "Acquire a name, then purge the owning connection, printing the registry before and after.",
				Run:   command.Adapt(runPurge),
			},
			{
				Name:  "endpoint",
				Usage: "endpoint args...",
				Commands: []*command.C{
					{
						Name:  "create",
						Usage: "endpoint create name",
						Help:  "Create an endpoint on a fresh bus.",
						Run:   command.Adapt(runEndpointCreate),
					},
					{
						Name:  "disconnect",
						Usage: "endpoint disconnect name",
						Help:  "Create then disconnect an endpoint, printing its state before and after.",
						Run:   command.Adapt(runEndpointDisconnect),
					},
				},
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func newDemoBus() (*kdbus.Bus, error) {
	name := globalArgs.BusName
	if name == "" {
		name = "demo"
	}
	return kdbus.NewBus(name)
}

func runAcquire(env *command.Env, name string) error {
	bus, err := newDemoBus()
	if err != nil {
		return fmt.Errorf("creating bus: %w", err)
	}
	defer bus.Close()

	ep, _ := bus.FindEndpoint("bus")
	conn, err := bus.Connect(ep, kdbus.Creds{}, false)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	flags := acquireFlags()
	res, err := bus.Registry().Acquire(conn, name, flags)
	if err != nil {
		return fmt.Errorf("acquiring %q: %w", name, err)
	}
	pretty.Println(res)
	return nil
}

func acquireFlags() registry.Flags {
	var f registry.Flags
	if acquireArgs.AllowReplacement {
		f |= registry.AllowReplacement
	}
	if acquireArgs.ReplaceExisting {
		f |= registry.ReplaceExisting
	}
	if acquireArgs.Queue {
		f |= registry.Queue
	}
	return f
}

var replaceArgs struct {
	QueueIncumbent bool `flag:"queue-incumbent,Set QUEUE on the first connection's acquisition"`
}

func runReplace(env *command.Env, name string) error {
	bus, err := newDemoBus()
	if err != nil {
		return fmt.Errorf("creating bus: %w", err)
	}
	defer bus.Close()

	ep, _ := bus.FindEndpoint("bus")
	incumbent, err := bus.Connect(ep, kdbus.Creds{}, false)
	if err != nil {
		return fmt.Errorf("connecting incumbent: %w", err)
	}
	replacer, err := bus.Connect(ep, kdbus.Creds{}, false)
	if err != nil {
		return fmt.Errorf("connecting replacer: %w", err)
	}

	flags := registry.AllowReplacement
	if replaceArgs.QueueIncumbent {
		flags |= registry.Queue
	}
	first, err := bus.Registry().Acquire(incumbent, name, flags)
	if err != nil {
		return fmt.Errorf("incumbent acquire: %w", err)
	}
	fmt.Println("after incumbent acquire:")
	pretty.Println(first)

	second, err := bus.Registry().Acquire(replacer, name, registry.ReplaceExisting)
	if err != nil {
		return fmt.Errorf("replacer acquire: %w", err)
	}
	fmt.Println("after replacement:")
	pretty.Println(second)
	return nil
}

func runRelease(env *command.Env, name string) error {
	bus, err := newDemoBus()
	if err != nil {
		return fmt.Errorf("creating bus: %w", err)
	}
	defer bus.Close()

	ep, _ := bus.FindEndpoint("bus")
	conn, err := bus.Connect(ep, kdbus.Creds{}, false)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	res, err := bus.Registry().Acquire(conn, name, 0)
	if err != nil {
		return fmt.Errorf("acquiring %q: %w", name, err)
	}
	fmt.Println("after acquire:")
	pretty.Println(res)

	status, err := bus.Registry().Release(conn, res.Entry)
	if err != nil {
		return fmt.Errorf("releasing %q: %w", name, err)
	}
	fmt.Println("after release:", status)
	_, ok := bus.Registry().Lookup(name)
	fmt.Println("entry still present:", ok)
	return nil
}

func runList(env *command.Env) error {
	bus, err := newDemoBus()
	if err != nil {
		return fmt.Errorf("creating bus: %w", err)
	}
	defer bus.Close()

	ep, _ := bus.FindEndpoint("bus")
	c1, err := bus.Connect(ep, kdbus.Creds{}, false)
	if err != nil {
		return fmt.Errorf("connecting c1: %w", err)
	}
	c2, err := bus.Connect(ep, kdbus.Creds{}, false)
	if err != nil {
		return fmt.Errorf("connecting c2: %w", err)
	}
	if _, err := bus.Registry().Acquire(c1, "com.example.One", 0); err != nil {
		return fmt.Errorf("acquiring com.example.One: %w", err)
	}
	if _, err := bus.Registry().Acquire(c2, "com.example.Two", registry.Queue); err != nil {
		return fmt.Errorf("acquiring com.example.Two: %w", err)
	}

	pool := kdbus.NewPool()
	off, size, err := bus.Registry().List(pool, bus.Peers(), registry.ListFilter{
		Unique: true,
		Names:  true,
	})
	if err != nil {
		return fmt.Errorf("listing: %w", err)
	}
	buf, err := pool.Read(off, size)
	if err != nil {
		return fmt.Errorf("reading list buffer: %w", err)
	}
	fmt.Printf("list buffer: %d bytes\n", len(buf))
	pretty.Println(buf)
	return nil
}

func runPurge(env *command.Env, name string) error {
	bus, err := newDemoBus()
	if err != nil {
		return fmt.Errorf("creating bus: %w", err)
	}
	defer bus.Close()

	ep, _ := bus.FindEndpoint("bus")
	conn, err := bus.Connect(ep, kdbus.Creds{}, false)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	if _, err := bus.Registry().Acquire(conn, name, 0); err != nil {
		return fmt.Errorf("acquiring %q: %w", name, err)
	}
	fmt.Println("before purge: owned =", conn.NameCount())

	bus.Registry().PurgeConnection(conn)
	_, ok := bus.Registry().Lookup(name)
	fmt.Println("after purge: entry present =", ok)
	return nil
}

func runEndpointCreate(env *command.Env, name string) error {
	bus, err := newDemoBus()
	if err != nil {
		return fmt.Errorf("creating bus: %w", err)
	}
	defer bus.Close()

	ep, err := bus.CreateEndpoint(name, 0, 0, 0)
	if err != nil {
		return fmt.Errorf("creating endpoint %q: %w", name, err)
	}
	fmt.Printf("endpoint %q created: id=%d mode=%v\n", ep.Name(), ep.ID(), ep.Mode())
	return nil
}

func runEndpointDisconnect(env *command.Env, name string) error {
	bus, err := newDemoBus()
	if err != nil {
		return fmt.Errorf("creating bus: %w", err)
	}
	defer bus.Close()

	ep, err := bus.CreateEndpoint(name, 0, 0, 0)
	if err != nil {
		return fmt.Errorf("creating endpoint %q: %w", name, err)
	}
	fmt.Println("before disconnect:", ep.Disconnected())
	bus.RemoveEndpoint(ep)
	fmt.Println("after disconnect:", ep.Disconnected())
	return nil
}
