package registry

// Flags are the ownership policy bits attached to a name acquisition
// request and, once acquired, to the resulting [Entry].
type Flags uint32

const (
	// AllowReplacement marks an owned name as yieldable: a future
	// acquire with ReplaceExisting set may take it over.
	AllowReplacement Flags = 1 << iota
	// ReplaceExisting requests that the caller take over the name from
	// its current owner. It only has effect if the incumbent's flags
	// include AllowReplacement.
	ReplaceExisting
	// Queue indicates the caller is willing to wait its turn if the
	// name is already owned and cannot be replaced. Set on an owner's
	// own flags, it also causes that owner to be pushed onto the
	// waiter queue if it is later displaced by a replacement.
	Queue
	// InQueue is output-only: the registry sets it on the flags
	// returned to a caller that was enqueued rather than made owner.
	// It is never stored on an Entry.
	InQueue
)

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, b := range []struct {
		bit  Flags
		name string
	}{
		{AllowReplacement, "ALLOW_REPLACEMENT"},
		{ReplaceExisting, "REPLACE_EXISTING"},
		{Queue, "QUEUE"},
		{InQueue, "IN_QUEUE"},
	} {
		if f&b.bit != 0 {
			parts = append(parts, b.name)
		}
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "|" + p
	}
	return out
}
