package registry

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind classifies the error conditions the registry can surface. It
// mirrors the error kinds of the system this registry reimplements,
// not a specific Go sentinel value.
type Kind int

const (
	// InvalidName means the requested name failed [validate.Name].
	InvalidName Kind = iota + 1
	// QuotaExceeded means the acting connection already owns
	// MaxNamesPerConnection names.
	QuotaExceeded
	// NameTaken means the name has an owner that does not allow
	// replacement, and the caller did not ask to queue.
	NameTaken
	// NotPermitted means the acting connection has no stake in the
	// name it tried to release, or lacks the privilege to act on
	// behalf of another connection.
	NotPermitted
	// NotFound means the name has no entry in the registry.
	NotFound
	// AlreadyOwned means the acting connection already owns the name.
	// Not fatal: the flags update implied by the request still takes
	// effect. [Registry.Acquire] does not return this kind; it reports
	// the case as a nil error with Status [AlreadyOwner].
	AlreadyOwned
	// OutOfMemory means an allocation needed to complete the
	// operation could not be satisfied.
	OutOfMemory
)

func (k Kind) String() string {
	switch k {
	case InvalidName:
		return "invalid name"
	case QuotaExceeded:
		return "quota exceeded"
	case NameTaken:
		return "name taken"
	case NotPermitted:
		return "not permitted"
	case NotFound:
		return "not found"
	case AlreadyOwned:
		return "already owned"
	case OutOfMemory:
		return "out of memory"
	default:
		return fmt.Sprintf("unknown error kind %d", int(k))
	}
}

// Errno returns the errno value this Kind corresponds to in the
// system this registry reimplements, for collaborators (e.g. an
// ioctl shim) that need a stable numeric error contract.
func (k Kind) Errno() unix.Errno {
	switch k {
	case InvalidName:
		return unix.EINVAL
	case QuotaExceeded:
		return unix.E2BIG
	case NameTaken:
		return unix.EEXIST
	case NotPermitted:
		return unix.EPERM
	case NotFound:
		return unix.ESRCH
	case AlreadyOwned:
		return unix.EALREADY
	case OutOfMemory:
		return unix.ENOMEM
	default:
		return 0
	}
}

// Error is the error type returned by registry operations that fail.
type Error struct {
	Kind Kind
	Name string
}

func (e *Error) Error() string {
	if e.Name == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %q", e.Kind.String(), e.Name)
}

// Is reports whether target is an *Error with the same Kind,
// regardless of Name, so callers can write errors.Is(err,
// &registry.Error{Kind: registry.NameTaken}).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}
