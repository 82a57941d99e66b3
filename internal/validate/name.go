// Package validate checks well-known bus names for syntactic validity.
package validate

// MaxNameLength is the longest a well-known name may be.
const MaxNameLength = 255

// Name reports whether name is a syntactically valid well-known bus
// name: one or more dot-separated elements, each non-empty, drawn from
// [A-Za-z0-9_-], with no element starting with a digit, no leading or
// trailing dot, and at least one dot overall.
func Name(name string) bool {
	if len(name) == 0 || len(name) > MaxNameLength {
		return false
	}

	dot := true // true at the start of an element
	foundDot := false
	for _, r := range name {
		if r == '.' {
			if dot {
				// empty element, or leading dot
				return false
			}
			foundDot = true
			dot = true
			continue
		}

		good := isAlpha(r) || (!dot && isDigit(r)) || r == '_' || r == '-'
		if !good {
			return false
		}
		dot = false
	}

	if dot {
		// trailing dot, or the whole name was empty
		return false
	}
	return foundDot
}

func isAlpha(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
