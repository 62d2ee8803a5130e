package casemap

import "strings"

// Mode is a server casemapping, as advertised by the CASEMAPPING token
// of RPL_ISUPPORT.
type Mode int

const (
	RFC1459 Mode = iota
	ASCII
	StrictRFC1459
)

// Default is the casemapping assumed until the server advertises one.
const Default = RFC1459

// ParseMode returns the Mode named by an ISUPPORT CASEMAPPING value.
func ParseMode(token string) (Mode, bool) {
	switch strings.ToLower(token) {
	case "ascii":
		return ASCII, true
	case "rfc1459":
		return RFC1459, true
	case "strict-rfc1459", "rfc1459-strict":
		return StrictRFC1459, true
	}
	return Default, false
}

func (m Mode) String() string {
	switch m {
	case ASCII:
		return "ascii"
	case StrictRFC1459:
		return "strict-rfc1459"
	default:
		return "rfc1459"
	}
}

// Fold returns the comparison key of name under m.
func (m Mode) Fold(name string) string {
	return Fold(name, m)
}

// Fold returns the comparison key of name under the given casemapping.
// Two names refer to the same nick or channel iff their folded forms are
// equal.
func Fold(name string, m Mode) string {
	var lower func(rune) rune
	switch m {
	case ASCII:
		lower = asciiToLower
	case StrictRFC1459:
		lower = strictRFC1459ToLower
	default:
		lower = rfc1459ToLower
	}

	// avoid allocating for names that are already folded
	for _, r := range name {
		if lower(r) != r {
			return strings.Map(lower, name)
		}
	}
	return name
}

// A-Z
func asciiToLower(r rune) rune {
	if 'A' <= r && r <= 'Z' {
		return r + 32
	}
	return r
}

// A-Z [ \ ]
func strictRFC1459ToLower(r rune) rune {
	if 'A' <= r && r <= ']' {
		return r + 32
	}
	return r
}

// A-Z [ \ ] ~
func rfc1459ToLower(r rune) rune {
	if r == '~' {
		return '^'
	}
	return strictRFC1459ToLower(r)
}
