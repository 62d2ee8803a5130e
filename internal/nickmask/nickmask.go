// Package nickmask parses the nick!user@host source prefix IRC servers
// attach to messages.
package nickmask

import "strings"

// Mask is a parsed nickmask. User and Host are empty when absent.
type Mask struct {
	Nick string
	User string
	Host string
}

// Parse splits raw into its nick, user and host parts. It never fails:
// input it cannot make sense of ends up in Nick.
func Parse(raw string) Mask {
	var m Mask

	rest := raw
	if i := strings.IndexByte(rest, '!'); i >= 0 {
		m.Nick = rest[:i]
		rest = rest[i+1:]
		if j := strings.IndexByte(rest, '@'); j >= 0 {
			m.User = rest[:j]
			m.Host = rest[j+1:]
		} else {
			m.User = rest
		}
		return m
	}

	if i := strings.IndexByte(rest, '@'); i >= 0 {
		m.Nick = rest[:i]
		m.Host = rest[i+1:]
		return m
	}

	m.Nick = rest
	return m
}

// String renders the mask back to nick[!user][@host] form.
func (m Mask) String() string {
	var sb strings.Builder
	sb.Grow(len(m.Nick) + len(m.User) + len(m.Host) + 2)
	sb.WriteString(m.Nick)
	if m.User != "" {
		sb.WriteByte('!')
		sb.WriteString(m.User)
	}
	if m.Host != "" {
		sb.WriteByte('@')
		sb.WriteString(m.Host)
	}
	return sb.String()
}

// IsServer reports whether the mask looks like a server name rather than a
// user, i.e. it has no user or host part and contains a dot.
func (m Mask) IsServer() bool {
	return m.User == "" && m.Host == "" && strings.ContainsRune(m.Nick, '.')
}
