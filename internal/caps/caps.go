// Package caps keeps the client side bookkeeping of IRCv3 capability
// negotiation.
//
// A Set is passive: it records what the server advertises and acknowledges,
// and computes the list of capabilities to request. Deciding when to send
// CAP REQ or CAP END is up to the transport.
package caps

import (
	"sort"
	"strings"
)

// Phase is the negotiation step a Set has been driven to.
type Phase int

const (
	Start Phase = iota
	LSPending
	REQSent
	Done
)

func (p Phase) String() string {
	switch p {
	case LSPending:
		return "ls-pending"
	case REQSent:
		return "req-sent"
	case Done:
		return "done"
	default:
		return "start"
	}
}

// Value is what a server advertises for a capability: either an argument
// (sasl=PLAIN,EXTERNAL) or bare presence (multi-prefix).
type Value struct {
	Arg    string
	HasArg bool
}

func (v Value) String() string {
	if v.HasArg {
		return v.Arg
	}
	return "true"
}

// Token is one entry of a CAP LS/NEW/DEL list.
type Token struct {
	Name  string
	Value Value
}

// Set tracks available, wanted and enabled capabilities for one connection.
// It is not safe for concurrent use.
type Set struct {
	available map[string]Value
	wanted    []string
	enabled   map[string]struct{}
	phase     Phase
}

// New returns a Set that wants the given capabilities, in preference order.
func New(wanted ...string) *Set {
	s := &Set{
		available: make(map[string]Value),
		wanted:    make([]string, 0, len(wanted)),
		enabled:   make(map[string]struct{}),
	}
	s.Want(wanted...)
	return s
}

// Want appends capabilities to the wanted list, skipping duplicates.
func (s *Set) Want(names ...string) {
	for _, name := range names {
		if name == "" || s.wants(name) {
			continue
		}
		s.wanted = append(s.wanted, name)
	}
}

func (s *Set) wants(name string) bool {
	for _, w := range s.wanted {
		if w == name {
			return true
		}
	}
	return false
}

// ParseTokens splits a space separated capability list. Empty tokens are
// skipped. A single leading '=' is dropped, and the name ends at the last
// '=' so that values never leak into names.
func ParseTokens(list string) []Token {
	var tokens []Token
	for _, tok := range strings.Split(list, " ") {
		tok = strings.TrimPrefix(tok, "=")
		if tok == "" {
			continue
		}

		var t Token
		if i := strings.LastIndexByte(tok, '='); i >= 0 {
			t.Name = tok[:i]
			t.Value = Value{Arg: tok[i+1:], HasArg: true}
		} else {
			t.Name = tok
		}
		if t.Name == "" {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// Ingest records one CAP reply. subcommand is case insensitive; params
// holds the arguments after it, with params[0] the capability list. The
// "*" continuation marker of multiline replies must already be stripped.
// Malformed input is ignored.
func (s *Set) Ingest(subcommand string, params []string) {
	if len(params) == 0 {
		return
	}
	list := params[0]

	switch strings.ToUpper(subcommand) {
	case "LS":
		if s.phase == Start {
			s.phase = LSPending
		}
		s.merge(list)
	case "NEW":
		s.merge(list)
	case "DEL":
		for _, t := range ParseTokens(list) {
			delete(s.available, t.Name)
			delete(s.enabled, t.Name)
		}
	case "ACK":
		for _, name := range strings.Fields(list) {
			if strings.HasPrefix(name, "-") {
				delete(s.enabled, name[1:])
				continue
			}
			if _, ok := s.available[name]; ok {
				s.enabled[name] = struct{}{}
			}
		}
	case "LIST":
		s.enabled = make(map[string]struct{})
		for _, name := range strings.Fields(list) {
			if _, ok := s.available[name]; ok {
				s.enabled[name] = struct{}{}
			}
		}
	case "NAK":
		// the server refused the whole request, nothing changes
	}
}

func (s *Set) merge(list string) {
	for _, t := range ParseTokens(list) {
		s.available[t.Name] = t.Value
	}
}

// ToEnable returns the wanted capabilities the server advertises, in wanted
// order. This is the CAP REQ list.
func (s *Set) ToEnable() []string {
	l := make([]string, 0, len(s.wanted))
	for _, name := range s.wanted {
		if _, ok := s.available[name]; ok {
			l = append(l, name)
		}
	}
	return l
}

// Pending is ToEnable minus the capabilities that are already enabled.
func (s *Set) Pending() []string {
	var l []string
	for _, name := range s.ToEnable() {
		if _, ok := s.enabled[name]; !ok {
			l = append(l, name)
		}
	}
	return l
}

// Get returns the advertised value of key, or def if the server did not
// advertise it.
func (s *Set) Get(key string, def Value) Value {
	if v, ok := s.available[key]; ok {
		return v
	}
	return def
}

// Has reports whether the server advertises key.
func (s *Set) Has(key string) bool {
	_, ok := s.available[key]
	return ok
}

// IsEnabled reports whether the server acknowledged name.
func (s *Set) IsEnabled(name string) bool {
	_, ok := s.enabled[name]
	return ok
}

// Available returns a copy of the advertised capabilities.
func (s *Set) Available() map[string]Value {
	m := make(map[string]Value, len(s.available))
	for k, v := range s.available {
		m[k] = v
	}
	return m
}

// Enabled returns the acknowledged capabilities, sorted.
func (s *Set) Enabled() []string {
	l := make([]string, 0, len(s.enabled))
	for name := range s.enabled {
		l = append(l, name)
	}
	sort.Strings(l)
	return l
}

// Wanted returns a copy of the wanted list.
func (s *Set) Wanted() []string {
	return append([]string(nil), s.wanted...)
}

func (s *Set) Phase() Phase { return s.phase }

func (s *Set) MarkLSSent() { s.phase = LSPending }

func (s *Set) MarkREQSent() { s.phase = REQSent }

func (s *Set) MarkEnd() { s.phase = Done }

// Reset forgets everything the server told us, keeping the wanted list.
// Used on reconnect.
func (s *Set) Reset() {
	s.available = make(map[string]Value)
	s.enabled = make(map[string]struct{})
	s.phase = Start
}
