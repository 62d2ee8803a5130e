// Package state tracks what a single IRC connection knows about the
// network: negotiated capabilities, the server's casemapping and the users
// and channels we share.
//
// A Session is fed tokenized lines through Handle, one at a time. Its
// users and channels are looked up by casefolded name; entities only keep
// folded keys for their relations and resolve them against the session on
// every read.
package state

import (
	"sort"
	"strings"
	"sync"

	"github.com/dalnet/ircstate/internal/caps"
	"github.com/dalnet/ircstate/internal/casemap"
	"github.com/dalnet/ircstate/internal/registry"
)

// DefaultPrefixes is used when the server did not advertise PREFIX.
const DefaultPrefixes = "~&@%+"

// Session is the per-connection context. It owns the capability set and
// both registries; all of them are guarded by mu.
type Session struct {
	mu sync.RWMutex

	nick       string
	registered bool

	mode     casemap.Mode
	features map[string]string // RPL_ISUPPORT tokens
	caps     *caps.Set
	capList  []string // CAP LIST names buffered across continuation lines

	users    *registry.Registry[*User]
	channels *registry.Registry[*Channel]
}

// NewSession returns a session for a connection registering as nick and
// wanting the given capabilities.
func NewSession(nick string, wanted ...string) *Session {
	s := &Session{
		nick:     nick,
		mode:     casemap.Default,
		features: make(map[string]string),
		caps:     caps.New(wanted...),
	}
	s.users = registry.New[*User](s.mode.Fold)
	s.channels = registry.New[*Channel](s.mode.Fold)
	return s
}

// Reset drops everything learned from the server so the session can be
// reused for a new connection. The nickname and the wanted capabilities
// are kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registered = false
	s.mode = casemap.Default
	s.features = make(map[string]string)
	s.caps.Reset()
	s.capList = nil
	s.users = registry.New[*User](s.mode.Fold)
	s.channels = registry.New[*Channel](s.mode.Fold)
}

// Nick returns our current nickname.
func (s *Session) Nick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nick
}

// Registered reports whether RPL_WELCOME has been received.
func (s *Session) Registered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registered
}

func (s *Session) CaseMapping() casemap.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Fold returns the comparison key of name under the current casemapping.
func (s *Session) Fold(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode.Fold(name)
}

// Feature returns an RPL_ISUPPORT token value.
func (s *Session) Feature(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.features[strings.ToUpper(key)]
	return v, ok
}

// IsChannel reports whether name starts with one of the server's channel
// prefixes.
func (s *Session) IsChannel(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isChannel(name)
}

func (s *Session) isChannel(name string) bool {
	chantypes, ok := s.features["CHANTYPES"]
	if !ok {
		chantypes = "#&"
	}
	return name != "" && strings.IndexByte(chantypes, name[0]) >= 0
}

// WithCaps runs fn with exclusive access to the capability set.
func (s *Session) WithCaps(fn func(*caps.Set)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.caps)
}

// ToEnable returns the capabilities to put in CAP REQ.
func (s *Session) ToEnable() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps.ToEnable()
}

// PendingCaps returns the wanted capabilities that are advertised but not
// enabled yet, for re-requesting after CAP NEW.
func (s *Session) PendingCaps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps.Pending()
}

// HasCap reports whether name has been acknowledged by the server.
func (s *Session) HasCap(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps.IsEnabled(name)
}

func (s *Session) EnabledCaps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps.Enabled()
}

func (s *Session) AvailableCaps() map[string]caps.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps.Available()
}

func (s *Session) WantedCaps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps.Wanted()
}

// User returns the known user with the given nick, or nil.
func (s *Session) User(nick string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.users.Lookup(nick); ok {
		return rec.Value
	}
	return nil
}

// Channel returns the joined channel with the given name, or nil.
func (s *Session) Channel(name string) *Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.channels.Lookup(name); ok {
		return rec.Value
	}
	return nil
}

// Users returns all known users ordered by folded nick.
func (s *Session) Users() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]*User, 0, s.users.Len())
	s.users.Each(func(_ string, rec registry.Record[*User]) {
		users = append(users, rec.Value)
	})
	return users
}

// Channels returns all joined channels ordered by folded name.
func (s *Session) Channels() []*Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels := make([]*Channel, 0, s.channels.Len())
	s.channels.Each(func(_ string, rec registry.Record[*Channel]) {
		channels = append(channels, rec.Value)
	})
	return channels
}

// Dangling counts membership keys, on either side, that do not resolve to
// a registered entity. Views omit such keys; this lets the transport
// report the lag.
func (s *Session) Dangling() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	s.users.Each(func(_ string, rec registry.Record[*User]) {
		for key := range rec.Value.channels {
			if _, ok := s.channels.Resolve(key); !ok {
				n++
			}
		}
	})
	s.channels.Each(func(_ string, rec registry.Record[*Channel]) {
		for key := range rec.Value.members {
			if _, ok := s.users.Resolve(key); !ok {
				n++
			}
		}
	})
	return n
}

// setCaseMapping switches the fold function and re-keys both registries
// and every membership set. Must be called with mu held.
func (s *Session) setCaseMapping(mode casemap.Mode) {
	if mode == s.mode {
		return
	}

	userKeys := rekey(s.users, mode.Fold)
	chanKeys := rekey(s.channels, mode.Fold)

	s.users.Each(func(_ string, rec registry.Record[*User]) {
		rec.Value.channels = remap(rec.Value.channels, chanKeys, mode.Fold)
	})
	s.channels.Each(func(_ string, rec registry.Record[*Channel]) {
		rec.Value.members = remap(rec.Value.members, userKeys, mode.Fold)
	})

	s.mode = mode
	s.users.Refold(mode.Fold)
	s.channels.Refold(mode.Fold)
}

// rekey maps each current key of r to the key its display name gets under
// fold.
func rekey[T any](r *registry.Registry[T], fold func(string) string) map[string]string {
	keys := make(map[string]string, r.Len())
	r.Each(func(key string, rec registry.Record[T]) {
		keys[key] = fold(rec.Name)
	})
	return keys
}

func remap[V any](set map[string]V, keys map[string]string, fold func(string) string) map[string]V {
	out := make(map[string]V, len(set))
	for old, v := range set {
		if key, ok := keys[old]; ok {
			out[key] = v
		} else {
			out[fold(old)] = v
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
