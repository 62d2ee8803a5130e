package state

import (
	"github.com/dalnet/ircstate/internal/nickmask"
)

// User is a user we know about, either ourselves or someone sharing a
// channel with us. It belongs to the Session that created it.
type User struct {
	s *Session

	mask     nickmask.Mask
	account  string
	realname string
	channels map[string]struct{} // folded channel names
}

func newUser(s *Session, mask nickmask.Mask) *User {
	return &User{
		s:        s,
		mask:     mask,
		channels: make(map[string]struct{}),
	}
}

// Nick returns the user's nick as last seen.
func (u *User) Nick() string {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return u.mask.Nick
}

// Mask returns the user's nick, username and hostname. Username and
// hostname are empty until the server tells us.
func (u *User) Mask() nickmask.Mask {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return u.mask
}

// Account returns the services account the user is logged into, if known.
func (u *User) Account() string {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return u.account
}

func (u *User) RealName() string {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return u.realname
}

// Channels resolves the user's channels against the session. The slice is
// built on every call. Names that no longer resolve are left out.
func (u *User) Channels() []*Channel {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	channels := make([]*Channel, 0, len(u.channels))
	for _, key := range sortedKeys(u.channels) {
		if rec, ok := u.s.channels.Resolve(key); ok {
			channels = append(channels, rec.Value)
		}
	}
	return channels
}

// SetChannels replaces the user's channel set with names.
func (u *User) SetChannels(names ...string) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	u.channels = make(map[string]struct{}, len(names))
	for _, name := range names {
		u.channels[u.s.channels.Key(name)] = struct{}{}
	}
}

// Channel is a channel we have joined. It belongs to the Session that
// created it.
type Channel struct {
	s *Session

	name    string
	topic   string
	members map[string]string // folded nick -> membership prefixes
}

func newChannel(s *Session, name string) *Channel {
	return &Channel{
		s:       s,
		name:    name,
		members: make(map[string]string),
	}
}

// Name returns the channel name as last seen.
func (c *Channel) Name() string {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	return c.name
}

func (c *Channel) Topic() string {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	return c.topic
}

// Users resolves the channel members against the session, keyed by folded
// nick. The map is built on every call. Nicks that no longer resolve are
// left out.
func (c *Channel) Users() map[string]*User {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	users := make(map[string]*User, len(c.members))
	for key := range c.members {
		if rec, ok := c.s.users.Resolve(key); ok {
			users[key] = rec.Value
		}
	}
	return users
}

// SetUsers replaces the member set with nicks. Membership prefixes are
// cleared.
func (c *Channel) SetUsers(nicks ...string) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	c.members = make(map[string]string, len(nicks))
	for _, nick := range nicks {
		c.members[c.s.users.Key(nick)] = ""
	}
}

// Prefix returns the membership prefixes (such as "@" or "@+") of nick in
// the channel, and whether nick is a member.
func (c *Channel) Prefix(nick string) (string, bool) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	p, ok := c.members[c.s.users.Key(nick)]
	return p, ok
}
