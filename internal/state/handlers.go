package state

import (
	"strings"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/dalnet/ircstate/internal/casemap"
	"github.com/dalnet/ircstate/internal/nickmask"
)

// IRC replies the session looks at.
const (
	rplWelcome  = "001"
	rplIsupport = "005"
	rplTopic    = "332"
	rplNamreply = "353"
	rplNotopic  = "331"
)

// Handle updates the session from one server line. Lines with missing
// parameters are ignored. Handle never fails: a garbled line must not
// cost us the connection.
func (s *Session) Handle(msg ircmsg.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	command := strings.ToUpper(msg.Command)
	var src nickmask.Mask
	if msg.Source != "" {
		src = nickmask.Parse(msg.Source)
		if src.IsServer() {
			// lines from the server itself are not about any user
			src = nickmask.Mask{}
		}
		s.refreshMask(src)
	}

	switch command {
	case "CAP":
		s.handleCAP(msg.Params)
	case rplWelcome:
		if len(msg.Params) < 1 {
			return
		}
		s.nick = msg.Params[0]
		s.registered = true
		s.upsertUser(nickmask.Mask{Nick: s.nick})
	case rplIsupport:
		if len(msg.Params) < 3 {
			return
		}
		s.updateFeatures(msg.Params[1 : len(msg.Params)-1])
	case "JOIN":
		if len(msg.Params) < 1 || src.Nick == "" {
			return
		}
		s.join(src, msg.Params)
	case "PART":
		if len(msg.Params) < 1 || src.Nick == "" {
			return
		}
		for _, name := range strings.Split(msg.Params[0], ",") {
			s.part(src.Nick, name)
		}
	case "KICK":
		if len(msg.Params) < 2 {
			return
		}
		s.part(msg.Params[1], msg.Params[0])
	case "QUIT":
		if src.Nick == "" {
			return
		}
		s.quit(src.Nick)
	case "NICK":
		if len(msg.Params) < 1 || src.Nick == "" {
			return
		}
		s.rename(src.Nick, msg.Params[0])
	case rplNamreply:
		if len(msg.Params) < 4 {
			return
		}
		s.names(msg.Params[2], msg.Params[3])
	case rplTopic:
		if len(msg.Params) < 3 {
			return
		}
		s.setTopic(msg.Params[1], msg.Params[2])
	case rplNotopic:
		if len(msg.Params) < 2 {
			return
		}
		s.setTopic(msg.Params[1], "")
	case "TOPIC":
		if len(msg.Params) < 2 {
			return
		}
		s.setTopic(msg.Params[0], msg.Params[1])
	case "CHGHOST":
		if len(msg.Params) < 2 || src.Nick == "" {
			return
		}
		if rec, ok := s.users.Lookup(src.Nick); ok {
			rec.Value.mask.User = msg.Params[0]
			rec.Value.mask.Host = msg.Params[1]
		}
	case "ACCOUNT":
		if len(msg.Params) < 1 || src.Nick == "" {
			return
		}
		if rec, ok := s.users.Lookup(src.Nick); ok {
			rec.Value.account = account(msg.Params[0])
		}
	case "SETNAME":
		if len(msg.Params) < 1 || src.Nick == "" {
			return
		}
		if rec, ok := s.users.Lookup(src.Nick); ok {
			rec.Value.realname = msg.Params[0]
		}
	}
}

// handleCAP takes the params of a CAP line: target, subcommand, then an
// optional "*" continuation marker before the capability list.
func (s *Session) handleCAP(params []string) {
	if len(params) < 2 {
		return
	}
	sub := strings.ToUpper(params[1])
	rest := params[2:]

	more := len(rest) > 1 && rest[0] == "*"
	if more {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		// "CAP * LS" with no list at all is an empty advertisement
		rest = []string{""}
	}

	if sub == "LIST" {
		s.capList = append(s.capList, strings.Fields(rest[len(rest)-1])...)
		if more {
			return
		}
		rest = []string{strings.Join(s.capList, " ")}
		s.capList = nil
	}

	s.caps.Ingest(sub, rest[len(rest)-1:])
}

// refreshMask fills in the username and hostname of a known user from a
// message source.
func (s *Session) refreshMask(src nickmask.Mask) {
	if src.User == "" && src.Host == "" {
		return
	}
	rec, ok := s.users.Lookup(src.Nick)
	if !ok {
		return
	}
	if src.User != "" {
		rec.Value.mask.User = src.User
	}
	if src.Host != "" {
		rec.Value.mask.Host = src.Host
	}
}

func (s *Session) upsertUser(mask nickmask.Mask) *User {
	_, u := s.users.Upsert(mask.Nick, func(string) *User {
		return newUser(s, mask)
	})
	u.mask.Nick = mask.Nick
	if mask.User != "" {
		u.mask.User = mask.User
	}
	if mask.Host != "" {
		u.mask.Host = mask.Host
	}
	return u
}

func (s *Session) isSelf(nick string) bool {
	return s.mode.Fold(nick) == s.mode.Fold(s.nick)
}

// join handles JOIN, including the extended-join form
// "JOIN <channel> <account> :<realname>".
func (s *Session) join(src nickmask.Mask, params []string) {
	name := params[0]
	self := s.isSelf(src.Nick)

	var ch *Channel
	if self {
		_, ch = s.channels.Upsert(name, func(string) *Channel {
			return newChannel(s, name)
		})
		ch.name = name
	} else if rec, ok := s.channels.Lookup(name); ok {
		ch = rec.Value
	} else {
		return
	}

	u := s.upsertUser(src)
	if len(params) >= 3 {
		u.account = account(params[1])
		u.realname = params[2]
	}

	chanKey := s.channels.Key(name)
	nickKey := s.users.Key(src.Nick)
	u.channels[chanKey] = struct{}{}
	if _, ok := ch.members[nickKey]; !ok {
		ch.members[nickKey] = ""
	}
}

// part removes nick from channel name, for PART and KICK.
func (s *Session) part(nick, name string) {
	rec, ok := s.channels.Lookup(name)
	if !ok {
		return
	}
	ch := rec.Value
	chanKey := s.channels.Key(name)

	if s.isSelf(nick) {
		s.channels.Remove(chanKey)
		for nickKey := range ch.members {
			if urec, ok := s.users.Resolve(nickKey); ok {
				delete(urec.Value.channels, chanKey)
				s.cleanUser(nickKey, urec.Value)
			}
		}
		return
	}

	nickKey := s.users.Key(nick)
	delete(ch.members, nickKey)
	if urec, ok := s.users.Resolve(nickKey); ok {
		delete(urec.Value.channels, chanKey)
		s.cleanUser(nickKey, urec.Value)
	}
}

func (s *Session) quit(nick string) {
	nickKey := s.users.Key(nick)
	rec, ok := s.users.Resolve(nickKey)
	if !ok {
		return
	}
	for chanKey := range rec.Value.channels {
		if crec, ok := s.channels.Resolve(chanKey); ok {
			delete(crec.Value.members, nickKey)
		}
	}
	s.users.Remove(nickKey)
}

// cleanUser forgets a user that no longer shares a channel with us.
func (s *Session) cleanUser(key string, u *User) {
	if len(u.channels) != 0 || s.isSelf(u.mask.Nick) {
		return
	}
	s.users.Remove(key)
}

func (s *Session) rename(from, to string) {
	oldKey := s.users.Key(from)
	newKey := s.users.Key(to)
	self := s.isSelf(from)

	if rec, ok := s.users.Resolve(oldKey); ok {
		s.users.Rename(from, to)
		rec.Value.mask.Nick = to
		if oldKey != newKey {
			for chanKey := range rec.Value.channels {
				if crec, ok := s.channels.Resolve(chanKey); ok {
					prefix := crec.Value.members[oldKey]
					delete(crec.Value.members, oldKey)
					crec.Value.members[newKey] = prefix
				}
			}
		}
	}

	if self {
		s.nick = to
	}
}

// names handles one RPL_NAMREPLY line. Entries may carry several
// prefixes (multi-prefix) and a full mask (userhost-in-names).
func (s *Session) names(channel, list string) {
	rec, ok := s.channels.Lookup(channel)
	if !ok {
		return
	}
	ch := rec.Value
	chanKey := s.channels.Key(channel)
	prefixes := s.prefixes()

	for _, entry := range strings.Split(list, " ") {
		if entry == "" {
			continue
		}
		raw := strings.TrimLeft(entry, prefixes)
		if raw == "" {
			continue
		}
		mask := nickmask.Parse(raw)
		u := s.upsertUser(mask)
		nickKey := s.users.Key(mask.Nick)
		u.channels[chanKey] = struct{}{}
		ch.members[nickKey] = entry[:len(entry)-len(raw)]
	}
}

func (s *Session) setTopic(channel, topic string) {
	if rec, ok := s.channels.Lookup(channel); ok {
		rec.Value.topic = topic
	}
}

// prefixes returns the membership prefix characters from PREFIX=(modes)prefixes.
func (s *Session) prefixes() string {
	p, ok := s.features["PREFIX"]
	if !ok {
		return DefaultPrefixes
	}
	if i := strings.IndexByte(p, ')'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// updateFeatures applies RPL_ISUPPORT tokens. "-KEY" removes a token.
func (s *Session) updateFeatures(tokens []string) {
	for _, f := range tokens {
		if f == "" || f == "-" || f == "=" || f == "-=" {
			continue
		}

		add := true
		if strings.HasPrefix(f, "-") {
			add = false
			f = f[1:]
		}

		key, value, _ := strings.Cut(f, "=")
		key = strings.ToUpper(key)

		if !add {
			delete(s.features, key)
			if key == "CASEMAPPING" {
				s.setCaseMapping(casemap.Default)
			}
			continue
		}

		s.features[key] = value
		if key == "CASEMAPPING" {
			if mode, ok := casemap.ParseMode(value); ok {
				s.setCaseMapping(mode)
			}
		}
	}
}

func account(param string) string {
	if param == "*" {
		return ""
	}
	return param
}
