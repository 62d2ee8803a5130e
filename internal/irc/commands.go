package irc

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dalnet/ircstate/internal/casemap"
	"github.com/dalnet/ircstate/internal/state"
)

// handleCommand processes a command sent to us in private
func (c *Client) handleCommand(nick, hostmask, message string) {
	message = strings.TrimSpace(message)
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "!help":
		c.cmdHelp(nick, hostmask, message)
	case "!caps":
		c.cmdCaps(nick, hostmask, message)
	case "!casemap":
		c.cmdCasemap(nick, hostmask, message)
	case "!whois":
		c.cmdWhois(nick, hostmask, message)
	case "!channels":
		c.cmdChannels(nick, hostmask, message)
	case "!users":
		c.cmdUsers(nick, hostmask, message)
	case "!version":
		c.cmdVersion(nick, hostmask, message)
	case "!login", "!su":
		c.cmdLogin(nick, hostmask, message)
	case "!logout":
		c.cmdLogout(nick, hostmask, message)
	case "!join":
		c.cmdJoin(nick, hostmask, message)
	case "!part":
		c.cmdPart(nick, hostmask, message)
	case "!nick":
		c.cmdNick(nick, hostmask, message)
	case "!restart":
		c.cmdRestart(nick, hostmask, message)
	case "!shutdown":
		c.cmdShutdown(nick, hostmask, message)
	}
}

func (c *Client) cmdHelp(nick, hostmask, message string) {
	c.logCommand(hostmask, message)

	c.say(nick, "Available commands:")
	c.say(nick, "!caps - shows advertised, wanted and enabled capabilities")
	c.say(nick, "!casemap [name] - shows the server casemapping, and how it folds a name")
	c.say(nick, "!whois <nick> - shows what I know about a user")
	c.say(nick, "!channels <nick> - shows the channels I share with a user")
	c.say(nick, "!users <channel> - lists the members of a channel I am on")
	c.say(nick, "!version - displays bot version information")

	if c.isAdmin(nick) {
		c.say(nick, " ")
		c.say(nick, "Admin commands:")
		c.say(nick, "!join <channel>")
		c.say(nick, "!part <channel>")
		c.say(nick, "!nick - if you need to change my nick")
		c.say(nick, "!restart")
		c.say(nick, "!shutdown")
		c.say(nick, "!logout")
	}
}

func (c *Client) cmdCaps(nick, hostmask, message string) {
	c.logCommand(hostmask, message)

	available := c.session.AvailableCaps()
	names := make([]string, 0, len(available))
	for name, v := range available {
		if v.HasArg {
			name += "=" + v.Arg
		}
		names = append(names, name)
	}
	sort.Strings(names)

	c.say(nick, fmt.Sprintf("Advertised: %s", orNone(names)))
	c.say(nick, fmt.Sprintf("Wanted: %s", orNone(c.session.WantedCaps())))
	c.say(nick, fmt.Sprintf("Enabled: %s", orNone(c.session.EnabledCaps())))
}

func (c *Client) cmdCasemap(nick, hostmask, message string) {
	c.logCommand(hostmask, message)

	mode := c.session.CaseMapping()
	c.say(nick, fmt.Sprintf("Casemapping is %s", mode))

	parts := strings.Fields(message)
	if len(parts) > 1 {
		name := parts[1]
		c.say(nick, fmt.Sprintf("%s folds to %s (ascii: %s)", name, mode.Fold(name), casemap.ASCII.Fold(name)))
	}
}

func (c *Client) cmdWhois(nick, hostmask, message string) {
	c.logCommand(hostmask, message)

	parts := strings.Fields(message)
	if len(parts) < 2 {
		c.say(nick, "Usage: !whois <nick>")
		return
	}

	u := c.session.User(parts[1])
	if u == nil {
		c.say(nick, fmt.Sprintf("I don't share a channel with %s", parts[1]))
		return
	}

	c.say(nick, fmt.Sprintf("%s is %s", u.Nick(), u.Mask()))
	if account := u.Account(); account != "" {
		c.say(nick, fmt.Sprintf("Logged in as %s", account))
	}
	if realname := u.RealName(); realname != "" {
		c.say(nick, fmt.Sprintf("Real name: %s", realname))
	}
	c.say(nick, fmt.Sprintf("Channels: %s", orNone(channelNames(u.Channels(), u.Nick()))))
}

func (c *Client) cmdChannels(nick, hostmask, message string) {
	c.logCommand(hostmask, message)

	parts := strings.Fields(message)
	target := nick
	if len(parts) > 1 {
		target = parts[1]
	}

	u := c.session.User(target)
	if u == nil {
		c.say(nick, fmt.Sprintf("I don't share a channel with %s", target))
		return
	}
	c.say(nick, fmt.Sprintf("%s is on %s", u.Nick(), orNone(channelNames(u.Channels(), u.Nick()))))
}

func (c *Client) cmdUsers(nick, hostmask, message string) {
	c.logCommand(hostmask, message)

	parts := strings.Fields(message)
	if len(parts) < 2 {
		c.say(nick, "Usage: !users <channel>")
		return
	}

	ch := c.session.Channel(parts[1])
	if ch == nil {
		c.say(nick, fmt.Sprintf("I am not on %s", parts[1]))
		return
	}

	users := ch.Users()
	keys := make([]string, 0, len(users))
	for key := range users {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	members := make([]string, 0, len(keys))
	for _, key := range keys {
		name := users[key].Nick()
		prefix, _ := ch.Prefix(name)
		members = append(members, prefix+name)
	}

	c.say(nick, fmt.Sprintf("%s has \x02%d\x02 members:", ch.Name(), len(members)))
	// keep replies well under the line length limit
	for len(members) > 0 {
		n := 20
		if len(members) < n {
			n = len(members)
		}
		c.say(nick, strings.Join(members[:n], " "))
		members = members[n:]
	}
}

func (c *Client) cmdVersion(nick, hostmask, message string) {
	c.logCommand(hostmask, message)

	c.say(nick, fmt.Sprintf("ircstated version %s", Version))
	c.say(nick, fmt.Sprintf("Built: %s", BuildDate))
	c.say(nick, fmt.Sprintf("Commit: %s", GitCommit))
}

func (c *Client) cmdLogin(nick, hostmask, message string) {
	parts := strings.Fields(message)
	if len(parts) < 2 {
		c.say(nick, "Usage: !login <password>")
		return
	}

	password := parts[1]

	if c.cfg.AdminPass != "" && password == c.cfg.AdminPass {
		key := c.session.Fold(nick)
		c.mu.Lock()
		c.admins[key] = true
		c.mu.Unlock()

		c.say(nick, "Password accepted, you are now an admin. Type !help for a list of admin-only commands")
		c.logCommand(hostmask, "successful login")
	} else {
		c.say(nick, "Password incorrect")
		c.logCommand(hostmask, "INCORRECT LOGIN ATTEMPT")
	}
}

func (c *Client) cmdLogout(nick, hostmask, message string) {
	isAdmin := c.isAdmin(nick)
	c.dropAdmin(nick)

	if isAdmin {
		c.say(nick, "You have been logged out")
		c.logCommand(hostmask, "logged out")
	} else {
		c.say(nick, "You're not logged in!")
		c.logCommand(hostmask, "tried to log out, but wasn't logged in")
	}
}

func (c *Client) cmdJoin(nick, hostmask, message string) {
	parts := strings.Fields(message)
	channel := ""
	if len(parts) > 1 {
		channel = parts[1]
	}

	if !c.isAdmin(nick) {
		c.say(nick, "Sorry, only my admins can make me join channels")
		c.logCommand(hostmask, fmt.Sprintf("join command for %s, not logged in", channel))
		return
	}
	if !c.session.IsChannel(channel) {
		c.say(nick, "Usage: !join <channel>")
		return
	}

	c.send("JOIN", channel)
	c.logCommand(hostmask, fmt.Sprintf("join command for %s", channel))
}

func (c *Client) cmdPart(nick, hostmask, message string) {
	parts := strings.Fields(message)
	channel := ""
	if len(parts) > 1 {
		channel = parts[1]
	}

	if !c.isAdmin(nick) {
		c.say(nick, "Sorry, only my admins can make me leave channels")
		c.logCommand(hostmask, fmt.Sprintf("part command for %s, not logged in", channel))
		return
	}
	ch := c.session.Channel(channel)
	if ch == nil {
		c.say(nick, fmt.Sprintf("I am not on %s", channel))
		return
	}

	c.send("PART", ch.Name())
	c.logCommand(hostmask, fmt.Sprintf("part command for %s", ch.Name()))
}

func (c *Client) cmdNick(nick, hostmask, message string) {
	parts := strings.Fields(message)
	newNick := ""
	if len(parts) > 1 {
		newNick = parts[1]
	}

	if !c.isAdmin(nick) {
		c.say(nick, "Sorry, only my admins can change my nick")
		c.logCommand(hostmask, fmt.Sprintf("nick change command to %s, not logged in", newNick))
		return
	}

	if newNick == "" {
		c.say(nick, "Usage: !nick <newnick>")
		return
	}

	c.send("NICK", newNick)
	time.AfterFunc(time.Second, func() {
		c.say(nick, fmt.Sprintf("My nick is now %s", c.session.Nick()))
	})
	c.logCommand(hostmask, fmt.Sprintf("nick change command to %s", newNick))
}

func (c *Client) cmdRestart(nick, hostmask, message string) {
	if !c.isAdmin(nick) {
		c.say(nick, "Sorry, only my admins can restart me")
		c.logCommand(hostmask, "issued the restart command but wasn't logged in")
		return
	}

	c.logCommand(hostmask, "restart command")
	c.say(nick, "Restarting")

	if c.OnRestart != nil {
		c.OnRestart()
	}
}

func (c *Client) cmdShutdown(nick, hostmask, message string) {
	if !c.isAdmin(nick) {
		c.say(nick, "Sorry, only my admins can shut me down")
		c.logCommand(hostmask, "issued the shutdown command but wasn't logged in")
		return
	}

	c.logCommand(hostmask, message)
	c.say(nick, "Shutting down")

	if c.OnShutdown != nil {
		c.OnShutdown()
	}
}

// channelNames lists channels with the membership prefix nick has in each.
func channelNames(channels []*state.Channel, nick string) []string {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		prefix, _ := ch.Prefix(nick)
		names = append(names, prefix+ch.Name())
	}
	return names
}

func orNone(l []string) string {
	if len(l) == 0 {
		return "(none)"
	}
	return strings.Join(l, " ")
}
