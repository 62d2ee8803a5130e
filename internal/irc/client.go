package irc

import (
	"crypto/tls"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dalnet/ircstate/internal/config"
	"github.com/dalnet/ircstate/internal/state"
	"github.com/dalnet/ircstate/internal/storage"
	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"
)

// Version information (set at build time or here)
var (
	Version   = "1.0.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// stateCommands are the commands whose effects the session tracks.
var stateCommands = []string{
	"CAP",
	"001", // RPL_WELCOME
	"005", // RPL_ISUPPORT
	"331", // RPL_NOTOPIC
	"332", // RPL_TOPIC
	"353", // RPL_NAMREPLY
	"JOIN",
	"PART",
	"KICK",
	"QUIT",
	"NICK",
	"TOPIC",
	"CHGHOST",
	"ACCOUNT",
	"SETNAME",
	"PRIVMSG",
	"NOTICE",
}

// Client is a bot that tracks channel and user state and answers queries
// about it over private message.
type Client struct {
	conn    *ircevent.Connection
	cfg     *config.Config
	session *state.Session
	mu      sync.RWMutex
	closed  bool

	journal []string

	// Admin session tracking: folded nick -> is admin
	admins map[string]bool

	// Outgoing traffic, overridable for tests
	say  func(target, text string)
	send func(command string, params ...string)

	// Shutdown/restart callbacks
	OnShutdown func()
	OnRestart  func()
}

// NewClient creates a new IRC client
func NewClient(cfg *config.Config) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		session: state.NewSession(cfg.Nick, cfg.Caps...),
		admins:  make(map[string]bool),
	}

	var err error
	c.journal, err = storage.LoadJournal(cfg.DataDir)
	if err != nil {
		log.Printf("Warning: could not load journal: %v", err)
	}

	// Create IRC connection
	conn := &ircevent.Connection{
		Server:      cfg.Address(),
		Nick:        cfg.Nick,
		User:        cfg.Username,
		RealName:    cfg.IRCName,
		Password:    cfg.ServerPass,
		RequestCaps: c.session.WantedCaps(),
		QuitMessage: "Shutting down",
		Debug:       false,
		UseTLS:      cfg.TLS,
		TLSConfig:   &tls.Config{ServerName: cfg.Server},
	}
	c.conn = conn
	c.say = func(target, text string) { c.conn.Privmsg(target, text) }
	c.send = func(command string, params ...string) { c.conn.Send(command, params...) }

	// Register handlers
	c.registerHandlers()

	return c, nil
}

// Session returns the state tracked for the connection.
func (c *Client) Session() *state.Session {
	return c.session
}

func (c *Client) registerHandlers() {
	// State tracking
	for _, code := range stateCommands {
		c.conn.AddCallback(code, c.session.Handle)
	}

	// ircevent reconnects by itself; the next connection starts from scratch
	c.conn.AddDisconnectCallback(c.onDisconnect)

	// Connected (end of MOTD)
	c.conn.AddCallback("376", c.onConnect)
	c.conn.AddCallback("422", c.onConnect) // MOTD missing is also "connected"

	// Private messages
	c.conn.AddCallback("PRIVMSG", c.onPrivMsg)

	// Admins lose their session when they change nick or leave
	c.conn.AddCallback("NICK", c.onNickChange)
	c.conn.AddCallback("QUIT", c.onQuit)

	// Nick issues
	c.conn.AddCallback("432", c.onNickInUse) // ERR_ERRONEUSNICKNAME
	c.conn.AddCallback("433", c.onNickInUse) // ERR_NICKNAMEINUSE

	// CTCP VERSION
	c.conn.AddCallback("CTCP_VERSION", c.onCtcpVersion)
}

// Connect initiates the IRC connection
func (c *Client) Connect() error {
	return c.conn.Connect()
}

// Loop runs the IRC event loop (blocking)
func (c *Client) Loop() {
	c.conn.Loop()
}

// Quit disconnects from IRC
func (c *Client) Quit(message string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.conn.QuitMessage = message
	c.conn.Quit()
}

func (c *Client) onConnect(e ircmsg.Message) {
	log.Println("Connected to IRC server")

	enabled := c.session.EnabledCaps()
	log.Printf("Casemapping %s, %d capabilities enabled", c.session.CaseMapping(), len(enabled))

	for _, channel := range c.cfg.Channels {
		c.send("JOIN", channel)
	}

	log.Println("Bot initialization complete")
}

// onDisconnect forgets the state of the connection that just ended,
// including admin logins, which were tied to nicks on it.
func (c *Client) onDisconnect(e ircmsg.Message) {
	log.Println("Disconnected, discarding session state")
	c.session.Reset()

	c.mu.Lock()
	c.admins = make(map[string]bool)
	c.mu.Unlock()
}

func (c *Client) onPrivMsg(e ircmsg.Message) {
	if len(e.Params) < 2 {
		return
	}

	target := e.Params[0]
	message := e.Params[1]
	nick := e.Nick()
	nuh, err := e.NUH()
	if err != nil {
		return
	}
	hostmask := nuh.Canonical()

	// Only respond to private messages (not channel messages)
	if c.session.Fold(target) != c.session.Fold(c.session.Nick()) {
		return
	}

	c.handleCommand(nick, hostmask, message)
}

func (c *Client) onNickChange(e ircmsg.Message) {
	c.dropAdmin(e.Nick())
}

func (c *Client) onQuit(e ircmsg.Message) {
	c.dropAdmin(e.Nick())
}

func (c *Client) dropAdmin(nick string) {
	key := c.session.Fold(nick)
	c.mu.Lock()
	delete(c.admins, key)
	c.mu.Unlock()
}

func (c *Client) isAdmin(nick string) bool {
	key := c.session.Fold(nick)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.admins[key]
}

func (c *Client) onNickInUse(e ircmsg.Message) {
	if c.conn.CurrentNick() == c.cfg.Alternate {
		return
	}
	log.Printf("Nick in use, switching to alternate: %s", c.cfg.Alternate)
	c.conn.SetNick(c.cfg.Alternate)

	// Try to get the configured nick back later
	go func() {
		time.Sleep(30 * time.Second)
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if !closed {
			c.conn.SetNick(c.cfg.Nick)
		}
	}()
}

func (c *Client) onCtcpVersion(e ircmsg.Message) {
	nick := e.Nick()
	reply := fmt.Sprintf("ircstated %s (built %s, commit %s)", Version, BuildDate, GitCommit)
	c.conn.SendRaw(fmt.Sprintf("NOTICE %s :\x01VERSION %s\x01", nick, reply))
}

func (c *Client) logCommand(hostmask, command string) {
	timestamp := time.Now().UTC().Format("Mon Jan 02, 2006 at 15:04:05 GMT")
	entry := fmt.Sprintf("%s: %s -> %s", timestamp, hostmask, command)

	c.mu.Lock()
	c.journal = storage.AddJournal(c.journal, entry)
	journal := c.journal
	c.mu.Unlock()

	if err := storage.SaveJournal(c.cfg.DataDir, journal); err != nil {
		log.Printf("Error saving journal: %v", err)
	}
}
