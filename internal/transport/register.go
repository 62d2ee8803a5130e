package transport

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/dalnet/ircstate/internal/caps"
	"github.com/dalnet/ircstate/internal/state"
)

// Register performs connection registration. Every line received is fed
// to s. Capabilities are requested from s.ToEnable once the last CAP LS
// line arrives. If the server has not finished negotiating within
// CapTimeout, CAP END is sent and registration continues with no
// capabilities enabled. Register returns on RPL_WELCOME.
func (c *Conn) Register(ctx context.Context, s *state.Session) error {
	if err := c.Send(ctx, "CAP", "LS", "302"); err != nil {
		return err
	}
	s.WithCaps((*caps.Set).MarkLSSent)

	if c.opts.Password != "" {
		if err := c.Send(ctx, "PASS", c.opts.Password); err != nil {
			return err
		}
	}
	if err := c.Send(ctx, "NICK", c.opts.Nick); err != nil {
		return err
	}
	if err := c.Send(ctx, "USER", c.opts.Username, "0", "*", c.opts.RealName); err != nil {
		return err
	}

	timer := time.NewTimer(c.opts.CapTimeout)
	defer timer.Stop()
	timeout := timer.C
	nick := c.opts.Nick

	for {
		msg, timedOut, err := c.next(ctx, timeout)
		if err != nil {
			return err
		}
		if timedOut {
			timeout = nil
			if phase(s) != caps.Done {
				log.Printf("Warning: no capability negotiation after %s, continuing without capabilities", c.opts.CapTimeout)
				if err := c.endCaps(ctx, s); err != nil {
					return err
				}
			}
			continue
		}

		s.Handle(msg)

		switch strings.ToUpper(msg.Command) {
		case "PING":
			if err := c.pong(ctx, msg); err != nil {
				return err
			}
		case "CAP":
			if err := c.negotiate(ctx, s, msg); err != nil {
				return err
			}
		case "433": // ERR_NICKNAMEINUSE
			nick += "_"
			if err := c.Send(ctx, "NICK", nick); err != nil {
				return err
			}
		case "001":
			return nil
		case "ERROR":
			return terminated(msg)
		}
	}
}

// AwaitReady keeps feeding lines to s after registration until the end of
// the MOTD (or ERR_NOMOTD), so that RPL_ISUPPORT has been seen. If neither
// arrives within wait it returns nil anyway.
func (c *Conn) AwaitReady(ctx context.Context, s *state.Session, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		msg, timedOut, err := c.next(ctx, timer.C)
		if err != nil {
			return err
		}
		if timedOut {
			log.Printf("Warning: no end of MOTD after %s", wait)
			return nil
		}

		s.Handle(msg)

		switch strings.ToUpper(msg.Command) {
		case "PING":
			if err := c.pong(ctx, msg); err != nil {
				return err
			}
		case "376", "422": // RPL_ENDOFMOTD, ERR_NOMOTD
			return nil
		case "ERROR":
			return terminated(msg)
		}
	}
}

// negotiate advances capability negotiation after s has ingested msg.
func (c *Conn) negotiate(ctx context.Context, s *state.Session, msg ircmsg.Message) error {
	if len(msg.Params) < 2 {
		return nil
	}

	switch strings.ToUpper(msg.Params[1]) {
	case "LS":
		if isContinued(msg) || phase(s) != caps.LSPending {
			return nil
		}
		req := s.ToEnable()
		if len(req) == 0 {
			return c.endCaps(ctx, s)
		}
		if err := c.Send(ctx, "CAP", "REQ", strings.Join(req, " ")); err != nil {
			return err
		}
		s.WithCaps((*caps.Set).MarkREQSent)
	case "ACK", "NAK":
		if phase(s) == caps.REQSent {
			if enabled := s.EnabledCaps(); len(enabled) > 0 {
				log.Printf("Enabled capabilities: %s", strings.Join(enabled, " "))
			}
			return c.endCaps(ctx, s)
		}
	}
	return nil
}

func (c *Conn) endCaps(ctx context.Context, s *state.Session) error {
	if err := c.Send(ctx, "CAP", "END"); err != nil {
		return err
	}
	s.WithCaps((*caps.Set).MarkEnd)
	return nil
}

func (c *Conn) pong(ctx context.Context, msg ircmsg.Message) error {
	if len(msg.Params) == 0 {
		return c.Send(ctx, "PONG")
	}
	return c.Send(ctx, "PONG", msg.Params[0])
}

// isContinued reports whether a CAP reply carries the "*" marker meaning
// more lines follow.
func isContinued(msg ircmsg.Message) bool {
	return len(msg.Params) > 3 && msg.Params[2] == "*"
}

// Run feeds incoming lines to s until the connection ends or ctx is done.
// PINGs are answered, capabilities announced with CAP NEW are requested if
// wanted, and fn (if not nil) is called with every message after s has
// seen it.
func (c *Conn) Run(ctx context.Context, s *state.Session, fn func(ircmsg.Message)) error {
	for {
		msg, _, err := c.next(ctx, nil)
		if err != nil {
			return err
		}

		s.Handle(msg)

		switch strings.ToUpper(msg.Command) {
		case "PING":
			if err := c.pong(ctx, msg); err != nil {
				return err
			}
		case "CAP":
			if len(msg.Params) >= 2 && strings.EqualFold(msg.Params[1], "NEW") {
				if req := s.PendingCaps(); len(req) > 0 {
					if err := c.Send(ctx, "CAP", "REQ", strings.Join(req, " ")); err != nil {
						return err
					}
				}
			}
		case "ERROR":
			return terminated(msg)
		}

		if n := s.Dangling(); n > 0 && c.opts.Debug {
			log.Printf("Warning: %d membership entries do not resolve", n)
		}

		if fn != nil {
			fn(msg)
		}
	}
}

// Quit sends QUIT and closes the connection.
func (c *Conn) Quit(ctx context.Context, reason string) error {
	err := c.Send(ctx, "QUIT", reason)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}
