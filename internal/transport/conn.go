// Package transport moves IRC lines between a network connection and a
// state.Session, and drives capability negotiation during registration.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"golang.org/x/time/rate"

	"github.com/dalnet/ircstate/internal/caps"
	"github.com/dalnet/ircstate/internal/state"
)

const chanCapacity = 64

// DefaultCapTimeout bounds how long registration waits for the server to
// finish capability negotiation before carrying on without capabilities.
const DefaultCapTimeout = 10 * time.Second

// Options configures registration and the outgoing rate limit.
type Options struct {
	Nick     string
	Username string
	RealName string
	Password string

	CapTimeout time.Duration
	SendRate   float64 // lines per second, <= 0 means unlimited
	SendBurst  int

	Debug bool // log every line sent and received
}

// Conn is a line-oriented IRC connection.
type Conn struct {
	conn    net.Conn
	opts    Options
	in      chan ircmsg.Message
	limiter *rate.Limiter

	wmu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Dial opens a TCP or TLS connection to addr.
func Dial(ctx context.Context, addr string, useTLS bool, tlsConfig *tls.Config) (net.Conn, error) {
	if useTLS {
		d := &tls.Dialer{Config: tlsConfig}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
		}
		return conn, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return conn, nil
}

// New wraps conn and starts reading lines from it.
func New(conn net.Conn, opts Options) *Conn {
	if opts.Username == "" {
		opts.Username = opts.Nick
	}
	if opts.RealName == "" {
		opts.RealName = opts.Nick
	}
	if opts.CapTimeout <= 0 {
		opts.CapTimeout = DefaultCapTimeout
	}

	limit := rate.Inf
	if opts.SendRate > 0 {
		limit = rate.Limit(opts.SendRate)
	}
	burst := opts.SendBurst
	if burst < 1 {
		burst = 1
	}

	c := &Conn{
		conn:    conn,
		opts:    opts,
		in:      make(chan ircmsg.Message, chanCapacity),
		limiter: rate.NewLimiter(limit, burst),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.in)

	r := bufio.NewScanner(c.conn)
	for r.Scan() {
		line := r.Text()
		if c.opts.Debug {
			log.Printf("<- %s", line)
		}
		msg, err := ircmsg.ParseLine(line)
		if err != nil {
			log.Printf("Warning: dropping unparseable line %q: %v", line, err)
			continue
		}
		select {
		case c.in <- msg:
		case <-c.done:
			c.setErr(net.ErrClosed)
			return
		}
	}

	err := r.Err()
	if err == nil {
		err = io.EOF
	}
	c.setErr(err)
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Err returns the error that stopped the connection, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Messages returns the channel of incoming messages. It is closed when the
// connection ends.
func (c *Conn) Messages() <-chan ircmsg.Message {
	return c.in
}

// Send writes one message, waiting for the rate limiter first.
func (c *Conn) Send(ctx context.Context, command string, params ...string) error {
	msg := ircmsg.MakeMessage(nil, "", command, params...)
	line, err := msg.Line()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", command, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.opts.Debug {
		log.Printf("-> %s", strings.TrimRight(line, "\r\n"))
	}
	if _, err := io.WriteString(c.conn, line); err != nil {
		c.setErr(err)
		return fmt.Errorf("failed to send %s: %w", command, err)
	}
	return nil
}

// Close closes the underlying connection and stops the reader, even if
// nobody is draining Messages. Closing twice is a no-op.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// next returns the next incoming message, or the reason there is none.
func (c *Conn) next(ctx context.Context, timeout <-chan time.Time) (ircmsg.Message, bool, error) {
	select {
	case <-ctx.Done():
		return ircmsg.Message{}, false, ctx.Err()
	case <-timeout:
		return ircmsg.Message{}, true, nil
	case msg, ok := <-c.in:
		if !ok {
			err := c.Err()
			if err == nil {
				err = io.EOF
			}
			return ircmsg.Message{}, false, err
		}
		return msg, false, nil
	}
}

var errTerminated = errors.New("connection terminated")

func terminated(msg ircmsg.Message) error {
	if len(msg.Params) > 0 {
		return fmt.Errorf("%w: %s", errTerminated, msg.Params[len(msg.Params)-1])
	}
	return errTerminated
}

// phase reads the negotiation phase under the session lock.
func phase(s *state.Session) caps.Phase {
	var p caps.Phase
	s.WithCaps(func(set *caps.Set) { p = set.Phase() })
	return p
}
