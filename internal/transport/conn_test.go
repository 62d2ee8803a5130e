package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalnet/ircstate/internal/casemap"
	"github.com/dalnet/ircstate/internal/state"
)

// fakeServer is the far end of a net.Pipe, scripted by the test.
type fakeServer struct {
	conn  net.Conn
	lines chan string
}

func newFakeServer(conn net.Conn) *fakeServer {
	srv := &fakeServer{conn: conn, lines: make(chan string, 64)}
	go func() {
		r := bufio.NewScanner(conn)
		for r.Scan() {
			srv.lines <- r.Text()
		}
		close(srv.lines)
	}()
	return srv
}

func (srv *fakeServer) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got, ok := <-srv.lines:
		require.True(t, ok, "connection closed while waiting for %q", want)
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func (srv *fakeServer) send(t *testing.T, line string) {
	t.Helper()
	_, err := fmt.Fprintf(srv.conn, "%s\r\n", line)
	require.NoError(t, err)
}

func setup(t *testing.T, opts Options) (*Conn, *fakeServer) {
	t.Helper()
	client, server := net.Pipe()
	if opts.Nick == "" {
		opts.Nick = "me"
	}
	c := New(client, opts)
	srv := newFakeServer(server)
	t.Cleanup(func() {
		c.Close()
		server.Close()
	})
	return c, srv
}

func register(c *Conn, s *state.Session) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Register(context.Background(), s) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("registration did not finish")
		return nil
	}
}

func TestRegisterNegotiatesCaps(t *testing.T) {
	c, srv := setup(t, Options{CapTimeout: time.Second})
	s := state.NewSession("me", "sasl", "server-time", "batch")
	done := register(c, s)

	srv.expect(t, "CAP LS 302")
	srv.expect(t, "NICK me")
	srv.expect(t, "USER me 0 * me")

	srv.send(t, ":irc.example.org CAP * LS * :multi-prefix sasl=PLAIN")
	srv.send(t, ":irc.example.org CAP * LS :away-notify server-time")
	srv.expect(t, "CAP REQ :sasl server-time")

	srv.send(t, ":irc.example.org CAP me ACK :sasl server-time")
	srv.expect(t, "CAP END")

	srv.send(t, ":irc.example.org 001 me :Welcome")
	require.NoError(t, wait(t, done))

	assert.Equal(t, []string{"sasl", "server-time"}, s.EnabledCaps())
	assert.True(t, s.Registered())
}

func TestRegisterNothingToRequest(t *testing.T) {
	c, srv := setup(t, Options{CapTimeout: time.Second})
	s := state.NewSession("me", "sasl")
	done := register(c, s)

	srv.expect(t, "CAP LS 302")
	srv.expect(t, "NICK me")
	srv.expect(t, "USER me 0 * me")

	srv.send(t, ":srv CAP * LS :multi-prefix")
	srv.expect(t, "CAP END")
	srv.send(t, ":srv 001 me :Welcome")
	require.NoError(t, wait(t, done))
	assert.Empty(t, s.EnabledCaps())
}

func TestRegisterNak(t *testing.T) {
	c, srv := setup(t, Options{CapTimeout: time.Second})
	s := state.NewSession("me", "sasl")
	done := register(c, s)

	srv.expect(t, "CAP LS 302")
	srv.expect(t, "NICK me")
	srv.expect(t, "USER me 0 * me")
	srv.send(t, ":srv CAP * LS :sasl")
	srv.expect(t, "CAP REQ sasl")
	srv.send(t, ":srv CAP me NAK :sasl")
	srv.expect(t, "CAP END")
	srv.send(t, ":srv 001 me :Welcome")
	require.NoError(t, wait(t, done))
	assert.Empty(t, s.EnabledCaps())
}

func TestRegisterCapTimeout(t *testing.T) {
	c, srv := setup(t, Options{CapTimeout: 50 * time.Millisecond})
	s := state.NewSession("me", "sasl")
	done := register(c, s)

	srv.expect(t, "CAP LS 302")
	srv.expect(t, "NICK me")
	srv.expect(t, "USER me 0 * me")
	srv.expect(t, "CAP END")

	srv.send(t, ":srv 001 me :Welcome")
	require.NoError(t, wait(t, done))
	assert.Empty(t, s.EnabledCaps())
}

func TestRegisterPingAndNickInUse(t *testing.T) {
	c, srv := setup(t, Options{CapTimeout: time.Second, Password: "secret"})
	s := state.NewSession("me")
	done := register(c, s)

	srv.expect(t, "CAP LS 302")
	srv.expect(t, "PASS secret")
	srv.expect(t, "NICK me")
	srv.expect(t, "USER me 0 * me")

	srv.send(t, "PING :token")
	srv.expect(t, "PONG token")
	srv.send(t, ":srv 433 * me :Nickname is already in use")
	srv.expect(t, "NICK me_")

	srv.send(t, ":srv CAP * LS :")
	srv.expect(t, "CAP END")
	srv.send(t, ":srv 001 me_ :Welcome")
	require.NoError(t, wait(t, done))
	assert.Equal(t, "me_", s.Nick())
}

func TestRegisterError(t *testing.T) {
	c, srv := setup(t, Options{CapTimeout: time.Second})
	done := register(c, state.NewSession("me"))

	srv.expect(t, "CAP LS 302")
	srv.expect(t, "NICK me")
	srv.expect(t, "USER me 0 * me")
	srv.send(t, "ERROR :Closing link")

	err := wait(t, done)
	require.Error(t, err)
	assert.ErrorIs(t, err, errTerminated)
	assert.Contains(t, err.Error(), "Closing link")
}

func TestRunRequestsNewCaps(t *testing.T) {
	c, srv := setup(t, Options{})
	s := state.NewSession("me", "away-notify")

	var seen []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, s, func(msg ircmsg.Message) {
			seen = append(seen, msg.Command)
		})
	}()

	srv.send(t, "PING :x")
	srv.expect(t, "PONG x")
	srv.send(t, ":srv CAP me NEW :away-notify")
	srv.expect(t, "CAP REQ away-notify")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, []string{"PING", "CAP"}, seen)
}

func TestAwaitReadySeesIsupport(t *testing.T) {
	c, srv := setup(t, Options{CapTimeout: time.Second})
	s := state.NewSession("me")
	done := register(c, s)

	srv.expect(t, "CAP LS 302")
	srv.expect(t, "NICK me")
	srv.expect(t, "USER me 0 * me")
	srv.send(t, ":srv CAP * LS :")
	srv.expect(t, "CAP END")
	srv.send(t, ":srv 001 me :Welcome")
	require.NoError(t, wait(t, done))

	srv.send(t, ":srv 005 me CASEMAPPING=ascii CHANTYPES=# :are supported by this server")
	srv.send(t, "PING :motd")
	srv.expect(t, "PONG motd")
	srv.send(t, ":srv 376 me :End of /MOTD command.")

	require.NoError(t, c.AwaitReady(context.Background(), s, 2*time.Second))
	assert.Equal(t, casemap.ASCII, s.CaseMapping())
}

func TestAwaitReadyGivesUp(t *testing.T) {
	c, srv := setup(t, Options{})
	s := state.NewSession("me")

	srv.send(t, ":srv 005 me CASEMAPPING=strict-rfc1459 :are supported by this server")

	start := time.Now()
	require.NoError(t, c.AwaitReady(context.Background(), s, 100*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, casemap.StrictRFC1459, s.CaseMapping())
}

func TestCloseStopsReaderNobodyDrains(t *testing.T) {
	client, server := net.Pipe()
	c := New(client, Options{Nick: "me"})
	defer server.Close()

	// fill the buffer and leave the reader blocked on one more line
	go func() {
		for i := 0; i < chanCapacity+10; i++ {
			if _, err := fmt.Fprintf(server, ":srv 372 me :line %d\r\n", i); err != nil {
				return
			}
		}
	}()
	require.Eventually(t, func() bool { return len(c.Messages()) == chanCapacity }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	closed := make(chan struct{})
	go func() {
		for range c.Messages() {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("reader still running after Close")
	}
	assert.Error(t, c.Err())
}
