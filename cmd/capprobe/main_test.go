package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalnet/ircstate/internal/config"
	"github.com/dalnet/ircstate/internal/storage"
	"github.com/dalnet/ircstate/internal/transport"
)

func TestProbeReportsCasemappingFromIsupport(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	cfg := &config.Config{
		Nick:    "me",
		Server:  "irc.example.org",
		Port:    6667,
		Caps:    []string{"multi-prefix", "server-time"},
		DataDir: t.TempDir(),
	}
	require.NoError(t, storage.SaveReport(cfg.DataDir, &storage.Report{
		Server:      cfg.Address(),
		Time:        "2025-02-20T12:00:00Z",
		CaseMapping: "rfc1459",
		Available:   map[string]string{"away-notify": ""},
	}))

	var out bytes.Buffer
	p := &prober{
		cfg:      cfg,
		conn:     transport.New(client, transport.Options{Nick: "me", CapTimeout: time.Second}),
		out:      &out,
		timeout:  5 * time.Second,
		motdWait: 2 * time.Second,
	}
	done := make(chan error, 1)
	go func() { done <- p.run(context.Background(), false) }()

	lines := make(chan string, 16)
	go func() {
		r := bufio.NewScanner(server)
		for r.Scan() {
			lines <- r.Text()
		}
		close(lines)
	}()
	expect := func(want string) {
		t.Helper()
		select {
		case got := <-lines:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	send := func(line string) {
		t.Helper()
		_, err := fmt.Fprintf(server, "%s\r\n", line)
		require.NoError(t, err)
	}

	expect("CAP LS 302")
	expect("NICK me")
	expect("USER me 0 * me")
	send(":srv CAP * LS :multi-prefix sasl=PLAIN")
	expect("CAP REQ multi-prefix")
	send(":srv CAP me ACK :multi-prefix")
	expect("CAP END")
	send(":srv 001 me :Welcome")
	send(":srv 005 me CASEMAPPING=ascii :are supported by this server")
	send(":srv 376 me :End of /MOTD command.")
	expect("QUIT :capprobe done")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("probe did not finish")
	}

	assert.Contains(t, out.String(), "Casemapping: ascii\n")

	report, err := storage.LoadReport(cfg.DataDir)
	require.NoError(t, err)
	assert.Equal(t, "ascii", report.CaseMapping)
	assert.Equal(t, []string{"multi-prefix"}, report.Enabled)
	assert.Equal(t, map[string]string{"multi-prefix": "", "sasl": "PLAIN"}, report.Available)
}
