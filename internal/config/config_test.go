package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nick: watcher\nserver: irc.example.org\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 6667, cfg.Port)
	assert.Equal(t, "watcher_", cfg.Alternate)
	assert.Equal(t, "watcher", cfg.Username)
	assert.Equal(t, DefaultCaps, cfg.Caps)
	assert.Equal(t, Duration(10*time.Second), cfg.CapTimeout)
	assert.Equal(t, 2.0, cfg.SendRate)
	assert.Equal(t, 5, cfg.SendBurst)
	assert.Equal(t, "irc.example.org:6667", cfg.Address())
}

func TestParseValues(t *testing.T) {
	cfg, err := Parse([]byte(`
nick: watcher
server: irc.example.org
tls: true
caps: [sasl, server-time]
channels: ["#ops"]
cap_timeout: 3s
send_rate: 0.5
`))
	require.NoError(t, err)

	assert.Equal(t, 6697, cfg.Port)
	assert.Equal(t, []string{"sasl", "server-time"}, cfg.Caps)
	assert.Equal(t, []string{"#ops"}, cfg.Channels)
	assert.Equal(t, Duration(3*time.Second), cfg.CapTimeout)
	assert.Equal(t, 0.5, cfg.SendRate)
}

func TestParseEmptyCapsList(t *testing.T) {
	cfg, err := Parse([]byte("nick: a\nserver: b\ncaps: []\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Caps)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("server: irc.example.org\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("nick: a\nserver: b\ncap_timeout: soon\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
