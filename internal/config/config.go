package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCaps is the capability list requested when the config names none.
var DefaultCaps = []string{
	"multi-prefix",
	"userhost-in-names",
	"extended-join",
	"away-notify",
	"account-notify",
	"chghost",
	"setname",
	"cap-notify",
	"server-time",
	"message-tags",
}

// Config holds all client configuration
type Config struct {
	Nick       string   `yaml:"nick"`
	Alternate  string   `yaml:"alternate"`
	Server     string   `yaml:"server"`
	Port       int      `yaml:"port"`
	TLS        bool     `yaml:"tls"`
	ServerPass string   `yaml:"server_pass"`
	IRCName    string   `yaml:"irc_name"`
	Username   string   `yaml:"username"`
	Caps       []string `yaml:"caps"`
	Channels   []string `yaml:"channels"`
	AdminPass  string   `yaml:"admin_pass"`
	DataDir    string   `yaml:"data_dir"`

	CapTimeout Duration `yaml:"cap_timeout"`
	SendRate   float64  `yaml:"send_rate"`
	SendBurst  int      `yaml:"send_burst"`
}

// Duration is a time.Duration read from strings such as "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Address returns server:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Nick == "" {
		return nil, fmt.Errorf("no nickname specified")
	}
	if cfg.Server == "" {
		return nil, fmt.Errorf("no server specified")
	}

	// Set defaults
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Port == 0 {
		if cfg.TLS {
			cfg.Port = 6697
		} else {
			cfg.Port = 6667
		}
	}
	if cfg.Alternate == "" {
		cfg.Alternate = cfg.Nick + "_"
	}
	if cfg.Username == "" {
		cfg.Username = cfg.Nick
	}
	if cfg.IRCName == "" {
		cfg.IRCName = cfg.Nick
	}
	if cfg.Caps == nil {
		cfg.Caps = append([]string(nil), DefaultCaps...)
	}
	if cfg.CapTimeout == 0 {
		cfg.CapTimeout = Duration(10 * time.Second)
	}
	if cfg.SendRate == 0 {
		cfg.SendRate = 2
	}
	if cfg.SendBurst == 0 {
		cfg.SendBurst = 5
	}

	return &cfg, nil
}
