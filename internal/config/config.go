// Package config loads the client configuration from an optional YAML file,
// a .env file and the process environment. Environment values win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backends the client can talk to.
const (
	BackendTCP      = "tcp"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
)

// Config is the complete client configuration.
type Config struct {
	Backend  string         `yaml:"backend"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig is the address of the TCP chat server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// Addr joins host and port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"-"`

	ReconnectWaitRaw string `yaml:"reconnect_wait"`
}

type LoggingConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// SlogLevel parses Level; an empty level means info.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", l.Level)
	}
	return level, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Backend: BackendTCP,
		Server: ServerConfig{
			Host: "localhost",
			Port: "8080",
		},
		NATS: NATSConfig{
			URL:              "nats://127.0.0.1:4222",
			MaxReconnects:    10,
			ReconnectWaitRaw: "2s",
		},
		Logging: LoggingConfig{
			File:  "client.log",
			Level: "info",
		},
	}
}

// Load reads .env if present, then the YAML file named by CHATVIEW_CONFIG
// if set, then applies environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return LoadFile(os.Getenv("CHATVIEW_CONFIG"))
}

// LoadFile builds the configuration from path (skipped when empty) and the
// environment. Variables in the form ${VAR_NAME} are expanded in the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.NATS.ReconnectWaitRaw != "" {
		d, err := time.ParseDuration(cfg.NATS.ReconnectWaitRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing nats.reconnect_wait %q: %w", cfg.NATS.ReconnectWaitRaw, err)
		}
		cfg.NATS.ReconnectWait = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or with an
// empty string when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) error {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Backend, "CHAT_BACKEND")
	set(&cfg.Server.Host, "SERVER_HOST")
	set(&cfg.Server.Port, "SERVER_PORT")
	set(&cfg.Database.URL, "DATABASE_URL")
	set(&cfg.NATS.URL, "NATS_URL")
	set(&cfg.NATS.ReconnectWaitRaw, "NATS_RECONNECT_WAIT")
	set(&cfg.Logging.File, "LOG_FILE")
	set(&cfg.Logging.Level, "LOG_LEVEL")

	if v := os.Getenv("DATABASE_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing DATABASE_MIGRATE %q: %w", v, err)
		}
		cfg.Database.Migrate = b
	}
	return nil
}

// Validate checks the fields the selected backend needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendTCP:
		if c.Server.Host == "" || c.Server.Port == "" {
			return fmt.Errorf("server.host and server.port are required for the tcp backend")
		}
		if _, err := strconv.Atoi(c.Server.Port); err != nil {
			return fmt.Errorf("server.port %q is not a number", c.Server.Port)
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres backend")
		}
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.Logging.File == "" {
		return fmt.Errorf("logging.file is required")
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	return nil
}
