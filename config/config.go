package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"k8s.io/client-go/util/homedir"
)

const (
	// DefaultServerPath is used when MEMCACHED_PATH is
	// unset.
	DefaultServerPath = "/usr/bin/memcached"

	// DefaultBindAddress is the loopback address servers
	// listen on.
	DefaultBindAddress = "127.0.0.1"

	// DefaultArgs is the server argv template. {port} and
	// {addr} are substituted per spawn.
	DefaultArgs = "-vp {port} -l {addr}"

	// DefaultCapacity bounds the server registry.
	DefaultCapacity = 1000

	// DefaultInitialServers is how many servers the test
	// driver starts before running tests.
	DefaultInitialServers = 2

	// DefaultReadinessTimeout bounds the readiness poll.
	DefaultReadinessTimeout = 5 * time.Second

	// DefaultPortBase and DefaultPortMask feed the port
	// allocator.
	DefaultPortBase uint16 = 30000
	DefaultPortMask uint16 = 0x7fff
)

// Environment variables read by Load.
const (
	EnvServerPath       = "MEMCACHED_PATH"
	EnvConfigPath       = "MEMFIXTURE_CONFIG"
	EnvBindAddress      = "MEMFIXTURE_BIND"
	EnvReadinessTimeout = "MEMFIXTURE_READINESS_TIMEOUT"
	EnvLogLevel         = "MEMFIXTURE_LOG_LEVEL"
	EnvInitialServers   = "MEMFIXTURE_INITIAL_SERVERS"

	// EnvState is not read by Load. The test driver sets
	// it to the registry snapshot path for child
	// processes.
	EnvState = "MEMFIXTURE_STATE"
)

const defaultFileName = ".memfixture.yaml"

// Config holds the fixture settings.
type Config struct {
	// ServerPath is the cache-server executable, either a
	// file path or a Bazel label.
	ServerPath string

	// BindAddress is passed to the server as its listen
	// address.
	BindAddress string

	// Args is the argv template for the server.
	Args string

	// Capacity is the maximum number of registry records.
	Capacity int

	// InitialServers is the number of servers started
	// before tests run.
	InitialServers int

	// ReadinessTimeout bounds how long a spawn waits for
	// the server port to accept connections.
	ReadinessTimeout time.Duration

	// PortBase and PortMask configure port allocation.
	PortBase uint16
	PortMask uint16

	// LogLevel is the fixture's own log threshold.
	LogLevel slog.Level
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ServerPath:       DefaultServerPath,
		BindAddress:      DefaultBindAddress,
		Args:             DefaultArgs,
		Capacity:         DefaultCapacity,
		InitialServers:   DefaultInitialServers,
		ReadinessTimeout: DefaultReadinessTimeout,
		PortBase:         DefaultPortBase,
		PortMask:         DefaultPortMask,
		LogLevel:         slog.LevelInfo,
	}
}

// Load builds a Config from the defaults, the optional
// YAML file at path and environment overrides. An empty
// path means no file.
func Load(path string) (Config, error) {
	const errCtx = "loading config"

	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, fmt.Errorf(
				"%s: %s: %w", errCtx, path, err,
			)
		}
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// DefaultPath returns the config file to use when none
// is given explicitly: $MEMFIXTURE_CONFIG, or
// ~/.memfixture.yaml when that file exists, or "".
func DefaultPath() string {
	if explicit := os.Getenv(EnvConfigPath); explicit != "" {
		return explicit
	}

	home := homedir.HomeDir()
	if home == "" {
		return ""
	}

	pa := filepath.Join(home, defaultFileName)
	if _, err := os.Stat(pa); err != nil {
		return ""
	}

	return pa
}

// fileConfig mirrors the YAML layout. Durations and
// levels are strings so they can be validated.
type fileConfig struct {
	ServerPath       string `yaml:"server_path"`
	BindAddress      string `yaml:"bind_address"`
	Args             string `yaml:"args"`
	Capacity         int    `yaml:"capacity"`
	InitialServers   *int   `yaml:"initial_servers"`
	ReadinessTimeout string `yaml:"readiness_timeout"`
	PortBase         uint16 `yaml:"port_base"`
	PortMask         uint16 `yaml:"port_mask"`
	LogLevel         string `yaml:"log_level"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from caller
	if err != nil {
		return err
	}

	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.ServerPath != "" {
		cfg.ServerPath = raw.ServerPath
	}

	if raw.BindAddress != "" {
		cfg.BindAddress = raw.BindAddress
	}

	if raw.Args != "" {
		cfg.Args = raw.Args
	}

	if raw.Capacity < 0 {
		return errors.New("capacity must be >= 0")
	}

	if raw.Capacity > 0 {
		cfg.Capacity = raw.Capacity
	}

	if raw.InitialServers != nil {
		if *raw.InitialServers < 0 {
			return errors.New("initial_servers must be >= 0")
		}

		cfg.InitialServers = *raw.InitialServers
	}

	if raw.ReadinessTimeout != "" {
		dur, err := time.ParseDuration(raw.ReadinessTimeout)
		if err != nil {
			return fmt.Errorf("parse readiness_timeout: %w", err)
		}

		if dur <= 0 {
			return errors.New("readiness_timeout must be > 0")
		}

		cfg.ReadinessTimeout = dur
	}

	if raw.PortBase != 0 {
		cfg.PortBase = raw.PortBase
	}

	if raw.PortMask != 0 {
		cfg.PortMask = raw.PortMask
	}

	if raw.LogLevel != "" {
		if err := cfg.LogLevel.UnmarshalText(
			[]byte(raw.LogLevel),
		); err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvServerPath); v != "" {
		cfg.ServerPath = v
	}

	if v := os.Getenv(EnvBindAddress); v != "" {
		cfg.BindAddress = v
	}

	if v := os.Getenv(EnvReadinessTimeout); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.ReadinessTimeout = dur
		} else {
			slog.Warn(
				"ignoring invalid environment value",
				"var", EnvReadinessTimeout,
				"value", v,
			)
		}
	}

	if v := os.Getenv(EnvInitialServers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.InitialServers = n
		} else {
			slog.Warn(
				"ignoring invalid environment value",
				"var", EnvInitialServers,
				"value", v,
			)
		}
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			cfg.LogLevel = lvl
		} else {
			slog.Warn(
				"ignoring invalid environment value",
				"var", EnvLogLevel,
				"value", v,
			)
		}
	}
}
