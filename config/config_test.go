package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/memfixture/config"
)

func writeConfig(tb testing.TB, content string) string {
	tb.Helper()

	pa := filepath.Join(tb.TempDir(), "memfixture.yaml")
	require.NoError(
		tb,
		os.WriteFile(pa, []byte(content), 0o600),
	)

	return pa
}

func clearEnv(t *testing.T) {
	t.Helper()

	for _, name := range []string{
		config.EnvServerPath,
		config.EnvConfigPath,
		config.EnvBindAddress,
		config.EnvReadinessTimeout,
		config.EnvLogLevel,
		config.EnvInitialServers,
	} {
		t.Setenv(name, "")
	}
}

func TestLoad_defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, "/usr/bin/memcached", cfg.ServerPath)
	assert.Equal(t, "127.0.0.1", cfg.BindAddress)
	assert.Equal(t, 1000, cfg.Capacity)
	assert.Equal(t, 2, cfg.InitialServers)
}

func TestLoad_file_overrides_defaults(t *testing.T) {
	clearEnv(t)

	pa := writeConfig(t, `
server_path: /opt/memcached/bin/memcached
bind_address: 127.0.0.2
args: "-p {port} -l {addr} -U 0"
capacity: 16
initial_servers: 0
readiness_timeout: 250ms
port_base: 40000
port_mask: 255
log_level: debug
`)

	cfg, err := config.Load(pa)

	require.NoError(t, err)
	assert.Equal(t, "/opt/memcached/bin/memcached", cfg.ServerPath)
	assert.Equal(t, "127.0.0.2", cfg.BindAddress)
	assert.Equal(t, "-p {port} -l {addr} -U 0", cfg.Args)
	assert.Equal(t, 16, cfg.Capacity)
	assert.Equal(t, 0, cfg.InitialServers)
	assert.Equal(t, 250*time.Millisecond, cfg.ReadinessTimeout)
	assert.Equal(t, uint16(40000), cfg.PortBase)
	assert.Equal(t, uint16(255), cfg.PortMask)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_env_overrides_file(t *testing.T) {
	clearEnv(t)

	pa := writeConfig(t, "server_path: /from/file\n")

	t.Setenv(config.EnvServerPath, "/from/env")
	t.Setenv(config.EnvReadinessTimeout, "2s")
	t.Setenv(config.EnvInitialServers, "3")
	t.Setenv(config.EnvLogLevel, "WARN")

	cfg, err := config.Load(pa)

	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.ServerPath)
	assert.Equal(t, 2*time.Second, cfg.ReadinessTimeout)
	assert.Equal(t, 3, cfg.InitialServers)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
}

func TestLoad_invalid_env_is_ignored(t *testing.T) {
	clearEnv(t)

	t.Setenv(config.EnvReadinessTimeout, "soon")
	t.Setenv(config.EnvInitialServers, "-1")

	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, config.DefaultReadinessTimeout, cfg.ReadinessTimeout)
	assert.Equal(t, config.DefaultInitialServers, cfg.InitialServers)
}

func TestLoad_invalid_file_values(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		content string
	}{
		{name: "bad duration", content: "readiness_timeout: soon\n"},
		{name: "negative duration", content: "readiness_timeout: -1s\n"},
		{name: "negative capacity", content: "capacity: -3\n"},
		{name: "negative initial", content: "initial_servers: -1\n"},
		{name: "bad level", content: "log_level: chatty\n"},
		{name: "not yaml", content: "server_path: [unterminated\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.content))

			assert.Error(t, err)
		})
	}
}

func TestLoad_missing_file(t *testing.T) {
	clearEnv(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultPath_env(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvConfigPath, "/etc/memfixture.yaml")

	assert.Equal(t, "/etc/memfixture.yaml", config.DefaultPath())
}

func TestDefaultPath_home_file(t *testing.T) {
	clearEnv(t)

	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Empty(t, config.DefaultPath())

	pa := filepath.Join(home, ".memfixture.yaml")
	require.NoError(t, os.WriteFile(pa, []byte("{}\n"), 0o600))

	assert.Equal(t, pa, config.DefaultPath())
}

func TestResolveServerPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		path      string
		workspace string
		want      string
	}{
		{
			name: "absolute path unchanged",
			path: "/usr/bin/memcached",
			want: "/usr/bin/memcached",
		},
		{
			name: "label",
			path: "//third_party/memcached:memcached",
			want: "bazel-bin/third_party/memcached/memcached",
		},
		{
			name:      "label in workspace",
			path:      "//tools:memcached",
			workspace: "/src/repo",
			want:      "/src/repo/bazel-bin/tools/memcached",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(
				t, tt.want,
				config.ResolveServerPath(tt.path, tt.workspace),
			)
		})
	}
}

func TestExecutable_uses_workspace_env(t *testing.T) {
	t.Setenv("BUILD_WORKSPACE_DIRECTORY", "/ws")

	cfg := config.Default()
	cfg.ServerPath = "//a:b"

	assert.Equal(t, "/ws/bazel-bin/a/b", cfg.Executable())
}
