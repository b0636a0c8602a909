package fixture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/byte4ever/memfixture/clientfactory"
	"github.com/byte4ever/memfixture/config"
	"github.com/byte4ever/memfixture/lifecycle"
	"github.com/byte4ever/memfixture/registry"
	"github.com/byte4ever/memfixture/spawner"
)

const snapshotName = "servers.json"

// Fixture owns the servers of one test process.
type Fixture struct {
	cfg     config.Config
	logger  *slog.Logger
	ctrl    *lifecycle.Controller
	clients *clientfactory.Factory

	// stateDir is set when this process wrote the
	// snapshot and must remove it.
	stateDir string
	attached bool
}

type options struct {
	cfg         *config.Config
	configPath  string
	starter     lifecycle.Starter
	logger      *slog.Logger
	controlOpts []lifecycle.Option
	clientOpts  []clientfactory.Option
}

// Option customizes Setup.
type Option func(*options)

// WithConfig uses cfg instead of loading one.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.cfg = &cfg
	}
}

// WithConfigPath loads the config from path instead of
// config.DefaultPath().
func WithConfigPath(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithStarter replaces the memcached spawner.
func WithStarter(starter lifecycle.Starter) Option {
	return func(o *options) {
		o.starter = starter
	}
}

// WithLogger sets the fixture logger. The default writes
// text to stderr at the configured level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithControllerOptions passes opts to lifecycle.New.
func WithControllerOptions(opts ...lifecycle.Option) Option {
	return func(o *options) {
		o.controlOpts = append(o.controlOpts, opts...)
	}
}

// WithClientOptions passes opts to clientfactory.New.
func WithClientOptions(opts ...clientfactory.Option) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// Setup builds a Fixture. It attaches to the servers
// named by MEMFIXTURE_STATE when that snapshot loads,
// otherwise it starts cfg.InitialServers servers and
// exports a snapshot of them for child processes.
//
// On error the returned Fixture, when not nil, still
// owns the servers started so far and must be closed.
func Setup(ctx context.Context, opts ...Option) (*Fixture, error) {
	const errCtx = "setting up fixture"

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := o.config()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(
			os.Stderr,
			&slog.HandlerOptions{Level: cfg.LogLevel},
		))
	}

	starter := o.starter
	if starter == nil {
		sp := spawner.New(cfg)
		sp.Logger = logger
		starter = sp
	}

	ctrl := lifecycle.New(
		registry.New(os.Getpid(), cfg.Capacity),
		starter,
		append(
			[]lifecycle.Option{lifecycle.WithLogger(logger)},
			o.controlOpts...,
		)...,
	)

	f := &Fixture{
		cfg:     cfg,
		logger:  logger,
		ctrl:    ctrl,
		clients: clientfactory.New(ctrl, o.clientOpts...),
	}

	if state := os.Getenv(config.EnvState); state != "" {
		if err := ctrl.Attach(state); err != nil {
			logger.Warn(
				"ignoring server snapshot",
				"var", config.EnvState,
				"error", err,
			)
		} else {
			f.attached = true

			return f, nil
		}
	}

	for i := range cfg.InitialServers {
		if _, err := ctrl.GetOrSpawn(ctx, i); err != nil {
			return f, fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	if err := f.exportState(); err != nil {
		return f, fmt.Errorf("%s: %w", errCtx, err)
	}

	return f, nil
}

func (o *options) config() (config.Config, error) {
	if o.cfg != nil {
		return *o.cfg, nil
	}

	path := o.configPath
	if path == "" {
		path = config.DefaultPath()
	}

	return config.Load(path)
}

func (f *Fixture) exportState() error {
	dir, err := os.MkdirTemp("", "memfixture-")
	if err != nil {
		return err
	}

	f.stateDir = dir
	path := filepath.Join(dir, snapshotName)

	if err := f.ctrl.SaveSnapshot(path); err != nil {
		return err
	}

	return os.Setenv(config.EnvState, path)
}

// StatePath returns the snapshot this process exported,
// or "" when it attached to a parent or exported none.
func (f *Fixture) StatePath() string {
	if f.stateDir == "" {
		return ""
	}

	return filepath.Join(f.stateDir, snapshotName)
}

// Attached reports whether the servers came from a
// parent process snapshot.
func (f *Fixture) Attached() bool {
	return f.attached
}

// Config returns the effective configuration.
func (f *Fixture) Config() config.Config {
	return f.cfg
}

// Controller returns the lifecycle controller.
func (f *Fixture) Controller() *lifecycle.Controller {
	return f.ctrl
}

// Server returns the port of server i, starting it when
// i is the next free index.
func (f *Fixture) Server(ctx context.Context, i int) (uint16, error) {
	return f.ctrl.GetOrSpawn(ctx, i)
}

// Client returns a handle configured with servers
// 0..n-1.
func (f *Fixture) Client(
	ctx context.Context,
	n int,
	level slog.Level,
) (*clientfactory.Handle, error) {
	return f.clients.BuildClient(ctx, n, level)
}

// Stop terminates the server on port. See
// lifecycle.Controller.Stop.
func (f *Fixture) Stop(port uint16) bool {
	return f.ctrl.Stop(port)
}

// Close terminates the servers this process started and
// removes the exported snapshot.
func (f *Fixture) Close() error {
	const errCtx = "closing fixture"

	var errs []error

	if err := f.ctrl.CleanupAll(); err != nil {
		errs = append(errs, err)
	}

	if f.stateDir != "" {
		if os.Getenv(config.EnvState) == f.StatePath() {
			errs = append(errs, os.Unsetenv(config.EnvState))
		}

		errs = append(errs, os.RemoveAll(f.stateDir))
		f.stateDir = ""
	}

	if agg := utilerrors.NewAggregate(errs); agg != nil {
		return fmt.Errorf("%s: %w", errCtx, agg)
	}

	return nil
}
