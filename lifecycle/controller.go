package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/byte4ever/memfixture/registry"
	"github.com/byte4ever/memfixture/spawner"
)

// ErrOutOfRange is returned by GetOrSpawn for an index
// beyond the next free slot.
var ErrOutOfRange = errors.New("server index out of range")

// Starter starts one server. *spawner.Spawner
// implements it.
type Starter interface {
	Spawn(
		ctx context.Context,
		bindAddr string,
	) (spawner.Process, error)
}

// Controller ties a registry to a starter.
type Controller struct {
	reg     *registry.Registry
	starter Starter
	logger  *slog.Logger
	metrics *metrics

	terminate func(pid int) error
	getpid    func() int

	// mu serializes the count check with the spawn and
	// append that follow it.
	mu sync.Mutex

	cleanupOnce sync.Once
	cleanupErr  error

	// cleaned holds, under mu, the pids CleanupAll has
	// already signaled.
	cleaned map[int]struct{}
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithTerminate replaces the SIGTERM sender.
func WithTerminate(fn func(pid int) error) Option {
	return func(c *Controller) {
		c.terminate = fn
	}
}

// WithPID replaces os.Getpid as the source of the
// current owner token.
func WithPID(fn func() int) Option {
	return func(c *Controller) {
		c.getpid = fn
	}
}

// New returns a Controller over reg that starts servers
// with starter.
func New(
	reg *registry.Registry,
	starter Starter,
	opts ...Option,
) *Controller {
	c := &Controller{
		reg:       reg,
		starter:   starter,
		logger:    slog.Default(),
		metrics:   newMetrics(),
		terminate: sigterm,
		getpid:    os.Getpid,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func sigterm(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

// Registry returns the underlying registry.
func (c *Controller) Registry() *registry.Registry {
	return c.reg
}

// Metrics returns the Prometheus registry holding the
// controller metrics.
func (c *Controller) Metrics() *prometheus.Registry {
	return c.metrics.registry
}

// GetOrSpawn returns the port of the server at index.
// When index equals the number of servers a new one is
// spawned first. A larger index fails with ErrOutOfRange.
func (c *Controller) GetOrSpawn(
	ctx context.Context,
	index int,
) (uint16, error) {
	const errCtx = "getting server"

	c.mu.Lock()
	defer c.mu.Unlock()

	count := c.reg.Len()

	switch {
	case index < 0 || index > count:
		return 0, fmt.Errorf(
			"%s: index %d with %d running: %w",
			errCtx, index, count, ErrOutOfRange,
		)
	case index < count:
		rec, _ := c.reg.At(index)

		return rec.Port, nil
	}

	rec, err := c.spawnLocked(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", errCtx, err)
	}

	return rec.Port, nil
}

// Spawn starts a server bound to bindAddr regardless of
// how many are running and records it.
func (c *Controller) Spawn(
	ctx context.Context,
	bindAddr string,
) (registry.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.spawnLocked(ctx, bindAddr)
}

func (c *Controller) spawnLocked(
	ctx context.Context,
	bindAddr string,
) (registry.Record, error) {
	if c.reg.Full() {
		c.metrics.failures.Inc()
		c.logger.Error(
			"too many servers running",
			"capacity", c.reg.Cap(),
		)

		return registry.Record{}, registry.ErrCapacity
	}

	proc, err := c.starter.Spawn(ctx, bindAddr)
	if err != nil {
		c.metrics.failures.Inc()

		return registry.Record{}, err
	}

	rec := registry.Record{
		OwnerPID:  c.getpid(),
		PID:       proc.PID,
		Port:      proc.Port,
		Addr:      proc.Addr,
		StartedAt: proc.StartedAt,
	}

	if err := c.reg.Append(rec); err != nil {
		// only reachable when Attach filled the registry
		// concurrently
		_ = c.terminate(proc.PID) //nolint:errcheck // best effort

		c.metrics.failures.Inc()

		return registry.Record{}, err
	}

	c.metrics.spawned.Inc()
	c.metrics.live.Inc()

	return rec, nil
}

// Stop sends SIGTERM to the first server bound to port
// and removes it from the registry. It reports false
// when no server uses port.
func (c *Controller) Stop(port uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.reg.RemovePort(port)
	if !ok {
		c.logger.Debug("no server on port", "port", port)

		return false
	}

	owned := rec.OwnerPID == c.getpid()

	// cleanup already signaled and counted it
	if _, done := c.cleaned[rec.PID]; done && owned {
		c.logger.Debug(
			"server already cleaned up",
			"pid", rec.PID,
			"port", rec.Port,
		)

		return true
	}

	if err := c.terminate(rec.PID); err != nil {
		c.logger.Warn(
			"failed to signal server",
			"pid", rec.PID,
			"port", rec.Port,
			"error", err,
		)
	}

	c.logger.Info(
		"server stopped",
		"pid", rec.PID,
		"port", rec.Port,
	)

	c.metrics.stopped.Inc()

	if owned {
		c.metrics.live.Dec()
	}

	return true
}

// CleanupAll sends SIGTERM to every server created by the
// current process. Records are left in place. Only the
// first call does anything; later calls return the same
// result.
func (c *Controller) CleanupAll() error {
	c.cleanupOnce.Do(func() {
		c.cleanupErr = c.cleanup()
	})

	return c.cleanupErr
}

func (c *Controller) cleanup() error {
	const errCtx = "cleaning up servers"

	c.mu.Lock()
	defer c.mu.Unlock()

	owner := c.getpid()
	owned := c.reg.Owned(owner)

	c.cleaned = make(map[int]struct{}, len(owned))

	var errs []error

	for _, rec := range owned {
		err := c.terminate(rec.PID)

		switch {
		case err == nil:
			c.cleaned[rec.PID] = struct{}{}
			c.metrics.stopped.Inc()
			c.metrics.live.Dec()
		case errors.Is(err, unix.ESRCH):
			c.logger.Debug(
				"server already gone",
				"pid", rec.PID,
				"port", rec.Port,
			)
			c.cleaned[rec.PID] = struct{}{}
			c.metrics.live.Dec()
		default:
			errs = append(errs, fmt.Errorf(
				"pid %d port %d: %w", rec.PID, rec.Port, err,
			))
		}
	}

	c.logger.Info(
		"servers cleaned up",
		"owner", owner,
		"signaled", len(owned)-len(errs),
		"skipped", c.reg.Len()-len(owned),
	)

	if agg := utilerrors.NewAggregate(errs); agg != nil {
		c.logger.Error("cleanup failed", "error", agg)

		return fmt.Errorf("%s: %w", errCtx, agg)
	}

	return nil
}

// Attach loads the servers of a parent process from the
// snapshot at path. They keep the parent's owner token.
func (c *Controller) Attach(path string) error {
	const errCtx = "attaching to parent servers"

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.reg.Load(path); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	c.logger.Info(
		"attached to servers",
		"path", path,
		"count", c.reg.Len(),
	)

	return nil
}

// SaveSnapshot writes the registry to path for child
// processes to Attach.
func (c *Controller) SaveSnapshot(path string) error {
	const errCtx = "saving server snapshot"

	if err := c.reg.Save(path); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}
