package spawner

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/byte4ever/memfixture/config"
	"github.com/byte4ever/memfixture/portalloc"
)

// PortSource hands out ports for new servers.
type PortSource interface {
	Next() uint16
}

// Process describes a started cache server.
type Process struct {
	PID       int
	Port      uint16
	Addr      string
	StartedAt time.Time
	Readiness Readiness

	exit *exitState
}

// Done is closed once the child has been reaped. It is
// nil for a zero Process.
func (pr Process) Done() <-chan struct{} {
	if pr.exit == nil {
		return nil
	}

	return pr.exit.done
}

// ExitErr returns the child's Wait error after Done is
// closed.
func (pr Process) ExitErr() error {
	if pr.exit == nil {
		return nil
	}

	pr.exit.mu.Lock()
	defer pr.exit.mu.Unlock()

	return pr.exit.err
}

// Endpoint returns addr:port.
func (pr Process) Endpoint() string {
	return net.JoinHostPort(
		pr.Addr, strconv.Itoa(int(pr.Port)),
	)
}

type exitState struct {
	done chan struct{}
	mu   sync.Mutex
	err  error
}

// Spawner starts server processes. Path and Args are
// required; the other fields have defaults.
type Spawner struct {
	// Path is the server executable.
	Path string

	// Args is the argv template, see ExpandArgs.
	Args string

	// BindAddress is used when Spawn is given an empty
	// address. Defaults to 127.0.0.1.
	BindAddress string

	// Env is appended to the inherited environment.
	Env []string

	// Ports allocates a port per spawn.
	Ports PortSource

	// ReadinessTimeout bounds the readiness poll. Zero
	// disables the poll and reports Unchecked.
	ReadinessTimeout time.Duration

	// Probe checks whether the server accepts
	// connections. Defaults to TCPProbe.
	Probe Probe

	// Logger receives spawn diagnostics and the child
	// output. Defaults to slog.Default().
	Logger *slog.Logger
}

// New returns a Spawner configured from cfg.
func New(cfg config.Config) *Spawner {
	return &Spawner{
		Path:             cfg.Executable(),
		Args:             cfg.Args,
		BindAddress:      cfg.BindAddress,
		Ports:            portalloc.New(cfg.PortBase, cfg.PortMask),
		ReadinessTimeout: cfg.ReadinessTimeout,
	}
}

func (sp *Spawner) logger() *slog.Logger {
	if sp.Logger != nil {
		return sp.Logger
	}

	return slog.Default()
}

// Spawn starts a server bound to bindAddr (BindAddress
// when empty) on a freshly allocated port and waits for it to
// accept connections.
//
// A start failure is logged and returned. A child that
// exits before becoming ready is returned with Readiness
// Exited and an error. A readiness timeout is logged and
// the process is returned without error: the server may
// still come up later.
func (sp *Spawner) Spawn(
	ctx context.Context,
	bindAddr string,
) (Process, error) {
	const errCtx = "spawning server"

	if bindAddr == "" {
		bindAddr = sp.BindAddress
	}

	if bindAddr == "" {
		bindAddr = config.DefaultBindAddress
	}

	ports := sp.Ports
	if ports == nil {
		ports = &portalloc.Allocator{}
	}

	port := ports.Next()
	args := ExpandArgs(sp.Args, port, bindAddr)
	log := sp.logger()

	log.Info(
		"starting server",
		"path", sp.Path,
		"args", strings.Join(args, " "),
		"port", port,
	)

	//nolint:gosec // server path comes from fixture config
	cmd := exec.Command(sp.Path, args...)
	if len(sp.Env) > 0 {
		cmd.Env = append(os.Environ(), sp.Env...)
	}

	stdout := &lineLogger{logger: log, stream: "stdout", port: port}
	stderr := &lineLogger{logger: log, stream: "stderr", port: port}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		log.Error(
			"failed to start server",
			"path", sp.Path,
			"port", port,
			"error", err,
		)

		return Process{}, fmt.Errorf(
			"%s: %s: %w", errCtx, sp.Path, err,
		)
	}

	pid := cmd.Process.Pid
	stdout.setPID(pid)
	stderr.setPID(pid)

	proc := Process{
		PID:       pid,
		Port:      port,
		Addr:      bindAddr,
		StartedAt: time.Now(),
		exit:      &exitState{done: make(chan struct{})},
	}

	go reap(cmd, proc.exit, log, port, stdout, stderr)

	if sp.ReadinessTimeout <= 0 {
		return proc, nil
	}

	probe := sp.Probe
	if probe == nil {
		probe = TCPProbe
	}

	proc.Readiness = waitReady(
		ctx, probe, proc.Endpoint(),
		sp.ReadinessTimeout, proc.exit.done,
	)

	switch proc.Readiness {
	case Ready:
		log.Info(
			"server ready",
			"pid", pid,
			"endpoint", proc.Endpoint(),
		)
	case Exited:
		<-proc.exit.done

		return proc, fmt.Errorf(
			"%s: server pid %d on port %d exited before accepting connections: %v",
			errCtx, pid, port, proc.ExitErr(),
		)
	default:
		log.Warn(
			"server not ready before timeout",
			"pid", pid,
			"endpoint", proc.Endpoint(),
			"timeout", sp.ReadinessTimeout,
		)
	}

	return proc, nil
}

func reap(
	cmd *exec.Cmd,
	st *exitState,
	log *slog.Logger,
	port uint16,
	outputs ...*lineLogger,
) {
	err := cmd.Wait()

	for _, out := range outputs {
		out.Flush()
	}

	st.mu.Lock()
	st.err = err
	st.mu.Unlock()

	log.Info(
		"server exited",
		"pid", cmd.Process.Pid,
		"port", port,
		"error", err,
	)

	close(st.done)
}
