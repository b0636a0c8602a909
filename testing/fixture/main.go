package fixture

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/byte4ever/memfixture/clientfactory"
	"github.com/byte4ever/memfixture/lifecycle"
)

// Runner runs a test suite and returns its exit code.
// *testing.M implements it.
type Runner interface {
	Run() int
}

//nolint:gochecknoglobals // one fixture per test binary
var (
	currentMu sync.RWMutex
	current   *Fixture
)

// Main runs the suite under a fixture and exits with the
// status returned by Run.
func Main(m *testing.M, opts ...Option) {
	os.Exit(Run(m, opts...))
}

// Run sets up the fixture, runs m and closes the fixture.
// It returns 0 when m reports success and 1 otherwise,
// including when setup fails.
func Run(m Runner, opts ...Option) int {
	f, err := Setup(context.Background(), opts...)

	if f != nil {
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				f.logger.Error(
					"fixture cleanup failed",
					"error", closeErr,
				)
			}

			setCurrent(nil)
		}()
	}

	if err != nil {
		slog.Error("fixture setup failed", "error", err)

		return 1
	}

	setCurrent(f)

	if m.Run() != 0 {
		return 1
	}

	return 0
}

func setCurrent(f *Fixture) {
	currentMu.Lock()
	defer currentMu.Unlock()

	current = f
}

// Current returns the fixture installed by Run, or nil.
func Current() *Fixture {
	currentMu.RLock()
	defer currentMu.RUnlock()

	return current
}

func mustCurrent(tb testing.TB) *Fixture {
	tb.Helper()

	f := Current()
	if f == nil {
		tb.Fatal("fixture: not running under fixture.Main")
	}

	return f
}

// Server returns the port of server i, starting it when i
// is the next free index. It fails tb on error.
func Server(tb testing.TB, i int) uint16 {
	tb.Helper()

	port, err := mustCurrent(tb).Server(tb.Context(), i)
	if err != nil {
		tb.Fatalf("fixture: server %d: %v", i, err)
	}

	return port
}

// Client returns a handle configured with servers
// 0..n-1. It fails tb on error.
func Client(
	tb testing.TB,
	n int,
	level slog.Level,
) *clientfactory.Handle {
	tb.Helper()

	h, err := mustCurrent(tb).Client(tb.Context(), n, level)
	if err != nil {
		tb.Fatalf("fixture: client with %d servers: %v", n, err)
	}

	return h
}

// Stop terminates the server on port and reports whether
// one was found.
func Stop(tb testing.TB, port uint16) bool {
	tb.Helper()

	return mustCurrent(tb).Stop(port)
}

// Controller returns the controller of the running
// fixture.
func Controller(tb testing.TB) *lifecycle.Controller {
	tb.Helper()

	return mustCurrent(tb).Controller()
}
