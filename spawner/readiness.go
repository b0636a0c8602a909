package spawner

import (
	"context"
	"errors"
	"net"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Readiness is the outcome of waiting for a spawned
// server to accept connections.
type Readiness int

const (
	// Unchecked means no readiness probe was run.
	Unchecked Readiness = iota

	// Ready means the port accepted a TCP connection.
	Ready

	// Exited means the child terminated before the port
	// accepted a connection.
	Exited

	// TimedOut means the readiness timeout elapsed while
	// the child was still running.
	TimedOut
)

func (rd Readiness) String() string {
	switch rd {
	case Unchecked:
		return "unchecked"
	case Ready:
		return "ready"
	case Exited:
		return "exited"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Probe reports whether addr accepts connections.
type Probe func(ctx context.Context, addr string) error

// TCPProbe dials addr once and closes the connection.
func TCPProbe(ctx context.Context, addr string) error {
	const dialTimeout = 250 * time.Millisecond

	dialer := net.Dialer{Timeout: dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	return conn.Close()
}

var errChildExited = errors.New("child exited")

// readinessBackoff starts at 5ms and doubles up to a
// 250ms cap. Steps is large: the timeout context bounds
// the loop.
func readinessBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: 5 * time.Millisecond,
		Factor:   2,
		Jitter:   0.1,
		Steps:    1 << 20,
		Cap:      250 * time.Millisecond,
	}
}

// waitReady polls probe against addr until it succeeds,
// exited is closed or timeout elapses.
func waitReady(
	ctx context.Context,
	probe Probe,
	addr string,
	timeout time.Duration,
	exited <-chan struct{},
) Readiness {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := wait.ExponentialBackoffWithContext(
		ctx,
		readinessBackoff(),
		func(ctx context.Context) (bool, error) {
			select {
			case <-exited:
				return false, errChildExited
			default:
			}

			return probe(ctx, addr) == nil, nil
		},
	)

	switch {
	case err == nil:
		return Ready
	case errors.Is(err, errChildExited):
		return Exited
	default:
		// The child may have died while we slept.
		select {
		case <-exited:
			return Exited
		default:
			return TimedOut
		}
	}
}
