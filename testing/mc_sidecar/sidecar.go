package mcsidecar

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/byte4ever/memfixture/testing/fixture"
)

// Protocol lines written to stdout.
const (
	ServerPrefix = "SERVER"
	StatePrefix  = "STATE"
	ReadyLine    = "READY"
)

// Announce writes one SERVER line per registered server,
// the STATE line when a snapshot was exported, and
// READY.
func Announce(w io.Writer, f *fixture.Fixture) error {
	const errCtx = "announcing servers"

	bw := bufio.NewWriter(w)

	for _, rec := range f.Controller().Registry().Records() {
		endpoint := net.JoinHostPort(
			rec.Addr, strconv.Itoa(int(rec.Port)),
		)

		if _, err := fmt.Fprintln(bw, ServerPrefix, endpoint); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	if path := f.StatePath(); path != "" {
		if _, err := fmt.Fprintln(bw, StatePrefix, path); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	if _, err := fmt.Fprintln(bw, ReadyLine); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// WaitForEOF calls cancel once r is exhausted or fails.
func WaitForEOF(r io.Reader, cancel context.CancelFunc) {
	_, _ = io.Copy(io.Discard, r) //nolint:errcheck // any end means stop

	cancel()
}
