package clientfactory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/valyala/fasttemplate"

	"github.com/byte4ever/memfixture/config"
)

const endpointTemplate = "{host}:{port}"

// ErrNegativeCount is returned for a negative server
// count.
var ErrNegativeCount = errors.New("negative server count")

// PortSource returns the port of the server at index,
// spawning it when index is the next free slot.
// *lifecycle.Controller implements it.
type PortSource interface {
	GetOrSpawn(ctx context.Context, index int) (uint16, error)
}

// Handle is a client under test together with the
// logger it reports to.
type Handle struct {
	// Client has no servers when the handle was built
	// for zero servers; its calls then fail with
	// memcache.ErrNoServers.
	Client *memcache.Client

	// Servers is the comma separated endpoint list the
	// client was configured with.
	Servers string

	// Logger writes to the factory output at the
	// requested level.
	Logger *slog.Logger
}

// Endpoints returns Servers split on commas.
func (h *Handle) Endpoints() []string {
	if h.Servers == "" {
		return nil
	}

	return strings.Split(h.Servers, ",")
}

// Factory builds handles.
type Factory struct {
	ports    PortSource
	host     string
	output   io.Writer
	template *fasttemplate.Template
}

// Option customizes a Factory.
type Option func(*Factory)

// WithHost sets the host written in front of every
// port. Default is 127.0.0.1.
func WithHost(host string) Option {
	return func(f *Factory) {
		f.host = host
	}
}

// WithOutput sets where handle loggers write. Default is
// os.Stderr.
func WithOutput(w io.Writer) Option {
	return func(f *Factory) {
		f.output = w
	}
}

// New returns a Factory drawing ports from ports.
func New(ports PortSource, opts ...Option) *Factory {
	f := &Factory{
		ports:    ports,
		host:     config.DefaultBindAddress,
		output:   os.Stderr,
		template: fasttemplate.New(endpointTemplate, "{", "}"),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// BuildClient returns a handle whose client talks to
// servers 0..n-1. With n == 0 the client is returned
// without servers.
func (f *Factory) BuildClient(
	ctx context.Context,
	n int,
	level slog.Level,
) (*Handle, error) {
	const errCtx = "building client"

	if n < 0 {
		return nil, fmt.Errorf("%s: %d: %w", errCtx, n, ErrNegativeCount)
	}

	h := &Handle{
		Logger: slog.New(slog.NewTextHandler(
			f.output,
			&slog.HandlerOptions{Level: level},
		)),
	}

	if n == 0 {
		h.Client = memcache.New()

		return h, nil
	}

	endpoints := make([]string, 0, n)

	for i := range n {
		port, err := f.ports.GetOrSpawn(ctx, i)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: server %d: %w", errCtx, i, err,
			)
		}

		endpoints = append(endpoints, f.template.ExecuteString(
			map[string]any{
				"host": f.host,
				"port": strconv.Itoa(int(port)),
			},
		))
	}

	h.Servers = strings.Join(endpoints, ",")
	h.Client = memcache.New(endpoints...)

	h.Logger.Debug(
		"client configured",
		"servers", h.Servers,
	)

	return h, nil
}
