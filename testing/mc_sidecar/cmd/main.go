// Package main provides the mc_sidecar CLI that starts
// memcached servers for an integration suite, reports
// their endpoints and terminates them on shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/byte4ever/memfixture/config"
	mcsidecar "github.com/byte4ever/memfixture/testing/mc_sidecar"
	"github.com/byte4ever/memfixture/testing/fixture"
)

type params struct {
	servers    int
	configPath string
	timeout    time.Duration
	bind       string
}

func parseParams() (*params, error) {
	const errCtx = "parse flags"

	var p params

	flag.IntVar(
		&p.servers,
		"servers",
		-1,
		"number of servers to start (default from config)",
	)
	flag.StringVar(
		&p.configPath,
		"config",
		config.DefaultPath(),
		"path to the YAML config file",
	)
	flag.DurationVar(
		&p.timeout,
		"timeout",
		30*time.Minute,
		"execution timeout",
	)
	flag.StringVar(
		&p.bind,
		"bind",
		"",
		"server bind address (default from config)",
	)

	flag.Parse()

	if p.timeout <= 0 {
		return nil, fmt.Errorf(
			"%s: timeout must be positive", errCtx,
		)
	}

	return &p, nil
}

func run() error {
	const errCtx = "mc_sidecar"

	p, err := parseParams()
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	cfg, err := config.Load(p.configPath)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if p.servers >= 0 {
		cfg.InitialServers = p.servers
	}

	if p.bind != "" {
		cfg.BindAddress = p.bind
	}

	ctx, cancel := context.WithTimeout(
		context.Background(), p.timeout,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	defer func() {
		signal.Stop(sigCh)
		cancel()
	}()

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	go mcsidecar.WaitForEOF(os.Stdin, cancel)

	f, err := fixture.Setup(ctx, fixture.WithConfig(cfg))
	if f != nil {
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				slog.Error(
					"cleanup failed", "error", closeErr,
				)
			}
		}()
	}

	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := mcsidecar.Announce(os.Stdout, f); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	<-ctx.Done()

	slog.Info("shutting down", "reason", context.Cause(ctx))

	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
