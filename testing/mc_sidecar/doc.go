// Package mcsidecar implements the memcached sidecar used by integration
// suites that cannot link the Go fixture.
//
// The sidecar starts the requested servers and reports them on stdout,
// one "SERVER host:port" line each, followed by "STATE <path>" naming the
// registry snapshot and a final "READY". It then waits until stdin is
// closed, a SIGINT or SIGTERM arrives, or the timeout elapses, and
// terminates every server it started.
package mcsidecar
