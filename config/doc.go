// Package config loads the fixture settings: which cache-server binary to
// run, how to invoke it, where to bind, how many servers the registry may
// hold and how long to wait for a server to accept connections.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. MEMCACHED_PATH may be an absolute path or a Bazel
// label such as //third_party/memcached:memcached.
package config
