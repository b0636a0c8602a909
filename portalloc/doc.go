// Package portalloc derives pseudo-random TCP ports for ephemeral cache
// servers from the low-order bits of the wall-clock nanosecond. Consecutive
// calls are unlikely to return the same port, but nothing checks whether the
// port is already bound: a collision makes the spawned server fail to listen.
package portalloc
