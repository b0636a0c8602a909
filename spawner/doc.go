// Package spawner starts cache-server processes bound to an allocated port
// and reports whether they became reachable.
//
// A spawn allocates a port, expands the server argv template, starts the
// child, tails its output into the structured logger and then polls the
// port with exponential backoff until the server accepts a TCP connection,
// the child exits, or the readiness timeout elapses. The outcome is
// reported as an explicit Readiness value rather than assumed after a
// fixed delay. A background goroutine reaps every child.
package spawner
