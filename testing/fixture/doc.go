// Package fixture is the TestMain harness of the memcached integration
// tests.
//
// Main starts the configured number of memcached servers, runs the tests
// and terminates every server this process started, whatever the outcome.
// A re-executed test binary finds the servers of its parent through the
// MEMFIXTURE_STATE snapshot and reuses them without terminating them.
//
//	func TestMain(m *testing.M) {
//		fixture.Main(m)
//	}
//
//	func TestGet(t *testing.T) {
//		h := fixture.Client(t, 2, slog.LevelInfo)
//		...
//	}
package fixture
