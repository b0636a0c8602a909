// Package lifecycle owns the spawned cache servers of a test process.
//
// A Controller hands out servers by index, spawning one when the index is
// exactly the number of servers already running, stops servers by port and
// terminates, once, every server the current process created. Servers
// inherited from a parent process through a registry snapshot are visible
// to the tests but are never terminated by CleanupAll.
package lifecycle
