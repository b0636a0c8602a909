// Package registry keeps the ordered, bounded list of spawned cache servers.
//
// Index order is insertion order until a removal, which moves the last
// record into the freed slot. Each record carries the owner token (pid) of
// the process that created it so that cleanup can leave alone servers that
// belong to another process. A registry can be saved to and loaded from a
// JSON snapshot, which lets a re-executed test binary reuse the servers of
// its parent without owning them.
package registry
