package registry

import (
	"errors"
	"sync"
	"time"
)

// DefaultCapacity is the registry bound used when none
// is given.
const DefaultCapacity = 1000

// ErrCapacity is returned by Append when the registry
// is full.
var ErrCapacity = errors.New("too many servers running")

// Record describes one spawned server. Records are never
// modified after they are appended.
type Record struct {
	// OwnerPID is the owner token of the process that
	// created the record.
	OwnerPID int `json:"owner_pid"`

	// PID is the server process id.
	PID int `json:"pid"`

	// Port is the TCP port the server listens on.
	Port uint16 `json:"port"`

	// Addr is the bind address passed to the server.
	Addr string `json:"addr"`

	// StartedAt is when the server was spawned.
	StartedAt time.Time `json:"started_at"`
}

// Registry is a bounded, ordered collection of records.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	owner    int
	capacity int
	records  []Record
}

// New returns an empty registry whose owner token is
// owner. A capacity <= 0 means DefaultCapacity.
func New(owner, capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Registry{
		owner:    owner,
		capacity: capacity,
		records:  make([]Record, 0, min(capacity, 16)),
	}
}

// Owner returns the owner token captured at creation.
func (r *Registry) Owner() int {
	return r.owner
}

// Cap returns the maximum number of records.
func (r *Registry) Cap() int {
	return r.capacity
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.records)
}

// Full reports whether Append would fail.
func (r *Registry) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.records) >= r.capacity
}

// At returns the record at index i.
func (r *Registry) At(i int) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i < 0 || i >= len(r.records) {
		return Record{}, false
	}

	return r.records[i], true
}

// Append adds rec at the end. It fails with ErrCapacity
// when the registry is full.
func (r *Registry) Append(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) >= r.capacity {
		return ErrCapacity
	}

	r.records = append(r.records, rec)

	return nil
}

// IndexOfPort returns the index of the first record
// bound to port, or -1.
func (r *Registry) IndexOfPort(port uint16) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.indexOfPortLocked(port)
}

func (r *Registry) indexOfPortLocked(port uint16) int {
	for i := range r.records {
		if r.records[i].Port == port {
			return i
		}
	}

	return -1
}

// RemoveAt deletes the record at index i by moving the
// last record into its slot. Order is not preserved.
func (r *Registry) RemoveAt(i int) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeAtLocked(i)
}

func (r *Registry) removeAtLocked(i int) (Record, bool) {
	if i < 0 || i >= len(r.records) {
		return Record{}, false
	}

	rec := r.records[i]
	last := len(r.records) - 1
	r.records[i] = r.records[last]
	r.records[last] = Record{}
	r.records = r.records[:last]

	return rec, true
}

// RemovePort finds the first record bound to port and
// removes it as RemoveAt does.
func (r *Registry) RemovePort(port uint16) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeAtLocked(r.indexOfPortLocked(port))
}

// Records returns a copy of all records in index order.
func (r *Registry) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, len(r.records))
	copy(out, r.records)

	return out
}

// Owned returns a copy of the records whose OwnerPID is
// pid, in index order.
func (r *Registry) Owned(pid int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Record

	for _, rec := range r.records {
		if rec.OwnerPID == pid {
			out = append(out, rec)
		}
	}

	return out
}
