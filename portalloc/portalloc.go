package portalloc

import "time"

const (
	// DefaultBase is the lowest port handed out.
	DefaultBase uint16 = 30000

	// DefaultMask selects the clock bits added to the
	// base. 30000+0x7fff stays below 65536.
	DefaultMask uint16 = 0x7fff
)

// Clock returns the current time. It exists so tests
// can pin the nanosecond reading.
type Clock func() time.Time

// Allocator derives ports as Base + (nanoseconds & Mask).
// The zero value uses the defaults and the system clock.
type Allocator struct {
	Base  uint16
	Mask  uint16
	Clock Clock
}

// New returns an Allocator with the given base and mask.
// Zero values fall back to DefaultBase and DefaultMask.
func New(base, mask uint16) *Allocator {
	return &Allocator{Base: base, Mask: mask}
}

// Next returns the next port. No collision check is made
// against ports that are already bound or were handed
// out earlier.
func (al *Allocator) Next() uint16 {
	base, mask := al.Base, al.Mask
	if base == 0 {
		base = DefaultBase
	}

	if mask == 0 {
		mask = DefaultMask
	}

	now := time.Now
	if al.Clock != nil {
		now = al.Clock
	}

	// Wall-clock nanoseconds: their low bits vary between
	// rapid calls.
	nanos := uint32(now().Nanosecond()) //nolint:gosec // always < 1e9

	offset := uint16(nanos & uint32(mask)) //nolint:gosec // masked to 16 bits

	// Guard against a custom base+mask overflowing.
	if uint32(base)+uint32(offset) > 0xffff {
		offset %= 0xffff - base + 1
	}

	return base + offset
}
