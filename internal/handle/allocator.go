package handle

import "fmt"

// unsigned is the constraint satisfied by every handle's underlying storage
// type. The all-ones bit pattern of each of these types is exactly the
// package's Invalid* sentinel (MaxUint32, MaxUint16, MaxUint64), so a
// generic Allocator can compute "invalid" as ^H(0) without being told
// which concrete handle type it is allocating.
type unsigned interface {
	~uint16 | ~uint32 | ~uint64
}

// ErrHandlesExhausted is returned by Get when the monotonic counter would
// wrap into the reserved invalid value.
var ErrHandlesExhausted = fmt.Errorf("handle: running out of handle values")

// Allocator hands out the smallest unused handle of one kind, backed by a
// monotonically increasing counter plus a free set of reclaimed handles.
// It mirrors OpenRTI's HandleAllocator<H> template: allocation never
// collides with a still-outstanding handle, and Take fills any gap left by
// a handle minted out of band (e.g. one a parent server already assigned)
// by pushing the skipped range into the free set.
//
// Not goroutine-safe; callers serialize access the same way a federation's
// single message-processing loop serializes all other state mutation.
type Allocator[H unsigned] struct {
	next H
	free map[H]struct{}
}

// NewAllocator returns an allocator that starts handing out handles from zero.
func NewAllocator[H unsigned]() *Allocator[H] {
	return &Allocator[H]{free: make(map[H]struct{})}
}

func invalid[H unsigned]() H {
	var zero H
	return ^zero
}

// Get allocates the smallest unused handle.
func (a *Allocator[H]) Get() (H, error) {
	if len(a.free) > 0 {
		first := true
		var smallest H
		for h := range a.free {
			if first || h < smallest {
				smallest, first = h, false
			}
		}
		delete(a.free, smallest)
		return smallest, nil
	}
	if a.next == invalid[H]() {
		var zero H
		return zero, ErrHandlesExhausted
	}
	h := a.next
	a.next++
	return h, nil
}

// Take marks a specific handle as allocated, used when this allocator is a
// slave tracking a parent server's allocations. If handle is beyond the
// current counter, the gap [next, handle) is pushed into the free set and
// the counter is bumped past handle, exactly like OpenRTI's take().
func (a *Allocator[H]) Take(h H) {
	if h == invalid[H]() {
		return
	}
	if _, ok := a.free[h]; ok {
		delete(a.free, h)
		return
	}
	if h < a.next {
		// Already implicitly allocated by a prior Get/Take below next and
		// not in the free set: the caller is re-taking a live handle, which
		// is a bug in the slave-tracking logic upstream.
		panic(fmt.Sprintf("handle: Take(%v) below allocator counter %v and not free", h, a.next))
	}
	for a.next < h {
		a.free[a.next] = struct{}{}
		a.next++
	}
	a.next++
}

// GetOrTake allocates a fresh handle if h is invalid, otherwise takes h.
func (a *Allocator[H]) GetOrTake(h H) H {
	if h == invalid[H]() {
		v, err := a.Get()
		if err != nil {
			panic(err)
		}
		return v
	}
	a.Take(h)
	return h
}

// Put reclaims a handle so a future Get may reuse it.
func (a *Allocator[H]) Put(h H) {
	if h == invalid[H]() {
		return
	}
	a.free[h] = struct{}{}
}

// Used reports whether any handle is currently outstanding.
func (a *Allocator[H]) Used() bool {
	return H(len(a.free)) < a.next
}

// Empty reports whether the allocator has no more handles to give away
// (only possible once the counter has wrapped, which Get prevents).
func (a *Allocator[H]) Empty() bool {
	return len(a.free) == 0 && a.next == invalid[H]()
}

// Clone returns an independent copy of the allocator's state, used by
// callers that need "candidate then commit" transactions spanning more
// than a single handle (spec.md §4.2, §9): mutate the clone, and only
// assign it back over the original once the whole operation succeeds.
func (a *Allocator[H]) Clone() *Allocator[H] {
	free := make(map[H]struct{}, len(a.free))
	for h := range a.free {
		free[h] = struct{}{}
	}
	return &Allocator[H]{next: a.next, free: free}
}

// Candidate manages one open handle-allocation transaction: construct it to
// either take a caller-supplied handle or mint a fresh one, call Commit
// once the surrounding operation is known to succeed, and let the
// Candidate fall out of scope (call Rollback, or just drop it) on any
// failure path to put the handle back in the free set. This is the
// allocator half of the "candidate then commit" idiom used by FOM module
// insertion (spec.md §4.2, §9).
type Candidate[H unsigned] struct {
	alloc     *Allocator[H]
	handle    H
	committed bool
}

// NewCandidate opens a candidate allocation: if handle is valid it is
// taken, otherwise a fresh handle is minted.
func NewCandidate[H unsigned](a *Allocator[H], handle H) *Candidate[H] {
	return &Candidate[H]{alloc: a, handle: a.GetOrTake(handle)}
}

// Handle returns the handle under transaction.
func (c *Candidate[H]) Handle() H { return c.handle }

// Commit finalizes the allocation; the handle stays allocated.
func (c *Candidate[H]) Commit() H {
	c.committed = true
	return c.handle
}

// Rollback puts the handle back in the free set. Safe to call after Commit
// (no-op) or multiple times.
func (c *Candidate[H]) Rollback() {
	if c.committed {
		return
	}
	c.alloc.Put(c.handle)
	c.committed = true // idempotent
}
