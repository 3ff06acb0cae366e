// Package region stores DDM regions and answers range-overlap queries
// (spec.md §3 Region, §4 component table). A region is owned by one
// connect, carries a dimension handle set, and holds per-dimension range
// bounds committed separately from creation, mirroring the InsertRegion /
// CommitRegion / EraseRegion split on the wire.
package region

import (
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/rtierrors"
)

// Range is one dimension's half-open bound pair [Lower, Upper).
type Range struct {
	Lower uint64
	Upper uint64
}

// Overlaps reports whether two half-open ranges share any value.
func (r Range) Overlaps(o Range) bool {
	return r.Lower < o.Upper && o.Lower < r.Upper
}

// Region is one committed DDM region.
type Region struct {
	Handle  handle.Region
	Owner   handle.Connect
	Ranges  map[handle.Dimension]Range
}

// Set stores every region of one federation, keyed by composite region
// handle so the owning federate is recoverable without a lookup
// (spec.md §4.1).
type Set struct {
	regions map[handle.Region]*Region
}

// NewSet returns an empty region set.
func NewSet() *Set {
	return &Set{regions: map[handle.Region]*Region{}}
}

// Insert creates a region owned by connectHandle covering the given
// dimensions with unconstrained bounds until a commit arrives.
func (s *Set) Insert(rh handle.Region, owner handle.Connect, dimensions []handle.Dimension) error {
	if _, ok := s.regions[rh]; ok {
		return rtierrors.New(rtierrors.CodeRTIInternalError, "region %v inserted twice", rh)
	}
	r := &Region{Handle: rh, Owner: owner, Ranges: make(map[handle.Dimension]Range, len(dimensions))}
	for _, d := range dimensions {
		r.Ranges[d] = Range{Lower: 0, Upper: ^uint64(0)}
	}
	s.regions[rh] = r
	return nil
}

// Commit replaces the range bounds of an existing region. Dimensions not
// named keep their previous bounds.
func (s *Set) Commit(rh handle.Region, ranges map[handle.Dimension]Range) error {
	r, ok := s.regions[rh]
	if !ok {
		return rtierrors.New(rtierrors.CodeRTIInternalError, "commit for unknown region %v", rh)
	}
	for d, rg := range ranges {
		if _, ok := r.Ranges[d]; !ok {
			return rtierrors.New(rtierrors.CodeRTIInternalError,
				"commit for region %v names dimension %v outside its dimension set", rh, d)
		}
		r.Ranges[d] = rg
	}
	return nil
}

// Erase removes a region.
func (s *Set) Erase(rh handle.Region) error {
	if _, ok := s.regions[rh]; !ok {
		return rtierrors.New(rtierrors.CodeRTIInternalError, "erase for unknown region %v", rh)
	}
	delete(s.regions, rh)
	return nil
}

// Get looks up a region by handle.
func (s *Set) Get(rh handle.Region) (*Region, bool) {
	r, ok := s.regions[rh]
	return r, ok
}

// Intersects reports whether two regions overlap: every dimension present
// in both must have overlapping ranges, and a dimension present in only
// one of them does not constrain the other.
func (s *Set) Intersects(a, b handle.Region) bool {
	ra, ok := s.regions[a]
	if !ok {
		return false
	}
	rb, ok := s.regions[b]
	if !ok {
		return false
	}
	for d, rga := range ra.Ranges {
		rgb, shared := rb.Ranges[d]
		if !shared {
			continue
		}
		if !rga.Overlaps(rgb) {
			return false
		}
	}
	return true
}

// RemoveFederate erases every region the given federate created, used when
// the federate is torn down (spec.md §3 lifecycles).
func (s *Set) RemoveFederate(fed handle.Federate) []handle.Region {
	var erased []handle.Region
	for rh := range s.regions {
		if rh.Federate() == fed {
			delete(s.regions, rh)
			erased = append(erased, rh)
		}
	}
	return erased
}
