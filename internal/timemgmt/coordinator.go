package timemgmt

import (
	"github.com/openrti-go/rticore/internal/handle"
)

// regulator is one time-regulating federate's contribution to GALT as
// seen at this node.
type regulator struct {
	lbts     Time
	commitID uint64
	locked   bool
}

// Coordinator computes GALT for one federation from the committed LBTS
// values of every time-regulating federate (spec.md §4.5). The root
// server owns the authoritative instance; child nodes keep a cache fed by
// the commit messages that flow through them.
type Coordinator struct {
	factory    *Factory
	regulators map[handle.Federate]*regulator
}

// NewCoordinator returns a coordinator with no regulators, bound to the
// federation's logical-time factory.
func NewCoordinator(factory *Factory) *Coordinator {
	return &Coordinator{factory: factory, regulators: map[handle.Federate]*regulator{}}
}

// Factory returns the federation's logical-time factory.
func (c *Coordinator) Factory() *Factory { return c.factory }

// InsertRegulator adds fed to the regulating set with its initial LBTS.
func (c *Coordinator) InsertRegulator(fed handle.Federate, lbts Time) {
	c.regulators[fed] = &regulator{lbts: lbts}
}

// EraseRegulator removes fed from the regulating set, unblocking any
// advance that was waiting on its LBTS.
func (c *Coordinator) EraseRegulator(fed handle.Federate) {
	delete(c.regulators, fed)
}

// IsRegulator reports whether fed currently regulates.
func (c *Coordinator) IsRegulator(fed handle.Federate) bool {
	_, ok := c.regulators[fed]
	return ok
}

// Regulators returns the current regulating federates.
func (c *Coordinator) Regulators() []handle.Federate {
	out := make([]handle.Federate, 0, len(c.regulators))
	for fed := range c.regulators {
		out = append(out, fed)
	}
	return out
}

// Commit records fed's newly committed LBTS. A commit for a regulator
// this node has not seen yet inserts it (a cache learns its regulators
// from the commits flowing through); stale commits (serial not above the
// last seen one) are ignored, keeping the per-federate LBTS monotone
// under reordered duplicates from a re-routed parent path.
func (c *Coordinator) Commit(fed handle.Federate, commitID uint64, lbts Time) bool {
	r, ok := c.regulators[fed]
	if !ok {
		c.regulators[fed] = &regulator{lbts: lbts, commitID: commitID}
		return true
	}
	if commitID <= r.commitID {
		return false
	}
	r.commitID = commitID
	r.lbts = lbts
	return true
}

// Committed returns fed's last committed LBTS and serial.
func (c *Coordinator) Committed(fed handle.Federate) (Time, uint64, bool) {
	r, ok := c.regulators[fed]
	if !ok {
		return 0, 0, false
	}
	return r.lbts, r.commitID, true
}

// SetLocked marks fed as mid-next-message-request; the lock is only
// bookkeeping at the coordinator (the federate itself withholds further
// commits while locked), mirroring LockedByNextMessageRequest (spec.md §4.5).
func (c *Coordinator) SetLocked(fed handle.Federate, locked bool) {
	if r, ok := c.regulators[fed]; ok {
		r.locked = locked
	}
}

// GALT returns the greatest available logical time as seen by fed: the
// minimum committed LBTS over every regulator other than fed itself. The
// second result is false when no other regulator exists, in which case
// any advance may be granted immediately.
func (c *Coordinator) GALT(fed handle.Federate) (Time, bool) {
	var galt Time
	found := false
	for other, r := range c.regulators {
		if other == fed {
			continue
		}
		if !found || r.lbts < galt {
			galt = r.lbts
			found = true
		}
	}
	return galt, found
}

// CanGrant reports whether fed's pending advance to target may be granted
// now: unconditionally when no other regulator exists, otherwise when
// GALT has passed target (strictly for plain requests, at-or-above for
// the available variants).
func (c *Coordinator) CanGrant(fed handle.Federate, target Time, available bool) bool {
	galt, constrained := c.GALT(fed)
	if !constrained {
		return true
	}
	if available {
		return galt >= target
	}
	return galt > target
}

// EvaluateAdvance decides whether ft's pending advance can be granted
// now, and if so at what time and with which TSO deliveries preceding the
// grant callback (spec.md §4.5). It mutates ft via Grant on success.
func (c *Coordinator) EvaluateAdvance(ft *FederateTime) (granted bool, grantTime Time, deliveries []Entry) {
	if !ft.Advance.advancePending() {
		return false, 0, nil
	}

	target := ft.PendingTime
	if ft.Advance.nextMessage() {
		if next, ok := ft.Queue.PeekTime(); ok && next < target {
			target = next
		}
	}

	if ft.Advance == FlushQueueRequest {
		deliveries = ft.Queue.PopAll()
		for _, e := range deliveries {
			if e.Time > target {
				target = e.Time
			}
		}
		ft.Grant(target)
		return true, target, deliveries
	}

	if !c.CanGrant(ft.Federate, target, ft.Advance.available()) {
		return false, 0, nil
	}

	deliveries = ft.Queue.PopUpTo(target, ft.Advance != TimeAdvanceRequest)
	ft.Grant(target)
	return true, target, deliveries
}
