// Package syncpoints tracks multi-federate synchronization barriers
// (spec.md §4.7): a label registered with an optional participant set, an
// announce fan-out, per-federate achieved replies, and a synchronized
// broadcast once every participant has answered.
//
// Grounded on original_source/src/OpenRTI/ServerModel.h's
// FederationExecution synchronization label tracking.
package syncpoints

import (
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/rtierrors"
)

// Label is one pending synchronization point.
type Label struct {
	Name string
	Tag  []byte

	// waiting holds the participants that have not yet replied; success
	// accumulates every reply for the FederationSynchronized broadcast.
	waiting map[handle.Federate]struct{}
	success map[handle.Federate]bool
}

// Participants returns every federate the label still waits for.
func (l *Label) Participants() []handle.Federate {
	out := make([]handle.Federate, 0, len(l.waiting))
	for fed := range l.waiting {
		out = append(out, fed)
	}
	return out
}

// Set holds every pending label of one federation.
type Set struct {
	labels map[string]*Label
}

// NewSet returns an empty label set.
func NewSet() *Set {
	return &Set{labels: map[string]*Label{}}
}

// Register creates a pending label over the given participants. An empty
// participant slice is the caller's signal that every currently joined
// federate takes part; the caller resolves that set before registering.
func (s *Set) Register(name string, tag []byte, participants []handle.Federate) (*Label, error) {
	if _, ok := s.labels[name]; ok {
		return nil, rtierrors.New(rtierrors.CodeRTIInternalError,
			"synchronization point %q already registered", name)
	}
	l := &Label{
		Name:    name,
		Tag:     tag,
		waiting: make(map[handle.Federate]struct{}, len(participants)),
		success: map[handle.Federate]bool{},
	}
	for _, fed := range participants {
		l.waiting[fed] = struct{}{}
	}
	s.labels[name] = l
	return l, nil
}

// Achieved records fed's reply for name. When the last participant has
// replied, the label is removed and its per-federate success map returned
// with done set.
func (s *Set) Achieved(name string, fed handle.Federate, successful bool) (done bool, success map[handle.Federate]bool, err error) {
	l, ok := s.labels[name]
	if !ok {
		return false, nil, rtierrors.New(rtierrors.CodeRTIInternalError,
			"achieved for unknown synchronization point %q", name)
	}
	if _, ok := l.waiting[fed]; !ok {
		return false, nil, rtierrors.New(rtierrors.CodeRTIInternalError,
			"federate %v is not a pending participant of %q", fed, name)
	}
	delete(l.waiting, fed)
	l.success[fed] = successful
	if len(l.waiting) > 0 {
		return false, nil, nil
	}
	delete(s.labels, name)
	return true, l.success, nil
}

// Get looks up a pending label.
func (s *Set) Get(name string) (*Label, bool) {
	l, ok := s.labels[name]
	return l, ok
}

// RemoveFederate drops fed from every pending label (spec.md §4.7:
// resigning federates are removed). Labels that complete because fed was
// the last missing participant are returned with their success maps.
func (s *Set) RemoveFederate(fed handle.Federate) map[string]map[handle.Federate]bool {
	completed := map[string]map[handle.Federate]bool{}
	for name, l := range s.labels {
		if _, ok := l.waiting[fed]; !ok {
			continue
		}
		delete(l.waiting, fed)
		if len(l.waiting) == 0 {
			completed[name] = l.success
			delete(s.labels, name)
		}
	}
	return completed
}
