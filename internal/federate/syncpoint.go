package federate

import (
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
)

// RegisterFederationSynchronizationPoint opens a barrier over the given
// federates; nil means every currently joined federate (spec.md §4.7).
// Participants learn of it through the AnnounceSynchronizationPoint
// callback.
func (a *Ambassador) RegisterFederationSynchronizationPoint(label string, tag []byte, participants []handle.Federate) error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	msg := &protocol.RegisterFederationSynchronizationPoint{
		Label:       label,
		Tag:         tag,
		FederateSet: participants,
	}
	msg.FederationHandle = a.federation
	a.mu.Unlock()
	return a.send(msg)
}

// SynchronizationPointAchieved reports this federate's arrival at the
// barrier; FederationSynchronized fires once every participant has.
func (a *Ambassador) SynchronizationPointAchieved(label string, successful bool) error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	msg := &protocol.SynchronizationPointAchieved{
		Label:          label,
		FederateHandle: a.federate,
		Successful:     successful,
	}
	msg.FederationHandle = a.federation
	a.mu.Unlock()
	return a.send(msg)
}
