package federation

import (
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/pubsub"
)

// ReplayState returns the publish/subscribe and time-regulation state a
// newly attached connect must be told before any traffic flows through
// it: everything some other connect currently publishes or subscribes,
// and every regulator's current committed bound. This is what makes a
// child server joining an existing federation route correctly without
// having observed the original state changes (spec.md §4.6).
func (f *Federation) ReplayState(to handle.Connect) []Outgoing {
	var out []Outgoing

	f.Model.EachObjectAttributeState(func(class handle.ObjectClass, attr handle.Attribute, ps *pubsub.PublishSubscribe) {
		if ps.GetSubscriptionTypeToConnect(to) != pubsub.Unsubscribed {
			msg := &protocol.ChangeObjectClassSubscription{
				ObjectClass:      class,
				Attributes:       []handle.Attribute{attr},
				SubscriptionType: protocol.SubscribedPassive,
			}
			msg.FederationHandle = f.Handle
			out = append(out, Outgoing{To: to, Msg: msg})
		}
		if ps.GetPublicationTypeToConnect(to) != pubsub.Unpublished {
			msg := &protocol.ChangeObjectClassPublication{
				ObjectClass:     class,
				Attributes:      []handle.Attribute{attr},
				PublicationType: protocol.Published,
			}
			msg.FederationHandle = f.Handle
			out = append(out, Outgoing{To: to, Msg: msg})
		}
	})

	f.Model.EachInteractionState(func(ic handle.InteractionClass, ps *pubsub.PublishSubscribe) {
		if ps.GetSubscriptionTypeToConnect(to) != pubsub.Unsubscribed {
			msg := &protocol.ChangeInteractionClassSubscription{
				InteractionClass: ic,
				SubscriptionType: protocol.SubscribedPassive,
			}
			msg.FederationHandle = f.Handle
			out = append(out, Outgoing{To: to, Msg: msg})
		}
		if ps.GetPublicationTypeToConnect(to) != pubsub.Unpublished {
			msg := &protocol.ChangeInteractionClassPublication{
				InteractionClass: ic,
				PublicationType:  protocol.Published,
			}
			msg.FederationHandle = f.Handle
			out = append(out, Outgoing{To: to, Msg: msg})
		}
	})

	for _, fed := range f.Time.Regulators() {
		lbts, commitID, ok := f.Time.Committed(fed)
		if !ok {
			continue
		}
		msg := &protocol.CommitLowerBoundTimeStamp{
			FederateHandle: fed,
			CommitID:       commitID,
			LBTS:           f.Time.Factory().Encode(lbts),
		}
		msg.FederationHandle = f.Handle
		out = append(out, Outgoing{To: to, Msg: msg})
	}

	return out
}
