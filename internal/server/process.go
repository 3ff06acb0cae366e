package server

import (
	"github.com/openrti-go/rticore/internal/federation"
	"github.com/openrti-go/rticore/internal/fom"
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/pubsub"
	"github.com/openrti-go/rticore/internal/region"
	"github.com/openrti-go/rticore/internal/rtierrors"
	"github.com/openrti-go/rticore/internal/telemetry"
)

// process executes one message: the federation-local state transition
// first, then the propagation it requires (spec.md §4.6). Requests a
// non-root node cannot arbitrate are forwarded toward the root with
// their origin remembered.
func (n *Node) process(from handle.Connect, msg protocol.Message) {
	switch m := msg.(type) {

	// --- root-arbitrated request/response pairs ---

	case *protocol.CreateFederationExecutionRequest:
		n.handleCreateFederation(from, m)
	case *protocol.DestroyFederationExecutionRequest:
		n.handleDestroyFederation(from, m)
	case *protocol.JoinFederationExecutionRequest:
		n.handleJoinFederation(from, m)
	case *protocol.ReserveObjectInstanceNameRequest:
		n.handleReserveName(from, m)
	case *protocol.ReserveMultipleObjectInstanceNameRequest:
		n.handleReserveMultipleNames(from, m)
	case *protocol.ObjectInstanceHandlesRequest:
		n.handleObjectInstanceHandles(from, m)
	case *protocol.EnableTimeRegulationRequest:
		n.handleEnableTimeRegulation(from, m)
	case *protocol.EnumerateFederationExecutionsRequest:
		n.handleEnumerate(from, m)

	case *protocol.CreateFederationExecutionResponse,
		*protocol.DestroyFederationExecutionResponse,
		*protocol.ReserveObjectInstanceNameResponse,
		*protocol.ReserveMultipleObjectInstanceNameResponse,
		*protocol.ObjectInstanceHandlesResponse,
		*protocol.EnableTimeRegulationResponse,
		*protocol.EnumerateFederationExecutionsResponse:
		if pr, ok := n.takePending(msg); ok {
			n.send(pr.origin, msg)
		}
	case *protocol.JoinFederationExecutionResponse:
		n.handleJoinResponse(from, m)

	// --- federation replication down the tree ---

	case *protocol.InsertFederationExecution:
		n.handleInsertFederation(from, m)
	case *protocol.EraseFederationExecution:
		if f, ok := n.federationByName(m.FederationName); ok {
			n.sendAll(f.Broadcast(from, m))
			n.eraseFederation(f)
		}
	case *protocol.ReleaseFederationHandle:
		// The child subtree no longer references the federation; detach
		// the connect without resigning anything.
		if f, ok := n.federationOf(msg); ok {
			f.Model.RemoveConnect(from)
		}
	case *protocol.InsertModules:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			modules, err := fom.DecodeModules(m.Modules)
			if err != nil {
				return nil, err
			}
			if _, err := f.Modules.InsertModuleList(modules); err != nil {
				return nil, err
			}
			return f.Broadcast(from, m), nil
		})

	// --- lifecycle ---

	case *protocol.ResignFederationExecutionLeafRequest:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			out, err := f.Resign(m.FederateHandle, m.Action)
			if err != nil {
				return nil, err
			}
			if !n.IsRoot() {
				n.forwardUp(from, m, nil)
			}
			return out, nil
		})
	case *protocol.ReleaseMultipleObjectInstanceNameHandlePairs:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			for _, name := range m.Names {
				f.Instances.ReleaseName(name, m.FederateHandle)
			}
			if !n.IsRoot() {
				n.forwardUp(from, m, nil)
			}
			return nil, nil
		})

	// --- publish / subscribe ---

	case *protocol.ChangeObjectClassPublication:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.ApplyObjectClassPublication(from, m.ObjectClass, m.Attributes, pubsub.PublicationType(m.PublicationType))
		})
	case *protocol.ChangeObjectClassSubscription:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.ApplyObjectClassSubscription(from, m.ObjectClass, m.Attributes, pubsub.SubscriptionType(m.SubscriptionType))
		})
	case *protocol.ChangeInteractionClassPublication:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.ApplyInteractionClassPublication(from, m.InteractionClass, pubsub.PublicationType(m.PublicationType))
		})
	case *protocol.ChangeInteractionClassSubscription:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.ApplyInteractionClassSubscription(from, m.InteractionClass, pubsub.SubscriptionType(m.SubscriptionType))
		})
	case *protocol.RegistrationForObjectClass, *protocol.TurnInteractionsOn,
		*protocol.TurnUpdatesOnForInstance, *protocol.AttributesInScope, *protocol.AttributesOutOfScope:
		// Advisories pass through to every other connect of the federation.
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.Broadcast(from, msg), nil
		})

	// --- object instances ---

	case *protocol.InsertObjectInstance:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			fed := n.federateOn(f, from)
			return f.RegisterInstance(from, fed, m.ObjectInstance, m.ObjectClass, m.Name)
		})
	case *protocol.DeleteObjectInstance:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.DeleteInstance(from, m.ObjectInstance, m.Tag)
		})
	case *protocol.TimeStampedDeleteObjectInstance:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			o, ok := f.Instances.Get(m.ObjectInstance)
			if !ok {
				return nil, rtierrors.New(rtierrors.CodeObjectInstanceNotKnown, "%v", m.ObjectInstance)
			}
			var out []federation.Outgoing
			for _, c := range o.KnownBy() {
				if c != from {
					out = append(out, federation.Outgoing{To: c, Msg: m})
				}
			}
			_, err := f.Instances.Erase(m.ObjectInstance)
			return out, err
		})
	case *protocol.AttributeUpdate:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.RouteAttributeUpdate(from, m.ObjectInstance, m.Values, func(filtered []protocol.AttributeValue) protocol.Message {
				dup := *m
				dup.Values = filtered
				return &dup
			})
		})
	case *protocol.TimeStampedAttributeUpdate:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.RouteAttributeUpdate(from, m.ObjectInstance, m.Values, func(filtered []protocol.AttributeValue) protocol.Message {
				dup := *m
				dup.Values = filtered
				return &dup
			})
		})
	case *protocol.RequestAttributeUpdate:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			o, ok := f.Instances.Get(m.ObjectInstance)
			if !ok {
				return nil, rtierrors.New(rtierrors.CodeObjectInstanceNotKnown, "%v", m.ObjectInstance)
			}
			owners := map[handle.Connect]struct{}{}
			for _, a := range m.Attributes {
				if ia, ok := o.Attributes[a]; ok && ia.Owner.Valid() && ia.Owner != from {
					owners[ia.Owner] = struct{}{}
				}
			}
			var out []federation.Outgoing
			for c := range owners {
				out = append(out, federation.Outgoing{To: c, Msg: m})
			}
			return out, nil
		})
	case *protocol.RequestClassAttributeUpdate:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.Broadcast(from, m), nil
		})

	// --- interactions ---

	case *protocol.Interaction:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.RouteInteraction(from, m.InteractionClass, m)
		})
	case *protocol.TimeStampedInteraction:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.RouteInteraction(from, m.InteractionClass, m)
		})

	// --- regions ---

	case *protocol.InsertRegion:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			if err := f.Regions.Insert(m.Region, from, m.Dimensions); err != nil {
				return nil, err
			}
			return f.Broadcast(from, m), nil
		})
	case *protocol.CommitRegion:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			ranges := make(map[handle.Dimension]region.Range, len(m.Ranges))
			for _, r := range m.Ranges {
				ranges[r.Dimension] = region.Range{Lower: r.Lower, Upper: r.Upper}
			}
			if err := f.Regions.Commit(m.Region, ranges); err != nil {
				return nil, err
			}
			return f.Broadcast(from, m), nil
		})
	case *protocol.EraseRegion:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			if err := f.Regions.Erase(m.Region); err != nil {
				return nil, err
			}
			return f.Broadcast(from, m), nil
		})

	// --- synchronization points ---

	case *protocol.RegisterFederationSynchronizationPoint:
		if !n.IsRoot() {
			n.forwardUp(from, m, nil)
			return
		}
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.RegisterSyncPoint(m.Label, m.Tag, m.FederateSet)
		})
	case *protocol.AnnounceSynchronizationPoint:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.Broadcast(from, m), nil
		})
	case *protocol.SynchronizationPointAchieved:
		if !n.IsRoot() {
			n.forwardUp(from, m, nil)
			return
		}
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.AchieveSyncPoint(m.Label, m.FederateHandle, m.Successful)
		})
	case *protocol.FederationSynchronized:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.Broadcast(from, m), nil
		})

	// --- time management ---

	case *protocol.DisableTimeRegulationRequest:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.DisableTimeRegulation(from, m.FederateHandle)
		})
	case *protocol.CommitLowerBoundTimeStamp:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			out, err := f.CommitLBTS(from, m)
			if err != nil {
				return nil, err
			}
			if n.IsRoot() {
				ack := &protocol.CommitLowerBoundTimeStampResponse{
					FederateHandle: m.FederateHandle,
					CommitID:       m.CommitID,
				}
				ack.FederationHandle = f.Handle
				ack.CorrelationID = m.CorrelationID
				out = append(out, federation.Outgoing{To: from, Msg: ack})
			}
			if galt, ok := f.Time.GALT(handle.InvalidFederate); ok {
				telemetry.FederationGALT.WithLabelValues(f.Name).Set(float64(galt))
			}
			return out, nil
		})
	case *protocol.CommitLowerBoundTimeStampResponse:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			if fed, ok := f.GetFederate(m.FederateHandle); ok && fed.Connect != from {
				return []federation.Outgoing{{To: fed.Connect, Msg: m}}, nil
			}
			return nil, nil
		})
	case *protocol.LockedByNextMessageRequest:
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			f.Time.SetLocked(m.FederateHandle, m.Locked)
			return f.Broadcast(from, m), nil
		})
	case *protocol.TimeConstrainedEnabled, *protocol.TimeRegulationEnabled, *protocol.TimeAdvanceGranted:
		// Grant and enable notifications are ambassador-local callbacks;
		// one arriving at a server from a peer only passes through.
		n.withFederation(from, msg, func(f *federation.Federation) ([]federation.Outgoing, error) {
			return f.Broadcast(from, msg), nil
		})

	case *protocol.ConnectionLost:
		n.connectionLost(m.ConnectHandle, rtierrors.New(rtierrors.CodeTransportError, "%s", m.Reason))

	default:
		// A message kind we cannot place is a peer protocol violation,
		// fatal to the connect that sent it (spec.md §7).
		n.logger.Errorw("unhandled message", "kind", msg.Kind(), "connect", from)
		n.connectionLost(from, rtierrors.New(rtierrors.CodeMessageCouldNotDecode, "kind %v", msg.Kind()))
	}
}

// withFederation runs a federation-local transition and routes whatever
// it produced. A missing federation or a failed transition from a peer
// is logged; precondition failures never disturb other connects.
func (n *Node) withFederation(from handle.Connect, msg protocol.Message, fn func(*federation.Federation) ([]federation.Outgoing, error)) {
	f, ok := n.federationOf(msg)
	if !ok {
		n.logger.Warnw("message for unknown federation", "federation", msg.Federation(), "kind", msg.Kind())
		return
	}
	out, err := fn(f)
	if err != nil {
		n.logger.Warnw("transition rejected", "kind", msg.Kind(), "connect", from, "err", err)
		return
	}
	n.sendAll(out)
}

// federateOn picks the federate a data message from an ambassador
// connect acts for. A subtree connect can carry several federates; name
// reservations consumed through it are matched per-connect then.
func (n *Node) federateOn(f *federation.Federation, c handle.Connect) handle.Federate {
	fc, ok := f.GetConnect(c)
	if !ok {
		return handle.InvalidFederate
	}
	for fed := range fc.Federates {
		return fed
	}
	return handle.InvalidFederate
}
