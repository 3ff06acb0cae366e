// Package federate is the client-side mirror of federation state
// (SPEC_FULL.md §4.8): enough of an ambassador to drive the server core
// through a connect in tests and tools. It keeps a local copy of the
// committed object model, the federate's time-management state, and a
// GALT cache fed by the commit messages other regulators broadcast; the
// full rti1516 ambassador API surface is explicitly out of scope
// (spec.md §1).
//
// Grounded on original_source/src/OpenRTI/Ambassador.h and
// InternalAmbassador.cpp, reduced to the state the core exercises.
package federate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openrti-go/rticore/internal/fom"
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/instance"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/rtierrors"
	"github.com/openrti-go/rticore/internal/timemgmt"
	"github.com/openrti-go/rticore/internal/transport"
)

// rendezvousTimeout bounds the synchronous request/response pairs
// (create, destroy, join, name reservation): spec.md §5 allows 60-70
// seconds of wall clock before RTIinternalError.
const rendezvousTimeout = 65 * time.Second

// handlePoolRefill is how many object-instance handles one
// ObjectInstanceHandlesRequest fetches for the local registration pool.
const handlePoolRefill = 16

type knownObject struct {
	class handle.ObjectClass
	name  string
	owned bool
}

// Ambassador drives one federate over one connect.
type Ambassador struct {
	logger *zap.SugaredLogger
	conn   transport.Connect

	mu sync.Mutex

	joined         bool
	federation     handle.Federation
	federationName string
	federate       handle.Federate
	name           string
	factory        *timemgmt.Factory

	modules   *fom.ModuleSet
	published map[handle.ObjectClass]map[handle.Attribute]struct{}

	time *timemgmt.FederateTime
	galt *timemgmt.Coordinator

	handlePool []handle.ObjectInstance
	known      map[handle.ObjectInstance]*knownObject
	reserved   map[string]struct{}

	pending map[uuid.UUID]chan protocol.Message

	// callbacks is the stand-in for the out-of-scope callback queue:
	// discovers, reflects, receives, removes, announcements, time grants.
	callbacks chan protocol.Message
	// held buffers receive-order messages of an enabled time-constrained
	// federate while asynchronous delivery is off and no advance is active
	// (spec.md §4.5).
	held []protocol.Message

	stop      chan struct{}
	closeOnce sync.Once
}

// New attaches an ambassador to a connect and starts its receive loop.
func New(conn transport.Connect, logger *zap.SugaredLogger) *Ambassador {
	a := &Ambassador{
		logger:    logger,
		conn:      conn,
		modules:   fom.NewModuleSet(),
		published: map[handle.ObjectClass]map[handle.Attribute]struct{}{},
		known:     map[handle.ObjectInstance]*knownObject{},
		reserved:  map[string]struct{}{},
		pending:   map[uuid.UUID]chan protocol.Message{},
		callbacks: make(chan protocol.Message, 256),
		stop:      make(chan struct{}),
	}
	go a.receive()
	return a
}

// Close tears the connect down. Safe to call more than once.
func (a *Ambassador) Close() {
	a.closeOnce.Do(func() {
		close(a.stop)
		a.conn.Close()
	})
}

// FederateHandle returns the handle assigned at join.
func (a *Ambassador) FederateHandle() handle.Federate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.federate
}

func (a *Ambassador) send(msg protocol.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), rendezvousTimeout)
	defer cancel()
	if err := a.conn.Send(ctx, msg); err != nil {
		return rtierrors.New(rtierrors.CodeNotConnected, "%v", err)
	}
	return nil
}

// roundTrip sends a request and blocks until its correlated response
// arrives, the context expires, or the connect dies (spec.md §5
// suspension points and cancellation).
func (a *Ambassador) roundTrip(ctx context.Context, id uuid.UUID, msg protocol.Message) (protocol.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, rendezvousTimeout)
	defer cancel()

	ch := make(chan protocol.Message, 1)
	a.mu.Lock()
	a.pending[id] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
	}()

	if err := a.send(msg); err != nil {
		return nil, err
	}
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, rtierrors.New(rtierrors.CodeNotConnected, "connection failed during rendezvous")
		}
		return resp, nil
	case <-a.stop:
		return nil, rtierrors.New(rtierrors.CodeNotConnected, "connect closed during rendezvous")
	case <-ctx.Done():
		return nil, rtierrors.New(rtierrors.CodeRTIInternalError, "rendezvous timeout: %v", ctx.Err())
	}
}

// CreateFederationExecution asks the root to create a federation.
func (a *Ambassador) CreateFederationExecution(ctx context.Context, name, timeFactoryName string, modules []fom.Module) error {
	bufs, err := fom.EncodeModules(modules)
	if err != nil {
		return err
	}
	req := &protocol.CreateFederationExecutionRequest{
		FederationName:         name,
		LogicalTimeFactoryName: timeFactoryName,
		FOMModules:             bufs,
	}
	req.CorrelationID = protocol.NewCorrelationID()
	resp, err := a.roundTrip(ctx, req.CorrelationID, req)
	if err != nil {
		return err
	}
	r, ok := resp.(*protocol.CreateFederationExecutionResponse)
	if !ok {
		return rtierrors.New(rtierrors.CodeMessageCouldNotDecode, "create response")
	}
	if !r.Success {
		return rtierrors.New(rtierrors.Code(r.ErrCode), "%s", r.ErrMsg)
	}
	return nil
}

// DestroyFederationExecution asks the root to destroy a federation.
func (a *Ambassador) DestroyFederationExecution(ctx context.Context, name string) error {
	req := &protocol.DestroyFederationExecutionRequest{FederationName: name}
	req.CorrelationID = protocol.NewCorrelationID()
	resp, err := a.roundTrip(ctx, req.CorrelationID, req)
	if err != nil {
		return err
	}
	r, ok := resp.(*protocol.DestroyFederationExecutionResponse)
	if !ok {
		return rtierrors.New(rtierrors.CodeMessageCouldNotDecode, "destroy response")
	}
	if !r.Success {
		return rtierrors.New(rtierrors.Code(r.ErrCode), "%s", r.ErrMsg)
	}
	return nil
}

// JoinFederationExecution joins a federation, replaying the committed
// module list into the local object-model mirror.
func (a *Ambassador) JoinFederationExecution(ctx context.Context, federationName, federateName, federateType string, modules []fom.Module) error {
	a.mu.Lock()
	if a.joined {
		a.mu.Unlock()
		return rtierrors.New(rtierrors.CodeRTIInternalError, "already joined %q", a.federationName)
	}
	a.mu.Unlock()

	bufs, err := fom.EncodeModules(modules)
	if err != nil {
		return err
	}
	req := &protocol.JoinFederationExecutionRequest{
		FederationName: federationName,
		FederateName:   federateName,
		FederateType:   federateType,
		FOMModules:     bufs,
	}
	req.CorrelationID = protocol.NewCorrelationID()
	resp, err := a.roundTrip(ctx, req.CorrelationID, req)
	if err != nil {
		return err
	}
	r, ok := resp.(*protocol.JoinFederationExecutionResponse)
	if !ok {
		return rtierrors.New(rtierrors.CodeMessageCouldNotDecode, "join response")
	}
	if !r.Success {
		return rtierrors.New(rtierrors.Code(r.ErrCode), "%s", r.ErrMsg)
	}

	factory, err := timemgmt.LookupFactory(r.LogicalTimeFactoryName)
	if err != nil {
		return err
	}
	committed, err := fom.DecodeModules(r.ModuleList)
	if err != nil {
		return err
	}
	mirror := fom.NewModuleSet()
	if _, err := mirror.InsertModuleList(committed); err != nil {
		return err
	}

	a.mu.Lock()
	a.joined = true
	a.federation = r.Federation()
	a.federationName = federationName
	a.federate = r.FederateHandle
	a.name = federateName
	a.factory = factory
	a.modules = mirror
	a.time = timemgmt.NewFederateTime(r.FederateHandle)
	a.galt = timemgmt.NewCoordinator(factory)
	a.mu.Unlock()
	return nil
}

// ResignFederationExecution leaves the federation, executing action at
// the servers.
func (a *Ambassador) ResignFederationExecution(action protocol.ResignAction) error {
	a.mu.Lock()
	if !a.joined {
		a.mu.Unlock()
		return rtierrors.New(rtierrors.CodeFederateNotExecutionMember, "not joined")
	}
	req := &protocol.ResignFederationExecutionLeafRequest{
		FederateHandle: a.federate,
		Action:         action,
	}
	req.FederationHandle = a.federation
	a.joined = false
	a.known = map[handle.ObjectInstance]*knownObject{}
	a.reserved = map[string]struct{}{}
	a.handlePool = nil
	a.mu.Unlock()
	return a.send(req)
}

// --- object model lookups on the local mirror ---

// ObjectClassHandle resolves a class by fully-qualified name.
func (a *Ambassador) ObjectClassHandle(name string) (handle.ObjectClass, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	oc, ok := a.modules.GetObjectClassByName(name)
	if !ok {
		return handle.InvalidObjectClass, rtierrors.New(rtierrors.CodeObjectClassNotDefined, "%q", name)
	}
	return oc.Handle, nil
}

// AttributeHandle resolves an attribute of a class by name.
func (a *Ambassador) AttributeHandle(class handle.ObjectClass, name string) (handle.Attribute, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	oc, ok := a.modules.GetObjectClass(class)
	if !ok {
		return handle.InvalidAttribute, rtierrors.New(rtierrors.CodeObjectClassNotDefined, "%v", class)
	}
	for h, attr := range oc.Attributes {
		if attr.Name == name {
			return h, nil
		}
	}
	return handle.InvalidAttribute, rtierrors.New(rtierrors.CodeAttributeNotDefined, "%q on %v", name, class)
}

// InteractionClassHandle resolves an interaction class by name.
func (a *Ambassador) InteractionClassHandle(name string) (handle.InteractionClass, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ic, ok := a.modules.GetInteractionClassByName(name)
	if !ok {
		return handle.InvalidInteractionClass, rtierrors.New(rtierrors.CodeInteractionClassNotDefined, "%q", name)
	}
	return ic.Handle, nil
}

// --- publication and subscription ---

func (a *Ambassador) requireJoined() error {
	if !a.joined {
		return rtierrors.New(rtierrors.CodeFederateNotExecutionMember, "not joined")
	}
	return nil
}

// PublishObjectClassAttributes declares this federate a publisher of the
// given attributes.
func (a *Ambassador) PublishObjectClassAttributes(class handle.ObjectClass, attrs []handle.Attribute) error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	if _, ok := a.modules.GetObjectClass(class); !ok {
		a.mu.Unlock()
		return rtierrors.New(rtierrors.CodeObjectClassNotDefined, "%v", class)
	}
	set, ok := a.published[class]
	if !ok {
		set = map[handle.Attribute]struct{}{}
		a.published[class] = set
	}
	set[handle.PrivilegeToDelete] = struct{}{}
	for _, at := range attrs {
		set[at] = struct{}{}
	}
	msg := &protocol.ChangeObjectClassPublication{
		ObjectClass:     class,
		Attributes:      append([]handle.Attribute{handle.PrivilegeToDelete}, attrs...),
		PublicationType: protocol.Published,
	}
	msg.FederationHandle = a.federation
	a.mu.Unlock()
	return a.send(msg)
}

// UnpublishObjectClass withdraws every publication for the class.
func (a *Ambassador) UnpublishObjectClass(class handle.ObjectClass) error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	set := a.published[class]
	delete(a.published, class)
	attrs := make([]handle.Attribute, 0, len(set))
	for at := range set {
		attrs = append(attrs, at)
	}
	msg := &protocol.ChangeObjectClassPublication{
		ObjectClass:     class,
		Attributes:      attrs,
		PublicationType: protocol.Unpublished,
	}
	msg.FederationHandle = a.federation
	a.mu.Unlock()
	return a.send(msg)
}

// SubscribeObjectClassAttributes subscribes to the given attributes.
func (a *Ambassador) SubscribeObjectClassAttributes(class handle.ObjectClass, attrs []handle.Attribute) error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	if _, ok := a.modules.GetObjectClass(class); !ok {
		a.mu.Unlock()
		return rtierrors.New(rtierrors.CodeObjectClassNotDefined, "%v", class)
	}
	msg := &protocol.ChangeObjectClassSubscription{
		ObjectClass:      class,
		Attributes:       attrs,
		SubscriptionType: protocol.SubscribedPassive,
	}
	msg.FederationHandle = a.federation
	a.mu.Unlock()
	return a.send(msg)
}

// UnsubscribeObjectClass withdraws the class subscription.
func (a *Ambassador) UnsubscribeObjectClass(class handle.ObjectClass) error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	oc, ok := a.modules.GetObjectClass(class)
	if !ok {
		a.mu.Unlock()
		return rtierrors.New(rtierrors.CodeObjectClassNotDefined, "%v", class)
	}
	attrs := make([]handle.Attribute, 0, len(oc.Attributes))
	for at := range oc.Attributes {
		attrs = append(attrs, at)
	}
	msg := &protocol.ChangeObjectClassSubscription{
		ObjectClass:      class,
		Attributes:       attrs,
		SubscriptionType: protocol.Unsubscribed,
	}
	msg.FederationHandle = a.federation
	a.mu.Unlock()
	return a.send(msg)
}

// PublishInteractionClass declares this federate a sender of ic.
func (a *Ambassador) PublishInteractionClass(ic handle.InteractionClass) error {
	return a.interactionChange(ic, true, protocol.Published, protocol.SubscribedPassive)
}

// SubscribeInteractionClass subscribes to ic and, by inheritance, to
// everything its subclasses send.
func (a *Ambassador) SubscribeInteractionClass(ic handle.InteractionClass) error {
	return a.interactionChange(ic, false, protocol.Published, protocol.SubscribedPassive)
}

// UnsubscribeInteractionClass withdraws the subscription.
func (a *Ambassador) UnsubscribeInteractionClass(ic handle.InteractionClass) error {
	return a.interactionChange(ic, false, protocol.Published, protocol.Unsubscribed)
}

func (a *Ambassador) interactionChange(ic handle.InteractionClass, publication bool, pt protocol.PublicationType, st protocol.SubscriptionType) error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	if _, ok := a.modules.GetInteractionClass(ic); !ok {
		a.mu.Unlock()
		return rtierrors.New(rtierrors.CodeInteractionClassNotDefined, "%v", ic)
	}
	var msg protocol.Message
	if publication {
		m := &protocol.ChangeInteractionClassPublication{InteractionClass: ic, PublicationType: pt}
		m.FederationHandle = a.federation
		msg = m
	} else {
		m := &protocol.ChangeInteractionClassSubscription{InteractionClass: ic, SubscriptionType: st}
		m.FederationHandle = a.federation
		msg = m
	}
	a.mu.Unlock()
	return a.send(msg)
}

// --- object instances ---

// ReserveObjectInstanceName asks the root to reserve name for this
// federate; the result also lands in the callback queue the way the
// name-reservation succeeded/failed callbacks do.
func (a *Ambassador) ReserveObjectInstanceName(ctx context.Context, name string) error {
	if strings.HasPrefix(name, "HLA") {
		return rtierrors.New(rtierrors.CodeIllegalName, "%q", name)
	}
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	req := &protocol.ReserveObjectInstanceNameRequest{FederateHandle: a.federate, Name: name}
	req.FederationHandle = a.federation
	req.CorrelationID = protocol.NewCorrelationID()
	a.mu.Unlock()

	resp, err := a.roundTrip(ctx, req.CorrelationID, req)
	if err != nil {
		return err
	}
	r, ok := resp.(*protocol.ReserveObjectInstanceNameResponse)
	if !ok {
		return rtierrors.New(rtierrors.CodeMessageCouldNotDecode, "reserve response")
	}
	a.enqueueCallback(r)
	if !r.Success {
		return rtierrors.New(rtierrors.CodeObjectInstanceNameInUse, "%q", name)
	}
	a.mu.Lock()
	a.reserved[name] = struct{}{}
	a.mu.Unlock()
	return nil
}

// RegisterObjectInstance registers an instance of class. A non-empty
// name must have been reserved first; an empty name gets an RTI-built
// one from the reserved "HLA" namespace.
func (a *Ambassador) RegisterObjectInstance(ctx context.Context, class handle.ObjectClass, name string) (handle.ObjectInstance, error) {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return handle.InvalidObjectInstance, err
	}
	published := a.published[class]
	if len(published) == 0 {
		a.mu.Unlock()
		return handle.InvalidObjectInstance, rtierrors.New(rtierrors.CodeObjectClassNotPublished, "%v", class)
	}
	if name != "" {
		if _, ok := a.reserved[name]; !ok {
			a.mu.Unlock()
			return handle.InvalidObjectInstance, rtierrors.New(rtierrors.CodeObjectInstanceNameNotReserved, "%q", name)
		}
	}
	needRefill := len(a.handlePool) == 0
	federation := a.federation
	federate := a.federate
	a.mu.Unlock()

	if needRefill {
		req := &protocol.ObjectInstanceHandlesRequest{FederateHandle: federate, Count: handlePoolRefill}
		req.FederationHandle = federation
		req.CorrelationID = protocol.NewCorrelationID()
		resp, err := a.roundTrip(ctx, req.CorrelationID, req)
		if err != nil {
			return handle.InvalidObjectInstance, err
		}
		r, ok := resp.(*protocol.ObjectInstanceHandlesResponse)
		if !ok || len(r.Handles) == 0 {
			return handle.InvalidObjectInstance, rtierrors.New(rtierrors.CodeRTIInternalError, "no instance handles granted")
		}
		a.mu.Lock()
		a.handlePool = append(a.handlePool, r.Handles...)
		a.mu.Unlock()
	}

	a.mu.Lock()
	if len(a.handlePool) == 0 {
		a.mu.Unlock()
		return handle.InvalidObjectInstance, rtierrors.New(rtierrors.CodeRTIInternalError, "instance handle pool exhausted")
	}
	h := a.handlePool[0]
	a.handlePool = a.handlePool[1:]
	if name == "" {
		name = fmt.Sprintf("HLAobjectInstance%d", uint32(h))
	} else {
		delete(a.reserved, name)
	}
	attrs := make([]handle.Attribute, 0, len(a.published[class]))
	for at := range a.published[class] {
		attrs = append(attrs, at)
	}
	a.known[h] = &knownObject{class: class, name: name, owned: true}
	msg := &protocol.InsertObjectInstance{
		ObjectInstance:  h,
		ObjectClass:     class,
		Name:            name,
		KnownAttributes: attrs,
	}
	msg.FederationHandle = a.federation
	a.mu.Unlock()

	if err := a.send(msg); err != nil {
		return handle.InvalidObjectInstance, err
	}
	return h, nil
}

// UpdateAttributeValues sends a receive-order update, partitioned into
// one message per (transportation, order) passel (spec.md §4.4).
func (a *Ambassador) UpdateAttributeValues(h handle.ObjectInstance, values []protocol.AttributeValue, tag []byte) error {
	a.mu.Lock()
	o, err := a.ownedObject(h)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	oc, ok := a.modules.GetObjectClass(o.class)
	if !ok {
		a.mu.Unlock()
		return rtierrors.New(rtierrors.CodeObjectClassNotDefined, "%v", o.class)
	}
	passels := instance.PartitionUpdate(oc, values)
	msgs := make([]protocol.Message, 0, len(passels))
	for _, p := range passels {
		m := &protocol.AttributeUpdate{
			ObjectInstance: h,
			Values:         p.Values,
			Transportation: p.Transportation,
			Order:          protocol.OrderReceive,
		}
		m.FederationHandle = a.federation
		msgs = append(msgs, m)
	}
	a.mu.Unlock()

	for _, m := range msgs {
		if err := a.send(m); err != nil {
			return err
		}
	}
	return nil
}

// UpdateAttributeValuesWithTime sends a timestamped update: timestamp-
// order passels go out timestamp-ordered with a retraction handle,
// receive-order passels go out immediately (spec.md §4.4).
func (a *Ambassador) UpdateAttributeValuesWithTime(h handle.ObjectInstance, values []protocol.AttributeValue, t timemgmt.Time) (handle.MessageRetraction, error) {
	a.mu.Lock()
	o, err := a.ownedObject(h)
	if err != nil {
		a.mu.Unlock()
		return handle.InvalidMessageRetraction, err
	}
	oc, ok := a.modules.GetObjectClass(o.class)
	if !ok {
		a.mu.Unlock()
		return handle.InvalidMessageRetraction, rtierrors.New(rtierrors.CodeObjectClassNotDefined, "%v", o.class)
	}
	if err := a.validateSendTime(t); err != nil {
		a.mu.Unlock()
		return handle.InvalidMessageRetraction, err
	}

	retraction := handle.InvalidMessageRetraction
	passels := instance.PartitionUpdate(oc, values)
	msgs := make([]protocol.Message, 0, len(passels))
	for _, p := range passels {
		if p.Order == protocol.OrderTimeStamp {
			if !retraction.Valid() {
				retraction = a.time.NextRetraction()
			}
			m := &protocol.TimeStampedAttributeUpdate{
				ObjectInstance:    h,
				Values:            p.Values,
				Transportation:    p.Transportation,
				Timestamp:         a.factory.Encode(t),
				MessageRetraction: retraction,
			}
			m.FederationHandle = a.federation
			msgs = append(msgs, m)
		} else {
			m := &protocol.AttributeUpdate{
				ObjectInstance: h,
				Values:         p.Values,
				Transportation: p.Transportation,
				Order:          protocol.OrderReceive,
			}
			m.FederationHandle = a.federation
			msgs = append(msgs, m)
		}
	}
	a.mu.Unlock()

	for _, m := range msgs {
		if err := a.send(m); err != nil {
			return handle.InvalidMessageRetraction, err
		}
	}
	return retraction, nil
}

// DeleteObjectInstance deletes an instance this federate owns.
func (a *Ambassador) DeleteObjectInstance(h handle.ObjectInstance, tag []byte) error {
	a.mu.Lock()
	if _, err := a.ownedObject(h); err != nil {
		a.mu.Unlock()
		return err
	}
	delete(a.known, h)
	msg := &protocol.DeleteObjectInstance{ObjectInstance: h, Tag: tag}
	msg.FederationHandle = a.federation
	a.mu.Unlock()
	return a.send(msg)
}

func (a *Ambassador) ownedObject(h handle.ObjectInstance) (*knownObject, error) {
	if err := a.requireJoined(); err != nil {
		return nil, err
	}
	o, ok := a.known[h]
	if !ok {
		return nil, rtierrors.New(rtierrors.CodeObjectInstanceNotKnown, "%v", h)
	}
	if !o.owned {
		return nil, rtierrors.New(rtierrors.CodeAttributeNotOwned, "%v", h)
	}
	return o, nil
}

// SendInteraction sends a receive-order interaction.
func (a *Ambassador) SendInteraction(ic handle.InteractionClass, values []protocol.ParameterValue, tag []byte) error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	class, ok := a.modules.GetInteractionClass(ic)
	if !ok {
		a.mu.Unlock()
		return rtierrors.New(rtierrors.CodeInteractionClassNotDefined, "%v", ic)
	}
	msg := &protocol.Interaction{
		InteractionClass: ic,
		Values:           values,
		Transportation:   protocol.TransportType(class.Transportation),
		Order:            protocol.OrderReceive,
	}
	msg.FederationHandle = a.federation
	a.mu.Unlock()
	return a.send(msg)
}

// SendInteractionWithTime sends a timestamp-ordered interaction.
func (a *Ambassador) SendInteractionWithTime(ic handle.InteractionClass, values []protocol.ParameterValue, t timemgmt.Time) (handle.MessageRetraction, error) {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return handle.InvalidMessageRetraction, err
	}
	class, ok := a.modules.GetInteractionClass(ic)
	if !ok {
		a.mu.Unlock()
		return handle.InvalidMessageRetraction, rtierrors.New(rtierrors.CodeInteractionClassNotDefined, "%v", ic)
	}
	if err := a.validateSendTime(t); err != nil {
		a.mu.Unlock()
		return handle.InvalidMessageRetraction, err
	}
	retraction := a.time.NextRetraction()
	msg := &protocol.TimeStampedInteraction{
		InteractionClass:  ic,
		Values:            values,
		Transportation:    protocol.TransportType(class.Transportation),
		Timestamp:         a.factory.Encode(t),
		MessageRetraction: retraction,
	}
	msg.FederationHandle = a.federation
	a.mu.Unlock()
	if err := a.send(msg); err != nil {
		return handle.InvalidMessageRetraction, err
	}
	return retraction, nil
}

// validateSendTime enforces the regulator send rule: a timestamped
// message must not undercut time + lookahead.
func (a *Ambassador) validateSendTime(t timemgmt.Time) error {
	if a.time == nil {
		return nil
	}
	if a.time.Regulation == timemgmt.RegulationEnabled && t < a.time.Time+a.time.Lookahead {
		return rtierrors.New(rtierrors.CodeInvalidLogicalTime,
			"%v undercuts time %v + lookahead %v", t, a.time.Time, a.time.Lookahead)
	}
	return nil
}
