// Package federation holds the per-federation authoritative state
// (spec.md §3 Federation): the committed FOM module set, the object model
// with its publish/subscribe tracking, the object-instance table, regions,
// synchronization labels, time management, and the federate and connect
// tables. Every state transition is a method that mutates the federation
// and returns the outgoing messages the server node must route, keeping
// message processing a function from (state, message) to
// (state', outgoing-messages) (spec.md §9).
//
// Grounded on original_source/src/OpenRTI/ServerModel.h's Federation /
// FederationConnect / Federate records.
package federation

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/openrti-go/rticore/internal/fom"
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/instance"
	"github.com/openrti-go/rticore/internal/objectmodel"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/region"
	"github.com/openrti-go/rticore/internal/rtierrors"
	"github.com/openrti-go/rticore/internal/syncpoints"
	"github.com/openrti-go/rticore/internal/timemgmt"
)

// Outgoing is one message the server node must send to one connect as a
// consequence of a state transition.
type Outgoing struct {
	To  handle.Connect
	Msg protocol.Message
}

// Federate is one joined participant (spec.md §3 Federate).
type Federate struct {
	Handle       handle.Federate
	Name         string
	Type         string
	Connect      handle.Connect
	ResignAction protocol.ResignAction
	Time         *timemgmt.FederateTime
}

// Connect pairs one node connect with this federation (spec.md §3
// FederationConnect): the federates reached through it and whether it is
// the parent direction.
type Connect struct {
	Handle          handle.Connect
	ParentDirection bool
	Federates       map[handle.Federate]struct{}
	TimeRegulating  map[handle.Federate]struct{}
}

// Federation is one running federation execution at one server node.
type Federation struct {
	Handle                 handle.Federation
	Name                   string
	LogicalTimeFactoryName string

	Modules    *fom.ModuleSet
	Model      *objectmodel.Model
	Instances  *instance.Table
	Regions    *region.Set
	SyncPoints *syncpoints.Set
	Time       *timemgmt.Coordinator

	fedAlloc        *handle.Allocator[handle.Federate]
	federates       map[handle.Federate]*Federate
	federatesByName map[string]*Federate
	connects        map[handle.Connect]*Connect

	logger *zap.SugaredLogger
}

// New creates an empty federation bound to a logical-time factory.
func New(h handle.Federation, name, timeFactoryName string, logger *zap.SugaredLogger) (*Federation, error) {
	factory, err := timemgmt.LookupFactory(timeFactoryName)
	if err != nil {
		return nil, err
	}
	modules := fom.NewModuleSet()
	return &Federation{
		Handle:                 h,
		Name:                   name,
		LogicalTimeFactoryName: timeFactoryName,
		Modules:                modules,
		Model:                  objectmodel.NewModel(modules),
		Instances:              instance.NewTable(),
		Regions:                region.NewSet(),
		SyncPoints:             syncpoints.NewSet(),
		Time:                   timemgmt.NewCoordinator(factory),
		fedAlloc:               handle.NewAllocator[handle.Federate](),
		federates:              map[handle.Federate]*Federate{},
		federatesByName:        map[string]*Federate{},
		connects:               map[handle.Connect]*Connect{},
		logger:                 logger.With("federation", name),
	}, nil
}

// InsertConnect attaches a node connect to this federation.
func (f *Federation) InsertConnect(c handle.Connect, parentDirection bool) *Connect {
	if fc, ok := f.connects[c]; ok {
		return fc
	}
	fc := &Connect{
		Handle:          c,
		ParentDirection: parentDirection,
		Federates:       map[handle.Federate]struct{}{},
		TimeRegulating:  map[handle.Federate]struct{}{},
	}
	f.connects[c] = fc
	return fc
}

// GetConnect looks up the federation's view of a node connect.
func (f *Federation) GetConnect(c handle.Connect) (*Connect, bool) {
	fc, ok := f.connects[c]
	return fc, ok
}

// HasConnect reports whether c is attached to this federation.
func (f *Federation) HasConnect(c handle.Connect) bool {
	_, ok := f.connects[c]
	return ok
}

// ParentConnect returns the parent-direction connect, invalid at the root
// (spec.md §3: parent_connect_handle set ⇔ node is non-root).
func (f *Federation) ParentConnect() handle.Connect {
	for c, fc := range f.connects {
		if fc.ParentDirection {
			return c
		}
	}
	return handle.InvalidConnect
}

// Broadcast returns msg addressed to every attached connect except the
// one named by except.
func (f *Federation) Broadcast(except handle.Connect, msg protocol.Message) []Outgoing {
	out := make([]Outgoing, 0, len(f.connects))
	for c := range f.connects {
		if c == except {
			continue
		}
		out = append(out, Outgoing{To: c, Msg: msg})
	}
	return out
}

// Join admits a federate reached through the given connect, merging its
// FOM modules first so an InconsistentFDD rejection leaves the federation
// untouched (spec.md §4.6 failure semantics).
func (f *Federation) Join(name, federateType string, through handle.Connect, timeFactoryName string, modules []fom.Module) (*Federate, error) {
	if timeFactoryName != "" && timeFactoryName != f.LogicalTimeFactoryName {
		return nil, rtierrors.New(rtierrors.CodeCouldNotCreateLogicalTimeFactory,
			"federation uses %q, join requested %q", f.LogicalTimeFactoryName, timeFactoryName)
	}
	if name != "" {
		if _, ok := f.federatesByName[name]; ok {
			return nil, rtierrors.New(rtierrors.CodeFederateNameAlreadyInUse, "%q", name)
		}
	}

	if _, err := f.Modules.InsertModuleList(modules); err != nil {
		return nil, err
	}

	h, err := f.fedAlloc.Get()
	if err != nil {
		return nil, rtierrors.New(rtierrors.CodeRTIInternalError, "%v", err)
	}
	if name == "" {
		name = fmt.Sprintf("HLAfederate%d", uint32(h))
	}

	fed := &Federate{
		Handle:  h,
		Name:    name,
		Type:    federateType,
		Connect: through,
		Time:    timemgmt.NewFederateTime(h),
	}
	f.federates[h] = fed
	f.federatesByName[name] = fed
	f.InsertConnect(through, false).Federates[h] = struct{}{}

	f.logger.Infow("federate joined", "federate", name, "handle", h, "connect", through)
	return fed, nil
}

// InsertFederate records a federate a parent node already admitted,
// taking its handle into the local allocator (spec.md §4.1 Take).
func (f *Federation) InsertFederate(h handle.Federate, name, federateType string, through handle.Connect) *Federate {
	f.fedAlloc.Take(h)
	fed := &Federate{
		Handle:  h,
		Name:    name,
		Type:    federateType,
		Connect: through,
		Time:    timemgmt.NewFederateTime(h),
	}
	f.federates[h] = fed
	f.federatesByName[name] = fed
	f.InsertConnect(through, false).Federates[h] = struct{}{}
	return fed
}

// GetFederate looks up a federate by handle.
func (f *Federation) GetFederate(h handle.Federate) (*Federate, bool) {
	fed, ok := f.federates[h]
	return fed, ok
}

// FederateCount reports how many federates are joined through any connect.
func (f *Federation) FederateCount() int { return len(f.federates) }

// Federates returns every joined federate.
func (f *Federation) Federates() []*Federate {
	out := make([]*Federate, 0, len(f.federates))
	for _, fed := range f.federates {
		out = append(out, fed)
	}
	return out
}

// FederateHandles returns every joined federate's handle.
func (f *Federation) FederateHandles() []handle.Federate {
	out := make([]handle.Federate, 0, len(f.federates))
	for h := range f.federates {
		out = append(out, h)
	}
	return out
}

// Resign removes a federate, executing its resign action: owned object
// instances are deleted or divested, regions erased, synchronization
// labels released, and the time-regulating set updated (spec.md §3
// lifecycles, §4.4, §8 scenario 5). There is no pending-acquisition
// state, so a resign cancels no acquisitions.
func (f *Federation) Resign(h handle.Federate, action protocol.ResignAction) ([]Outgoing, error) {
	fed, ok := f.federates[h]
	if !ok {
		return nil, rtierrors.New(rtierrors.CodeFederateNotExecutionMember, "%v", h)
	}
	var out []Outgoing

	deleteOwned := action == protocol.ResignDeleteObjects ||
		action == protocol.ResignCancelThenDeleteThenDivest ||
		action == protocol.ResignDivestThenDeleteObjects

	for _, o := range f.Instances.OwnedBy(fed.Connect) {
		if deleteOwned {
			msg := &protocol.DeleteObjectInstance{ObjectInstance: o.Handle}
			msg.FederationHandle = f.Handle
			for _, c := range o.KnownBy() {
				if c == fed.Connect {
					continue
				}
				out = append(out, Outgoing{To: c, Msg: msg})
			}
			if _, err := f.Instances.Erase(o.Handle); err != nil {
				return nil, err
			}
		} else {
			// Divest: the instance stays, unowned until acquired.
			for _, a := range o.Attributes {
				if a.Owner == fed.Connect {
					a.SetOwner(handle.InvalidConnect)
				}
			}
			o.Unreference(fed.Connect)
		}
	}

	for name, success := range f.SyncPoints.RemoveFederate(h) {
		msg := &protocol.FederationSynchronized{Label: name, SuccessByFederate: success}
		msg.FederationHandle = f.Handle
		out = append(out, f.Broadcast(handle.InvalidConnect, msg)...)
	}

	f.Regions.RemoveFederate(h)
	f.Instances.RemoveFederateReservations(h)

	if f.Time.IsRegulator(h) {
		f.Time.EraseRegulator(h)
		if fc, ok := f.connects[fed.Connect]; ok {
			delete(fc.TimeRegulating, h)
		}
	}

	if fc, ok := f.connects[fed.Connect]; ok {
		delete(fc.Federates, h)
	}
	delete(f.federates, h)
	delete(f.federatesByName, fed.Name)
	f.fedAlloc.Put(h)

	f.logger.Infow("federate resigned", "federate", fed.Name, "action", action)
	return out, nil
}

// EraseConnect detaches a connect, resigning every federate reached
// through it with its configured resign action (spec.md §4.6 failure
// semantics). The connect's publish/subscribe interest is dropped last.
func (f *Federation) EraseConnect(c handle.Connect) ([]Outgoing, error) {
	fc, ok := f.connects[c]
	if !ok {
		return nil, nil
	}
	var out []Outgoing
	for h := range fc.Federates {
		fed := f.federates[h]
		action := fed.ResignAction
		if action == 0 {
			action = protocol.ResignCancelThenDeleteThenDivest
		}
		resigned, err := f.Resign(h, action)
		if err != nil {
			return nil, err
		}
		out = append(out, resigned...)
	}
	f.Model.RemoveConnect(c)
	for _, o := range f.Instances.Instances() {
		o.Unreference(c)
	}
	delete(f.connects, c)

	// Drop anything addressed to the connect being torn down.
	kept := out[:0]
	for _, o := range out {
		if o.To != c {
			kept = append(kept, o)
		}
	}
	return kept, nil
}
