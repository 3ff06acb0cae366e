// Package instance implements object-instance management (spec.md §4.4):
// federation-wide name reservation, registration gated on publication,
// per-attribute ownership, per-connect discovery reference counting, and
// the (transportation, order) passel partitioning of attribute updates.
//
// Grounded on original_source/src/OpenRTI/ServerObjectModel.h's
// ObjectInstance / InstanceAttribute and the name reservation tracking in
// ServerModel.h.
package instance

import (
	"strings"

	"github.com/openrti-go/rticore/internal/fom"
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/rtierrors"
)

// Attribute is one instance attribute: its owner connect and the
// connects currently receiving its updates. The invariant
// owner ∉ receivers holds at all times (spec.md §3).
type Attribute struct {
	Handle    handle.Attribute
	Owner     handle.Connect
	Receivers map[handle.Connect]struct{}
}

// SetOwner transfers ownership, dropping the new owner from the
// receiving set to keep the invariant.
func (a *Attribute) SetOwner(owner handle.Connect) {
	a.Owner = owner
	if owner.Valid() {
		delete(a.Receivers, owner)
	}
}

// AddReceiver inserts a receiving connect unless it is the owner.
func (a *Attribute) AddReceiver(c handle.Connect) bool {
	if c == a.Owner {
		return false
	}
	if _, ok := a.Receivers[c]; ok {
		return false
	}
	a.Receivers[c] = struct{}{}
	return true
}

// RemoveReceiver drops a receiving connect.
func (a *Attribute) RemoveReceiver(c handle.Connect) {
	delete(a.Receivers, c)
}

// Object is one registered object instance.
type Object struct {
	Handle     handle.ObjectInstance
	Name       string
	Class      handle.ObjectClass
	Attributes map[handle.Attribute]*Attribute

	// references counts, per connect, how many subscription paths caused
	// this connect to know the instance; a connect forgets the instance
	// when its count drops to zero (spec.md §4.4).
	references map[handle.Connect]int
}

// Owner returns the connect holding privilege-to-delete, i.e. the
// instance's delete owner.
func (o *Object) Owner() handle.Connect {
	if a, ok := o.Attributes[handle.PrivilegeToDelete]; ok {
		return a.Owner
	}
	return handle.InvalidConnect
}

// Reference adds one knowledge reference for c and reports whether this
// was the first (the connect just discovered the instance).
func (o *Object) Reference(c handle.Connect) bool {
	o.references[c]++
	return o.references[c] == 1
}

// Unreference drops one knowledge reference for c and reports whether it
// was the last (the connect may forget the instance).
func (o *Object) Unreference(c handle.Connect) bool {
	n, ok := o.references[c]
	if !ok {
		return false
	}
	if n > 1 {
		o.references[c] = n - 1
		return false
	}
	delete(o.references, c)
	for _, a := range o.Attributes {
		a.RemoveReceiver(c)
	}
	return true
}

// Knows reports whether c currently holds a knowledge reference.
func (o *Object) Knows(c handle.Connect) bool {
	return o.references[c] > 0
}

// KnownBy returns every connect holding a knowledge reference.
func (o *Object) KnownBy() []handle.Connect {
	out := make([]handle.Connect, 0, len(o.references))
	for c := range o.references {
		out = append(out, c)
	}
	return out
}

// Table is one federation's object-instance state: instances by handle
// and by name, plus the outstanding name reservations.
type Table struct {
	alloc    *handle.Allocator[handle.ObjectInstance]
	byHandle map[handle.ObjectInstance]*Object
	byName   map[string]*Object

	// reservations maps a reserved-but-unregistered name to the federate
	// holding the reservation (spec.md §3: reservations are per-federate).
	reservations map[string]handle.Federate

	// granted holds handles already minted by AllocateHandles but not yet
	// bound to an instance, so Insert can tell a pool handle from one a
	// parent node assigned out of band.
	granted map[handle.ObjectInstance]struct{}
}

// NewTable returns an empty instance table.
func NewTable() *Table {
	return &Table{
		alloc:        handle.NewAllocator[handle.ObjectInstance](),
		byHandle:     map[handle.ObjectInstance]*Object{},
		byName:       map[string]*Object{},
		reservations: map[string]handle.Federate{},
		granted:      map[handle.ObjectInstance]struct{}{},
	}
}

// ReserveName reserves name for fed. Names beginning with "HLA" are
// reserved for the RTI itself; a name already reserved or in use fails
// finally (spec.md §4.4, §8 boundary cases).
func (t *Table) ReserveName(name string, fed handle.Federate) error {
	if strings.HasPrefix(name, "HLA") {
		return rtierrors.New(rtierrors.CodeIllegalName, "%q", name)
	}
	if name == "" {
		return rtierrors.New(rtierrors.CodeIllegalName, "empty object instance name")
	}
	if _, ok := t.reservations[name]; ok {
		return rtierrors.New(rtierrors.CodeObjectInstanceNameInUse, "%q", name)
	}
	if _, ok := t.byName[name]; ok {
		return rtierrors.New(rtierrors.CodeObjectInstanceNameInUse, "%q", name)
	}
	t.reservations[name] = fed
	return nil
}

// ReleaseName gives up fed's reservation of name.
func (t *Table) ReleaseName(name string, fed handle.Federate) {
	if owner, ok := t.reservations[name]; ok && owner == fed {
		delete(t.reservations, name)
	}
}

// AllocateHandles mints count fresh instance handles for an ambassador's
// local registration pool (ObjectInstanceHandlesRequest).
func (t *Table) AllocateHandles(count int) ([]handle.ObjectInstance, error) {
	out := make([]handle.ObjectInstance, 0, count)
	for i := 0; i < count; i++ {
		h, err := t.alloc.Get()
		if err != nil {
			return nil, rtierrors.New(rtierrors.CodeRTIInternalError, "%v", err)
		}
		t.granted[h] = struct{}{}
		out = append(out, h)
	}
	return out, nil
}

// Insert registers an instance of class under name, owned through the
// given connect by fed. The instance-attribute vector covers exactly the
// class's attributes including inherited ones; owner connect ownership is
// applied to owned plus privilege-to-delete (spec.md §3, §4.4).
func (t *Table) Insert(h handle.ObjectInstance, name string, class *fom.ObjectClass, owner handle.Connect, fed handle.Federate, owned []handle.Attribute) (*Object, error) {
	if _, ok := t.byHandle[h]; ok {
		return nil, rtierrors.New(rtierrors.CodeRTIInternalError, "instance %v registered twice", h)
	}
	if reserver, reserved := t.reservations[name]; reserved {
		if reserver != fed {
			return nil, rtierrors.New(rtierrors.CodeObjectInstanceNameInUse, "%q reserved by %v", name, reserver)
		}
		delete(t.reservations, name)
	} else if _, ok := t.byName[name]; ok {
		return nil, rtierrors.New(rtierrors.CodeObjectInstanceNameInUse, "%q", name)
	}
	if _, pooled := t.granted[h]; pooled {
		delete(t.granted, h)
	} else {
		t.alloc.Take(h)
	}

	o := &Object{
		Handle:     h,
		Name:       name,
		Class:      class.Handle,
		Attributes: make(map[handle.Attribute]*Attribute, len(class.Attributes)),
		references: map[handle.Connect]int{},
	}
	for ah := range class.Attributes {
		o.Attributes[ah] = &Attribute{
			Handle:    ah,
			Owner:     handle.InvalidConnect,
			Receivers: map[handle.Connect]struct{}{},
		}
	}
	o.Attributes[handle.PrivilegeToDelete].SetOwner(owner)
	for _, ah := range owned {
		if a, ok := o.Attributes[ah]; ok {
			a.SetOwner(owner)
		}
	}
	o.Reference(owner)

	t.byHandle[h] = o
	t.byName[name] = o
	return o, nil
}

// Erase removes an instance and reclaims its handle.
func (t *Table) Erase(h handle.ObjectInstance) (*Object, error) {
	o, ok := t.byHandle[h]
	if !ok {
		return nil, rtierrors.New(rtierrors.CodeObjectInstanceNotKnown, "%v", h)
	}
	delete(t.byHandle, h)
	delete(t.byName, o.Name)
	t.alloc.Put(h)
	return o, nil
}

// Get looks up an instance by handle.
func (t *Table) Get(h handle.ObjectInstance) (*Object, bool) {
	o, ok := t.byHandle[h]
	return o, ok
}

// GetByName looks up an instance by its federation-wide unique name.
func (t *Table) GetByName(name string) (*Object, bool) {
	o, ok := t.byName[name]
	return o, ok
}

// Instances returns every registered instance.
func (t *Table) Instances() []*Object {
	out := make([]*Object, 0, len(t.byHandle))
	for _, o := range t.byHandle {
		out = append(out, o)
	}
	return out
}

// InstancesOfClass returns the registered instances whose class is one of
// classes, used by the cumulative-subscription walk to adjust receiving
// sets when interest changes (spec.md §4.3).
func (t *Table) InstancesOfClass(classes map[handle.ObjectClass]struct{}) []*Object {
	var out []*Object
	for _, o := range t.byHandle {
		if _, ok := classes[o.Class]; ok {
			out = append(out, o)
		}
	}
	return out
}

// OwnedBy returns every instance whose privilege-to-delete owner is the
// given connect, the set a resign action operates on (spec.md §4.4).
func (t *Table) OwnedBy(c handle.Connect) []*Object {
	var out []*Object
	for _, o := range t.byHandle {
		if o.Owner() == c {
			out = append(out, o)
		}
	}
	return out
}

// RemoveFederateReservations drops every outstanding reservation held by
// fed, returning the released names.
func (t *Table) RemoveFederateReservations(fed handle.Federate) []string {
	var names []string
	for name, owner := range t.reservations {
		if owner == fed {
			delete(t.reservations, name)
			names = append(names, name)
		}
	}
	return names
}

// Passel is one (transportation, order) partition of an attribute update;
// each passel becomes exactly one wire message (spec.md §4.4).
type Passel struct {
	Transportation protocol.TransportType
	Order          protocol.OrderType
	Values         []protocol.AttributeValue
}

// PartitionUpdate splits values into up to four passels keyed by the
// declared transportation and order of each attribute in class.
func PartitionUpdate(class *fom.ObjectClass, values []protocol.AttributeValue) []Passel {
	type key struct {
		transport protocol.TransportType
		order     protocol.OrderType
	}
	grouped := map[key][]protocol.AttributeValue{}
	var order []key
	for _, v := range values {
		a, ok := class.Attributes[v.Attribute]
		if !ok {
			continue
		}
		k := key{protocol.TransportType(a.Transportation), protocol.OrderType(a.Order)}
		if _, seen := grouped[k]; !seen {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], v)
	}
	out := make([]Passel, 0, len(order))
	for _, k := range order {
		out = append(out, Passel{Transportation: k.transport, Order: k.order, Values: grouped[k]})
	}
	return out
}
