package fom

import (
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/rtierrors"
)

// ModuleSet is the per-federation canonical object model (spec.md §4.2).
// Handle allocation is federation-wide per handle kind: attribute and
// parameter handles are unique across the whole FOM, not merely within one
// class, which keeps the per-class attribute-vector indexing scheme from
// OpenRTI's ServerObjectModel.h collision-free without tracking per-branch
// allocator state (a recorded design decision; see DESIGN.md).
type ModuleSet struct {
	dimAlloc    *handle.Allocator[handle.Dimension]
	ocAlloc     *handle.Allocator[handle.ObjectClass]
	attrAlloc   *handle.Allocator[handle.Attribute]
	icAlloc     *handle.Allocator[handle.InteractionClass]
	paramAlloc  *handle.Allocator[handle.Parameter]
	moduleAlloc *handle.Allocator[handle.Module]

	dimensionsByName map[string]*Dimension

	objectClassesByName   map[string]*ObjectClass
	objectClassesByHandle map[handle.ObjectClass]*ObjectClass

	interactionClassesByName   map[string]*InteractionClass
	interactionClassesByHandle map[handle.InteractionClass]*InteractionClass

	modules     map[handle.Module]Module
	moduleNames map[string]handle.Module

	// privilegeToDeleteTaken tracks whether attribute handle 0 has already
	// been pulled out of attrAlloc's free pool by an earlier root object
	// class, since every root class shares that one reserved handle.
	privilegeToDeleteTaken bool
}

// NewModuleSet returns an empty module set.
func NewModuleSet() *ModuleSet {
	return &ModuleSet{
		dimAlloc:                   handle.NewAllocator[handle.Dimension](),
		ocAlloc:                    handle.NewAllocator[handle.ObjectClass](),
		attrAlloc:                  handle.NewAllocator[handle.Attribute](),
		icAlloc:                    handle.NewAllocator[handle.InteractionClass](),
		paramAlloc:                 handle.NewAllocator[handle.Parameter](),
		moduleAlloc:                handle.NewAllocator[handle.Module](),
		dimensionsByName:           map[string]*Dimension{},
		objectClassesByName:        map[string]*ObjectClass{},
		objectClassesByHandle:      map[handle.ObjectClass]*ObjectClass{},
		interactionClassesByName:   map[string]*InteractionClass{},
		interactionClassesByHandle: map[handle.InteractionClass]*InteractionClass{},
		modules:                    map[handle.Module]Module{},
		moduleNames:                map[string]handle.Module{},
	}
}

// clone deep-copies the whole module set so InsertModuleList can mutate a
// candidate and discard it on any InconsistentFDD failure, only swapping
// the candidate back over ms on success (spec.md §4.2, §9 "candidate then
// commit").
func (ms *ModuleSet) clone() *ModuleSet {
	c := &ModuleSet{
		dimAlloc:                   ms.dimAlloc.Clone(),
		ocAlloc:                    ms.ocAlloc.Clone(),
		attrAlloc:                  ms.attrAlloc.Clone(),
		icAlloc:                    ms.icAlloc.Clone(),
		paramAlloc:                 ms.paramAlloc.Clone(),
		moduleAlloc:                ms.moduleAlloc.Clone(),
		dimensionsByName:           map[string]*Dimension{},
		objectClassesByName:        map[string]*ObjectClass{},
		objectClassesByHandle:      map[handle.ObjectClass]*ObjectClass{},
		interactionClassesByName:   map[string]*InteractionClass{},
		interactionClassesByHandle: map[handle.InteractionClass]*InteractionClass{},
		modules:                    map[handle.Module]Module{},
		moduleNames:                map[string]handle.Module{},
		privilegeToDeleteTaken:     ms.privilegeToDeleteTaken,
	}
	for name, d := range ms.dimensionsByName {
		nd := &Dimension{Name: d.Name, Handle: d.Handle, Modules: cloneSet(d.Modules)}
		c.dimensionsByName[name] = nd
	}
	for name, oc := range ms.objectClassesByName {
		noc := cloneObjectClass(oc)
		c.objectClassesByName[name] = noc
		c.objectClassesByHandle[noc.Handle] = noc
	}
	for name, ic := range ms.interactionClassesByName {
		nic := cloneInteractionClass(ic)
		c.interactionClassesByName[name] = nic
		c.interactionClassesByHandle[nic.Handle] = nic
	}
	for h, m := range ms.modules {
		c.modules[h] = m
	}
	for name, h := range ms.moduleNames {
		c.moduleNames[name] = h
	}
	return c
}

func cloneSet[K comparable](m map[K]struct{}) map[K]struct{} {
	c := make(map[K]struct{}, len(m))
	for k := range m {
		c[k] = struct{}{}
	}
	return c
}

func cloneObjectClass(oc *ObjectClass) *ObjectClass {
	n := &ObjectClass{
		Name:       oc.Name,
		Handle:     oc.Handle,
		Parent:     oc.Parent,
		Children:   append([]handle.ObjectClass{}, oc.Children...),
		Attributes: map[handle.Attribute]*Attribute{},
		Own:        cloneSet(oc.Own),
		Modules:    cloneSet(oc.Modules),
	}
	for h, a := range oc.Attributes {
		na := *a
		na.Dimensions = append([]handle.Dimension{}, a.Dimensions...)
		n.Attributes[h] = &na
	}
	return n
}

func cloneInteractionClass(ic *InteractionClass) *InteractionClass {
	n := &InteractionClass{
		Name:           ic.Name,
		Handle:         ic.Handle,
		Parent:         ic.Parent,
		Children:       append([]handle.InteractionClass{}, ic.Children...),
		Order:          ic.Order,
		Transportation: ic.Transportation,
		Dimensions:     append([]handle.Dimension{}, ic.Dimensions...),
		Parameters:     map[handle.Parameter]*Parameter{},
		Own:            cloneSet(ic.Own),
		Modules:        cloneSet(ic.Modules),
	}
	for h, p := range ic.Parameters {
		np := *p
		n.Parameters[h] = &np
	}
	return n
}

// InsertModuleList merges the contents of modules into the federation's
// object model. Every contained entity (dimension, object class with its
// attributes, interaction class with its parameters) is looked up by
// fully-qualified name: if present, it must match in parent, order type,
// transportation and dimension set, and every attribute or parameter it
// redeclares must match the existing one, or the whole insertion fails
// with InconsistentFDD and the federation's object model is left
// completely unchanged (spec.md §4.2, §8 boundary case). Attributes and
// parameters that a redeclaration adds are merged into the existing class.
func (ms *ModuleSet) InsertModuleList(modules []Module) ([]handle.Module, error) {
	candidate := ms.clone()

	moduleHandles := make([]handle.Module, 0, len(modules))
	for _, m := range modules {
		mh, err := candidate.insertOneModule(m)
		if err != nil {
			return nil, err
		}
		moduleHandles = append(moduleHandles, mh)
	}

	*ms = *candidate
	return moduleHandles, nil
}

func (ms *ModuleSet) insertOneModule(m Module) (handle.Module, error) {
	if existing, ok := ms.moduleNames[m.Name]; ok {
		// Re-inserting a module already known by name is idempotent: still
		// verify every entity it declares matches what's committed.
		if err := ms.verifyModule(m); err != nil {
			return handle.InvalidModule, err
		}
		return existing, nil
	}

	mh, err := ms.moduleAlloc.Get()
	if err != nil {
		return handle.InvalidModule, rtierrors.New(rtierrors.CodeRTIInternalError, "%v", err)
	}

	for _, dimName := range m.Dimensions {
		if _, err := ms.resolveDimension(dimName, mh); err != nil {
			return handle.InvalidModule, err
		}
	}
	for _, oc := range m.ObjectClasses {
		if err := ms.resolveObjectClass(oc, mh); err != nil {
			return handle.InvalidModule, err
		}
	}
	for _, ic := range m.InteractionClasses {
		if err := ms.resolveInteractionClass(ic, mh); err != nil {
			return handle.InvalidModule, err
		}
	}

	ms.modules[mh] = m
	ms.moduleNames[m.Name] = mh
	return mh, nil
}

// verifyModule re-checks a module's declarations against the committed
// state without allocating anything, used when a module name repeats
// across an insertModuleList call.
func (ms *ModuleSet) verifyModule(m Module) error {
	probe := ms.clone()
	delete(probe.moduleNames, m.Name)
	for h, mod := range probe.modules {
		if mod.Name == m.Name {
			delete(probe.modules, h)
		}
	}
	_, err := probe.insertOneModule(m)
	return err
}

func (ms *ModuleSet) resolveDimension(name string, mh handle.Module) (handle.Dimension, error) {
	if d, ok := ms.dimensionsByName[name]; ok {
		d.Modules[mh] = struct{}{}
		return d.Handle, nil
	}
	h, err := ms.dimAlloc.Get()
	if err != nil {
		return handle.InvalidDimension, rtierrors.New(rtierrors.CodeRTIInternalError, "%v", err)
	}
	ms.dimensionsByName[name] = &Dimension{Name: name, Handle: h, Modules: map[handle.Module]struct{}{mh: {}}}
	return h, nil
}

func (ms *ModuleSet) resolveDimensionSet(names []string, mh handle.Module) ([]handle.Dimension, error) {
	out := make([]handle.Dimension, 0, len(names))
	for _, n := range names {
		h, err := ms.resolveDimension(n, mh)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func handleSetEqual[H comparable](a, b []H) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[H]struct{}, len(a))
	for _, h := range a {
		set[h] = struct{}{}
	}
	for _, h := range b {
		if _, ok := set[h]; !ok {
			return false
		}
	}
	return true
}

func (ms *ModuleSet) resolveObjectClass(spec ObjectClassSpec, mh handle.Module) error {
	var parentHandle handle.ObjectClass = handle.InvalidObjectClass
	if spec.ParentName != "" {
		parent, ok := ms.objectClassesByName[spec.ParentName]
		if !ok {
			return rtierrors.New(rtierrors.CodeInconsistentFDD,
				"object class %q declares unknown parent %q", spec.Name, spec.ParentName)
		}
		parentHandle = parent.Handle
	}

	if existing, ok := ms.objectClassesByName[spec.Name]; ok {
		if existing.Parent != parentHandle {
			return rtierrors.New(rtierrors.CodeInconsistentFDD,
				"object class %q redeclared with a different parent", spec.Name)
		}
		return ms.mergeObjectClassAttributes(existing, spec.Attributes, mh)
	}

	oc := &ObjectClass{
		Name:       spec.Name,
		Handle:     handle.InvalidObjectClass,
		Parent:     parentHandle,
		Attributes: map[handle.Attribute]*Attribute{},
		Own:        map[handle.Attribute]struct{}{},
		Modules:    map[handle.Module]struct{}{mh: {}},
	}
	h, err := ms.ocAlloc.Get()
	if err != nil {
		return rtierrors.New(rtierrors.CodeRTIInternalError, "%v", err)
	}
	oc.Handle = h

	if parentHandle.Valid() {
		parent := ms.objectClassesByHandle[parentHandle]
		parent.Children = append(parent.Children, h)
		for ah, pa := range parent.Attributes {
			inherited := *pa
			inherited.Dimensions = append([]handle.Dimension{}, pa.Dimensions...)
			oc.Attributes[ah] = &inherited
		}
	} else {
		// Every root object class carries the reserved privilege-to-delete
		// attribute at handle 0 (spec.md §3), shared across all root classes
		// rather than allocated fresh per class.
		ptd := &Attribute{Name: "HLAprivilegeToDeleteObject", Handle: handle.PrivilegeToDelete}
		oc.Attributes[handle.PrivilegeToDelete] = ptd
		oc.Own[handle.PrivilegeToDelete] = struct{}{}
		if !ms.privilegeToDeleteTaken {
			ms.attrAlloc.Take(handle.PrivilegeToDelete)
			ms.privilegeToDeleteTaken = true
		}
	}

	ms.objectClassesByName[spec.Name] = oc
	ms.objectClassesByHandle[h] = oc

	return ms.mergeObjectClassAttributes(oc, spec.Attributes, mh)
}

func (ms *ModuleSet) mergeObjectClassAttributes(oc *ObjectClass, attrs []AttributeSpec, mh handle.Module) error {
	oc.Modules[mh] = struct{}{}
	for _, as := range attrs {
		dims, err := ms.resolveDimensionSet(as.Dimensions, mh)
		if err != nil {
			return err
		}

		var found *Attribute
		for ah := range oc.Own {
			if oc.Attributes[ah].Name == as.Name {
				found = oc.Attributes[ah]
				break
			}
		}
		// An attribute inherited (not own) under the same name is also a
		// redeclaration conflict target for the compatibility check.
		if found == nil {
			for _, a := range oc.Attributes {
				if a.Name == as.Name {
					found = a
					break
				}
			}
		}

		if found != nil {
			if found.Order != as.Order || found.Transportation != as.Transportation ||
				!handleSetEqual(found.Dimensions, dims) {
				return rtierrors.New(rtierrors.CodeInconsistentFDD,
					"object class %q attribute %q redeclared with mismatched order/transport/dimensions",
					oc.Name, as.Name)
			}
			continue
		}

		ah, err := ms.attrAlloc.Get()
		if err != nil {
			return rtierrors.New(rtierrors.CodeRTIInternalError, "%v", err)
		}
		attr := &Attribute{Name: as.Name, Handle: ah, Order: as.Order, Transportation: as.Transportation, Dimensions: dims}
		oc.Attributes[ah] = attr
		oc.Own[ah] = struct{}{}

		propagateAttributeToChildren(ms, oc, attr)
	}
	return nil
}

func propagateAttributeToChildren(ms *ModuleSet, oc *ObjectClass, attr *Attribute) {
	for _, ch := range oc.Children {
		child := ms.objectClassesByHandle[ch]
		if _, ok := child.Attributes[attr.Handle]; ok {
			continue
		}
		inherited := *attr
		inherited.Dimensions = append([]handle.Dimension{}, attr.Dimensions...)
		child.Attributes[attr.Handle] = &inherited
		propagateAttributeToChildren(ms, child, &inherited)
	}
}

func (ms *ModuleSet) resolveInteractionClass(spec InteractionClassSpec, mh handle.Module) error {
	var parentHandle handle.InteractionClass = handle.InvalidInteractionClass
	if spec.ParentName != "" {
		parent, ok := ms.interactionClassesByName[spec.ParentName]
		if !ok {
			return rtierrors.New(rtierrors.CodeInconsistentFDD,
				"interaction class %q declares unknown parent %q", spec.Name, spec.ParentName)
		}
		parentHandle = parent.Handle
	}

	dims, err := ms.resolveDimensionSet(spec.Dimensions, mh)
	if err != nil {
		return err
	}

	if existing, ok := ms.interactionClassesByName[spec.Name]; ok {
		if existing.Parent != parentHandle || existing.Order != spec.Order ||
			existing.Transportation != spec.Transportation || !handleSetEqual(existing.Dimensions, dims) {
			return rtierrors.New(rtierrors.CodeInconsistentFDD,
				"interaction class %q redeclared with mismatched parent/order/transport/dimensions", spec.Name)
		}
		return ms.mergeInteractionClassParameters(existing, spec.Parameters, mh)
	}

	ic := &InteractionClass{
		Name:           spec.Name,
		Handle:         handle.InvalidInteractionClass,
		Parent:         parentHandle,
		Order:          spec.Order,
		Transportation: spec.Transportation,
		Dimensions:     dims,
		Parameters:     map[handle.Parameter]*Parameter{},
		Own:            map[handle.Parameter]struct{}{},
		Modules:        map[handle.Module]struct{}{mh: {}},
	}
	h, err := ms.icAlloc.Get()
	if err != nil {
		return rtierrors.New(rtierrors.CodeRTIInternalError, "%v", err)
	}
	ic.Handle = h

	if parentHandle.Valid() {
		parent := ms.interactionClassesByHandle[parentHandle]
		parent.Children = append(parent.Children, h)
		for ph, pp := range parent.Parameters {
			inherited := *pp
			ic.Parameters[ph] = &inherited
		}
	}

	ms.interactionClassesByName[spec.Name] = ic
	ms.interactionClassesByHandle[h] = ic

	return ms.mergeInteractionClassParameters(ic, spec.Parameters, mh)
}

func (ms *ModuleSet) mergeInteractionClassParameters(ic *InteractionClass, params []ParameterSpec, mh handle.Module) error {
	ic.Modules[mh] = struct{}{}
	for _, ps := range params {
		var found bool
		for ph := range ic.Parameters {
			if ic.Parameters[ph].Name == ps.Name {
				found = true
				break
			}
		}
		if found {
			continue
		}
		ph, err := ms.paramAlloc.Get()
		if err != nil {
			return rtierrors.New(rtierrors.CodeRTIInternalError, "%v", err)
		}
		ic.Parameters[ph] = &Parameter{Name: ps.Name, Handle: ph}
		ic.Own[ph] = struct{}{}
	}
	return nil
}

// GetObjectClass looks up a committed object class by handle.
func (ms *ModuleSet) GetObjectClass(h handle.ObjectClass) (*ObjectClass, bool) {
	oc, ok := ms.objectClassesByHandle[h]
	return oc, ok
}

// GetObjectClassByName looks up a committed object class by fully-qualified name.
func (ms *ModuleSet) GetObjectClassByName(name string) (*ObjectClass, bool) {
	oc, ok := ms.objectClassesByName[name]
	return oc, ok
}

// GetInteractionClass looks up a committed interaction class by handle.
func (ms *ModuleSet) GetInteractionClass(h handle.InteractionClass) (*InteractionClass, bool) {
	ic, ok := ms.interactionClassesByHandle[h]
	return ic, ok
}

// GetInteractionClassByName looks up a committed interaction class by name.
func (ms *ModuleSet) GetInteractionClassByName(name string) (*InteractionClass, bool) {
	ic, ok := ms.interactionClassesByName[name]
	return ic, ok
}

// GetModuleList returns every committed module as it was inserted, for
// replay to a newly joining federate (spec.md §4.2). The returned modules
// carry no module handles, and their order is not defined.
func (ms *ModuleSet) GetModuleList() []Module {
	out := make([]Module, 0, len(ms.modules))
	for _, m := range ms.modules {
		out = append(out, m)
	}
	return out
}
