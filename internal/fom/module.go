// Package fom maintains the canonical, cross-module Federation Object
// Model for one federation (spec.md §4.2): it merges incoming FOM modules,
// checks newly-declared entities against anything already committed, and
// assigns stable handles.
//
// Actual FDD/XML parsing is explicitly out of scope (spec.md §1); this
// package works on an already-parsed Module value. InsertModules.Modules
// on the wire carries the JSON encoding of Module — a stand-in transport
// encoding, not a claim about the real FDD format.
package fom

import (
	"github.com/openrti-go/rticore/internal/handle"
)

// AttributeSpec describes one attribute declaration inside a Module.
type AttributeSpec struct {
	Name           string
	Order          uint8 // protocol.OrderType, avoided here to keep fom free of protocol
	Transportation uint8 // protocol.TransportType
	Dimensions     []string
}

// ParameterSpec describes one parameter declaration inside a Module.
type ParameterSpec struct {
	Name string
}

// ObjectClassSpec describes one object-class declaration inside a Module.
// ParentName is empty for a root class.
type ObjectClassSpec struct {
	Name       string
	ParentName string
	Attributes []AttributeSpec
}

// InteractionClassSpec describes one interaction-class declaration.
type InteractionClassSpec struct {
	Name           string
	ParentName     string
	Order          uint8
	Transportation uint8
	Dimensions     []string
	Parameters     []ParameterSpec
}

// Module is one named bundle contributing dimensions, object classes and
// interaction classes (spec.md §3 "FOM module").
type Module struct {
	Name              string
	Dimensions        []string
	ObjectClasses     []ObjectClassSpec
	InteractionClasses []InteractionClassSpec
}

// Dimension is a committed dimension entity.
type Dimension struct {
	Name      string
	Handle    handle.Dimension
	Modules   map[handle.Module]struct{} // provenance: which modules reference it
}

// Attribute is a committed attribute of an ObjectClass.
type Attribute struct {
	Name           string
	Handle         handle.Attribute
	Order          uint8
	Transportation uint8
	Dimensions     []handle.Dimension
}

// ObjectClass is a committed node in the object-class tree.
type ObjectClass struct {
	Name       string
	Handle     handle.ObjectClass
	Parent     handle.ObjectClass // invalid for a root class
	Children   []handle.ObjectClass
	// Attributes is indexed by handle.Attribute for O(1) lookup, including
	// attributes inherited from ancestors, mirroring OpenRTI's
	// ObjectClassAttributeVector (ServerObjectModel.h).
	Attributes map[handle.Attribute]*Attribute
	// Own lists only the attributes this class itself declares (not
	// inherited), needed for the compatibility check on re-declaration.
	Own map[handle.Attribute]struct{}
	Modules map[handle.Module]struct{}
}

// Parameter is a committed parameter of an InteractionClass.
type Parameter struct {
	Name   string
	Handle handle.Parameter
}

// InteractionClass is a committed node in the interaction-class tree.
type InteractionClass struct {
	Name           string
	Handle         handle.InteractionClass
	Parent         handle.InteractionClass
	Children       []handle.InteractionClass
	Order          uint8
	Transportation uint8
	Dimensions     []handle.Dimension
	Parameters     map[handle.Parameter]*Parameter
	Own            map[handle.Parameter]struct{}
	Modules        map[handle.Module]struct{}
}
