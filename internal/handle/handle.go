// Package handle implements the typed integer handle kinds used throughout
// the federation core (federate, federation, object class, attribute,
// interaction class, parameter, dimension, object instance, region,
// connect, module) plus the composite 64-bit handles that pack a federate
// handle together with a per-federate serial.
package handle

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind distinguishes handle types for logging and error messages only;
// the zero value of every handle type below is NOT the invalid value —
// callers must use the package's Invalid constants or Valid.
type Kind string

const (
	KindFederate         Kind = "Federate"
	KindFederation       Kind = "Federation"
	KindObjectClass      Kind = "ObjectClass"
	KindAttribute        Kind = "Attribute"
	KindInteractionClass Kind = "InteractionClass"
	KindParameter        Kind = "Parameter"
	KindDimension        Kind = "Dimension"
	KindObjectInstance   Kind = "ObjectInstance"
	KindRegion           Kind = "Region"
	KindConnect          Kind = "Connect"
	KindModule           Kind = "Module"
	KindMessageRetract   Kind = "MessageRetraction"
)

// Federate identifies one joined participant within a federation.
type Federate uint32

// InvalidFederate is the reserved "no handle" value.
const InvalidFederate Federate = math.MaxUint32

// Valid reports whether h is a real, allocated handle.
func (h Federate) Valid() bool { return h != InvalidFederate }

func (h Federate) String() string { return fmt.Sprintf("Federate(%d)", uint32(h)) }

// Encode writes the 32-bit big-endian wire form into buf[:4].
func (h Federate) Encode(buf []byte) { binary.BigEndian.PutUint32(buf, uint32(h)) }

// DecodeFederate reads the 32-bit big-endian wire form from buf[:4].
func DecodeFederate(buf []byte) Federate { return Federate(binary.BigEndian.Uint32(buf)) }

// Federation identifies one running federation execution within a server node.
type Federation uint16

const InvalidFederation Federation = math.MaxUint16

func (h Federation) Valid() bool     { return h != InvalidFederation }
func (h Federation) String() string  { return fmt.Sprintf("Federation(%d)", uint16(h)) }
func (h Federation) Encode(buf []byte) { binary.BigEndian.PutUint16(buf, uint16(h)) }

func DecodeFederation(buf []byte) Federation { return Federation(binary.BigEndian.Uint16(buf)) }

// ObjectClass identifies a node in the object-class tree.
type ObjectClass uint32

const InvalidObjectClass ObjectClass = math.MaxUint32

func (h ObjectClass) Valid() bool      { return h != InvalidObjectClass }
func (h ObjectClass) String() string   { return fmt.Sprintf("ObjectClass(%d)", uint32(h)) }
func (h ObjectClass) Encode(buf []byte) { binary.BigEndian.PutUint32(buf, uint32(h)) }

func DecodeObjectClass(buf []byte) ObjectClass { return ObjectClass(binary.BigEndian.Uint32(buf)) }

// Attribute identifies one attribute definition of an object class.
// Attribute(0) is conventionally the privilege-to-delete attribute.
type Attribute uint32

const InvalidAttribute Attribute = math.MaxUint32

// PrivilegeToDelete is the reserved attribute-0 handle every object class carries.
const PrivilegeToDelete Attribute = 0

func (h Attribute) Valid() bool      { return h != InvalidAttribute }
func (h Attribute) String() string   { return fmt.Sprintf("Attribute(%d)", uint32(h)) }
func (h Attribute) Encode(buf []byte) { binary.BigEndian.PutUint32(buf, uint32(h)) }

func DecodeAttribute(buf []byte) Attribute { return Attribute(binary.BigEndian.Uint32(buf)) }

// InteractionClass identifies a node in the interaction-class tree.
type InteractionClass uint32

const InvalidInteractionClass InteractionClass = math.MaxUint32

func (h InteractionClass) Valid() bool      { return h != InvalidInteractionClass }
func (h InteractionClass) String() string   { return fmt.Sprintf("InteractionClass(%d)", uint32(h)) }
func (h InteractionClass) Encode(buf []byte) { binary.BigEndian.PutUint32(buf, uint32(h)) }

func DecodeInteractionClass(buf []byte) InteractionClass {
	return InteractionClass(binary.BigEndian.Uint32(buf))
}

// Parameter identifies one parameter definition of an interaction class.
type Parameter uint32

const InvalidParameter Parameter = math.MaxUint32

func (h Parameter) Valid() bool      { return h != InvalidParameter }
func (h Parameter) String() string   { return fmt.Sprintf("Parameter(%d)", uint32(h)) }
func (h Parameter) Encode(buf []byte) { binary.BigEndian.PutUint32(buf, uint32(h)) }

func DecodeParameter(buf []byte) Parameter { return Parameter(binary.BigEndian.Uint32(buf)) }

// Dimension identifies a DDM dimension declared by a FOM module.
type Dimension uint32

const InvalidDimension Dimension = math.MaxUint32

func (h Dimension) Valid() bool      { return h != InvalidDimension }
func (h Dimension) String() string   { return fmt.Sprintf("Dimension(%d)", uint32(h)) }
func (h Dimension) Encode(buf []byte) { binary.BigEndian.PutUint32(buf, uint32(h)) }

func DecodeDimension(buf []byte) Dimension { return Dimension(binary.BigEndian.Uint32(buf)) }

// ObjectInstance identifies one registered object instance.
type ObjectInstance uint32

const InvalidObjectInstance ObjectInstance = math.MaxUint32

func (h ObjectInstance) Valid() bool      { return h != InvalidObjectInstance }
func (h ObjectInstance) String() string   { return fmt.Sprintf("ObjectInstance(%d)", uint32(h)) }
func (h ObjectInstance) Encode(buf []byte) { binary.BigEndian.PutUint32(buf, uint32(h)) }

func DecodeObjectInstance(buf []byte) ObjectInstance {
	return ObjectInstance(binary.BigEndian.Uint32(buf))
}

// Connect identifies one bidirectional message channel attached to a server node.
type Connect uint32

const InvalidConnect Connect = math.MaxUint32

func (h Connect) Valid() bool      { return h != InvalidConnect }
func (h Connect) String() string   { return fmt.Sprintf("Connect(%d)", uint32(h)) }
func (h Connect) Encode(buf []byte) { binary.BigEndian.PutUint32(buf, uint32(h)) }

func DecodeConnect(buf []byte) Connect { return Connect(binary.BigEndian.Uint32(buf)) }

// Module identifies one committed FOM module within a federation.
type Module uint16

const InvalidModule Module = math.MaxUint16

func (h Module) Valid() bool      { return h != InvalidModule }
func (h Module) String() string   { return fmt.Sprintf("Module(%d)", uint16(h)) }
func (h Module) Encode(buf []byte) { binary.BigEndian.PutUint16(buf, uint16(h)) }

func DecodeModule(buf []byte) Module { return Module(binary.BigEndian.Uint16(buf)) }

// LocalRegion identifies a region within the federate that created it; it
// is only unique per-federate, which is why RegionHandle prefixes it with
// a FederateHandle instead of allocating region handles globally.
type LocalRegion uint32

const InvalidLocalRegion LocalRegion = math.MaxUint32

func (h LocalRegion) Valid() bool { return h != InvalidLocalRegion }

// Region is the (FederateHandle, LocalRegionHandle) pair packed into one
// opaque 64-bit value, so routing by owning federate needs no central
// registry (spec.md §4.1).
type Region uint64

const InvalidRegion Region = math.MaxUint64

// NewRegion packs an owning federate handle and a per-federate local
// region handle into one composite Region handle.
func NewRegion(fed Federate, local LocalRegion) Region {
	return Region(uint64(fed)<<32 | uint64(uint32(local)))
}

func (h Region) Valid() bool { return h != InvalidRegion }

// Federate extracts the owning federate handle from a composite region handle.
func (h Region) Federate() Federate { return Federate(uint32(h >> 32)) }

// Local extracts the per-federate local region handle.
func (h Region) Local() LocalRegion { return LocalRegion(uint32(h & 0xffffffff)) }

func (h Region) String() string {
	return fmt.Sprintf("Region(%d,%d)", h.Federate(), h.Local())
}

func (h Region) Encode(buf []byte) { binary.BigEndian.PutUint64(buf, uint64(h)) }

func DecodeRegion(buf []byte) Region { return Region(binary.BigEndian.Uint64(buf)) }

// MessageRetraction identifies one in-flight timestamp-ordered message
// that its sender may still retract, packed as (FederateHandle, serial).
type MessageRetraction uint64

const InvalidMessageRetraction MessageRetraction = math.MaxUint64

// NewMessageRetraction packs a sending federate handle and a per-federate
// monotonic serial into one composite handle.
func NewMessageRetraction(fed Federate, serial uint32) MessageRetraction {
	return MessageRetraction(uint64(fed)<<32 | uint64(serial))
}

func (h MessageRetraction) Valid() bool { return h != InvalidMessageRetraction }

func (h MessageRetraction) Federate() Federate { return Federate(uint32(h >> 32)) }

func (h MessageRetraction) Serial() uint32 { return uint32(h & 0xffffffff) }

func (h MessageRetraction) String() string {
	return fmt.Sprintf("MessageRetraction(%d,%d)", h.Federate(), h.Serial())
}

func (h MessageRetraction) Encode(buf []byte) { binary.BigEndian.PutUint64(buf, uint64(h)) }

func DecodeMessageRetraction(buf []byte) MessageRetraction {
	return MessageRetraction(binary.BigEndian.Uint64(buf))
}
