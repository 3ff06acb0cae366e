// Package timemgmt implements the time-management coordinator of spec.md
// §4.5: per-federate regulation/constrained state machines, committed
// LBTS tracking with monotonic commit serials, GALT as the minimum over
// regulators, and timestamp-ordered message queues with retraction.
//
// Grounded on original_source/src/OpenRTI/InternalTimeManagement.h (the
// three mode enums and their transitions) and ServerModel.h's federation-
// wide time-regulating federate tracking.
package timemgmt

import (
	"encoding/binary"
	"math"

	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/rtierrors"
)

// Time is the canonical in-process logical time value. Both supported
// wire representations decode into it; ordering and arithmetic happen
// here, encoding happens at the connect boundary.
type Time float64

// Factory encodes and decodes one logical-time representation, selected
// per federation by name at create time (spec.md §3 Federation). A
// federate joining with a different factory name than the federation's is
// rejected with CouldNotCreateLogicalTimeFactory (spec.md §4.6).
type Factory struct {
	name   string
	size   int
	encode func(Time) []byte
	decode func([]byte) Time
}

// Name returns the factory's registered name, e.g. "HLAfloat64Time".
func (f *Factory) Name() string { return f.name }

var factories = map[string]*Factory{
	"HLAfloat64Time": {
		name: "HLAfloat64Time",
		size: 8,
		encode: func(t Time) []byte {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, math.Float64bits(float64(t)))
			return buf
		},
		decode: func(buf []byte) Time {
			return Time(math.Float64frombits(binary.BigEndian.Uint64(buf)))
		},
	},
	"HLAinteger64Time": {
		name: "HLAinteger64Time",
		size: 8,
		encode: func(t Time) []byte {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(int64(t)))
			return buf
		},
		decode: func(buf []byte) Time {
			return Time(int64(binary.BigEndian.Uint64(buf)))
		},
	},
}

// LookupFactory resolves a logical-time factory by name.
func LookupFactory(name string) (*Factory, error) {
	f, ok := factories[name]
	if !ok {
		return nil, rtierrors.New(rtierrors.CodeCouldNotCreateLogicalTimeFactory,
			"unknown logical time factory %q", name)
	}
	return f, nil
}

// Encode wraps t in its big-endian wire form.
func (f *Factory) Encode(t Time) protocol.VariableLengthData {
	return protocol.NewVariableLengthData(f.encode(t))
}

// Decode reads a wire-form logical time value.
func (f *Factory) Decode(v protocol.VariableLengthData) (Time, error) {
	buf := v.Bytes()
	if len(buf) != f.size {
		return 0, rtierrors.New(rtierrors.CodeInvalidLogicalTime,
			"%s: expected %d byte encoding, got %d", f.name, f.size, len(buf))
	}
	return f.decode(buf), nil
}
