package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimpleHandleEncodeRoundTrip(t *testing.T) {
	buf := make([]byte, 8)

	for _, h := range []Federate{0, 1, 42, 1 << 20} {
		h.Encode(buf)
		assert.Equal(t, h, DecodeFederate(buf))
	}
	for _, h := range []Federation{0, 7, 65534} {
		h.Encode(buf)
		assert.Equal(t, h, DecodeFederation(buf))
	}
	for _, h := range []ObjectClass{0, 9, 1 << 30} {
		h.Encode(buf)
		assert.Equal(t, h, DecodeObjectClass(buf))
	}
	for _, h := range []Attribute{0, PrivilegeToDelete, 17} {
		h.Encode(buf)
		assert.Equal(t, h, DecodeAttribute(buf))
	}
	for _, h := range []InteractionClass{0, 3} {
		h.Encode(buf)
		assert.Equal(t, h, DecodeInteractionClass(buf))
	}
	for _, h := range []ObjectInstance{0, 1000} {
		h.Encode(buf)
		assert.Equal(t, h, DecodeObjectInstance(buf))
	}
	for _, h := range []Connect{0, 12} {
		h.Encode(buf)
		assert.Equal(t, h, DecodeConnect(buf))
	}
	for _, h := range []Module{0, 200} {
		h.Encode(buf)
		assert.Equal(t, h, DecodeModule(buf))
	}
}

func TestCompositeHandlePackUnpack(t *testing.T) {
	buf := make([]byte, 8)

	r := NewRegion(7, 3)
	assert.Equal(t, Federate(7), r.Federate())
	assert.Equal(t, LocalRegion(3), r.Local())
	r.Encode(buf)
	assert.Equal(t, r, DecodeRegion(buf))

	mr := NewMessageRetraction(9, 100)
	assert.Equal(t, Federate(9), mr.Federate())
	assert.Equal(t, uint32(100), mr.Serial())
	mr.Encode(buf)
	assert.Equal(t, mr, DecodeMessageRetraction(buf))
}

func TestInvalidSentinels(t *testing.T) {
	assert.False(t, InvalidFederate.Valid())
	assert.False(t, InvalidFederation.Valid())
	assert.False(t, InvalidObjectClass.Valid())
	assert.False(t, InvalidRegion.Valid())
	assert.False(t, InvalidMessageRetraction.Valid())
	assert.True(t, Federate(0).Valid())
	assert.True(t, PrivilegeToDelete.Valid())
}
