package syncpoints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrti-go/rticore/internal/handle"
)

func TestBarrierCompletesOnlyWhenAllParticipantsReply(t *testing.T) {
	s := NewSet()

	l, err := s.Register("L", []byte("tag"), []handle.Federate{1, 2, 3})
	require.NoError(t, err)
	assert.ElementsMatch(t, []handle.Federate{1, 2, 3}, l.Participants())

	done, _, err := s.Achieved("L", 1, true)
	require.NoError(t, err)
	assert.False(t, done)

	done, _, err = s.Achieved("L", 2, false)
	require.NoError(t, err)
	assert.False(t, done)

	done, success, err := s.Achieved("L", 3, true)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, map[handle.Federate]bool{1: true, 2: false, 3: true}, success)

	_, ok := s.Get("L")
	assert.False(t, ok, "completed label is removed")
}

func TestDuplicateLabelRejected(t *testing.T) {
	s := NewSet()
	_, err := s.Register("L", nil, []handle.Federate{1})
	require.NoError(t, err)
	_, err = s.Register("L", nil, []handle.Federate{2})
	assert.Error(t, err)
}

func TestNonParticipantReplyRejected(t *testing.T) {
	s := NewSet()
	_, err := s.Register("L", nil, []handle.Federate{1})
	require.NoError(t, err)
	_, _, err = s.Achieved("L", 9, true)
	assert.Error(t, err)
}

func TestResigningFederateCompletesBarrier(t *testing.T) {
	s := NewSet()
	_, err := s.Register("L", nil, []handle.Federate{1, 2})
	require.NoError(t, err)

	done, _, err := s.Achieved("L", 1, true)
	require.NoError(t, err)
	require.False(t, done)

	completed := s.RemoveFederate(2)
	require.Contains(t, completed, "L")
	assert.Equal(t, map[handle.Federate]bool{1: true}, completed["L"])
}
