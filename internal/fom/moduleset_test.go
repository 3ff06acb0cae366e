package fom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/rtierrors"
)

func TestInsertModuleListAssignsHandlesAndRootPrivilegeToDelete(t *testing.T) {
	ms := NewModuleSet()

	mods := []Module{{
		Name: "base",
		ObjectClasses: []ObjectClassSpec{
			{Name: "HLAobjectRoot", Attributes: []AttributeSpec{
				{Name: "position", Dimensions: []string{"spatial"}},
			}},
		},
	}}

	handles, err := ms.InsertModuleList(mods)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.True(t, handles[0].Valid())

	oc, ok := ms.GetObjectClassByName("HLAobjectRoot")
	require.True(t, ok)
	assert.True(t, oc.Handle.Valid())

	ptd, ok := oc.Attributes[handle.PrivilegeToDelete]
	require.True(t, ok)
	assert.Equal(t, handle.PrivilegeToDelete, ptd.Handle)

	var positionHandle handle.Attribute
	for h, a := range oc.Attributes {
		if a.Name == "position" {
			positionHandle = h
		}
	}
	assert.True(t, positionHandle.Valid())
	assert.NotEqual(t, handle.PrivilegeToDelete, positionHandle)
}

func TestInsertModuleListInheritsAttributesDownTheTree(t *testing.T) {
	ms := NewModuleSet()

	_, err := ms.InsertModuleList([]Module{{
		Name: "base",
		ObjectClasses: []ObjectClassSpec{
			{Name: "HLAobjectRoot", Attributes: []AttributeSpec{{Name: "position"}}},
			{Name: "Vehicle", ParentName: "HLAobjectRoot", Attributes: []AttributeSpec{{Name: "speed"}}},
		},
	}})
	require.NoError(t, err)

	vehicle, ok := ms.GetObjectClassByName("Vehicle")
	require.True(t, ok)

	var names []string
	for _, a := range vehicle.Attributes {
		names = append(names, a.Name)
	}
	assert.ElementsMatch(t, []string{"HLAprivilegeToDeleteObject", "position", "speed"}, names)
}

func TestInsertModuleListLaterAttributePropagatesToExistingChildren(t *testing.T) {
	ms := NewModuleSet()

	_, err := ms.InsertModuleList([]Module{{
		Name: "base",
		ObjectClasses: []ObjectClassSpec{
			{Name: "HLAobjectRoot"},
			{Name: "Vehicle", ParentName: "HLAobjectRoot"},
		},
	}})
	require.NoError(t, err)

	_, err = ms.InsertModuleList([]Module{{
		Name: "extension",
		ObjectClasses: []ObjectClassSpec{
			{Name: "HLAobjectRoot", Attributes: []AttributeSpec{{Name: "position"}}},
		},
	}})
	require.NoError(t, err)

	vehicle, ok := ms.GetObjectClassByName("Vehicle")
	require.True(t, ok)

	var found bool
	for _, a := range vehicle.Attributes {
		if a.Name == "position" {
			found = true
		}
	}
	assert.True(t, found, "attribute added to a parent after a child exists must propagate down")
}

func TestInsertModuleListRejectsInconsistentAttributeRedeclaration(t *testing.T) {
	ms := NewModuleSet()

	_, err := ms.InsertModuleList([]Module{{
		Name: "base",
		ObjectClasses: []ObjectClassSpec{
			{Name: "HLAobjectRoot", Attributes: []AttributeSpec{
				{Name: "position", Order: 1, Transportation: 0},
			}},
		},
	}})
	require.NoError(t, err)

	before := ms.clone()

	_, err = ms.InsertModuleList([]Module{{
		Name: "conflicting",
		ObjectClasses: []ObjectClassSpec{
			{Name: "HLAobjectRoot", Attributes: []AttributeSpec{
				{Name: "position", Order: 0, Transportation: 1},
			}},
		},
	}})
	require.Error(t, err)

	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeInconsistentFDD, rtiErr.Code)

	assert.Equal(t, len(before.objectClassesByName), len(ms.objectClassesByName),
		"a failed insertion must leave the committed model untouched")
}

func TestInsertModuleListRejectsUnknownParent(t *testing.T) {
	ms := NewModuleSet()

	_, err := ms.InsertModuleList([]Module{{
		Name: "base",
		ObjectClasses: []ObjectClassSpec{
			{Name: "Vehicle", ParentName: "HLAobjectRoot"},
		},
	}})
	require.Error(t, err)

	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeInconsistentFDD, rtiErr.Code)
}

func TestInsertModuleListInteractionClassInheritsParameters(t *testing.T) {
	ms := NewModuleSet()

	_, err := ms.InsertModuleList([]Module{{
		Name: "base",
		InteractionClasses: []InteractionClassSpec{
			{Name: "HLAinteractionRoot", Parameters: []ParameterSpec{{Name: "timestamp"}}},
			{Name: "Fire", ParentName: "HLAinteractionRoot", Parameters: []ParameterSpec{{Name: "weapon"}}},
		},
	}})
	require.NoError(t, err)

	fire, ok := ms.GetInteractionClassByName("Fire")
	require.True(t, ok)

	var names []string
	for _, p := range fire.Parameters {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"timestamp", "weapon"}, names)
}

func TestInsertModuleListReinsertingSameModuleIsIdempotent(t *testing.T) {
	ms := NewModuleSet()

	mod := Module{
		Name: "base",
		ObjectClasses: []ObjectClassSpec{
			{Name: "HLAobjectRoot", Attributes: []AttributeSpec{{Name: "position"}}},
		},
	}

	h1, err := ms.InsertModuleList([]Module{mod})
	require.NoError(t, err)

	h2, err := ms.InsertModuleList([]Module{mod})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, ms.GetModuleList(), 1)
}

func TestGetModuleListRoundTrips(t *testing.T) {
	ms := NewModuleSet()

	_, err := ms.InsertModuleList([]Module{
		{Name: "base", Dimensions: []string{"spatial"}},
		{Name: "extra", Dimensions: []string{"temporal"}},
	})
	require.NoError(t, err)

	got := ms.GetModuleList()
	var names []string
	for _, m := range got {
		names = append(names, m.Name)
	}
	assert.ElementsMatch(t, []string{"base", "extra"}, names)
}
