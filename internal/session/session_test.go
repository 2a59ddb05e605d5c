package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ids(in []Instruction) []string {
	out := make([]string, len(in))
	for i, inst := range in {
		out[i] = inst.ID
	}
	return out
}

func TestActiveInstructions_FiltersAndOrders(t *testing.T) {
	all := []Instruction{
		{ID: "c", Order: 3, IsActive: true},
		{ID: "x", Order: 0, IsActive: false},
		{ID: "a", Order: 1, IsActive: true},
		{ID: "b1", Order: 2, IsActive: true},
		{ID: "b2", Order: 2, IsActive: true},
		{ID: "z", Order: 10, IsActive: true},
	}

	assert.Equal(t, []string{"a", "b1", "b2", "c", "z"}, ids(ActiveInstructions(all)))
}

func TestActiveInstructions_TiesKeepInsertionOrder(t *testing.T) {
	all := []Instruction{
		{ID: "second", Order: 5, IsActive: true},
		{ID: "first", Order: 5, IsActive: true},
	}
	assert.Equal(t, []string{"second", "first"}, ids(ActiveInstructions(all)))
}

func TestActiveInstructions_Empty(t *testing.T) {
	assert.Empty(t, ActiveInstructions(nil))
	assert.Empty(t, ActiveInstructions([]Instruction{{ID: "off"}}))
}

func TestWantsWebSearch(t *testing.T) {
	assert.False(t, WantsWebSearch([]Instruction{{IsActive: true}}))
	assert.False(t, WantsWebSearch([]Instruction{{IsActive: false, UseWebSearch: true}}))
	assert.True(t, WantsWebSearch([]Instruction{{IsActive: true}, {IsActive: true, UseWebSearch: true}}))
}
