package qos

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCube_Satisfies(t *testing.T) {
	unreliable := Cube{
		ID:   0,
		Name: "unreliable",
		FlowSpecification: FlowSpecification{
			MaxAllowableGap: -1,
			MaxSDUSize:      65535,
		},
	}
	reliable := Cube{
		ID:   1,
		Name: "reliable",
		FlowSpecification: FlowSpecification{
			MaxAllowableGap: 0,
			OrderedDelivery: true,
			MaxSDUSize:      65535,
		},
	}

	tests := []struct {
		name string
		cube Cube
		fs   FlowSpecification
		want bool
	}{
		{"dont care matches anything", unreliable, FlowSpecification{MaxAllowableGap: -1}, true},
		{"ordered needs ordered cube", unreliable, FlowSpecification{OrderedDelivery: true, MaxAllowableGap: -1}, false},
		{"ordered matches reliable", reliable, FlowSpecification{OrderedDelivery: true}, true},
		{"no gap required", reliable, FlowSpecification{MaxAllowableGap: 0}, true},
		{"sdu size within cube", reliable, FlowSpecification{MaxSDUSize: 1500}, true},
		{"sdu size beyond cube", Cube{FlowSpecification: FlowSpecification{MaxSDUSize: 1000, MaxAllowableGap: -1}}, FlowSpecification{MaxSDUSize: 1500, MaxAllowableGap: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cube.Satisfies(tt.fs))
		})
	}
}

func TestSelectCube(t *testing.T) {
	cubes := []Cube{
		{ID: 0, Name: "unreliable", FlowSpecification: FlowSpecification{MaxAllowableGap: -1, MaxSDUSize: 65535}},
		{ID: 1, Name: "reliable", FlowSpecification: FlowSpecification{OrderedDelivery: true, MaxAllowableGap: 0, MaxSDUSize: 65535}},
	}

	c, ok := SelectCube(cubes, FlowSpecification{OrderedDelivery: true})
	assert.True(t, ok)
	assert.Equal(t, uint32(1), c.ID)

	c, ok = SelectCube(cubes, FlowSpecification{MaxSDUSize: 1500, MaxAllowableGap: -1})
	assert.True(t, ok)
	assert.Equal(t, uint32(0), c.ID)

	_, ok = SelectCube(nil, FlowSpecification{})
	assert.False(t, ok)
}
