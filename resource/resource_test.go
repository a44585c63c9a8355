package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flownet/errors"
)

func TestTypeValid(t *testing.T) {
	for _, typ := range AllTypes() {
		assert.True(t, typ.Valid(), "expected %s to be valid", typ)
	}
	assert.False(t, Type("antimatter").Valid())
	assert.False(t, Type("").Valid())
}

func TestStateClamp(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected float64
	}{
		{"within bounds", State{Current: 50, Min: 0, Max: 100}, 50},
		{"above max", State{Current: 150, Min: 0, Max: 100}, 100},
		{"below min", State{Current: -10, Min: 0, Max: 100}, 0},
		{"at max", State{Current: 100, Min: 0, Max: 100}, 100},
		{"negative min honored", State{Current: -50, Min: -20, Max: 100}, -20},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			clamped := test.state.Clamp()
			assert.Equal(t, test.expected, clamped.Current)
			// Clamp never mutates the other fields
			assert.Equal(t, test.state.Min, clamped.Min)
			assert.Equal(t, test.state.Max, clamped.Max)
		})
	}
}

func TestStateRate(t *testing.T) {
	s := State{Production: 12, Consumption: 5}
	assert.Equal(t, 7.0, s.Rate())
}

func TestStateUtilization(t *testing.T) {
	assert.Equal(t, 0.5, State{Production: 10, Consumption: 5}.Utilization())
	assert.Equal(t, 0.0, State{Production: 0, Consumption: 5}.Utilization())
}

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry()

	m, err := reg.Get(Minerals)
	require.NoError(t, err)
	assert.Equal(t, Minerals, m.Type)
	assert.Equal(t, "Minerals", m.DisplayName)
	assert.Greater(t, m.DefaultMax, 0.0)

	_, err = reg.Get(Type("antimatter"))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestRegistrySetMetadata(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.SetMetadata(Metadata{Type: Energy, DisplayName: "Power", DefaultMax: 99}))
	m, err := reg.Get(Energy)
	require.NoError(t, err)
	assert.Equal(t, "Power", m.DisplayName)
	assert.Equal(t, 99.0, m.DefaultMax)

	err = reg.SetMetadata(Metadata{Type: "antimatter"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestDefaultState(t *testing.T) {
	reg := NewRegistry()
	m, err := reg.Get(Gas)
	require.NoError(t, err)

	s := m.DefaultState()
	assert.Equal(t, 0.0, s.Current)
	assert.Equal(t, m.DefaultMax, s.Max)
}
