// Package resource defines the canonical catalog of tradable resource types
// and the aggregate per-type state tracked by the engine.
package resource

import (
	"fmt"

	"github.com/c360/flownet/errors"
)

// Type identifies one kind of tradable resource. The set is closed: the
// Registry rejects types it does not know about.
type Type string

// The canonical resource types.
const (
	Minerals   Type = "minerals"
	Energy     Type = "energy"
	Population Type = "population"
	Research   Type = "research"
	Plasma     Type = "plasma"
	Gas        Type = "gas"
	Exotics    Type = "exotics"
)

// AllTypes returns the closed set of resource types in a stable order.
func AllTypes() []Type {
	return []Type{Minerals, Energy, Population, Research, Plasma, Gas, Exotics}
}

// Valid reports whether t names a known resource type.
func (t Type) Valid() bool {
	switch t {
	case Minerals, Energy, Population, Research, Plasma, Gas, Exotics:
		return true
	default:
		return false
	}
}

// String returns the wire name of the type.
func (t Type) String() string { return string(t) }

// State is the aggregate state of one resource type across the network.
// Current is always kept within [Min, Max].
type State struct {
	Current     float64 `json:"current"`
	Max         float64 `json:"max"`
	Min         float64 `json:"min"`
	Production  float64 `json:"production"`
	Consumption float64 `json:"consumption"`
}

// Rate returns net production per tick (production minus consumption).
func (s State) Rate() float64 {
	return s.Production - s.Consumption
}

// Clamp returns a copy with Current bounded to [Min, Max].
func (s State) Clamp() State {
	if s.Current < s.Min {
		s.Current = s.Min
	}
	if s.Current > s.Max {
		s.Current = s.Max
	}
	return s
}

// Utilization returns consumption relative to production, or 0 when nothing
// is produced. The optimizer uses this for network stress scoring.
func (s State) Utilization() float64 {
	if s.Production <= 0 {
		return 0
	}
	return s.Consumption / s.Production
}

// Metadata describes a resource type's catalog entry.
type Metadata struct {
	Type        Type    `json:"type"`
	DisplayName string  `json:"display_name"`
	Description string  `json:"description,omitempty"`
	DefaultMax  float64 `json:"default_max"`
	DefaultMin  float64 `json:"default_min"`
}

// DefaultState returns the initial aggregate state for this resource.
func (m Metadata) DefaultState() State {
	return State{
		Current: 0,
		Max:     m.DefaultMax,
		Min:     m.DefaultMin,
	}
}

// Registry is the canonical resource-type catalog. It is populated with the
// closed type set at construction and rejects lookups of unknown types.
type Registry struct {
	entries map[Type]Metadata
}

// NewRegistry creates a registry seeded with default metadata for every
// canonical resource type.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[Type]Metadata, len(AllTypes()))}
	defaults := map[Type]Metadata{
		Minerals:   {Type: Minerals, DisplayName: "Minerals", DefaultMax: 10000},
		Energy:     {Type: Energy, DisplayName: "Energy", DefaultMax: 10000},
		Population: {Type: Population, DisplayName: "Population", DefaultMax: 5000},
		Research:   {Type: Research, DisplayName: "Research", DefaultMax: 2500},
		Plasma:     {Type: Plasma, DisplayName: "Plasma", DefaultMax: 2500},
		Gas:        {Type: Gas, DisplayName: "Gas", DefaultMax: 5000},
		Exotics:    {Type: Exotics, DisplayName: "Exotics", DefaultMax: 1000},
	}
	for t, m := range defaults {
		r.entries[t] = m
	}
	return r
}

// Get returns the metadata for a resource type.
func (r *Registry) Get(t Type) (Metadata, error) {
	m, ok := r.entries[t]
	if !ok {
		return Metadata{}, errors.WrapInvalid(
			fmt.Errorf("unknown resource type %q: %w", t, errors.ErrNotFound),
			"resource", "Get", "catalog lookup")
	}
	return m, nil
}

// SetMetadata overrides the catalog entry for a known type. Unknown types
// are rejected to keep the enumeration closed.
func (r *Registry) SetMetadata(m Metadata) error {
	if !m.Type.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown resource type %q: %w", m.Type, errors.ErrValidation),
			"resource", "SetMetadata", "catalog update")
	}
	r.entries[m.Type] = m
	return nil
}

// Types returns every cataloged type in stable order.
func (r *Registry) Types() []Type {
	return AllTypes()
}
