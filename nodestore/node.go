// Package nodestore maintains the canonical registries of flow nodes and
// connections, indexed for fast lookup and validated on registration.
package nodestore

import (
	"fmt"

	"github.com/c360/flownet/errors"
	"github.com/c360/flownet/resource"
)

// Role classifies what a node does with the resources it carries.
type Role string

// Node roles.
const (
	RoleProducer  Role = "producer"
	RoleConsumer  Role = "consumer"
	RoleStorage   Role = "storage"
	RoleConverter Role = "converter"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleProducer, RoleConsumer, RoleStorage, RoleConverter:
		return true
	default:
		return false
	}
}

// Node is a vertex in the resource-flow graph.
type Node struct {
	ID         string          `json:"id"`
	Role       Role            `json:"role"`
	Resources  []resource.Type `json:"resources"`
	Capacity   float64         `json:"capacity"`
	Efficiency float64         `json:"efficiency"`
	Active     bool            `json:"active"`

	// Position places the node in a 2D region map. Only consulted when the
	// optimizer runs with spatial partitioning.
	Position *Position `json:"position,omitempty"`

	// Converter-only fields, nil for other roles.
	Converter *ConverterConfig `json:"converter,omitempty"`
	Status    *ConverterStatus `json:"status,omitempty"`
}

// Position is a 2D coordinate used for spatial partitioning.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Carries reports whether the node carries the given resource type.
func (n *Node) Carries(t resource.Type) bool {
	for _, r := range n.Resources {
		if r == t {
			return true
		}
	}
	return false
}

// Modifiers holds the converter's efficiency modifier layers. Layers are
// multiplied in a fixed order: global first, then the recipe layer, then the
// per-input-resource layers in recipe input order.
type Modifiers struct {
	Global      float64                   `json:"global,omitempty"`
	PerRecipe   map[string]float64        `json:"per_recipe,omitempty"`
	PerResource map[resource.Type]float64 `json:"per_resource,omitempty"`
}

// ConverterConfig describes a converter node's production capabilities.
type ConverterConfig struct {
	SupportedRecipes       []string                  `json:"supported_recipes"`
	MaxConcurrentProcesses int                       `json:"max_concurrent_processes"`
	Byproducts             map[resource.Type]float64 `json:"byproducts,omitempty"` // type -> probability [0,1]
	Modifiers              Modifiers                 `json:"modifiers,omitempty"`
	Tier                   int                       `json:"tier"`
	ChainBonus             float64                   `json:"chain_bonus,omitempty"`
}

// Supports reports whether the converter can run the given recipe.
func (c *ConverterConfig) Supports(recipeID string) bool {
	for _, r := range c.SupportedRecipes {
		if r == recipeID {
			return true
		}
	}
	return false
}

// ConverterStatus tracks a converter's live production state.
type ConverterStatus struct {
	ActiveProcesses   []string `json:"active_processes"`
	QueuedProcesses   []string `json:"queued_processes,omitempty"`
	CompletedCount    int64    `json:"completed_count"`
	FailedCount       int64    `json:"failed_count"`
	AverageEfficiency float64  `json:"average_efficiency"`
}

// RecordCompletion updates the completed counter and running average
// efficiency with one finished process.
func (s *ConverterStatus) RecordCompletion(efficiency float64) {
	s.CompletedCount++
	// Running average over completed processes only.
	s.AverageEfficiency += (efficiency - s.AverageEfficiency) / float64(s.CompletedCount)
}

// Connection is a directed, resource-typed edge between two nodes.
type Connection struct {
	ID          string        `json:"id"`
	Source      string        `json:"source"`
	Target      string        `json:"target"`
	Resource    resource.Type `json:"resource"`
	MaxRate     float64       `json:"max_rate"`
	CurrentRate float64       `json:"current_rate"`
	Priority    int           `json:"priority"`
	Active      bool          `json:"active"`
}

// validateNode checks structural validity before registration.
func validateNode(node *Node) error {
	if node == nil {
		return errors.WrapInvalid(
			fmt.Errorf("node cannot be nil: %w", errors.ErrValidation),
			"nodestore", "validateNode", "validation")
	}
	if node.ID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("node ID cannot be empty: %w", errors.ErrValidation),
			"nodestore", "validateNode", "validation")
	}
	if !node.Role.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("node %q has invalid role %q: %w", node.ID, node.Role, errors.ErrValidation),
			"nodestore", "validateNode", "validation")
	}
	if len(node.Resources) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("node %q carries no resource types: %w", node.ID, errors.ErrValidation),
			"nodestore", "validateNode", "validation")
	}
	for _, t := range node.Resources {
		if !t.Valid() {
			return errors.WrapInvalid(
				fmt.Errorf("node %q carries unknown resource type %q: %w", node.ID, t, errors.ErrValidation),
				"nodestore", "validateNode", "validation")
		}
	}
	if node.Role == RoleConverter && node.Converter == nil {
		return errors.WrapInvalid(
			fmt.Errorf("converter node %q has no converter configuration: %w", node.ID, errors.ErrValidation),
			"nodestore", "validateNode", "validation")
	}
	return nil
}

// validateConnection checks structural validity; endpoint existence is
// checked by the store.
func validateConnection(conn *Connection) error {
	if conn == nil {
		return errors.WrapInvalid(
			fmt.Errorf("connection cannot be nil: %w", errors.ErrValidation),
			"nodestore", "validateConnection", "validation")
	}
	if conn.ID == "" || conn.Source == "" || conn.Target == "" {
		return errors.WrapInvalid(
			fmt.Errorf("connection requires id, source and target: %w", errors.ErrValidation),
			"nodestore", "validateConnection", "validation")
	}
	if !conn.Resource.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("connection %q has unknown resource type %q: %w", conn.ID, conn.Resource, errors.ErrValidation),
			"nodestore", "validateConnection", "validation")
	}
	if conn.MaxRate <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("connection %q must have positive max rate, got %v: %w", conn.ID, conn.MaxRate, errors.ErrValidation),
			"nodestore", "validateConnection", "validation")
	}
	return nil
}
