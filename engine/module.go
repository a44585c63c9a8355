package engine

import (
	"github.com/c360/flownet/nodestore"
	"github.com/c360/flownet/resource"
)

// ModuleEventKind identifies a module lifecycle transition announced by an
// external collaborator.
type ModuleEventKind string

const (
	ModuleCreated   ModuleEventKind = "module_created"
	ModuleUpdated   ModuleEventKind = "module_updated"
	ModuleDestroyed ModuleEventKind = "module_destroyed"
	ModuleEnabled   ModuleEventKind = "module_enabled"
	ModuleDisabled  ModuleEventKind = "module_disabled"
)

// ModuleEvent is the inbound lifecycle message mapped onto node operations.
// Created and Updated carry the full node description; the remaining kinds
// only need the module ID.
type ModuleEvent struct {
	Kind       ModuleEventKind            `json:"kind"`
	ModuleID   string                     `json:"module_id"`
	Role       nodestore.Role             `json:"role,omitempty"`
	Resources  []resource.Type            `json:"resources,omitempty"`
	Capacity   float64                    `json:"capacity,omitempty"`
	Efficiency float64                    `json:"efficiency,omitempty"`
	Active     bool                       `json:"active,omitempty"`
	Position   *nodestore.Position        `json:"position,omitempty"`
	Converter  *nodestore.ConverterConfig `json:"converter,omitempty"`
}

// HandleModuleEvent applies one module lifecycle event to the node graph.
// Created and Updated both register the node; registration replaces an
// existing node in place and keeps its connections. Returns false when the
// event cannot be applied.
func (e *Engine) HandleModuleEvent(ev ModuleEvent) bool {
	if ev.ModuleID == "" {
		e.logger.Warn("Module event missing module id", "kind", ev.Kind)
		return false
	}

	switch ev.Kind {
	case ModuleCreated, ModuleUpdated:
		node := &nodestore.Node{
			ID:         ev.ModuleID,
			Role:       ev.Role,
			Resources:  ev.Resources,
			Capacity:   ev.Capacity,
			Efficiency: ev.Efficiency,
			Active:     ev.Active,
			Position:   ev.Position,
			Converter:  ev.Converter,
		}
		if err := e.store.RegisterNode(node); err != nil {
			e.logger.Warn("Module event rejected",
				"kind", ev.Kind, "module_id", ev.ModuleID, "error", err)
			return false
		}
		return true
	case ModuleDestroyed:
		return e.store.UnregisterNode(ev.ModuleID)
	case ModuleEnabled:
		return e.store.SetNodeActive(ev.ModuleID, true)
	case ModuleDisabled:
		return e.store.SetNodeActive(ev.ModuleID, false)
	default:
		e.logger.Warn("Unknown module event kind", "kind", ev.Kind, "module_id", ev.ModuleID)
		return false
	}
}
