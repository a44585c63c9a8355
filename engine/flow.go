package engine

import (
	"fmt"

	"github.com/c360/flownet/nodestore"
	"github.com/c360/flownet/resource"
)

// FlowSpec declares a producer-to-consumer flow. Missing endpoints are
// created automatically; one connection is registered per listed resource.
type FlowSpec struct {
	Source    string          `json:"source"`
	Target    string          `json:"target"`
	Resources []resource.Type `json:"resources"`
	MaxRate   float64         `json:"max_rate"`
	Priority  int             `json:"priority"`
}

// CreateFlow registers the flow described by spec. A missing source becomes
// a producer and a missing target a consumer, both sized to carry the flow
// at full rate. Returns false if any part of the spec is rejected; nodes
// created before a failing connection stay registered.
func (e *Engine) CreateFlow(spec FlowSpec) bool {
	if spec.Source == "" || spec.Target == "" || len(spec.Resources) == 0 || spec.MaxRate <= 0 {
		e.logger.Warn("Flow spec rejected",
			"source", spec.Source, "target", spec.Target,
			"resources", len(spec.Resources), "max_rate", spec.MaxRate)
		return false
	}

	capacity := spec.MaxRate * float64(len(spec.Resources))

	if _, ok := e.store.Node(spec.Source); !ok {
		if err := e.store.RegisterNode(&nodestore.Node{
			ID:         spec.Source,
			Role:       nodestore.RoleProducer,
			Resources:  spec.Resources,
			Capacity:   capacity,
			Efficiency: 1.0,
			Active:     true,
		}); err != nil {
			return false
		}
	}
	if _, ok := e.store.Node(spec.Target); !ok {
		if err := e.store.RegisterNode(&nodestore.Node{
			ID:         spec.Target,
			Role:       nodestore.RoleConsumer,
			Resources:  spec.Resources,
			Capacity:   capacity,
			Efficiency: 1.0,
			Active:     true,
		}); err != nil {
			return false
		}
	}

	for _, t := range spec.Resources {
		conn := &nodestore.Connection{
			ID:       flowConnectionID(spec.Source, spec.Target, t),
			Source:   spec.Source,
			Target:   spec.Target,
			Resource: t,
			MaxRate:  spec.MaxRate,
			Priority: spec.Priority,
			Active:   true,
		}
		if err := e.store.RegisterConnection(conn); err != nil {
			return false
		}
	}
	return true
}

func flowConnectionID(source, target string, t resource.Type) string {
	return fmt.Sprintf("%s-%s-%s", source, target, t)
}
