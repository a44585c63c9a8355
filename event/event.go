// Package event defines the engine's typed lifecycle events and the
// synchronous publisher that delivers them to external collaborators.
//
// Events are delivered synchronously on the engine's owner context in the
// order they were emitted, so subscribers observe a consistent view of
// engine state. Handlers must therefore be fast and must not call back into
// mutating engine operations.
package event

import (
	"time"

	"github.com/c360/flownet/resource"
)

// Type identifies an event kind.
type Type string

// Engine event types.
const (
	TypeNodeRegistered          Type = "node_registered"
	TypeNodeUnregistered        Type = "node_unregistered"
	TypeConnectionRegistered    Type = "connection_registered"
	TypeConnectionUnregistered  Type = "connection_unregistered"
	TypeFlowOptimized           Type = "flow_optimized"
	TypeConversionStarted       Type = "conversion_started"
	TypeConversionCompleted     Type = "conversion_completed"
	TypeConversionFailed        Type = "conversion_failed"
	TypeResourceProduced        Type = "resource_produced"
	TypeResourceConsumed        Type = "resource_consumed"
	TypeChainCompleted          Type = "chain_completed"
	TypeChainFailed             Type = "chain_failed"
)

// Event is implemented by every engine event.
type Event interface {
	EventType() Type
	OccurredAt() time.Time
}

// base carries the fields shared by all events.
type base struct {
	At time.Time `json:"at"`
}

func (b base) OccurredAt() time.Time { return b.At }

// now stamps a base with the current time.
func now() base { return base{At: time.Now()} }

// NodeRegistered is emitted when a flow node joins the graph.
type NodeRegistered struct {
	base
	NodeID    string          `json:"node_id"`
	Role      string          `json:"role"`
	Resources []resource.Type `json:"resources"`
}

// EventType implements Event.
func (NodeRegistered) EventType() Type { return TypeNodeRegistered }

// NewNodeRegistered constructs a NodeRegistered event.
func NewNodeRegistered(nodeID, role string, resources []resource.Type) NodeRegistered {
	return NodeRegistered{base: now(), NodeID: nodeID, Role: role, Resources: resources}
}

// NodeUnregistered is emitted when a node is removed, carrying the ids of
// every connection deleted by the cascade.
type NodeUnregistered struct {
	base
	NodeID             string   `json:"node_id"`
	RemovedConnections []string `json:"removed_connections"`
}

// EventType implements Event.
func (NodeUnregistered) EventType() Type { return TypeNodeUnregistered }

// NewNodeUnregistered constructs a NodeUnregistered event.
func NewNodeUnregistered(nodeID string, removed []string) NodeUnregistered {
	return NodeUnregistered{base: now(), NodeID: nodeID, RemovedConnections: removed}
}

// ConnectionRegistered is emitted when an edge joins the graph.
type ConnectionRegistered struct {
	base
	ConnectionID string        `json:"connection_id"`
	Source       string        `json:"source"`
	Target       string        `json:"target"`
	Resource     resource.Type `json:"resource"`
	MaxRate      float64       `json:"max_rate"`
}

// EventType implements Event.
func (ConnectionRegistered) EventType() Type { return TypeConnectionRegistered }

// NewConnectionRegistered constructs a ConnectionRegistered event.
func NewConnectionRegistered(id, source, target string, res resource.Type, maxRate float64) ConnectionRegistered {
	return ConnectionRegistered{base: now(), ConnectionID: id, Source: source, Target: target, Resource: res, MaxRate: maxRate}
}

// ConnectionUnregistered is emitted when an edge leaves the graph.
type ConnectionUnregistered struct {
	base
	ConnectionID string `json:"connection_id"`
}

// EventType implements Event.
func (ConnectionUnregistered) EventType() Type { return TypeConnectionUnregistered }

// NewConnectionUnregistered constructs a ConnectionUnregistered event.
func NewConnectionUnregistered(id string) ConnectionUnregistered {
	return ConnectionUnregistered{base: now(), ConnectionID: id}
}

// FlowOptimized summarizes one completed optimization pass.
type FlowOptimized struct {
	base
	Transfers          int             `json:"transfers"`
	UpdatedConnections int             `json:"updated_connections"`
	Bottlenecks        []resource.Type `json:"bottlenecks"`
	Underutilized      []resource.Type `json:"underutilized"`
	Duration           time.Duration   `json:"duration"`
}

// EventType implements Event.
func (FlowOptimized) EventType() Type { return TypeFlowOptimized }

// NewFlowOptimized constructs a FlowOptimized event.
func NewFlowOptimized(transfers, updated int, bottlenecks, underutilized []resource.Type, d time.Duration) FlowOptimized {
	return FlowOptimized{
		base: now(), Transfers: transfers, UpdatedConnections: updated,
		Bottlenecks: bottlenecks, Underutilized: underutilized, Duration: d,
	}
}

// ConversionStarted is emitted when a conversion process is enqueued.
type ConversionStarted struct {
	base
	ProcessID   string  `json:"process_id"`
	RecipeID    string  `json:"recipe_id"`
	ConverterID string  `json:"converter_id"`
	Efficiency  float64 `json:"efficiency"`
}

// EventType implements Event.
func (ConversionStarted) EventType() Type { return TypeConversionStarted }

// NewConversionStarted constructs a ConversionStarted event.
func NewConversionStarted(processID, recipeID, converterID string, efficiency float64) ConversionStarted {
	return ConversionStarted{base: now(), ProcessID: processID, RecipeID: recipeID, ConverterID: converterID, Efficiency: efficiency}
}

// ConversionCompleted is emitted when a process finishes, carrying produced
// outputs and byproducts.
type ConversionCompleted struct {
	base
	ProcessID   string                    `json:"process_id"`
	RecipeID    string                    `json:"recipe_id"`
	ConverterID string                    `json:"converter_id"`
	Outputs     map[resource.Type]float64 `json:"outputs"`
	Byproducts  map[resource.Type]float64 `json:"byproducts,omitempty"`
	Efficiency  float64                   `json:"efficiency"`
}

// EventType implements Event.
func (ConversionCompleted) EventType() Type { return TypeConversionCompleted }

// NewConversionCompleted constructs a ConversionCompleted event.
func NewConversionCompleted(
	processID, recipeID, converterID string,
	outputs, byproducts map[resource.Type]float64,
	efficiency float64,
) ConversionCompleted {
	return ConversionCompleted{
		base: now(), ProcessID: processID, RecipeID: recipeID, ConverterID: converterID,
		Outputs: outputs, Byproducts: byproducts, Efficiency: efficiency,
	}
}

// ConversionFailed is emitted when a start is rejected or a process is
// cancelled.
type ConversionFailed struct {
	base
	ProcessID   string `json:"process_id,omitempty"`
	RecipeID    string `json:"recipe_id"`
	ConverterID string `json:"converter_id"`
	Reason      string `json:"reason"`
}

// EventType implements Event.
func (ConversionFailed) EventType() Type { return TypeConversionFailed }

// NewConversionFailed constructs a ConversionFailed event.
func NewConversionFailed(processID, recipeID, converterID, reason string) ConversionFailed {
	return ConversionFailed{base: now(), ProcessID: processID, RecipeID: recipeID, ConverterID: converterID, Reason: reason}
}

// ResourceProduced is emitted when an amount is added to a resource pool.
type ResourceProduced struct {
	base
	Resource resource.Type `json:"resource"`
	Amount   float64       `json:"amount"`
	Source   string        `json:"source,omitempty"`
}

// EventType implements Event.
func (ResourceProduced) EventType() Type { return TypeResourceProduced }

// NewResourceProduced constructs a ResourceProduced event.
func NewResourceProduced(res resource.Type, amount float64, source string) ResourceProduced {
	return ResourceProduced{base: now(), Resource: res, Amount: amount, Source: source}
}

// ResourceConsumed is emitted when an amount is drawn from a resource pool.
type ResourceConsumed struct {
	base
	Resource resource.Type `json:"resource"`
	Amount   float64       `json:"amount"`
	Consumer string        `json:"consumer,omitempty"`
}

// EventType implements Event.
func (ResourceConsumed) EventType() Type { return TypeResourceConsumed }

// NewResourceConsumed constructs a ResourceConsumed event.
func NewResourceConsumed(res resource.Type, amount float64, consumer string) ResourceConsumed {
	return ResourceConsumed{base: now(), Resource: res, Amount: amount, Consumer: consumer}
}

// ChainCompleted is emitted once every step of a chain resolves successfully.
type ChainCompleted struct {
	base
	ChainID     string `json:"chain_id"`
	ExecutionID string `json:"execution_id"`
}

// EventType implements Event.
func (ChainCompleted) EventType() Type { return TypeChainCompleted }

// NewChainCompleted constructs a ChainCompleted event.
func NewChainCompleted(chainID, executionID string) ChainCompleted {
	return ChainCompleted{base: now(), ChainID: chainID, ExecutionID: executionID}
}

// ChainFailed is emitted when a chain step fails terminally.
type ChainFailed struct {
	base
	ChainID     string `json:"chain_id"`
	ExecutionID string `json:"execution_id"`
	Step        int    `json:"step"`
	Message     string `json:"message"`
}

// EventType implements Event.
func (ChainFailed) EventType() Type { return TypeChainFailed }

// NewChainFailed constructs a ChainFailed event.
func NewChainFailed(chainID, executionID string, step int, message string) ChainFailed {
	return ChainFailed{base: now(), ChainID: chainID, ExecutionID: executionID, Step: step, Message: message}
}
