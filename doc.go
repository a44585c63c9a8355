// Package flownet implements a live resource-flow network: a directed graph
// of producer, consumer, storage and converter nodes joined by typed,
// rate-bounded connections, with a periodic optimizer that keeps flow rates
// balanced against live resource state.
//
// # Architecture
//
// The engine owns all mutable state from a single run loop; public
// operations are serialized against it so conversion ticks and optimization
// passes never interleave mid-step.
//
//	┌─────────────────────────────────────┐
//	│            Engine                   │  Run loop, public API,
//	│   (register, convert, optimize)     │  module lifecycle mapping
//	└─────────────────────────────────────┘
//	           ↓ coordinates
//	┌──────────┬──────────┬───────────────┐
//	│ nodestore│ conversion│   optimizer  │  Graph, recipes and
//	│ statecache│  chain   │              │  processes, flow rates
//	└──────────┴──────────┴───────────────┘
//	           ↓ announce via
//	┌─────────────────────────────────────┐
//	│          event.Publisher            │  Typed engine events,
//	│    (synchronous, in-process)        │  optional NATS bridge
//	└─────────────────────────────────────┘
//
// # Packages
//
//   - resource: resource types and live state (current, max, rates)
//   - nodestore: node and connection registry with validation and cascade
//   - statecache: TTL-cached resource state with atomic multi-cost consumption
//   - conversion: recipes, processes, the efficiency model and byproducts
//   - chain: multi-step conversion chains with terminal failure semantics
//   - optimizer: single-flight flow optimization with optional parallel
//     offload and spatial partitioning
//   - engine: the facade tying the above together under one run loop
//   - natsbridge: optional NATS relay for events and module lifecycle
//
// # Quick start
//
//	cfg := config.Default()
//	eng, err := engine.New(ctx, cfg, logger, metrics)
//	if err != nil { ... }
//	eng.Start(ctx)
//	defer eng.Stop(30 * time.Second)
//
//	eng.CreateFlow(engine.FlowSpec{
//		Source:    "mine",
//		Target:    "smelter",
//		Resources: []resource.Type{resource.Minerals},
//		MaxRate:   10,
//	})
//	result := eng.OptimizeFlows()
package flownet
