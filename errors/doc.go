// Package errors provides standardized error handling patterns for flownet.
//
// # Overview
//
// The engine's failure model is deliberately flat: every anomaly is local and
// non-fatal. This package defines one sentinel error per failure category
// (validation, not-found, insufficient resources, capacity, worker offload,
// chain step), a two-class classification wrapper (transient vs invalid), and
// wrapping helpers that produce errors in the form
//
//	"component.method: action failed: <cause>"
//
// The classification integrates with Go's standard error handling patterns,
// supporting errors.Is(), errors.As(), and error wrapping chains.
//
// # Quick Start
//
// Return the sentinel for a known condition:
//
//	if _, ok := s.nodes[id]; !ok {
//	    return errors.ErrNotFound
//	}
//
// Wrap errors with context for debugging:
//
//	if err := validateConnection(conn); err != nil {
//	    return errors.WrapInvalid(err, "nodestore", "RegisterConnection", "validation")
//	}
//
// Check category at the call site:
//
//	if errors.IsCapacityExceeded(err) {
//	    // converter is full, leave state untouched
//	}
package errors
