// Package statecache holds the canonical aggregate state for every resource
// type and memoizes reads through a TTL cache.
//
// Reads never block beyond one synchronous recompute: a fresh cache entry is
// returned as-is, and an expired or invalidated entry triggers a single
// recompute from the canonical store before being re-cached. Every mutation
// that can affect a type's aggregate state must invalidate its entry.
package statecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/flownet/errors"
	"github.com/c360/flownet/pkg/cache"
	"github.com/c360/flownet/resource"
)

// DefaultTTL is how long a cached aggregate state stays valid.
const DefaultTTL = 3 * time.Second

// Cost is one resource amount, used for conversion inputs and outputs.
type Cost struct {
	Type   resource.Type `json:"type"`
	Amount float64       `json:"amount"`
}

// Cache is the cached aggregate resource-state store. It implements
// nodestore.Invalidator so graph mutations can expire affected entries.
type Cache struct {
	mu        sync.Mutex
	canonical map[resource.Type]resource.State
	memo      cache.Cache[resource.State]
	registry  *resource.Registry
	logger    *slog.Logger
}

// New creates a state cache seeded from the registry's default states.
// The TTL defaults to DefaultTTL when ttl <= 0.
func New(ctx context.Context, registry *resource.Registry, ttl time.Duration, logger *slog.Logger, opts ...cache.Option[resource.State]) (*Cache, error) {
	if registry == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("registry cannot be nil: %w", errors.ErrValidation),
			"statecache", "New", "construction")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	memo, err := cache.New[resource.State](ctx, ttl, ttl, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "statecache", "New", "create TTL cache")
	}

	c := &Cache{
		canonical: make(map[resource.Type]resource.State),
		memo:      memo,
		registry:  registry,
		logger:    logger,
	}
	for _, t := range registry.Types() {
		if m, err := registry.Get(t); err == nil {
			c.canonical[t] = m.DefaultState()
		}
	}
	return c, nil
}

// GetState returns the aggregate state for a resource type. A fresh cached
// value wins; otherwise the canonical state is recomputed and re-cached for
// the full TTL.
func (c *Cache) GetState(t resource.Type) (resource.State, bool) {
	if !t.Valid() {
		return resource.State{}, false
	}

	if state, ok := c.memo.Get(string(t)); ok {
		return state, true
	}

	// Read and re-cache under the canonical lock: a concurrent update's
	// invalidation must never be outrun by a refresh of the old value.
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.canonical[t]
	if !ok {
		return resource.State{}, false
	}

	if _, err := c.memo.Set(string(t), state); err != nil {
		c.logger.Warn("State cache refresh failed", "resource", t, "error", err)
	}
	return state, true
}

// UpdateState overwrites a type's canonical state (clamped) and invalidates
// its cache entry.
func (c *Cache) UpdateState(t resource.Type, state resource.State) error {
	if !t.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown resource type %q: %w", t, errors.ErrValidation),
			"statecache", "UpdateState", "validation")
	}

	c.mu.Lock()
	c.canonical[t] = state.Clamp()
	c.mu.Unlock()

	c.Invalidate(t)
	return nil
}

// Invalidate expires the cache entry for a resource type. Implements
// nodestore.Invalidator.
func (c *Cache) Invalidate(t resource.Type) {
	if _, err := c.memo.Delete(string(t)); err != nil {
		c.logger.Warn("State cache invalidation failed", "resource", t, "error", err)
	}
}

// Mutate applies fn to the canonical state of one type under the cache lock,
// clamps the result, and invalidates the entry.
func (c *Cache) Mutate(t resource.Type, fn func(*resource.State)) error {
	if !t.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown resource type %q: %w", t, errors.ErrValidation),
			"statecache", "Mutate", "validation")
	}

	c.mu.Lock()
	state := c.canonical[t]
	fn(&state)
	c.canonical[t] = state.Clamp()
	c.mu.Unlock()

	c.Invalidate(t)
	return nil
}

// ConsumeAll atomically checks that every cost is covered and then decrements
// each input's current while incrementing its consumption. If any input is
// short, nothing is touched and ErrInsufficientResource is returned.
func (c *Cache) ConsumeAll(costs []Cost) error {
	c.mu.Lock()

	for _, cost := range costs {
		state, ok := c.canonical[cost.Type]
		if !ok || state.Current < cost.Amount {
			c.mu.Unlock()
			return errors.WrapInvalid(
				fmt.Errorf("need %v %s, have %v: %w", cost.Amount, cost.Type, state.Current, errors.ErrInsufficientResource),
				"statecache", "ConsumeAll", "input check")
		}
	}

	touched := make([]resource.Type, 0, len(costs))
	for _, cost := range costs {
		state := c.canonical[cost.Type]
		state.Current -= cost.Amount
		state.Consumption += cost.Amount
		c.canonical[cost.Type] = state.Clamp()
		touched = append(touched, cost.Type)
	}
	c.mu.Unlock()

	for _, t := range touched {
		c.Invalidate(t)
	}
	return nil
}

// Produce adds an amount to a type's current and production, clamped to the
// state's bounds.
func (c *Cache) Produce(t resource.Type, amount float64) error {
	return c.Mutate(t, func(s *resource.State) {
		s.Current += amount
		s.Production += amount
	})
}

// Snapshot returns a copy of every canonical state. Used by the optimizer's
// offload serialization.
func (c *Cache) Snapshot() map[resource.Type]resource.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[resource.Type]resource.State, len(c.canonical))
	for t, s := range c.canonical {
		out[t] = s
	}
	return out
}

// Close releases the TTL cache's background resources.
func (c *Cache) Close() error {
	return c.memo.Close()
}
