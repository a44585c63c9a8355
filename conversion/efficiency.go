package conversion

import (
	"github.com/c360/flownet/nodestore"
)

// Efficiency clamp bounds. Every computed process efficiency lands in this
// range no matter how the modifier layers combine.
const (
	MinEfficiency = 0.1
	MaxEfficiency = 5.0
)

// Network stress clamp bounds.
const (
	minStress = 0.7
	maxStress = 1.3
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// calculateEfficiency computes the applied efficiency for one process start.
// Layers multiply in a fixed, documented order: converter base, recipe base,
// global modifier, recipe modifier, per-input-resource modifiers in recipe
// input order, per-input quality factors, tier bonus, network stress, then
// chain bonus for chain-linked processes. The result is clamped to
// [MinEfficiency, MaxEfficiency].
func (e *Engine) calculateEfficiency(node *nodestore.Node, recipe *Recipe, inChain bool) float64 {
	cfg := node.Converter

	eff := node.Efficiency * recipe.BaseEfficiency

	if cfg.Modifiers.Global > 0 {
		eff *= cfg.Modifiers.Global
	}
	if v, ok := cfg.Modifiers.PerRecipe[recipe.ID]; ok && v > 0 {
		eff *= v
	}
	for _, in := range recipe.Inputs {
		if v, ok := cfg.Modifiers.PerResource[in.Type]; ok && v > 0 {
			eff *= v
		}
	}

	// Input quality varies batch to batch within ±10%.
	for range recipe.Inputs {
		eff *= 0.9 + e.rng.Float64()*0.2
	}

	eff *= 1 + float64(cfg.Tier)*0.05
	eff *= e.networkStress(recipe)

	if inChain && cfg.ChainBonus > 0 {
		eff *= cfg.ChainBonus
	}

	return clamp(eff, MinEfficiency, MaxEfficiency)
}

// networkStress scores how strained the consumed resources are. Each input
// whose utilization exceeds 0.9 drags the factor down by 10%, each below 0.5
// lifts it by 10%, clamped to [0.7, 1.3].
func (e *Engine) networkStress(recipe *Recipe) float64 {
	stress := 1.0
	for _, in := range recipe.Inputs {
		state, ok := e.states.GetState(in.Type)
		if !ok {
			continue
		}
		util := state.Utilization()
		switch {
		case util > 0.9:
			stress *= 0.9
		case util < 0.5:
			stress *= 1.1
		}
	}
	return clamp(stress, minStress, maxStress)
}
