package conversion

import (
	"fmt"
	"time"

	"github.com/c360/flownet/errors"
	"github.com/c360/flownet/statecache"
)

// Recipe is a declarative input-to-output transformation. Inputs and outputs
// are ordered: modifier layers and quality factors are applied in input order.
type Recipe struct {
	ID             string            `json:"id"`
	Inputs         []statecache.Cost `json:"inputs"`
	Outputs        []statecache.Cost `json:"outputs"`
	BaseEfficiency float64           `json:"base_efficiency"`
	ProcessingTime time.Duration     `json:"processing_time"`
}

func validateRecipe(r *Recipe) error {
	if r == nil {
		return errors.WrapInvalid(
			fmt.Errorf("recipe cannot be nil: %w", errors.ErrValidation),
			"conversion", "validateRecipe", "validation")
	}
	if r.ID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("recipe ID cannot be empty: %w", errors.ErrValidation),
			"conversion", "validateRecipe", "validation")
	}
	if len(r.Outputs) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("recipe %q produces nothing: %w", r.ID, errors.ErrValidation),
			"conversion", "validateRecipe", "validation")
	}
	for _, c := range append(append([]statecache.Cost{}, r.Inputs...), r.Outputs...) {
		if !c.Type.Valid() {
			return errors.WrapInvalid(
				fmt.Errorf("recipe %q references unknown resource type %q: %w", r.ID, c.Type, errors.ErrValidation),
				"conversion", "validateRecipe", "validation")
		}
		if c.Amount <= 0 {
			return errors.WrapInvalid(
				fmt.Errorf("recipe %q has non-positive amount for %s: %w", r.ID, c.Type, errors.ErrValidation),
				"conversion", "validateRecipe", "validation")
		}
	}
	if r.BaseEfficiency <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("recipe %q must have positive base efficiency, got %v: %w", r.ID, r.BaseEfficiency, errors.ErrValidation),
			"conversion", "validateRecipe", "validation")
	}
	if r.ProcessingTime <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("recipe %q must have positive processing time: %w", r.ID, errors.ErrValidation),
			"conversion", "validateRecipe", "validation")
	}
	return nil
}

func cloneRecipe(r *Recipe) *Recipe {
	out := *r
	out.Inputs = append([]statecache.Cost(nil), r.Inputs...)
	out.Outputs = append([]statecache.Cost(nil), r.Outputs...)
	return &out
}
