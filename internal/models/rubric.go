package models

import "fmt"

// RubricCriterion is one named scoring criterion inside a rubric.
type RubricCriterion struct {
	Key         string  `json:"key" validate:"required"`
	Description string  `json:"description"`
	MaxPoints   float64 `json:"max_points" validate:"gte=0"`
	Weight      float64 `json:"weight" validate:"gte=0"`
}

// Rubric is an ordered, weighted set of criteria used by the grading
// strategies. Caller-supplied weights are not required to sum to one; the
// engine normalizes them before use.
type Rubric struct {
	Criteria         []RubricCriterion `json:"criteria" validate:"required,min=1,dive"`
	MaxPoints        float64           `json:"max_points" validate:"gt=0"`
	PassingThreshold float64           `json:"passing_threshold" validate:"gte=0"`
}

// Validate rejects rubrics that cannot produce a meaningful grade.
func (r Rubric) Validate() error {
	if len(r.Criteria) == 0 {
		return fmt.Errorf("rubric requires at least one criterion")
	}
	if r.MaxPoints <= 0 {
		return fmt.Errorf("rubric max points must be positive")
	}
	for _, c := range r.Criteria {
		if c.Key == "" {
			return fmt.Errorf("rubric criterion key must not be empty")
		}
		if c.MaxPoints < 0 {
			return fmt.Errorf("criterion %q max points must not be negative", c.Key)
		}
		if c.Weight < 0 {
			return fmt.Errorf("criterion %q weight must not be negative", c.Key)
		}
	}
	return nil
}

// NormalizedWeights returns per-criterion weights scaled to sum to one.
// Criteria with zero total weight fall back to an even split.
func (r Rubric) NormalizedWeights() map[string]float64 {
	weights := make(map[string]float64, len(r.Criteria))
	total := 0.0
	for _, c := range r.Criteria {
		total += c.Weight
	}
	if total <= 0 {
		even := 1.0 / float64(len(r.Criteria))
		for _, c := range r.Criteria {
			weights[c.Key] = even
		}
		return weights
	}
	for _, c := range r.Criteria {
		weights[c.Key] = c.Weight / total
	}
	return weights
}
