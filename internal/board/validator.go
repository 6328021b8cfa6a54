// Package board checks plans against layout capacity.
package board

import "github.com/cfi-labs/boardgen/internal/domain"

// Reasons reported in Checks.Missing.
const (
	MissingEntities = "entities"
	MissingCapacity = "capacity"
)

// Validator checks a plan before any image is produced.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Check returns ok=true iff the plan has between one entity and the capacity of
// its layout. Unknown layouts are checked against the default grid.
func (v *Validator) Check(_ domain.NormalizedProfile, plan domain.Plan) domain.Checks {
	n := len(plan.Entities)
	capacity := domain.LayoutOrDefault(plan.Layout).Capacity()

	switch {
	case n == 0:
		return domain.Checks{OK: false, Missing: []string{MissingEntities}}
	case n > capacity:
		return domain.Checks{OK: false, Missing: []string{MissingCapacity}}
	default:
		return domain.Checks{OK: true, Missing: []string{}}
	}
}
