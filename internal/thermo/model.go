// Package thermo provides partition functions for strand complexes. The
// Engine interface is what the rest of the service depends on; the
// nearest-neighbour engine here is a two-state reference implementation.
package thermo

import (
	"fmt"
	"math"

	"github.com/copyleftdev/equilibria/internal/errors"
)

const component = "thermo"

// Model fixes the physical conditions of an evaluation.
type Model struct {
	// Temperature in kelvin.
	Temperature float64 `json:"temperature"`
	// Sodium is the monovalent cation concentration in molar.
	Sodium float64 `json:"sodium"`
	// Magnesium is the divalent cation concentration in molar.
	Magnesium float64 `json:"magnesium"`
}

// DefaultModel is 37 °C in 1 M Na+ without magnesium.
func DefaultModel() Model {
	return Model{Temperature: Kelvin(37), Sodium: 1}
}

// Validate checks that the conditions are physical.
func (m Model) Validate() error {
	const op = "Model.Validate"
	switch {
	case !(m.Temperature > 0) || math.IsInf(m.Temperature, 0):
		return errors.Errorf(errors.KindInvalidArgument, "temperature must be positive, got %g K", m.Temperature).
			WithComponent(component).WithOperation(op)
	case !(m.Sodium > 0) || math.IsInf(m.Sodium, 0):
		return errors.Errorf(errors.KindInvalidArgument, "sodium must be positive, got %g M", m.Sodium).
			WithComponent(component).WithOperation(op)
	case !(m.Magnesium >= 0) || math.IsInf(m.Magnesium, 0):
		return errors.Errorf(errors.KindInvalidArgument, "magnesium must not be negative, got %g M", m.Magnesium).
			WithComponent(component).WithOperation(op)
	}
	return nil
}

// RT returns the thermal energy in kcal/mol.
func (m Model) RT() float64 { return GasConstant * m.Temperature }

// EffectiveSodium folds magnesium into an equivalent monovalent
// concentration, [Na+] + 3.3·sqrt([Mg2+]) (von Ahsen et al. 2001).
func (m Model) EffectiveSodium() float64 {
	return m.Sodium + 3.3*math.Sqrt(m.Magnesium)
}

func (m Model) String() string {
	return fmt.Sprintf("T=%.2fK Na=%gM Mg=%gM", m.Temperature, m.Sodium, m.Magnesium)
}
