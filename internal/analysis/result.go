package analysis

import (
	"github.com/copyleftdev/equilibria/internal/concentration"
	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/species"
	"github.com/copyleftdev/equilibria/internal/thermo"
)

// Result holds the per-complex evaluations of an analysis and the solved
// tubes.
type Result struct {
	Model thermo.Model

	complexes []species.Complex
	pfuncs    map[string]thermo.PfuncResult
	extra     map[string][]thermo.Result
	tubes     []*TubeResult
	byTube    map[string]int
}

// Complexes returns every evaluated complex sorted by size and key.
func (r *Result) Complexes() []species.Complex {
	return append([]species.Complex(nil), r.complexes...)
}

// Pfunc returns the partition function of c, matched by any rotation. LogQ
// is NaN when the engine could not evaluate c.
func (r *Result) Pfunc(c species.Complex) (thermo.PfuncResult, error) {
	p, ok := r.pfuncs[c.LowestRotation().Key()]
	if !ok {
		return thermo.PfuncResult{}, errors.Errorf(errors.KindNotFound, "complex %s was not analyzed", c.Key()).
			WithComponent(component).WithOperation("Result.Pfunc")
	}
	return p, nil
}

// MFE returns the minimum free energy structure of c when it was requested
// through Config.Quantities.
func (r *Result) MFE(c species.Complex) (thermo.MfeResult, error) {
	for _, q := range r.extra[c.LowestRotation().Key()] {
		if m, ok := q.(thermo.MfeResult); ok {
			return m, nil
		}
	}
	return thermo.MfeResult{}, errors.Errorf(errors.KindNotFound, "no MFE computed for %s", c.Key()).
		WithComponent(component).WithOperation("Result.MFE")
}

// Tubes returns the solved tubes in input order.
func (r *Result) Tubes() []*TubeResult {
	return append([]*TubeResult(nil), r.tubes...)
}

// Tube returns the solved tube called name.
func (r *Result) Tube(name string) (*TubeResult, error) {
	i, ok := r.byTube[name]
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "no tube named %q", name).
			WithComponent(component).WithOperation("Result.Tube")
	}
	return r.tubes[i], nil
}

// TubeResult is the equilibrium of one tube. The embedded Result answers
// lookups by complex name and strand totals.
type TubeResult struct {
	Tube Tube
	*concentration.Result
}

// Concentration returns the molar concentration of c, matched by any
// rotation.
func (t *TubeResult) Concentration(c species.Complex) (float64, error) {
	return t.Result.Concentration(c.LowestRotation())
}
