package concentration

import (
	"math"

	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/species"
)

// Result is the outcome of one Compute call. It is read-only and safe for
// concurrent use.
type Result struct {
	strands        []species.Strand
	complexes      []species.Complex
	counts         [][]float64
	concentrations []float64
	logActivities  []float64
	byKey          map[string]int

	// Temperature is the temperature, in kelvin, of the partition functions.
	Temperature float64
	Method      Method
	// Iterations is the number of major iterations the solve took.
	Iterations int
	// Residual is the largest relative conservation violation at the
	// returned point.
	Residual float64
}

func newResult(strands []species.Strand, complexes []species.Complex, counts [][]float64, temperature float64) *Result {
	r := &Result{
		strands:        strands,
		complexes:      complexes,
		counts:         counts,
		concentrations: make([]float64, len(complexes)),
		logActivities:  make([]float64, len(strands)),
		byKey:          make(map[string]int, len(complexes)),
		Temperature:    temperature,
	}
	for k, c := range complexes {
		r.byKey[c.Key()] = k
	}
	for i := range r.logActivities {
		r.logActivities[i] = math.Inf(-1)
	}
	return r
}

// Strands returns the strand universe the result was solved against.
func (r *Result) Strands() []species.Strand {
	return append([]species.Strand(nil), r.strands...)
}

// Complexes returns the solved complexes in solve order.
func (r *Result) Complexes() []species.Complex {
	return append([]species.Complex(nil), r.complexes...)
}

// Concentrations returns the molar concentrations aligned with Complexes.
func (r *Result) Concentrations() []float64 {
	return append([]float64(nil), r.concentrations...)
}

// Len returns the number of solved complexes.
func (r *Result) Len() int { return len(r.complexes) }

// Concentration returns the molar concentration of c.
func (r *Result) Concentration(c species.Complex) (float64, error) {
	k, ok := r.byKey[c.Key()]
	if !ok {
		return 0, errors.Errorf(errors.KindNotFound, "complex %s is not in the result", c.Key()).
			WithComponent(component).WithOperation("Result.Concentration")
	}
	return r.concentrations[k], nil
}

// ByName returns the concentration of the complex whose name or key is name.
// It fails with KindNotFound when no complex, or more than one, matches.
func (r *Result) ByName(name string) (float64, error) {
	const op = "Result.ByName"
	found := -1
	for k, c := range r.complexes {
		if c.Name() != name && c.Key() != name {
			continue
		}
		if found >= 0 {
			return 0, errors.Errorf(errors.KindNotFound, "complex name %q is ambiguous", name).
				WithComponent(component).WithOperation(op)
		}
		found = k
	}
	if found < 0 {
		return 0, errors.Errorf(errors.KindNotFound, "no complex named %q in the result", name).
			WithComponent(component).WithOperation(op)
	}
	return r.concentrations[found], nil
}

// ComplexConcentrations returns the concentrations keyed by complex name.
func (r *Result) ComplexConcentrations() map[string]float64 {
	out := make(map[string]float64, len(r.complexes))
	for k, c := range r.complexes {
		out[c.Name()] = r.concentrations[k]
	}
	return out
}

// StrandTotals returns, per strand, the total concentration held by the
// solved complexes.
func (r *Result) StrandTotals() []float64 {
	totals := make([]float64, len(r.strands))
	for k, n := range r.counts {
		for i, v := range n {
			totals[i] += v * r.concentrations[k]
		}
	}
	return totals
}

// LogActivities returns the natural log of each strand's activity in the
// mole-fraction standard state, -Inf for strands with zero total. They can
// warm-start a later solve through WithInitialGuess.
func (r *Result) LogActivities() []float64 {
	return append([]float64(nil), r.logActivities...)
}
