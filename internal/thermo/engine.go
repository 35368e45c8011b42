package thermo

import (
	"context"

	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/species"
)

// Engine evaluates thermodynamic quantities of a complex under a model.
// Implementations must be safe for concurrent use.
type Engine interface {
	Pfunc(ctx context.Context, c species.Complex, m Model) (PfuncResult, error)
	MFE(ctx context.Context, c species.Complex, m Model) (MfeResult, error)
}

// Result is one evaluated quantity: a PfuncResult or an MfeResult.
type Result interface {
	isResult()
}

// PfuncResult is the partition function of a complex. LogQ is in the
// mole-fraction standard state and counts rotations of identical strands as
// distinct. -Inf means no structure is possible.
type PfuncResult struct {
	Complex species.Complex
	Model   Model
	LogQ    float64
	// FreeEnergy is -RT·LogQ in kcal/mol.
	FreeEnergy float64
}

// MfeResult is the minimum free energy structure of a complex.
type MfeResult struct {
	Complex species.Complex
	Model   Model
	// Energy in kcal/mol, +Inf when no structure connects the strands.
	Energy float64
	// Structure in dot-parens notation with strands separated by '+'.
	Structure string
}

func (PfuncResult) isResult() {}
func (MfeResult) isResult()   {}

// Quantity names something an Engine can evaluate.
type Quantity string

const (
	QuantityPfunc Quantity = "pfunc"
	QuantityMFE   Quantity = "mfe"
)

// Evaluate computes each requested quantity for c, in order.
func Evaluate(ctx context.Context, e Engine, c species.Complex, m Model, quantities ...Quantity) ([]Result, error) {
	out := make([]Result, 0, len(quantities))
	for _, q := range quantities {
		switch q {
		case QuantityPfunc:
			r, err := e.Pfunc(ctx, c, m)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		case QuantityMFE:
			r, err := e.MFE(ctx, c, m)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		default:
			return nil, errors.Errorf(errors.KindInvalidArgument, "unknown quantity %q", q).
				WithComponent(component).WithOperation("Evaluate")
		}
	}
	return out, nil
}
