package concentration

import (
	"fmt"

	"github.com/copyleftdev/equilibria/internal/errors"
)

// ConvergenceError reports a solve that stopped before the conservation
// residual fell below tolerance. It matches errors.ErrConvergence.
type ConvergenceError struct {
	Method     Method
	Residual   float64
	Tolerance  float64
	Iterations int
	// Cause is set when the solve was interrupted by its context.
	Cause error
}

func (e *ConvergenceError) Error() string {
	msg := fmt.Sprintf("%s: %s did not converge after %d iterations: residual %.3g > tolerance %.3g",
		component, e.Method, e.Iterations, e.Residual, e.Tolerance)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Kind classifies the error for errors.KindOf.
func (e *ConvergenceError) Kind() errors.Kind { return errors.KindConvergence }

// Is matches the convergence sentinel.
func (e *ConvergenceError) Is(target error) bool { return target == errors.ErrConvergence }

func (e *ConvergenceError) Unwrap() error { return e.Cause }
