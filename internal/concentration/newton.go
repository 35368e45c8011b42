package concentration

import (
	"context"
	stderrors "errors"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// contextRecorder stops gonum/optimize when ctx is done.
type contextRecorder struct {
	ctx context.Context
}

func (r contextRecorder) Init() error { return r.ctx.Err() }

func (r contextRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}

const (
	// newtonMajorIterations caps the line-search phase; the rest of the
	// budget goes to trust-region steps.
	newtonMajorIterations = 100
	// newtonStallIterations ends the line-search phase after this many
	// iterations without a significant objective decrease.
	newtonStallIterations = 8
)

// newton minimises the dual from ws.z with gonum's line-search Newton
// method. The gradient threshold is chosen so that a converged point also
// meets opts.Tolerance in every strand; the residual is re-checked after.
// The line search runs for at most half the budget. Whatever status it ends
// with, an unconverged point is finished by trust-region steps with the
// remaining iterations.
// Iterations count major Newton iterations plus any polishing steps.
func (s *system) newton(ctx context.Context, ws *workspace, opts Options, logger *zap.Logger) (int, float64, error) {
	r := s.dim()
	logx, x := ws.logx, ws.x

	// Minimize evaluates serially, so the workspace buffers can back every
	// evaluation.
	problem := optimize.Problem{
		Func: func(z []float64) float64 {
			s.primal(z, logx, x)
			return s.objective(z, x)
		},
		Grad: func(grad, z []float64) {
			s.primal(z, logx, x)
			s.gradient(x, grad)
		},
		Hess: func(h *mat.SymDense, z []float64) {
			s.primal(z, logx, x)
			s.hessian(x, h)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: opts.Tolerance * floats.Min(s.total) / math.Sqrt(float64(r)),
		MajorIterations:   min(newtonMajorIterations, max(1, opts.MaxIterations/2)),
		Converger:         &optimize.FunctionConverge{Relative: roundingSlack, Iterations: newtonStallIterations},
		Recorder:          contextRecorder{ctx: ctx},
	}
	if deadline, ok := ctx.Deadline(); ok {
		settings.Runtime = time.Until(deadline)
	}

	start := append([]float64(nil), ws.z...)
	result, err := optimize.Minimize(problem, start, settings, &optimize.Newton{})
	iterations := 0
	if result != nil {
		copy(ws.z, result.X)
		iterations = result.MajorIterations
		logger.Debug("newton finished",
			zap.Stringer("status", result.Status),
			zap.Int("iterations", iterations),
			zap.Int("func_evaluations", result.FuncEvaluations))
	}

	s.primal(ws.z, logx, x)
	s.gradient(x, ws.grad)
	residual := s.residual(ws.grad, ws.full)
	if residual < opts.Tolerance {
		return iterations, residual, nil
	}

	// The line search compares objective values, which stop resolving
	// progress once steps fall into rounding noise. Finish with trust-region
	// steps, which also accept a step that lowers the residual.
	if ctx.Err() == nil && iterations < opts.MaxIterations {
		polish := opts
		polish.MaxIterations -= iterations
		more, residual, perr := s.trustRegion(ctx, ws, polish, logger)
		if perr == nil {
			return iterations + more, residual, nil
		}
		var ce *ConvergenceError
		if stderrors.As(perr, &ce) {
			ce.Method = MethodNewton
			ce.Iterations += iterations
		}
		return iterations + more, residual, perr
	}

	cause := ctx.Err()
	if cause == nil {
		cause = err
	}
	return iterations, residual, &ConvergenceError{
		Method:     MethodNewton,
		Residual:   residual,
		Tolerance:  opts.Tolerance,
		Iterations: iterations,
		Cause:      cause,
	}
}
