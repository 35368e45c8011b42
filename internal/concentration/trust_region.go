package concentration

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	shrinkBelow = 0.25
	expandAbove = 0.75
	// roundingSlack scales the objective change treated as rounding noise.
	roundingSlack = 64 * eps
)

// trustRegion minimises the dual from the point in ws.z by a dogleg trust
// region. The radius doubles after a well-predicted step and quarters after a
// poorly predicted one; once it drops below opts.DeltaMin full Newton steps
// are taken. A step is kept when it does not raise the objective, or when the
// rise is within rounding noise and the conservation residual improves.
func (s *system) trustRegion(ctx context.Context, ws *workspace, opts Options, logger *zap.Logger) (int, float64, error) {
	z, x, g := ws.z, ws.x, ws.grad

	s.primal(z, ws.logx, x)
	f := s.objective(z, x)
	s.gradient(x, g)
	s.hessian(x, ws.hess)
	residual := s.residual(g, ws.full)
	delta := opts.DeltaMax

	for iter := 0; ; iter++ {
		if residual < opts.Tolerance {
			return iter, residual, nil
		}
		if iter >= opts.MaxIterations {
			return iter, residual, &ConvergenceError{
				Method: MethodTrustRegion, Residual: residual, Tolerance: opts.Tolerance, Iterations: iter,
			}
		}
		if err := ctx.Err(); err != nil {
			return iter, residual, &ConvergenceError{
				Method: MethodTrustRegion, Residual: residual, Tolerance: opts.Tolerance, Iterations: iter, Cause: err,
			}
		}

		s.dogleg(ws, delta, opts.DeltaMin)
		p := ws.step
		predicted := floats.Dot(g, p) + 0.5*quadratic(ws.hess, p, ws.hv)

		floats.AddTo(ws.trial, z, p)
		s.primal(ws.trial, ws.trialLogx, ws.trialX)
		trialF := s.objective(ws.trial, ws.trialX)
		s.gradient(ws.trialX, ws.trialGrad)
		trialResidual := s.residual(ws.trialGrad, ws.full)

		actual := trialF - f
		rho := actual / predicted
		if math.IsNaN(rho) || math.IsInf(rho, 0) {
			rho = 0
		}
		switch {
		case rho > expandAbove:
			delta = math.Min(2*delta, opts.DeltaMax)
		case rho < shrinkBelow:
			delta /= 4
		}

		noise := roundingSlack * (math.Abs(f) + floats.Sum(x))
		accepted := actual <= 0 || (actual <= noise && trialResidual < residual)
		if accepted {
			copy(z, ws.trial)
			copy(ws.logx, ws.trialLogx)
			copy(x, ws.trialX)
			copy(g, ws.trialGrad)
			f, residual = trialF, trialResidual
			s.hessian(x, ws.hess)
		}

		logger.Debug("trust region iteration",
			zap.Int("iter", iter),
			zap.Float64("residual", residual),
			zap.Float64("delta", delta),
			zap.Float64("rho", rho),
			zap.Bool("accepted", accepted))
	}
}

// dogleg writes into ws.step the dogleg step for radius delta: the Newton
// step when it fits (or when delta < deltaMin), otherwise the point where
// the path through the Cauchy point leaves the trust region.
func (s *system) dogleg(ws *workspace, delta, deltaMin float64) {
	g, h, p := ws.grad, ws.hess, ws.step

	gg := floats.Dot(g, g)
	if gg == 0 {
		clear(p)
		return
	}

	neg := ws.hv
	copy(neg, g)
	floats.Scale(-1, neg)
	newtonOK := solveSPD(ws.newton, h, neg)
	if newtonOK && (delta < deltaMin || floats.Norm(ws.newton, 2) <= delta) {
		copy(p, ws.newton)
		return
	}

	gHg := quadratic(h, g, ws.hv)
	if !(gHg > 0) {
		copy(p, g)
		floats.Scale(-delta/math.Sqrt(gg), p)
		return
	}

	cauchy := ws.cauchy
	copy(cauchy, g)
	floats.Scale(-gg/gHg, cauchy)
	cn := floats.Norm(cauchy, 2)
	if cn >= delta {
		copy(p, cauchy)
		floats.Scale(delta/cn, p)
		return
	}
	if !newtonOK {
		copy(p, cauchy)
		return
	}

	// p = c + τ(n − c) with |p| = delta and τ in [0, 1].
	d := ws.hv
	floats.SubTo(d, ws.newton, cauchy)
	a := floats.Dot(d, d)
	b := 2 * floats.Dot(cauchy, d)
	c := cn*cn - delta*delta
	tau := (-b + math.Sqrt(b*b-4*a*c)) / (2 * a)
	if math.IsNaN(tau) {
		tau = 0
	}
	floats.AddScaledTo(p, cauchy, math.Max(0, math.Min(1, tau)), d)
}

// quadratic returns vᵀ·h·v using scratch for h·v.
func quadratic(h *mat.SymDense, v, scratch []float64) float64 {
	n := len(v)
	mat.NewVecDense(n, scratch).MulVec(h, mat.NewVecDense(n, v))
	return floats.Dot(v, scratch)
}
