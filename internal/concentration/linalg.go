package concentration

import (
	stderrors "errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

const maxJitterAttempts = 10

// solveSPD solves h·dst = rhs for a symmetric positive semi-definite h. It
// tries a Cholesky factorisation, then Cholesky with growing diagonal jitter,
// then an SVD pseudo-inverse. It reports false when no finite solution was
// found.
func solveSPD(dst []float64, h *mat.SymDense, rhs []float64) bool {
	n := h.SymmetricDim()
	if n == 0 {
		return true
	}
	b := mat.NewVecDense(n, rhs)
	x := mat.NewVecDense(n, dst)

	var chol mat.Cholesky
	if chol.Factorize(h) && solveChol(&chol, x, b) && allFinite(dst) {
		return true
	}

	scale := 0.0
	for i := 0; i < n; i++ {
		scale = math.Max(scale, math.Abs(h.At(i, i)))
	}
	if scale == 0 {
		scale = 1
	}
	jitter := 1e-12 * scale
	jittered := mat.NewSymDense(n, nil)
	for attempt := 0; attempt < maxJitterAttempts; attempt++ {
		jittered.CopySym(h)
		for i := 0; i < n; i++ {
			jittered.SetSym(i, i, h.At(i, i)+jitter)
		}
		if chol.Factorize(jittered) && solveChol(&chol, x, b) && allFinite(dst) {
			return true
		}
		jitter *= 10
	}
	return solveSVD(dst, h, rhs)
}

func solveChol(chol *mat.Cholesky, x *mat.VecDense, b *mat.VecDense) bool {
	err := chol.SolveVecTo(x, b)
	if err == nil {
		return true
	}
	// A Condition error still carries a usable solution.
	var cond mat.Condition
	return stderrors.As(err, &cond)
}

// solveSVD applies the pseudo-inverse of h to rhs, dropping singular values
// below n·eps relative to the largest.
func solveSVD(dst []float64, h *mat.SymDense, rhs []float64) bool {
	n := h.SymmetricDim()
	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDThin) {
		return false
	}
	vals := svd.Values(nil)
	if len(vals) == 0 || vals[0] == 0 {
		return false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	cutoff := vals[0] * float64(n) * eps
	coef := make([]float64, len(vals))
	for j, s := range vals {
		if s <= cutoff {
			continue
		}
		var dot float64
		for i := 0; i < n; i++ {
			dot += u.At(i, j) * rhs[i]
		}
		coef[j] = dot / s
	}
	for i := 0; i < n; i++ {
		var sum float64
		for j, c := range coef {
			sum += v.At(i, j) * c
		}
		dst[i] = sum
	}
	return allFinite(dst)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// logAddExp returns log(exp(a) + exp(b)) without overflow.
func logAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}
