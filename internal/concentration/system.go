package concentration

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/equilibria/internal/errors"
)

const (
	eps = 0x1p-52
	// Primal concentrations are clamped into [minPrimal, maxPrimal] while
	// iterating so the objective stays finite at rejected trial points. The
	// starting point keeps every complex at or below 1, so accepted points
	// never reach the upper clamp.
	minPrimal = 0x1p-1022
	maxPrimal = 1e100
	// feasibilityTolerance bounds, relative to each strand's total, the part
	// of the totals that lies outside the span of the complex compositions.
	feasibilityTolerance = 1e-9
	// feasibilitySlack absorbs rounding in the projection, in scaled units.
	feasibilitySlack = 1024 * eps
)

// system is the dual problem of one Compute call, restricted to strands with
// positive totals and to complexes built only from them.
//
// With A the unique compositions (one row per distinct stoichiometry), q̂ the
// scaled log weights and b̂ the scaled strand totals, the solver minimises
//
//	f(z) = Σ_k exp(B_k·z + q̂_k) − z·Vᵀb̂,   B = A·V,
//
// where the columns of V are an orthonormal basis of A's row space (V = I
// when A has full column rank). The strand log activities are y = V·z.
type system struct {
	active  []int       // universe position of each active strand
	rows    [][]float64 // unique compositions over active strands
	logq    []float64   // merged scaled log weight per row
	total   []float64   // scaled totals per active strand
	basis   *mat.Dense  // nil when A has full column rank
	reduced *mat.Dense  // A·V
	rhs     []float64   // Vᵀ·b̂

	// scale converts scaled concentrations to molar: c = scale·x̂.
	scale    float64
	logShift float64 // q̂ = q + logShift
}

// newSystem assembles the dual problem for complexes with the given strand
// counts and corrected (unscaled, mole-fraction) log weights, and strand
// totals in molar. logWater is the log molarity of water at the problem
// temperature. rowOf maps each complex to its row, or -1 for complexes that
// are pinned to zero. A nil system means every total is zero.
func newSystem(names []string, counts [][]float64, logq []float64, totals []float64, logWater float64) (*system, []int, error) {
	const op = "newSystem"

	rowOf := make([]int, len(counts))
	scale := floats.Max(append([]float64{0}, totals...))
	if scale == 0 {
		for k := range rowOf {
			rowOf[k] = -1
		}
		return nil, rowOf, nil
	}

	sys := &system{
		scale:    scale,
		logShift: logWater - math.Log(scale),
	}
	position := make([]int, len(totals))
	for i, c := range totals {
		position[i] = -1
		if c > 0 {
			position[i] = len(sys.active)
			sys.active = append(sys.active, i)
			sys.total = append(sys.total, c/scale)
		}
	}
	na := len(sys.active)

	byComposition := make(map[string]int)
	covered := make([]bool, na)
	var key strings.Builder
	for k, n := range counts {
		rowOf[k] = -1
		if math.IsInf(logq[k], -1) {
			continue
		}
		row := make([]float64, na)
		pinned := false
		for i, v := range n {
			if v == 0 {
				continue
			}
			if position[i] < 0 {
				pinned = true
				break
			}
			row[position[i]] = v
		}
		if pinned {
			continue
		}

		key.Reset()
		for _, v := range row {
			key.WriteString(strconv.FormatInt(int64(v), 10))
			key.WriteByte(',')
		}
		if r, ok := byComposition[key.String()]; ok {
			sys.logq[r] = logAddExp(sys.logq[r], logq[k]+sys.logShift)
			rowOf[k] = r
			continue
		}
		r := len(sys.rows)
		byComposition[key.String()] = r
		sys.rows = append(sys.rows, row)
		sys.logq = append(sys.logq, logq[k]+sys.logShift)
		rowOf[k] = r
		for i, v := range row {
			if v > 0 {
				covered[i] = true
			}
		}
	}
	for i, ok := range covered {
		if !ok {
			return nil, nil, errors.Errorf(errors.KindInvalidArgument,
				"strand %q has positive concentration but no complex in the solve can hold it",
				names[sys.active[i]]).WithComponent(component).WithOperation(op)
		}
	}

	if err := sys.orthogonalize(names); err != nil {
		return nil, nil, err
	}
	return sys, rowOf, nil
}

// orthogonalize computes the reduced coordinates. When the compositions are
// rank deficient it also checks that the strand totals are attainable.
func (s *system) orthogonalize(names []string) error {
	u, na := len(s.rows), len(s.active)
	a := mat.NewDense(u, na, nil)
	for k, row := range s.rows {
		a.SetRow(k, row)
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return errors.New(errors.KindInternal, "singular value decomposition of the composition matrix failed").
			WithComponent(component).WithOperation("system.orthogonalize")
	}
	vals := svd.Values(nil)
	cutoff := vals[0] * float64(max(u, na)) * eps * 16
	rank := 0
	for _, sv := range vals {
		if sv > cutoff {
			rank++
		}
	}
	if rank == na {
		s.reduced = a
		s.rhs = append([]float64(nil), s.total...)
		return nil
	}

	var v mat.Dense
	svd.VTo(&v)
	s.basis = mat.DenseCopyOf(v.Slice(0, na, 0, rank))
	s.rhs = make([]float64, rank)
	mat.NewVecDense(rank, s.rhs).MulVec(s.basis.T(), mat.NewVecDense(na, s.total))

	projected := make([]float64, na)
	mat.NewVecDense(na, projected).MulVec(s.basis, mat.NewVecDense(rank, s.rhs))
	for i := range projected {
		d := math.Abs(projected[i] - s.total[i])
		if d > feasibilityTolerance*s.total[i]+feasibilitySlack {
			return errors.Errorf(errors.KindInvalidArgument,
				"strand totals cannot be met by the complexes in the solve (strand %q off by %.3g relative)",
				names[s.active[i]], d/s.total[i]).WithComponent(component).WithOperation("system.orthogonalize")
		}
	}

	s.reduced = mat.NewDense(u, rank, nil)
	s.reduced.Mul(a, s.basis)
	return nil
}

// dim is the number of free dual variables.
func (s *system) dim() int {
	_, c := s.reduced.Dims()
	return c
}

// size is the number of unique complexes.
func (s *system) size() int { return len(s.rows) }

// primal fills logx and x with the complex log concentrations and their
// clamped exponentials at z.
func (s *system) primal(z, logx, x []float64) {
	for k := range s.rows {
		logx[k] = s.logq[k] + floats.Dot(s.reduced.RawRowView(k), z)
		x[k] = clamp(math.Exp(logx[k]))
	}
}

func clamp(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return maxPrimal
	case x < minPrimal:
		return minPrimal
	case x > maxPrimal:
		return maxPrimal
	}
	return x
}

// objective evaluates f at z given the primal x from primal(z).
func (s *system) objective(z, x []float64) float64 {
	return floats.Sum(x) - floats.Dot(z, s.rhs)
}

// gradient writes Bᵀx − Vᵀb̂ into g.
func (s *system) gradient(x, g []float64) {
	copy(g, s.rhs)
	floats.Scale(-1, g)
	for k, xk := range x {
		floats.AddScaled(g, xk, s.reduced.RawRowView(k))
	}
}

// hessian writes Bᵀ·diag(x)·B into h.
func (s *system) hessian(x []float64, h *mat.SymDense) {
	r := s.dim()
	h.Zero()
	for k, xk := range x {
		row := s.reduced.RawRowView(k)
		for i := 0; i < r; i++ {
			if row[i] == 0 {
				continue
			}
			wi := xk * row[i]
			for j := i; j < r; j++ {
				h.SetSym(i, j, h.At(i, j)+wi*row[j])
			}
		}
	}
}

// residual returns max_i |(V·g)_i| / b̂_i, the largest relative conservation
// violation, using full as scratch.
func (s *system) residual(g, full []float64) float64 {
	s.toFull(g, full)
	worst := 0.0
	for i, d := range full {
		worst = math.Max(worst, math.Abs(d)/s.total[i])
	}
	if math.IsNaN(worst) {
		return math.Inf(1)
	}
	return worst
}

// toFull maps reduced coordinates to active-strand coordinates.
func (s *system) toFull(z, dst []float64) {
	if s.basis == nil {
		copy(dst, z)
		return
	}
	na, r := s.basis.Dims()
	mat.NewVecDense(na, dst).MulVec(s.basis, mat.NewVecDense(r, z))
}

// fromFull projects active-strand coordinates onto the basis.
func (s *system) fromFull(y, dst []float64) {
	if s.basis == nil {
		copy(dst, y)
		return
	}
	na, r := s.basis.Dims()
	mat.NewVecDense(r, dst).MulVec(s.basis.T(), mat.NewVecDense(na, y))
}
