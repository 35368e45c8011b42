package concentration

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// maxGuessRounds bounds the reweighting passes of the least-squares guess.
	maxGuessRounds = 50
	// guessLogBound is the largest |log concentration| a strand may take in
	// the initial guess before its dominant complex is reweighted.
	guessLogBound = 200
)

// initialGuess writes the starting dual point into z. A warm start in
// active-strand coordinates wins when given. Otherwise, when every active
// strand has its own monomer row, each strand starts fully monomeric;
// failing that, a reweighted least-squares fit is used. The chosen point is
// then lowered by lowerStart.
func (s *system) initialGuess(z []float64, warm []float64) {
	defer s.lowerStart(z)
	if warm != nil {
		s.fromFull(warm, z)
		return
	}
	if y, ok := s.monomerGuess(); ok {
		s.fromFull(y, z)
		return
	}
	s.leastSquaresGuess(z)
}

// lowerStart subtracts the same amount from every strand log activity so
// that no complex starts above 1 in scaled units. A complex of n strands
// drops by n times that amount, and A·V·Vᵀ = A keeps the shift exact in
// reduced coordinates.
func (s *system) lowerStart(z []float64) {
	shift := 0.0
	for k, row := range s.rows {
		logx := s.logq[k] + floats.Dot(s.reduced.RawRowView(k), z)
		if logx > 0 {
			shift = math.Max(shift, logx/floats.Sum(row))
		}
	}
	if shift == 0 {
		return
	}
	y := make([]float64, len(s.active))
	for i := range y {
		y[i] = -shift
	}
	d := make([]float64, len(z))
	s.fromFull(y, d)
	floats.Add(z, d)
}

// monomerGuess returns y with y_i = log b̂_i − q̂_i for the monomer row of each
// strand, so every monomer alone accounts for its strand's total.
func (s *system) monomerGuess() ([]float64, bool) {
	y := make([]float64, len(s.active))
	found := make([]bool, len(s.active))
	for k, row := range s.rows {
		strand, copies := -1, 0.0
		for i, v := range row {
			if v == 0 {
				continue
			}
			if strand >= 0 {
				strand = -2
				break
			}
			strand, copies = i, v
		}
		if strand < 0 || copies != 1 {
			continue
		}
		y[strand] = math.Log(s.total[strand]) - s.logq[k]
		found[strand] = true
	}
	for _, ok := range found {
		if !ok {
			return nil, false
		}
	}
	return y, true
}

// leastSquaresGuess fits B·z + q̂ ≈ log(A·b̂) in a weighted least-squares
// sense. Complexes that dominate a strand at an extreme log concentration have
// their weight doubled and the fit repeated.
func (s *system) leastSquaresGuess(z []float64) {
	u, r := s.size(), s.dim()
	target := make([]float64, u)
	for k, row := range s.rows {
		var sum float64
		for i, v := range row {
			sum += v * s.total[i]
		}
		target[k] = math.Log(sum) - s.logq[k]
	}

	weight := make([]float64, u)
	for k := range weight {
		weight[k] = 1
	}
	normal := mat.NewSymDense(r, nil)
	rhs := make([]float64, r)
	logx := make([]float64, u)

	for round := 0; round < maxGuessRounds; round++ {
		normal.Zero()
		clear(rhs)
		for k := 0; k < u; k++ {
			row := s.reduced.RawRowView(k)
			for i := 0; i < r; i++ {
				wi := weight[k] * row[i]
				rhs[i] += wi * target[k]
				for j := i; j < r; j++ {
					normal.SetSym(i, j, normal.At(i, j)+wi*row[j])
				}
			}
		}
		if !solveSPD(z, normal, rhs) {
			clear(z)
			return
		}

		for k := 0; k < u; k++ {
			logx[k] = s.logq[k]
			for j, b := range s.reduced.RawRowView(k) {
				logx[k] += b * z[j]
			}
		}
		reweighted := false
		for i := range s.active {
			best, at := math.Inf(-1), -1
			for k, row := range s.rows {
				if row[i] == 0 {
					continue
				}
				if v := math.Log(row[i]) + logx[k]; v > best {
					best, at = v, k
				}
			}
			if at >= 0 && math.Abs(best) > guessLogBound {
				weight[at] *= 2
				reweighted = true
			}
		}
		if !reweighted {
			return
		}
	}
}
