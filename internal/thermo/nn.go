package thermo

import (
	"context"
	"math"
	"strings"

	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/species"
)

// Stacking parameters at 1 M Na+, keyed by the top-strand dinucleotide read
// 5'→3' (SantaLucia & Hicks 2004, Table 1). XY/X'Y' and Y'X'/YX are the same
// stack read from either strand, so they share an entry.
var stacks = map[string]struct{ dH, dS float64 }{
	"AA": {-7.6, -21.3}, "TT": {-7.6, -21.3},
	"AT": {-7.2, -20.4},
	"TA": {-7.2, -21.3},
	"CA": {-8.5, -22.7}, "TG": {-8.5, -22.7},
	"GT": {-8.4, -22.4}, "AC": {-8.4, -22.4},
	"CT": {-7.8, -21.0}, "AG": {-7.8, -21.0},
	"GA": {-8.2, -22.2}, "TC": {-8.2, -22.2},
	"CG": {-10.6, -27.2},
	"GC": {-9.8, -24.4},
	"GG": {-8.0, -19.9}, "CC": {-8.0, -19.9},
}

const (
	initDH, initDS         = 0.2, -5.7 // helix initiation
	terminalDH, terminalDS = 2.2, 6.9  // per terminal A·T pair

	// saltSlope is the entropy correction per phosphate pair, cal/(K·mol).
	saltSlope = 0.368

	// DefaultMinPairs is the shortest helix the engine counts.
	DefaultMinPairs = 3
)

// NearestNeighbor is a two-state duplex engine. A monomer has a single
// reference state (log q = 0). A two-strand complex sums, over every maximal
// Watson-Crick helix in every antiparallel register, the Boltzmann weight of
// that helix alone. It does not evaluate secondary structure or complexes of
// more than two strands.
type NearestNeighbor struct {
	// MinPairs is the shortest helix counted. Values below 2 mean
	// DefaultMinPairs.
	MinPairs int
}

// NewNearestNeighbor returns an engine counting helices of at least
// DefaultMinPairs base pairs.
func NewNearestNeighbor() *NearestNeighbor {
	return &NearestNeighbor{MinPairs: DefaultMinPairs}
}

type helix struct {
	// a[i+t] pairs with b[j-t] for t in [0, pairs).
	i, j, pairs int
	dG          float64
}

// Pfunc returns the partition function of c under m.
func (e *NearestNeighbor) Pfunc(ctx context.Context, c species.Complex, m Model) (PfuncResult, error) {
	seqs, err := e.prepare(ctx, c, m, "NearestNeighbor.Pfunc")
	if err != nil {
		return PfuncResult{}, err
	}
	res := PfuncResult{Complex: c, Model: m}
	if len(seqs) == 1 {
		return res, nil
	}

	rt := m.RT()
	logq := math.Inf(-1)
	for _, h := range e.helices(seqs[0], seqs[1], m) {
		logq = logAddExp(logq, -h.dG/rt)
	}
	if !math.IsInf(logq, -1) {
		logq += LogWaterMolarity(m.Temperature)
	}
	res.LogQ = logq
	res.FreeEnergy = -rt * logq
	return res, nil
}

// MFE returns the single lowest-energy helix of c under m.
func (e *NearestNeighbor) MFE(ctx context.Context, c species.Complex, m Model) (MfeResult, error) {
	seqs, err := e.prepare(ctx, c, m, "NearestNeighbor.MFE")
	if err != nil {
		return MfeResult{}, err
	}
	res := MfeResult{Complex: c, Model: m}
	if len(seqs) == 1 {
		res.Structure = strings.Repeat(".", len(seqs[0]))
		return res, nil
	}

	a, b := seqs[0], seqs[1]
	best := helix{dG: math.Inf(1)}
	for _, h := range e.helices(a, b, m) {
		if h.dG < best.dG {
			best = h
		}
	}
	top := []byte(strings.Repeat(".", len(a)))
	bottom := []byte(strings.Repeat(".", len(b)))
	res.Energy = math.Inf(1)
	if best.pairs > 0 {
		for t := 0; t < best.pairs; t++ {
			top[best.i+t] = '('
			bottom[best.j-t] = ')'
		}
		res.Energy = best.dG - m.RT()*LogWaterMolarity(m.Temperature)
	}
	res.Structure = string(top) + species.Separator + string(bottom)
	return res, nil
}

func (e *NearestNeighbor) prepare(ctx context.Context, c species.Complex, m Model, op string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "evaluation cancelled").WithComponent(component).WithOperation(op)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if c.Size() > 2 {
		return nil, errors.Errorf(errors.KindConfiguration,
			"nearest-neighbour engine handles at most two strands, %s has %d", c.Key(), c.Size()).
			WithComponent(component).WithOperation(op)
	}
	strands := c.Strands()
	seqs := make([]string, len(strands))
	for i, s := range strands {
		seq := strings.ReplaceAll(s.Sequence(), "U", "T")
		if seq == "" || strings.Trim(seq, "ACGT") != "" {
			return nil, errors.Errorf(errors.KindInvalidArgument,
				"strand %s needs a non-empty A/C/G/T/U sequence, got %q", s.Name(), s.Sequence()).
				WithComponent(component).WithOperation(op)
		}
		seqs[i] = seq
	}
	return seqs, nil
}

func (e *NearestNeighbor) minPairs() int {
	if e.MinPairs < 2 {
		return DefaultMinPairs
	}
	return e.MinPairs
}

// helices lists every maximal run of Watson-Crick pairs between a and b in
// antiparallel registers, at least minPairs long.
func (e *NearestNeighbor) helices(a, b string, m Model) []helix {
	n, k := len(a), len(b)
	minPairs := e.minPairs()
	var out []helix
	for d := 0; d <= n+k-2; d++ {
		lo, hi := max(0, d-(k-1)), min(n-1, d)
		run := 0
		for i := lo; i <= hi+1; i++ {
			if i <= hi && pairs(a[i], b[d-i]) {
				run++
				continue
			}
			if run >= minPairs {
				start := i - run
				out = append(out, helix{i: start, j: d - start, pairs: run, dG: helixEnergy(a[start:i], m)})
			}
			run = 0
		}
	}
	return out
}

// helixEnergy is ΔG in kcal/mol of a perfect duplex whose top strand is top.
func helixEnergy(top string, m Model) float64 {
	dH, dS := initDH, initDS
	for t := 0; t+1 < len(top); t++ {
		p := stacks[top[t:t+2]]
		dH += p.dH
		dS += p.dS
	}
	if isAT(top[0]) {
		dH += terminalDH
		dS += terminalDS
	}
	if isAT(top[len(top)-1]) {
		dH += terminalDH
		dS += terminalDS
	}
	dS += saltSlope * float64(len(top)-1) * math.Log(m.EffectiveSodium())
	return dH - m.Temperature*dS/1000
}

func pairs(x, y byte) bool {
	switch x {
	case 'A':
		return y == 'T'
	case 'T':
		return y == 'A'
	case 'C':
		return y == 'G'
	case 'G':
		return y == 'C'
	}
	return false
}

func isAT(x byte) bool { return x == 'A' || x == 'T' }

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
