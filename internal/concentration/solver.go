// Package concentration solves for the equilibrium concentrations of every
// complex in a closed system of interacting nucleic-acid strands.
//
// Given a partition function per complex and a total concentration per
// strand, the law of mass action fixes each complex concentration as a
// product of per-strand activities. The activities are found by minimising a
// convex dual objective in log space, whose gradient is the violation of
// strand conservation.
package concentration

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/species"
	"github.com/copyleftdev/equilibria/internal/thermo"
)

const component = "concentration"

// Entry is the partition function of one complex as reported by a
// thermodynamic engine. A NaN LogQ marks a complex that was not evaluated.
type Entry struct {
	Complex     species.Complex
	LogQ        float64
	Temperature float64
}

// Solver holds a fixed universe of strands and complexes. It is immutable
// after New, so Compute may be called from many goroutines at once.
type Solver struct {
	index     *species.Index
	complexes []species.Complex
	logq      []float64
	counts    [][]float64
	byKey     map[string]int
	skipped   map[string]struct{}

	temperature     float64
	logWater        float64
	distinguishable bool
	defaults        Options

	logger   *zap.Logger
	observer Observer
}

// New builds a solver over strands and the complexes in entries. All
// entries must share one temperature and reference only the given strands.
// Entries with a NaN LogQ are dropped with a warning.
func New(strands []species.Strand, entries []Entry, opts ...Option) (*Solver, error) {
	const op = "New"

	s := &Solver{
		byKey:    make(map[string]int, len(entries)),
		skipped:  make(map[string]struct{}),
		defaults: DefaultOptions(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named(component)
	if err := s.defaults.Validate(); err != nil {
		e := errors.Wrap(err, "invalid default options").WithComponent(component).WithOperation(op)
		e.Kind = errors.KindConfiguration
		return nil, e
	}

	idx, err := species.NewIndex(strands)
	if err != nil {
		return nil, err
	}
	s.index = idx

	if len(entries) == 0 {
		return nil, errors.New(errors.KindConfiguration, "no complexes given").
			WithComponent(component).WithOperation(op)
	}
	s.temperature = entries[0].Temperature
	for _, e := range entries {
		if !(e.Temperature > 0) || math.IsInf(e.Temperature, 0) {
			return nil, errors.Errorf(errors.KindConfiguration,
				"complex %s has invalid temperature %g K", e.Complex.Key(), e.Temperature).
				WithComponent(component).WithOperation(op)
		}
		if math.Abs(e.Temperature-s.temperature) > 1e-9*s.temperature {
			return nil, errors.Errorf(errors.KindConfiguration,
				"inconsistent temperature across complexes: %g K and %g K", s.temperature, e.Temperature).
				WithComponent(component).WithOperation(op)
		}
		if e.Complex.IsZero() {
			return nil, errors.New(errors.KindConfiguration, "entry without a complex").
				WithComponent(component).WithOperation(op)
		}
		key := e.Complex.Key()
		if _, dup := s.byKey[key]; dup {
			return nil, errors.Errorf(errors.KindConfiguration, "complex %s given twice", key).
				WithComponent(component).WithOperation(op)
		}
		if _, dup := s.skipped[key]; dup {
			return nil, errors.Errorf(errors.KindConfiguration, "complex %s given twice", key).
				WithComponent(component).WithOperation(op)
		}
		counts, err := idx.Counts(e.Complex)
		if err != nil {
			return nil, errors.Wrap(err, "complex references unknown strand").
				WithComponent(component).WithOperation(op)
		}
		switch {
		case math.IsNaN(e.LogQ):
			s.logger.Warn("excluding complex without a partition function", zap.String("complex", key))
			s.skipped[key] = struct{}{}
			continue
		case math.IsInf(e.LogQ, 1):
			return nil, errors.Errorf(errors.KindConfiguration, "complex %s has infinite partition function", key).
				WithComponent(component).WithOperation(op)
		}
		s.byKey[key] = len(s.complexes)
		s.complexes = append(s.complexes, e.Complex)
		s.logq = append(s.logq, e.LogQ)
		s.counts = append(s.counts, counts)
	}
	s.logWater = thermo.LogWaterMolarity(s.temperature)
	return s, nil
}

// Strands returns the strand universe in conservation order.
func (s *Solver) Strands() []species.Strand { return s.index.Strands() }

// Complexes returns every complex with a partition function, in entry order.
func (s *Solver) Complexes() []species.Complex {
	return append([]species.Complex(nil), s.complexes...)
}

// Temperature returns the shared temperature in kelvin.
func (s *Solver) Temperature() float64 { return s.temperature }

// Distinguishable reports whether the symmetry correction is disabled.
func (s *Solver) Distinguishable() bool { return s.distinguishable }

// Compute returns the equilibrium concentration of every selected complex.
// By default concentrations holds one molar total per strand, in the order of
// Strands. Failures return no partial result.
func (s *Solver) Compute(ctx context.Context, concentrations []float64, opts ...ComputeOption) (*Result, error) {
	cfg := computeConfig{Options: s.defaults}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	res, err := s.compute(ctx, concentrations, cfg)
	stats := Stats{
		Method:    cfg.Method,
		Strands:   s.index.Len(),
		Duration:  time.Since(start),
		Converged: err == nil,
		Err:       err,
	}
	if res != nil {
		stats.Complexes = res.Len()
		stats.Iterations = res.Iterations
		stats.Residual = res.Residual
	}
	var ce *ConvergenceError
	if errors.As(err, &ce) {
		stats.Iterations = ce.Iterations
		stats.Residual = ce.Residual
		s.logger.Warn("solve did not converge",
			zap.Stringer("method", ce.Method),
			zap.Int("iter", ce.Iterations),
			zap.Float64("residual", ce.Residual),
			zap.Error(ce.Cause))
	}
	if s.observer != nil {
		s.observer.ObserveSolve(stats)
	}
	return res, err
}

func (s *Solver) compute(ctx context.Context, concentrations []float64, cfg computeConfig) (*Result, error) {
	const op = "Solver.Compute"

	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	selected, err := s.selection(cfg)
	if err != nil {
		return nil, err
	}
	totals, err := s.strandTotals(concentrations, selected, cfg.asComplexes)
	if err != nil {
		return nil, err
	}
	if cfg.initialGuess != nil && len(cfg.initialGuess) != s.index.Len() {
		return nil, errors.Errorf(errors.KindInvalidArgument,
			"strand number %d != initial guess number %d", s.index.Len(), len(cfg.initialGuess)).
			WithComponent(component).WithOperation(op)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	complexes := make([]species.Complex, len(selected))
	counts := make([][]float64, len(selected))
	logq := make([]float64, len(selected))
	for j, k := range selected {
		complexes[j] = s.complexes[k]
		counts[j] = s.counts[k]
		logq[j] = s.logq[k]
		if !s.distinguishable {
			logq[j] -= math.Log(float64(s.complexes[k].Symmetry()))
		}
	}

	strands := s.index.Strands()
	names := make([]string, len(strands))
	for i, st := range strands {
		names[i] = st.Name()
	}
	res := newResult(strands, complexes, counts, s.temperature)
	res.Method = cfg.Method

	sys, rowOf, err := newSystem(names, counts, logq, totals, s.logWater)
	if err != nil {
		return nil, err
	}
	if sys == nil {
		return res, nil
	}

	ws := getWorkspace(sys.size(), sys.dim(), len(sys.active))
	defer putWorkspace(ws)

	sys.initialGuess(ws.z, s.warmStart(sys, cfg.initialGuess))

	var iterations int
	var residual float64
	switch cfg.Method {
	case MethodNewton:
		iterations, residual, err = sys.newton(ctx, ws, cfg.Options, s.logger)
	default:
		iterations, residual, err = sys.trustRegion(ctx, ws, cfg.Options, s.logger)
	}
	if err != nil {
		return nil, err
	}
	res.Iterations, res.Residual = iterations, residual

	y := ws.full
	sys.toFull(ws.z, y)
	for i, a := range sys.active {
		res.logActivities[a] = y[i]
	}
	for k, row := range rowOf {
		if row < 0 {
			continue
		}
		v := logq[k] + sys.logShift
		for i, a := range sys.active {
			if c := counts[k][a]; c != 0 {
				v += c * y[i]
			}
		}
		res.concentrations[k] = sys.scale * math.Exp(v)
	}

	s.logger.Debug("solve converged",
		zap.Stringer("method", cfg.Method),
		zap.Int("iter", iterations),
		zap.Float64("residual", residual),
		zap.Int("complexes", len(complexes)),
		zap.Int("rank", sys.dim()))
	return res, nil
}

// selection returns the positions of the complexes taking part in the solve.
func (s *Solver) selection(cfg computeConfig) ([]int, error) {
	const op = "Solver.selection"

	if cfg.maxSize < 0 {
		return nil, errors.Errorf(errors.KindInvalidArgument, "max size must not be negative, got %d", cfg.maxSize).
			WithComponent(component).WithOperation(op)
	}
	keep := func(c species.Complex) bool { return cfg.maxSize == 0 || c.Size() <= cfg.maxSize }

	var selected []int
	if !cfg.hasComplexes {
		for k, c := range s.complexes {
			if keep(c) {
				selected = append(selected, k)
			}
		}
		return selected, nil
	}

	seen := make(map[int]struct{}, len(cfg.complexes))
	for _, c := range cfg.complexes {
		k, ok := s.byKey[c.Key()]
		if !ok {
			if _, skipped := s.skipped[c.Key()]; skipped {
				return nil, errors.Errorf(errors.KindNotFound, "complex %s has no partition function", c.Key()).
					WithComponent(component).WithOperation(op)
			}
			return nil, errors.Errorf(errors.KindNotFound, "unknown complex %s", c.Key()).
				WithComponent(component).WithOperation(op)
		}
		if _, dup := seen[k]; dup {
			return nil, errors.Errorf(errors.KindInvalidArgument, "complex %s requested twice", c.Key()).
				WithComponent(component).WithOperation(op)
		}
		seen[k] = struct{}{}
		if keep(s.complexes[k]) {
			selected = append(selected, k)
		}
	}
	return selected, nil
}

// strandTotals validates concentrations and converts them to molar strand
// totals.
func (s *Solver) strandTotals(concentrations []float64, selected []int, asComplexes bool) ([]float64, error) {
	const op = "Solver.strandTotals"

	for i, c := range concentrations {
		if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
			return nil, errors.Errorf(errors.KindInvalidArgument,
				"concentration %d is %g; concentrations must be finite and non-negative", i, c).
				WithComponent(component).WithOperation(op)
		}
	}
	n := s.index.Len()
	if !asComplexes {
		if len(concentrations) != n {
			return nil, errors.Errorf(errors.KindInvalidArgument,
				"strand number %d != concentration number %d", n, len(concentrations)).
				WithComponent(component).WithOperation(op)
		}
		return append([]float64(nil), concentrations...), nil
	}

	if len(concentrations) != len(selected) {
		return nil, errors.Errorf(errors.KindInvalidArgument,
			"complex number %d != concentration number %d", len(selected), len(concentrations)).
			WithComponent(component).WithOperation(op)
	}
	totals := make([]float64, n)
	for j, k := range selected {
		for i, v := range s.counts[k] {
			totals[i] += v * concentrations[j]
		}
	}
	return totals, nil
}

// warmStart maps a per-strand guess onto the active strands of sys, or
// returns nil when there is no usable guess.
func (s *Solver) warmStart(sys *system, guess []float64) []float64 {
	if guess == nil {
		return nil
	}
	y := make([]float64, len(sys.active))
	for i, a := range sys.active {
		if math.IsNaN(guess[a]) || math.IsInf(guess[a], 0) {
			s.logger.Debug("ignoring initial guess with non-finite entry",
				zap.String("strand", s.index.At(a).Name()))
			return nil
		}
		y[i] = guess[a]
	}
	return y
}
