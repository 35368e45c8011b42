package concentration

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/species"
)

// Method selects the iteration scheme used to minimise the dual objective.
type Method int

const (
	// MethodTrustRegion is a dogleg trust-region Newton method. It is the
	// default and the most robust for badly scaled systems.
	MethodTrustRegion Method = iota
	// MethodNewton is a line-search Newton method from gonum/optimize.
	MethodNewton
)

// String returns the method name as accepted by ParseMethod.
func (m Method) String() string {
	switch m {
	case MethodTrustRegion:
		return "trust_region"
	case MethodNewton:
		return "newton"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod parses a method name. The empty string selects the default.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trust_region", "trust-region", "dogleg":
		return MethodTrustRegion, nil
	case "newton":
		return MethodNewton, nil
	}
	return 0, errors.Errorf(errors.KindInvalidArgument, "unknown solver method %q", s).
		WithComponent(component).WithOperation("ParseMethod")
}

// Options holds the numerical settings of a solve.
type Options struct {
	Method Method
	// Tolerance bounds the largest relative conservation residual,
	// max_i |sum_k n_ki x_k - C_i| / C_i, at convergence.
	Tolerance float64
	// MaxIterations bounds the number of major iterations.
	MaxIterations int
	// Timeout bounds wall-clock time of one Compute call. Zero means no
	// limit beyond the caller's context.
	Timeout time.Duration
	// DeltaMin and DeltaMax bound the trust-region radius.
	DeltaMin float64
	DeltaMax float64
}

// DefaultOptions returns the settings used when none are given.
func DefaultOptions() Options {
	return Options{
		Method:        MethodTrustRegion,
		Tolerance:     1e-9,
		MaxIterations: 10000,
		DeltaMin:      1e-12,
		DeltaMax:      1000,
	}
}

// Validate checks that the options describe a usable solve.
func (o Options) Validate() error {
	const op = "Options.Validate"
	switch {
	case o.Method != MethodTrustRegion && o.Method != MethodNewton:
		return errors.Errorf(errors.KindInvalidArgument, "unknown solver method %s", o.Method).
			WithComponent(component).WithOperation(op)
	case !(o.Tolerance > 0) || math.IsInf(o.Tolerance, 0):
		return errors.Errorf(errors.KindInvalidArgument, "tolerance must be positive and finite, got %g", o.Tolerance).
			WithComponent(component).WithOperation(op)
	case o.MaxIterations < 1:
		return errors.Errorf(errors.KindInvalidArgument, "max iterations must be at least 1, got %d", o.MaxIterations).
			WithComponent(component).WithOperation(op)
	case o.Timeout < 0:
		return errors.Errorf(errors.KindInvalidArgument, "timeout must not be negative, got %s", o.Timeout).
			WithComponent(component).WithOperation(op)
	case !(o.DeltaMin > 0) || !(o.DeltaMax >= o.DeltaMin) || math.IsInf(o.DeltaMax, 0):
		return errors.Errorf(errors.KindInvalidArgument,
			"trust-region bounds must satisfy 0 < min <= max < inf, got [%g, %g]", o.DeltaMin, o.DeltaMax).
			WithComponent(component).WithOperation(op)
	}
	return nil
}

// Option configures a Solver at construction.
type Option func(*Solver)

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Solver) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDistinguishable controls the rotational symmetry correction. When false,
// the default, each complex's statistical weight is divided by its symmetry
// factor so rotations of identical strands are counted once.
func WithDistinguishable(distinguishable bool) Option {
	return func(s *Solver) { s.distinguishable = distinguishable }
}

// WithDefaults replaces the options used by Compute when the call does not
// override them.
func WithDefaults(o Options) Option {
	return func(s *Solver) { s.defaults = o }
}

// WithObserver registers a hook notified after every Compute call.
func WithObserver(o Observer) Option {
	return func(s *Solver) { s.observer = o }
}

// computeConfig is the per-call view assembled from ComputeOptions.
type computeConfig struct {
	Options
	complexes    []species.Complex
	hasComplexes bool
	maxSize      int
	asComplexes  bool
	initialGuess []float64
}

// ComputeOption configures a single Compute call.
type ComputeOption func(*computeConfig)

// WithComplexes restricts the solve to complexes, in the given order. Each
// complex must be known to the solver.
func WithComplexes(complexes ...species.Complex) ComputeOption {
	return func(c *computeConfig) {
		c.complexes = append([]species.Complex(nil), complexes...)
		c.hasComplexes = true
	}
}

// WithMaxSize drops complexes of more than n strands from the solve.
func WithMaxSize(n int) ComputeOption {
	return func(c *computeConfig) { c.maxSize = n }
}

// AsComplexConcentrations interprets the concentrations passed to Compute as
// one value per solved complex rather than one per strand. Strand totals are
// derived from them by stoichiometry.
func AsComplexConcentrations() ComputeOption {
	return func(c *computeConfig) { c.asComplexes = true }
}

// WithOptions replaces all numerical settings for the call.
func WithOptions(o Options) ComputeOption {
	return func(c *computeConfig) { c.Options = o }
}

// WithTolerance sets the relative conservation tolerance.
func WithTolerance(tol float64) ComputeOption {
	return func(c *computeConfig) { c.Tolerance = tol }
}

// WithMaxIterations sets the iteration budget.
func WithMaxIterations(n int) ComputeOption {
	return func(c *computeConfig) { c.MaxIterations = n }
}

// WithTimeout sets a wall-clock budget for the call.
func WithTimeout(d time.Duration) ComputeOption {
	return func(c *computeConfig) { c.Timeout = d }
}

// WithMethod selects the iteration scheme.
func WithMethod(m Method) ComputeOption {
	return func(c *computeConfig) { c.Method = m }
}

// WithDeltaBounds sets the trust-region radius bounds.
func WithDeltaBounds(min, max float64) ComputeOption {
	return func(c *computeConfig) {
		c.DeltaMin = min
		c.DeltaMax = max
	}
}

// WithInitialGuess warm-starts the solve from per-strand log activities, as
// returned by Result.LogActivities of an earlier solve at the same
// temperature. Entries for strands absent from the solve are ignored.
func WithInitialGuess(logActivities []float64) ComputeOption {
	return func(c *computeConfig) {
		c.initialGuess = append([]float64(nil), logActivities...)
	}
}
