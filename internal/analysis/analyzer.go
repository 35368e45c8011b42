// Package analysis evaluates test tubes. It computes the partition function
// of every complex any tube can form, once, and then solves each tube for its
// equilibrium concentrations.
package analysis

import (
	"context"
	"math"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/equilibria/internal/concentration"
	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/species"
	"github.com/copyleftdev/equilibria/internal/thermo"
)

const component = "analysis"

// Config controls an Analyzer.
type Config struct {
	// Workers bounds concurrent engine evaluations and tube solves. Values
	// below 1 mean GOMAXPROCS.
	Workers int
	Model   thermo.Model
	Solver  concentration.Options
	// Quantities are evaluated for every complex on top of the partition
	// function.
	Quantities []thermo.Quantity
}

// DefaultConfig returns the default model and solver settings.
func DefaultConfig() Config {
	return Config{
		Workers: runtime.GOMAXPROCS(0),
		Model:   thermo.DefaultModel(),
		Solver:  concentration.DefaultOptions(),
	}
}

// Validate checks the model, solver options and quantities.
func (c Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if err := c.Solver.Validate(); err != nil {
		return err
	}
	for _, q := range c.Quantities {
		if q != thermo.QuantityPfunc && q != thermo.QuantityMFE {
			return errors.Errorf(errors.KindInvalidArgument, "unknown quantity %q", q).
				WithComponent(component).WithOperation("Config.Validate")
		}
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Workers
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithObserver reports every tube solve to o.
func WithObserver(o concentration.Observer) Option {
	return func(a *Analyzer) { a.observer = o }
}

// Analyzer runs tube analyses against one engine. It is safe for concurrent
// use.
type Analyzer struct {
	cfg      Config
	engine   thermo.Engine
	logger   *zap.Logger
	observer concentration.Observer
}

// New returns an Analyzer. A nil logger discards output.
func New(cfg Config, engine thermo.Engine, logger *zap.Logger, opts ...Option) (*Analyzer, error) {
	const op = "New"

	if engine == nil {
		return nil, errors.New(errors.KindConfiguration, "analysis needs an engine").
			WithComponent(component).WithOperation(op)
	}
	if err := cfg.Validate(); err != nil {
		e := errors.Wrap(err, "invalid analysis config").WithComponent(component).WithOperation(op)
		e.Kind = errors.KindConfiguration
		return nil, e
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Analyzer{cfg: cfg, engine: engine, logger: logger.Named(component)}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the analyzer's configuration.
func (a *Analyzer) Config() Config { return a.cfg }

// Analyze evaluates the union of the tubes' complexes and solves every tube.
// A complex the engine reports as unsupported (KindConfiguration) is left
// without a partition function and excluded from the solves. Any other
// failure aborts the whole analysis.
func (a *Analyzer) Analyze(ctx context.Context, tubes ...Tube) (*Result, error) {
	const op = "Analyze"

	if len(tubes) == 0 {
		return nil, errors.New(errors.KindInvalidArgument, "no tubes given").
			WithComponent(component).WithOperation(op)
	}
	start := time.Now()

	perTube, union, err := a.complexes(tubes)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Model:     a.cfg.Model,
		complexes: union,
		pfuncs:    make(map[string]thermo.PfuncResult, len(union)),
		extra:     make(map[string][]thermo.Result, len(union)),
		byTube:    make(map[string]int, len(tubes)),
	}

	if err := a.evaluate(ctx, union, res); err != nil {
		return nil, err
	}

	res.tubes = make([]*TubeResult, len(tubes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.workers())
	for i := range tubes {
		i := i
		g.Go(func() error {
			tr, err := a.solve(gctx, tubes[i], perTube[i], res)
			if err != nil {
				return err
			}
			res.tubes[i] = tr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, t := range tubes {
		res.byTube[t.Name] = i
	}

	a.logger.Info("analysis complete",
		zap.Int("tubes", len(tubes)),
		zap.Int("complexes", len(union)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// complexes returns each tube's complexes and their union sorted by size and
// key.
func (a *Analyzer) complexes(tubes []Tube) ([][]species.Complex, []species.Complex, error) {
	const op = "Analyze"

	var all []species.Strand
	for _, t := range tubes {
		all = append(all, t.Strands...)
	}
	if _, err := species.NewIndex(all); err != nil {
		return nil, nil, errors.Wrap(err, "tubes disagree on a strand").WithComponent(component).WithOperation(op)
	}

	names := make(map[string]struct{}, len(tubes))
	perTube := make([][]species.Complex, len(tubes))
	set := make(map[string]species.Complex)
	for i, t := range tubes {
		if _, dup := names[t.Name]; dup {
			return nil, nil, errors.Errorf(errors.KindInvalidArgument, "tube %s given twice", t.Name).
				WithComponent(component).WithOperation(op)
		}
		names[t.Name] = struct{}{}

		cs, err := t.Complexes()
		if err != nil {
			return nil, nil, err
		}
		perTube[i] = cs
		for _, c := range cs {
			if _, ok := set[c.Key()]; !ok {
				set[c.Key()] = c
			}
		}
	}

	union := make([]species.Complex, 0, len(set))
	for _, c := range set {
		union = append(union, c)
	}
	sort.Slice(union, func(i, j int) bool {
		if union[i].Size() != union[j].Size() {
			return union[i].Size() < union[j].Size()
		}
		return union[i].Key() < union[j].Key()
	})
	return perTube, union, nil
}

// evaluate fills res with the engine's results for every complex in union.
func (a *Analyzer) evaluate(ctx context.Context, union []species.Complex, res *Result) error {
	pfuncs := make([]thermo.PfuncResult, len(union))
	extra := make([][]thermo.Result, len(union))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.workers())
	for i := range union {
		i, c := i, union[i]
		g.Go(func() error {
			r, err := a.engine.Pfunc(gctx, c, a.cfg.Model)
			switch {
			case errors.KindOf(err) == errors.KindConfiguration:
				a.logger.Warn("engine cannot evaluate complex", zap.String("complex", c.Key()), zap.Error(err))
				pfuncs[i] = thermo.PfuncResult{Complex: c, Model: a.cfg.Model, LogQ: math.NaN(), FreeEnergy: math.NaN()}
				return nil
			case err != nil:
				return errors.Wrapf(err, "evaluating %s", c.Key()).WithComponent(component).WithOperation("Analyze")
			}
			pfuncs[i] = r

			if len(a.cfg.Quantities) > 0 {
				extra[i], err = thermo.Evaluate(gctx, a.engine, c, a.cfg.Model, a.cfg.Quantities...)
				if err != nil {
					return errors.Wrapf(err, "evaluating %s", c.Key()).WithComponent(component).WithOperation("Analyze")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, c := range union {
		res.pfuncs[c.Key()] = pfuncs[i]
		if extra[i] != nil {
			res.extra[c.Key()] = extra[i]
		}
	}
	return nil
}

func (a *Analyzer) solve(ctx context.Context, t Tube, complexes []species.Complex, res *Result) (*TubeResult, error) {
	entries := make([]concentration.Entry, len(complexes))
	for k, c := range complexes {
		entries[k] = concentration.Entry{
			Complex:     c,
			LogQ:        res.pfuncs[c.Key()].LogQ,
			Temperature: a.cfg.Model.Temperature,
		}
	}

	opts := []concentration.Option{
		concentration.WithLogger(a.logger.With(zap.String("tube", t.Name))),
		concentration.WithDistinguishable(false),
		concentration.WithDefaults(a.cfg.Solver),
	}
	if a.observer != nil {
		opts = append(opts, concentration.WithObserver(a.observer))
	}
	solver, err := concentration.New(t.Strands, entries, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "tube %s", t.Name).WithComponent(component).WithOperation("Analyze")
	}
	solved, err := solver.Compute(ctx, t.Concentrations)
	if err != nil {
		return nil, errors.Wrapf(err, "tube %s", t.Name).WithComponent(component).WithOperation("Analyze")
	}
	return &TubeResult{Tube: t, Result: solved}, nil
}
