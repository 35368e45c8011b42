package analysis

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/equilibria/internal/concentration"
	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/species"
	"github.com/copyleftdev/equilibria/internal/thermo"
)

// tableEngine serves partition functions from a map keyed by complex key.
// Missing keys get log q = 0 and complexes of more than two strands are
// unsupported.
type tableEngine struct {
	logq  map[string]float64
	fail  map[string]error
	calls atomic.Int64
}

func (e *tableEngine) Pfunc(_ context.Context, c species.Complex, m thermo.Model) (thermo.PfuncResult, error) {
	e.calls.Add(1)
	if err, ok := e.fail[c.Key()]; ok {
		return thermo.PfuncResult{}, err
	}
	if c.Size() > 2 {
		return thermo.PfuncResult{}, errors.New(errors.KindConfiguration, "too many strands")
	}
	return thermo.PfuncResult{Complex: c, Model: m, LogQ: e.logq[c.Key()]}, nil
}

func (e *tableEngine) MFE(_ context.Context, c species.Complex, m thermo.Model) (thermo.MfeResult, error) {
	return thermo.MfeResult{Complex: c, Model: m}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	return cfg
}

func TestTubeComplexes(t *testing.T) {
	a := species.MustStrand("a", "GCGC")
	b := species.MustStrand("b", "ATAT")

	tube := Tube{
		Name:           "t",
		Strands:        []species.Strand{a, b},
		Concentrations: []float64{1e-6, 1e-6},
		MaxSize:        2,
		Include:        []species.Complex{species.MustComplex(b, a, a)},
		Exclude:        []species.Complex{species.MustComplex(b, b)},
	}
	cs, err := tube.Complexes()
	require.NoError(t, err)
	keys := make([]string, len(cs))
	for i, c := range cs {
		keys[i] = c.Key()
	}
	assert.Equal(t, []string{"a", "b", "a+a", "a+b", "a+a+b"}, keys)

	tube.MaxSize = 0
	tube.Include, tube.Exclude = nil, nil
	cs, err = tube.Complexes()
	require.NoError(t, err)
	assert.Len(t, cs, 2)
}

func TestTubeValidate(t *testing.T) {
	a := species.MustStrand("a", "GCGC")
	foreign := species.MustStrand("z", "AAAA")

	tests := []struct {
		name string
		tube Tube
		want error
	}{
		{"no name", Tube{Strands: []species.Strand{a}, Concentrations: []float64{1}}, errors.ErrInvalidArgument},
		{"no strands", Tube{Name: "t"}, errors.ErrInvalidArgument},
		{"length mismatch", Tube{Name: "t", Strands: []species.Strand{a}, Concentrations: []float64{1, 2}}, errors.ErrInvalidArgument},
		{"duplicate strand", Tube{Name: "t", Strands: []species.Strand{a, a}, Concentrations: []float64{1, 2}}, errors.ErrInvalidArgument},
		{"negative size", Tube{Name: "t", Strands: []species.Strand{a}, Concentrations: []float64{1}, MaxSize: -1}, errors.ErrInvalidArgument},
		{"foreign include", Tube{
			Name: "t", Strands: []species.Strand{a}, Concentrations: []float64{1},
			Include: []species.Complex{species.MustComplex(a, foreign)},
		}, errors.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.tube.Complexes()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAnalyze(t *testing.T) {
	a := species.MustStrand("a", "GCGC")
	b := species.MustStrand("b", "ATAT")
	engine := &tableEngine{logq: map[string]float64{"a+b": 30}}

	var solves atomic.Int64
	an, err := New(testConfig(), engine, zaptest.NewLogger(t),
		WithObserver(concentration.ObserverFunc(func(s concentration.Stats) {
			solves.Add(1)
			assert.True(t, s.Converged)
		})))
	require.NoError(t, err)

	both := Tube{Name: "both", Strands: []species.Strand{a, b}, Concentrations: []float64{1e-6, 2e-6}, MaxSize: 2}
	alone := Tube{Name: "alone", Strands: []species.Strand{a}, Concentrations: []float64{1e-6}, MaxSize: 2}

	res, err := an.Analyze(context.Background(), both, alone)
	require.NoError(t, err)

	// a, b, a+a, a+b, b+b are each evaluated once across both tubes.
	assert.Len(t, res.Complexes(), 5)
	assert.EqualValues(t, 5, engine.calls.Load())
	assert.EqualValues(t, 2, solves.Load())

	p, err := res.Pfunc(species.MustComplex(b, a))
	require.NoError(t, err)
	assert.Equal(t, 30.0, p.LogQ)

	tr, err := res.Tube("both")
	require.NoError(t, err)
	totals := tr.StrandTotals()
	assert.InEpsilon(t, 1e-6, totals[0], 1e-6)
	assert.InEpsilon(t, 2e-6, totals[1], 1e-6)

	ab, err := tr.Concentration(species.MustComplex(b, a))
	require.NoError(t, err)
	assert.Greater(t, ab, 0.99e-6)

	tr, err = res.Tube("alone")
	require.NoError(t, err)
	assert.InEpsilon(t, 1e-6, tr.StrandTotals()[0], 1e-6)
	_, err = tr.ByName("a+b")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	require.Len(t, res.Tubes(), 2)
	assert.Equal(t, "both", res.Tubes()[0].Tube.Name)

	_, err = res.Tube("missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	_, err = res.Pfunc(species.MustComplex(b, b, b))
	assert.ErrorIs(t, err, errors.ErrNotFound)
	_, err = res.MFE(species.MustComplex(a))
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestAnalyzeExcludesUnsupportedComplexes(t *testing.T) {
	a := species.MustStrand("a", "GCGC")
	engine := &tableEngine{logq: map[string]float64{}}
	an, err := New(testConfig(), engine, nil)
	require.NoError(t, err)

	tube := Tube{Name: "t", Strands: []species.Strand{a}, Concentrations: []float64{1e-6}, MaxSize: 3}
	res, err := an.Analyze(context.Background(), tube)
	require.NoError(t, err)

	p, err := res.Pfunc(species.MustComplex(a, a, a))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(p.LogQ))

	tr, err := res.Tube("t")
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Len())
	_, err = tr.ByName("a+a+a")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestAnalyzeNearestNeighbor(t *testing.T) {
	x := species.MustStrand("x", "GATTACAGGC")
	xc := species.MustStrand("xc", "GCCTGTAATC")

	cfg := testConfig()
	cfg.Quantities = []thermo.Quantity{thermo.QuantityMFE}
	an, err := New(cfg, thermo.NewCache(thermo.NewNearestNeighbor(), 64), zaptest.NewLogger(t))
	require.NoError(t, err)

	tube := Tube{Name: "duplex", Strands: []species.Strand{x, xc}, Concentrations: []float64{1e-6, 1e-6}, MaxSize: 2}
	res, err := an.Analyze(context.Background(), tube)
	require.NoError(t, err)

	tr, err := res.Tube("duplex")
	require.NoError(t, err)
	duplex, err := tr.ByName("x+xc")
	require.NoError(t, err)
	assert.Greater(t, duplex, 0.5e-6)
	for name, c := range tr.ComplexConcentrations() {
		assert.LessOrEqual(t, c, duplex, name)
	}

	mfe, err := res.MFE(species.MustComplex(xc, x))
	require.NoError(t, err)
	assert.Equal(t, "((((((((((+))))))))))", mfe.Structure)
	assert.Less(t, mfe.Energy, 0.0)
}

func TestAnalyzeErrors(t *testing.T) {
	a := species.MustStrand("a", "GCGC")
	other := species.MustStrand("a", "ATAT")
	ctx := context.Background()
	tube := Tube{Name: "t", Strands: []species.Strand{a}, Concentrations: []float64{1e-6}, MaxSize: 2}

	an, err := New(testConfig(), &tableEngine{}, nil)
	require.NoError(t, err)

	_, err = an.Analyze(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	_, err = an.Analyze(ctx, tube, tube)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	conflict := Tube{Name: "u", Strands: []species.Strand{other}, Concentrations: []float64{1e-6}}
	_, err = an.Analyze(ctx, tube, conflict)
	assert.ErrorIs(t, err, errors.ErrConfiguration)

	negative := Tube{Name: "n", Strands: []species.Strand{a}, Concentrations: []float64{-1}}
	res, err := an.Analyze(ctx, negative)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	assert.Nil(t, res)

	failing := &tableEngine{fail: map[string]error{
		"a+a": errors.New(errors.KindInvalidArgument, "bad sequence"),
	}}
	an, err = New(testConfig(), failing, nil)
	require.NoError(t, err)
	res, err = an.Analyze(ctx, tube)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	assert.Nil(t, res)

	nn, err := New(testConfig(), thermo.NewNearestNeighbor(), nil)
	require.NoError(t, err)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = nn.Analyze(cancelled, tube)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewErrors(t *testing.T) {
	_, err := New(testConfig(), nil, nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)

	cfg := testConfig()
	cfg.Model.Temperature = -1
	_, err = New(cfg, &tableEngine{}, nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)

	cfg = testConfig()
	cfg.Quantities = []thermo.Quantity{"pairs"}
	_, err = New(cfg, &tableEngine{}, nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}
