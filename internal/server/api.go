package server

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/copyleftdev/equilibria/internal/analysis"
	"github.com/copyleftdev/equilibria/internal/concentration"
	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/species"
	"github.com/copyleftdev/equilibria/internal/thermo"
)

// Float is a float64 whose non-finite values travel as the JSON strings
// "NaN", "+Inf" and "-Inf".
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Errorf(errors.KindInvalidArgument, "invalid number %q", s)
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

func floats(v []Float) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func toFloats(v []float64) []Float {
	out := make([]Float, len(v))
	for i, x := range v {
		out[i] = Float(x)
	}
	return out
}

type StrandSpec struct {
	Name          string `json:"name"`
	Sequence      string `json:"sequence,omitempty"`
	Concentration Float  `json:"concentration,omitempty"`
}

type ComplexSpec struct {
	Name    string   `json:"name,omitempty"`
	Strands []string `json:"strands"`
	LogQ    Float    `json:"log_q"`
}

// EquilibriumRequest is a single solve over caller-supplied partition
// functions.
type EquilibriumRequest struct {
	Strands   []StrandSpec  `json:"strands"`
	Complexes []ComplexSpec `json:"complexes"`
	// Temperature in kelvin. Zero selects the configured default.
	Temperature     float64    `json:"temperature,omitempty"`
	Concentrations  []Float    `json:"concentrations"`
	Distinguishable bool       `json:"distinguishable,omitempty"`
	AsComplexes     bool       `json:"as_complexes,omitempty"`
	Select          [][]string `json:"select,omitempty"`
	MaxSize         int        `json:"max_size,omitempty"`
	Method          string     `json:"method,omitempty"`
	Tolerance       float64    `json:"tolerance,omitempty"`
	MaxIterations   int        `json:"max_iterations,omitempty"`
	InitialGuess    []Float    `json:"initial_guess,omitempty"`
}

type ComplexConcentration struct {
	Name          string   `json:"name"`
	Strands       []string `json:"strands"`
	Concentration Float    `json:"concentration"`
}

type EquilibriumResponse struct {
	Temperature   float64                `json:"temperature"`
	Method        string                 `json:"method"`
	Iterations    int                    `json:"iterations"`
	Residual      Float                  `json:"residual"`
	Complexes     []ComplexConcentration `json:"complexes"`
	StrandTotals  []Float                `json:"strand_totals"`
	LogActivities []Float                `json:"log_activities"`
}

type TubeSpec struct {
	Name    string       `json:"name"`
	Strands []StrandSpec `json:"strands"`
	MaxSize int          `json:"max_size"`
	Include [][]string   `json:"include,omitempty"`
	Exclude [][]string   `json:"exclude,omitempty"`
}

// AnalysisRequest starts an asynchronous tube analysis.
type AnalysisRequest struct {
	Tubes []TubeSpec `json:"tubes"`
	// Model overrides the configured conditions when set.
	Model *thermo.Model `json:"model,omitempty"`
	MFE   bool          `json:"mfe,omitempty"`
}

type TubeReport struct {
	Name         string                 `json:"name"`
	Complexes    []ComplexConcentration `json:"complexes"`
	StrandTotals []Float                `json:"strand_totals"`
	Iterations   int                    `json:"iterations"`
}

type ComplexReport struct {
	Name       string `json:"name"`
	LogQ       Float  `json:"log_q"`
	FreeEnergy Float  `json:"free_energy"`
	Structure  string `json:"mfe_structure,omitempty"`
	MFE        *Float `json:"mfe,omitempty"`
}

type JobReport struct {
	ID         string          `json:"analysis_id"`
	Status     JobStatus       `json:"status"`
	StartTime  string          `json:"start_time"`
	LastUpdate string          `json:"last_update"`
	EndTime    string          `json:"end_time,omitempty"`
	Error      string          `json:"error,omitempty"`
	Tubes      []TubeReport    `json:"tubes,omitempty"`
	Complexes  []ComplexReport `json:"complexes,omitempty"`
}

func strandsFrom(specs []StrandSpec) ([]species.Strand, map[string]species.Strand, error) {
	out := make([]species.Strand, len(specs))
	byName := make(map[string]species.Strand, len(specs))
	for i, sp := range specs {
		s, err := species.NewStrand(sp.Name, sp.Sequence)
		if err != nil {
			return nil, nil, invalid(err)
		}
		out[i] = s
		byName[s.Name()] = s
	}
	return out, byName, nil
}

func complexFrom(names []string, byName map[string]species.Strand) (species.Complex, error) {
	strands := make([]species.Strand, len(names))
	for i, n := range names {
		s, ok := byName[n]
		if !ok {
			return species.Complex{}, errors.Errorf(errors.KindInvalidArgument, "unknown strand %q", n).
				WithComponent(component)
		}
		strands[i] = s
	}
	c, err := species.NewComplex(strands...)
	if err != nil {
		return species.Complex{}, invalid(err)
	}
	return c, nil
}

// invalid reclassifies a construction error caused by request content.
func invalid(err error) error {
	e := errors.Wrap(err, "invalid request").WithComponent(component)
	e.Kind = errors.KindInvalidArgument
	return e
}

func tubeFrom(spec TubeSpec) (analysis.Tube, error) {
	strands, byName, err := strandsFrom(spec.Strands)
	if err != nil {
		return analysis.Tube{}, err
	}
	t := analysis.Tube{
		Name:           spec.Name,
		Strands:        strands,
		Concentrations: make([]float64, len(spec.Strands)),
		MaxSize:        spec.MaxSize,
	}
	for i, sp := range spec.Strands {
		t.Concentrations[i] = float64(sp.Concentration)
	}
	for _, names := range spec.Include {
		c, err := complexFrom(names, byName)
		if err != nil {
			return analysis.Tube{}, err
		}
		t.Include = append(t.Include, c)
	}
	for _, names := range spec.Exclude {
		c, err := complexFrom(names, byName)
		if err != nil {
			return analysis.Tube{}, err
		}
		t.Exclude = append(t.Exclude, c)
	}
	return t, nil
}

func concentrationsOf(r *concentration.Result) []ComplexConcentration {
	cs := r.Complexes()
	values := r.Concentrations()
	out := make([]ComplexConcentration, len(cs))
	for k, c := range cs {
		names := make([]string, 0, c.Size())
		for _, s := range c.Strands() {
			names = append(names, s.Name())
		}
		out[k] = ComplexConcentration{Name: c.Name(), Strands: names, Concentration: Float(values[k])}
	}
	return out
}

func reportOf(job *Job) JobReport {
	rep := JobReport{
		ID:         job.ID,
		Status:     job.Status,
		StartTime:  job.StartTime.Format(time.RFC3339),
		LastUpdate: job.LastUpdated.Format(time.RFC3339),
	}
	if job.EndTime != nil {
		rep.EndTime = job.EndTime.Format(time.RFC3339)
	}
	if job.Err != nil {
		rep.Error = job.Err.Error()
	}
	if job.Result == nil {
		return rep
	}
	for _, tr := range job.Result.Tubes() {
		rep.Tubes = append(rep.Tubes, TubeReport{
			Name:         tr.Tube.Name,
			Complexes:    concentrationsOf(tr.Result),
			StrandTotals: toFloats(tr.StrandTotals()),
			Iterations:   tr.Iterations,
		})
	}
	for _, c := range job.Result.Complexes() {
		p, err := job.Result.Pfunc(c)
		if err != nil {
			continue
		}
		cr := ComplexReport{Name: c.Name(), LogQ: Float(p.LogQ), FreeEnergy: Float(p.FreeEnergy)}
		if m, err := job.Result.MFE(c); err == nil {
			e := Float(m.Energy)
			cr.MFE = &e
			cr.Structure = m.Structure
		}
		rep.Complexes = append(rep.Complexes, cr)
	}
	return rep
}
