package analysis

import (
	"sort"

	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/species"
)

// Tube is a named mixture of strands at fixed total concentrations together
// with the set of complexes allowed to form in it.
type Tube struct {
	Name           string
	Strands        []species.Strand
	Concentrations []float64 // molar, aligned with Strands

	// MaxSize enumerates every complex of up to MaxSize strands. Zero means
	// monomers only.
	MaxSize int
	// Include adds complexes beyond MaxSize; Exclude removes complexes after
	// enumeration. Both match any rotation.
	Include []species.Complex
	Exclude []species.Complex
}

// Validate checks the tube on its own, without evaluating anything.
func (t Tube) Validate() error {
	const op = "Tube.Validate"

	if t.Name == "" {
		return errors.New(errors.KindInvalidArgument, "tube needs a name").
			WithComponent(component).WithOperation(op)
	}
	if len(t.Strands) == 0 {
		return errors.Errorf(errors.KindInvalidArgument, "tube %s has no strands", t.Name).
			WithComponent(component).WithOperation(op)
	}
	if len(t.Strands) != len(t.Concentrations) {
		return errors.Errorf(errors.KindInvalidArgument,
			"tube %s: strand number %d != concentration number %d", t.Name, len(t.Strands), len(t.Concentrations)).
			WithComponent(component).WithOperation(op)
	}
	seen := make(map[string]struct{}, len(t.Strands))
	for _, s := range t.Strands {
		if _, dup := seen[s.Name()]; dup {
			return errors.Errorf(errors.KindInvalidArgument, "tube %s lists strand %s twice", t.Name, s.Name()).
				WithComponent(component).WithOperation(op)
		}
		seen[s.Name()] = struct{}{}
	}
	if t.MaxSize < 0 {
		return errors.Errorf(errors.KindInvalidArgument, "tube %s: max size must not be negative, got %d", t.Name, t.MaxSize).
			WithComponent(component).WithOperation(op)
	}
	return nil
}

// Complexes returns the complexes of the tube as lowest rotations, sorted by
// size and then key.
func (t Tube) Complexes() ([]species.Complex, error) {
	const op = "Tube.Complexes"

	if err := t.Validate(); err != nil {
		return nil, err
	}
	idx, err := species.NewIndex(t.Strands)
	if err != nil {
		return nil, errors.Wrapf(err, "tube %s", t.Name).WithComponent(component).WithOperation(op)
	}

	maxSize := t.MaxSize
	if maxSize < 1 {
		maxSize = 1
	}
	generated, err := species.UpToSize(t.Strands, maxSize)
	if err != nil {
		return nil, err
	}
	set := make(map[string]species.Complex, len(generated)+len(t.Include))
	for _, c := range generated {
		set[c.Key()] = c
	}
	for _, c := range t.Include {
		if c.IsZero() {
			return nil, errors.Errorf(errors.KindInvalidArgument, "tube %s includes an empty complex", t.Name).
				WithComponent(component).WithOperation(op)
		}
		if _, err := idx.Counts(c); err != nil {
			return nil, errors.Wrapf(err, "tube %s includes %s", t.Name, c.Key()).
				WithComponent(component).WithOperation(op)
		}
		c = c.LowestRotation()
		set[c.Key()] = c
	}
	for _, c := range t.Exclude {
		delete(set, c.LowestRotation().Key())
	}

	out := make([]species.Complex, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size() != out[j].Size() {
			return out[i].Size() < out[j].Size()
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}
