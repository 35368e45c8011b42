package species

import (
	"github.com/copyleftdev/equilibria/internal/errors"
)

// Index assigns every strand of interest a stable integer position. The
// position is the strand's row in the conservation system. An Index is
// read-only after construction.
type Index struct {
	strands []Strand
	byName  map[string]int
}

// NewIndex builds an Index over strands, keeping first-seen order and dropping
// repeats. Two strands that share a name but differ in sequence are rejected.
func NewIndex(strands []Strand) (*Index, error) {
	const op = "NewIndex"

	idx := &Index{
		strands: make([]Strand, 0, len(strands)),
		byName:  make(map[string]int, len(strands)),
	}
	for _, s := range strands {
		if s.IsZero() {
			return nil, errors.New(errors.KindConfiguration, "zero strand in index").
				WithComponent(component).WithOperation(op)
		}
		if i, ok := idx.byName[s.name]; ok {
			if idx.strands[i] != s {
				return nil, errors.Errorf(errors.KindConfiguration,
					"strand %q given with two different sequences", s.name).
					WithComponent(component).WithOperation(op)
			}
			continue
		}
		idx.byName[s.name] = len(idx.strands)
		idx.strands = append(idx.strands, s)
	}
	return idx, nil
}

// Len returns the number of distinct strands.
func (x *Index) Len() int { return len(x.strands) }

// Strands returns a copy of the ordered strand list.
func (x *Index) Strands() []Strand {
	return append([]Strand(nil), x.strands...)
}

// At returns the strand at position i.
func (x *Index) At(i int) Strand { return x.strands[i] }

// Lookup returns the position of the strand named name.
func (x *Index) Lookup(name string) (int, bool) {
	i, ok := x.byName[name]
	return i, ok
}

// Contains reports whether s (same name and sequence) is indexed.
func (x *Index) Contains(s Strand) bool {
	i, ok := x.byName[s.name]
	return ok && x.strands[i] == s
}

// Counts returns, for complex c, how many copies of each indexed strand it
// holds. It fails with KindConfiguration when c references a strand outside
// the index.
func (x *Index) Counts(c Complex) ([]float64, error) {
	counts := make([]float64, len(x.strands))
	for _, s := range c.strands {
		i, ok := x.byName[s.name]
		if !ok || x.strands[i] != s {
			return nil, errors.Errorf(errors.KindConfiguration,
				"complex %s references unknown strand %q", c.Key(), s.name).
				WithComponent(component).WithOperation("Index.Counts")
		}
		counts[i]++
	}
	return counts, nil
}

// Positions returns the index position of each strand of c, in order.
func (x *Index) Positions(c Complex) ([]int, error) {
	pos := make([]int, len(c.strands))
	for k, s := range c.strands {
		i, ok := x.byName[s.name]
		if !ok || x.strands[i] != s {
			return nil, errors.Errorf(errors.KindConfiguration,
				"complex %s references unknown strand %q", c.Key(), s.name).
				WithComponent(component).WithOperation("Index.Positions")
		}
		pos[k] = i
	}
	return pos, nil
}
