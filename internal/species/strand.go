// Package species models the chemical identities the equilibrium solver
// conserves: strands, ordered multi-strand complexes, and the index that
// assigns each strand a conservation row.
package species

import (
	"strings"

	"github.com/copyleftdev/equilibria/internal/errors"
)

const component = "species"

// Strand is an immutable nucleic-acid species. Identity is by name; the
// sequence is informational for engines that need it.
type Strand struct {
	name     string
	sequence string
}

// NewStrand returns a strand with the given name and sequence. The sequence is
// upper-cased and may be empty for engines that only need identities.
func NewStrand(name, sequence string) (Strand, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Strand{}, errors.New(errors.KindConfiguration, "strand name must not be empty").
			WithComponent(component).WithOperation("NewStrand")
	}
	if strings.ContainsAny(name, "+ \t\n") {
		return Strand{}, errors.Errorf(errors.KindConfiguration, "strand name %q contains a separator", name).
			WithComponent(component).WithOperation("NewStrand")
	}
	return Strand{name: name, sequence: strings.ToUpper(strings.TrimSpace(sequence))}, nil
}

// MustStrand is NewStrand that panics on error. Intended for fixtures.
func MustStrand(name, sequence string) Strand {
	s, err := NewStrand(name, sequence)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the strand name.
func (s Strand) Name() string { return s.name }

// Sequence returns the upper-cased sequence, possibly empty.
func (s Strand) Sequence() string { return s.sequence }

// Len returns the number of nucleotides.
func (s Strand) Len() int { return len(s.sequence) }

// IsZero reports whether s is the zero Strand.
func (s Strand) IsZero() bool { return s.name == "" }

func (s Strand) String() string { return s.name }
