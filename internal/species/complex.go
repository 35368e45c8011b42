package species

import (
	"strings"

	"github.com/copyleftdev/equilibria/internal/errors"
)

// Separator joins strand names in a complex key.
const Separator = "+"

// Complex is an ordered association of strands. Order matters: it fixes the
// rotational symmetry and the identity of the complex. Complexes are
// immutable; equality is by Key.
type Complex struct {
	strands  []Strand
	key      string
	name     string
	symmetry int
}

// NewComplex builds a complex from one or more strands in the given order.
func NewComplex(strands ...Strand) (Complex, error) {
	if len(strands) == 0 {
		return Complex{}, errors.New(errors.KindConfiguration, "complex needs at least one strand").
			WithComponent(component).WithOperation("NewComplex")
	}
	names := make([]string, len(strands))
	for i, s := range strands {
		if s.IsZero() {
			return Complex{}, errors.New(errors.KindConfiguration, "complex contains a zero strand").
				WithComponent(component).WithOperation("NewComplex")
		}
		names[i] = s.name
	}
	key := strings.Join(names, Separator)
	return Complex{
		strands:  append([]Strand(nil), strands...),
		key:      key,
		name:     key,
		symmetry: RotationalSymmetry(names),
	}, nil
}

// MustComplex is NewComplex that panics on error. Intended for fixtures.
func MustComplex(strands ...Strand) Complex {
	c, err := NewComplex(strands...)
	if err != nil {
		panic(err)
	}
	return c
}

// WithName returns a copy of c carrying a display name. The key, and so the
// identity, is unchanged.
func (c Complex) WithName(name string) Complex {
	if name = strings.TrimSpace(name); name != "" {
		c.name = name
	}
	return c
}

// Strands returns a copy of the ordered strands.
func (c Complex) Strands() []Strand { return append([]Strand(nil), c.strands...) }

// Size returns the number of strands.
func (c Complex) Size() int { return len(c.strands) }

// Key is the identity of the complex: strand names joined by Separator.
func (c Complex) Key() string { return c.key }

// Name returns the display name, which defaults to the key.
func (c Complex) Name() string { return c.name }

// Symmetry returns the rotational symmetry factor, at least 1 for a valid
// complex.
func (c Complex) Symmetry() int { return c.symmetry }

// IsZero reports whether c is the zero Complex.
func (c Complex) IsZero() bool { return len(c.strands) == 0 }

// Equal reports whether c and o hold the same strands in the same order.
func (c Complex) Equal(o Complex) bool { return c.key == o.key }

// LowestRotation returns the cyclic rotation of c whose strand names are
// lexicographically smallest. Rotations describe the same physical complex.
func (c Complex) LowestRotation() Complex {
	n := len(c.strands)
	if n < 2 {
		return c
	}
	best := 0
	for r := 1; r < n; r++ {
		if lessRotation(c.strands, r, best) {
			best = r
		}
	}
	if best == 0 {
		return c
	}
	rotated := make([]Strand, 0, n)
	rotated = append(rotated, c.strands[best:]...)
	rotated = append(rotated, c.strands[:best]...)
	out := MustComplex(rotated...)
	if c.name != c.key {
		out.name = c.name
	}
	return out
}

func lessRotation(s []Strand, a, b int) bool {
	n := len(s)
	for i := 0; i < n; i++ {
		x, y := s[(a+i)%n].name, s[(b+i)%n].name
		if x != y {
			return x < y
		}
	}
	return false
}

func (c Complex) String() string { return c.name }

// RotationalSymmetry returns how many cyclic rotations of v map v onto
// itself: n divided by the smallest period of v that divides n.
func RotationalSymmetry[T comparable](v []T) int {
	n := len(v)
	for p := 1; p <= n/2; p++ {
		if n%p != 0 {
			continue
		}
		periodic := true
		for j := 0; j+p < n; j++ {
			if v[j] != v[j+p] {
				periodic = false
				break
			}
		}
		if periodic {
			return n / p
		}
	}
	return 1
}
