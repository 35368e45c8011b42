package species

import (
	"math"
	"sort"

	"github.com/copyleftdev/equilibria/internal/errors"
)

// MaxEnumerated bounds how many complexes UpToSize will produce.
const MaxEnumerated = 1 << 20

// UpToSize returns every distinct complex of 1..maxSize strands drawn from
// strands, one representative per rotation class (its lowest rotation),
// sorted by size and then key.
func UpToSize(strands []Strand, maxSize int) ([]Complex, error) {
	const op = "UpToSize"

	if maxSize < 1 {
		return nil, errors.Errorf(errors.KindInvalidArgument, "max size must be at least 1, got %d", maxSize).
			WithComponent(component).WithOperation(op)
	}
	idx, err := NewIndex(strands)
	if err != nil {
		return nil, err
	}
	n := idx.Len()
	if n == 0 {
		return nil, nil
	}
	if float64(maxSize)*math.Log(float64(n)) > math.Log(MaxEnumerated) && n > 1 {
		return nil, errors.Errorf(errors.KindInvalidArgument,
			"%d strands up to size %d exceeds the enumeration limit", n, maxSize).
			WithComponent(component).WithOperation(op)
	}

	// Necklaces come out lexicographically smallest in alphabet order, so sort
	// the alphabet by name to make that the lowest rotation by name as well.
	alphabet := idx.Strands()
	sort.Slice(alphabet, func(i, j int) bool { return alphabet[i].name < alphabet[j].name })

	var out []Complex
	for size := 1; size <= maxSize; size++ {
		necklaces(size, n, func(a []int) {
			ss := make([]Strand, len(a))
			for i, k := range a {
				ss[i] = alphabet[k]
			}
			out = append(out, MustComplex(ss...))
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Size() != out[j].Size() {
			return out[i].Size() < out[j].Size()
		}
		return out[i].key < out[j].key
	})
	return out, nil
}

// necklaces emits each necklace of length k over an n-letter alphabet once,
// as its lexicographically smallest rotation (Fredricksen-Kessler-Maiorana).
// The emitted slice is reused between calls.
func necklaces(k, n int, emit func([]int)) {
	a := make([]int, k+1)
	var gen func(t, p int)
	gen = func(t, p int) {
		if t > k {
			if k%p == 0 {
				emit(a[1:])
			}
			return
		}
		a[t] = a[t-p]
		gen(t+1, p)
		for j := a[t-p] + 1; j < n; j++ {
			a[t] = j
			gen(t+1, t)
		}
	}
	gen(1, 1)
}
