package concentration

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/equilibria/internal/species"
)

const testTemperature = 298.15

// assertRelEqual checks that got is within relative tolerance tol of want.
func assertRelEqual(t *testing.T, want, got, tol float64, msgAndArgs ...interface{}) {
	t.Helper()
	scale := math.Max(math.Abs(want), math.Abs(got))
	if scale == 0 {
		return
	}
	if math.Abs(got-want)/scale > tol {
		require.Failf(t, "values differ", "want %g, got %g (relative tolerance %g) %v", want, got, tol, msgAndArgs)
	}
}

// assertConserved checks every strand total of res against want.
func assertConserved(t *testing.T, res *Result, want []float64, tol float64) {
	t.Helper()
	got := res.StrandTotals()
	require.Len(t, got, len(want))
	for i := range want {
		if want[i] == 0 {
			require.Zero(t, got[i], "strand %d", i)
			continue
		}
		assertRelEqual(t, want[i], got[i], tol, res.Strands()[i].Name())
	}
}

// assertNonNegative checks that no concentration is negative or NaN.
func assertNonNegative(t *testing.T, res *Result) {
	t.Helper()
	for k, c := range res.Concentrations() {
		require.False(t, math.IsNaN(c), "complex %s", res.Complexes()[k])
		require.GreaterOrEqual(t, c, 0.0, "complex %s", res.Complexes()[k])
	}
}

func entry(c species.Complex, logq float64) Entry {
	return Entry{Complex: c, LogQ: logq, Temperature: testTemperature}
}

// randomSystem builds every complex of up to maxSize strands over n strands,
// with larger complexes favoured more on average.
func randomSystem(t testing.TB, rng *rand.Rand, n, maxSize int) ([]species.Strand, []Entry) {
	t.Helper()
	return randomSystemSpread(t, rng, n, maxSize, 20)
}

// randomSystemSpread is randomSystem with the logq of a complex of n strands
// drawn uniformly from [0, (n-1)·spread].
func randomSystemSpread(t testing.TB, rng *rand.Rand, n, maxSize int, spread float64) ([]species.Strand, []Entry) {
	t.Helper()
	strands := make([]species.Strand, n)
	for i := range strands {
		strands[i] = species.MustStrand(string(rune('a'+i)), "")
	}
	complexes, err := species.UpToSize(strands, maxSize)
	require.NoError(t, err)

	entries := make([]Entry, len(complexes))
	for k, c := range complexes {
		entries[k] = entry(c, float64(c.Size()-1)*spread*rng.Float64())
	}
	return strands, entries
}

// randomTotals draws strand totals log-uniformly from [1e-9, 1e-5] M.
func randomTotals(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Pow(10, -9+4*rng.Float64())
	}
	return out
}
