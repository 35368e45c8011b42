package concentration

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// workspace holds the scratch buffers of one solve. Workspaces are pooled so
// repeated and concurrent Compute calls reuse allocations without sharing
// them: a workspace belongs to exactly one call between get and put.
type workspace struct {
	// per unique complex
	logx, x           []float64
	trialLogx, trialX []float64
	// per basis direction
	z, grad, trial, trialGrad []float64
	step, newton, cauchy      []float64
	hv                        []float64
	// per active strand
	full []float64

	hess *mat.SymDense
}

var workspaces = sync.Pool{
	New: func() any { return new(workspace) },
}

// getWorkspace returns a workspace sized for m complexes, r basis directions
// and n active strands. All buffers are zeroed.
func getWorkspace(m, r, n int) *workspace {
	w := workspaces.Get().(*workspace)
	w.logx = grow(w.logx, m)
	w.x = grow(w.x, m)
	w.trialLogx = grow(w.trialLogx, m)
	w.trialX = grow(w.trialX, m)

	w.z = grow(w.z, r)
	w.grad = grow(w.grad, r)
	w.trial = grow(w.trial, r)
	w.trialGrad = grow(w.trialGrad, r)
	w.step = grow(w.step, r)
	w.newton = grow(w.newton, r)
	w.cauchy = grow(w.cauchy, r)
	w.hv = grow(w.hv, r)

	w.full = grow(w.full, n)

	if w.hess == nil || w.hess.SymmetricDim() != r {
		w.hess = mat.NewSymDense(r, nil)
	} else {
		w.hess.Zero()
	}
	return w
}

func putWorkspace(w *workspace) {
	workspaces.Put(w)
}

func grow(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}
	buf = buf[:n]
	clear(buf)
	return buf
}
