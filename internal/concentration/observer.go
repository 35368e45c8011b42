package concentration

import "time"

// Stats summarises one Compute call for observers.
type Stats struct {
	Method     Method
	Strands    int
	Complexes  int
	Iterations int
	Residual   float64
	Duration   time.Duration
	Converged  bool
	// Err is nil for a successful solve.
	Err error
}

// Observer receives Stats after every Compute call, successful or not.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveSolve(Stats)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Stats)

// ObserveSolve calls f(s).
func (f ObserverFunc) ObserveSolve(s Stats) { f(s) }
