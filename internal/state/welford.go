package state

import "math"

// Welford computes a running mean and variance in one pass (Welford's
// online algorithm), numerically stable for long-lived streams.
type Welford struct {
	count int
	mean  float64
	m2    float64
}

// Update folds a new sample into the running statistics.
func (w *Welford) Update(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	delta2 := x - w.mean
	w.m2 += delta * delta2
}

// Mean returns the running mean.
func (w *Welford) Mean() float64 {
	return w.mean
}

// Variance returns the running (population) variance.
func (w *Welford) Variance() float64 {
	if w.count < 2 {
		return 0
	}
	return w.m2 / float64(w.count)
}

// StdDev returns the running standard deviation.
func (w *Welford) StdDev() float64 {
	return math.Sqrt(w.Variance())
}

// Count returns the number of samples folded in so far.
func (w *Welford) Count() int {
	return w.count
}

// ZScore returns (x - mean) / stddev, or 0 if stddev is 0 or undefined.
func (w *Welford) ZScore(x float64) float64 {
	sd := w.StdDev()
	if sd == 0 {
		return 0
	}
	return (x - w.mean) / sd
}

// EWMA is an exponentially weighted moving average baseline.
type EWMA struct {
	alpha       float64
	value       float64
	initialized bool
}

// NewEWMA creates an EWMA with smoothing factor alpha in (0,1).
func NewEWMA(alpha float64) *EWMA {
	return &EWMA{alpha: alpha}
}

// Update folds in a new sample and returns the updated baseline.
func (e *EWMA) Update(x float64) float64 {
	if !e.initialized {
		e.value = x
		e.initialized = true
		return e.value
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
	return e.value
}

// Value returns the current baseline (0 if never updated).
func (e *EWMA) Value() float64 {
	return e.value
}

// Initialized reports whether Update has been called at least once.
func (e *EWMA) Initialized() bool {
	return e.initialized
}
