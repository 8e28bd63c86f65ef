package state

// series bundles a ring buffer, EWMA baseline, and Welford running
// statistics for one rolling quantity (mid-price, spread, depth, ...).
type series struct {
	buf     *RingBuffer
	ewma    *EWMA
	welford Welford
}

func newSeries(capacity int, alpha float64) *series {
	return &series{
		buf:  NewRingBuffer(capacity),
		ewma: NewEWMA(alpha),
	}
}

// push folds a new sample into the buffer, EWMA, and Welford stats.
func (s *series) push(x float64) {
	s.buf.Push(x)
	s.ewma.Update(x)
	s.welford.Update(x)
}

// zScore returns 0 until minSampleSize samples have been folded in.
func (s *series) zScore(x float64, minSampleSize int) float64 {
	if s.welford.Count() < minSampleSize {
		return 0
	}
	return s.welford.ZScore(x)
}

func (s *series) warmedUp(minSampleSize int) bool {
	return s.welford.Count() >= minSampleSize
}
