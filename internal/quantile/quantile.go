// Package quantile computes exact extreme order statistics over a huge
// stream of values without sorting or materializing it.
//
// Each worker feeds its values into a Local holding two bounded heaps of
// size L: a max-heap of the L smallest values seen and a min-heap of the
// L largest. Locals merge into the global Estimator under one short lock
// per worker. Draining the global heaps into sorted arrays then yields
// the true value at any rank within L of either boundary.
//
// The bound is a checked precondition, not a silent assumption: Cutoffs
// returns an error when L turned out too small for the realized ranks,
// instead of degrading to an approximate answer.
package quantile

import (
	"container/heap"
	"fmt"
	"math"
	"sort"
	"sync"
)

// f32Heap is a binary heap of float32. With max set the largest value
// sits at the root.
type f32Heap struct {
	v   []float32
	max bool
}

func (h *f32Heap) Len() int { return len(h.v) }
func (h *f32Heap) Less(i, j int) bool {
	if h.max {
		return h.v[i] > h.v[j]
	}
	return h.v[i] < h.v[j]
}
func (h *f32Heap) Swap(i, j int) { h.v[i], h.v[j] = h.v[j], h.v[i] }
func (h *f32Heap) Push(x any)    { h.v = append(h.v, x.(float32)) }
func (h *f32Heap) Pop() any {
	n := len(h.v)
	x := h.v[n-1]
	h.v = h.v[:n-1]
	return x
}

// offerLow keeps the bound smallest values in a max-heap: when full, a
// smaller value replaces the current maximum.
func offerLow(h *f32Heap, bound int, v float32) {
	if len(h.v) < bound {
		heap.Push(h, v)
		return
	}
	if v < h.v[0] {
		h.v[0] = v
		heap.Fix(h, 0)
	}
}

// offerHigh keeps the bound largest values in a min-heap.
func offerHigh(h *f32Heap, bound int, v float32) {
	if len(h.v) < bound {
		heap.Push(h, v)
		return
	}
	if v > h.v[0] {
		h.v[0] = v
		heap.Fix(h, 0)
	}
}

// Local is one worker's private accumulation state. Not safe for
// concurrent use.
type Local struct {
	bound int
	low   f32Heap
	high  f32Heap
	n     uint64
}

// Offer feeds one value. Non-finite values must be filtered by the
// caller; every offered value counts toward the total.
func (l *Local) Offer(v float32) {
	l.n++
	offerLow(&l.low, l.bound, v)
	offerHigh(&l.high, l.bound, v)
}

// Count returns the number of values offered.
func (l *Local) Count() uint64 { return l.n }

// Estimator aggregates per-worker tails into global bounded heaps.
type Estimator struct {
	bound int
	qLo   float64
	qHi   float64

	mu   sync.Mutex
	low  f32Heap
	high f32Heap
	n    uint64
}

// NewEstimator creates an estimator for the two tail probabilities with
// per-tail retention bound L.
func NewEstimator(bound int, qLo, qHi float64) *Estimator {
	return &Estimator{
		bound: bound,
		qLo:   qLo,
		qHi:   qHi,
		low:   f32Heap{max: true},
		high:  f32Heap{max: false},
	}
}

// NewLocal returns a fresh per-worker accumulator.
func (e *Estimator) NewLocal() *Local {
	return &Local{
		bound: e.bound,
		low:   f32Heap{max: true},
		high:  f32Heap{max: false},
	}
}

// Merge folds a worker's local tails into the global ones. One lock per
// worker, never per value.
func (e *Estimator) Merge(l *Local) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.n += l.n
	for _, v := range l.low.v {
		offerLow(&e.low, e.bound, v)
	}
	for _, v := range l.high.v {
		offerHigh(&e.high, e.bound, v)
	}
	l.low.v = nil
	l.high.v = nil
	l.n = 0
}

// Count returns the merged total of offered values.
func (e *Estimator) Count() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

// Cutoffs drains the global heaps and reads the exact order statistics
// at ranks floor(qLo*N) and floor(qHi*N). With zero samples both cutoffs
// are NaN and no error is returned; winsorization is then disabled
// downstream. An insufficient bound is an error.
func (e *Estimator) Cutoffs() (cutLo, cutHi float64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.n
	if n == 0 {
		return math.NaN(), math.NaN(), nil
	}

	rLo := uint64(math.Floor(e.qLo * float64(n)))
	rHi := uint64(math.Floor(e.qHi * float64(n)))

	// Exactness precondition: the retained tail must reach the rank.
	if uint64(e.bound) < rLo+1 {
		return 0, 0, fmt.Errorf("tail bound %d too small for low rank %d of %d values", e.bound, rLo, n)
	}
	if uint64(e.bound) < n-rHi {
		return 0, 0, fmt.Errorf("tail bound %d too small for high rank %d of %d values", e.bound, rHi, n)
	}

	lows := append([]float32(nil), e.low.v...)
	sort.Slice(lows, func(i, j int) bool { return lows[i] < lows[j] })
	highs := append([]float32(nil), e.high.v...)
	sort.Slice(highs, func(i, j int) bool { return highs[i] < highs[j] })

	idxLo := int(rLo)
	if idxLo >= len(lows) {
		idxLo = len(lows) - 1
	}

	base := n - uint64(len(highs))
	var idxHi int
	if rHi > base {
		idxHi = int(rHi - base)
		if idxHi >= len(highs) {
			idxHi = len(highs) - 1
		}
	}

	return float64(lows[idxLo]), float64(highs[idxHi]), nil
}
