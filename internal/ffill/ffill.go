// Package ffill implements the gap-bounded forward-fill rule of the
// fixed millisecond grid.
//
// Between two real observations on the same calendar day, every missing
// millisecond is synthesized by carrying the earlier record forward with
// its log-return forced to exactly zero, provided the gap does not
// exceed the configured maximum. A day change or an oversized gap
// invalidates the baseline: nothing is synthesized and the next real
// record starts fresh.
//
// Stage A and the event-to-clock cache synthesizer share this type so
// both grids fill identically.
package ffill

import (
	"github.com/rickgao/nbbo-pipeline/internal/msbin"
	"github.com/rickgao/nbbo-pipeline/internal/mstime"
)

// Filler tracks the forward-fill baseline across a stream of records
// from one cache file. Zero value is not usable; call New.
type Filler struct {
	maxGapMs int
	prev     msbin.Record
	havePrev bool
}

// New returns a filler that bridges gaps of at most maxGapMs
// milliseconds.
func New(maxGapMs int) *Filler {
	return &Filler{maxGapMs: maxGapMs}
}

// Advance emits the synthesized records that belong between the previous
// real record and next, then makes next the new baseline. The caller
// emits next itself afterwards. Returns the number of records
// synthesized.
func (f *Filler) Advance(next msbin.Record, emit func(msbin.Record) error) (int, error) {
	defer func() {
		f.prev = next
		f.havePrev = true
	}()

	if !f.havePrev || !mstime.SameDay(f.prev.Ts, next.Ts) {
		return 0, nil
	}

	gap := mstime.MsSinceMidnight(next.Ts) - mstime.MsSinceMidnight(f.prev.Ts) - 1
	if gap <= 0 || gap > f.maxGapMs {
		return 0, nil
	}

	t := f.prev.Ts
	for g := 0; g < gap; g++ {
		t = mstime.IncMs(t)
		fill := f.prev
		fill.Ts = t
		fill.LogReturn = 0
		if err := emit(fill); err != nil {
			return g, err
		}
	}
	return gap, nil
}

// Reset clears the baseline, e.g. at a file boundary.
func (f *Filler) Reset() {
	f.havePrev = false
}
