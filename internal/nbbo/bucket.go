// Package nbbo folds raw quote updates into the best bid and offer for
// one millisecond bucket.
//
// A Bucket is owned exclusively by the worker processing one file. It is
// reset on every new timestamp; Close finalizes the bucket into a row,
// or nothing when no quote survived the validity checks.
package nbbo

import (
	"math"

	"github.com/rickgao/nbbo-pipeline/internal/glitch"
	"github.com/rickgao/nbbo-pipeline/internal/model"
	"github.com/rickgao/nbbo-pipeline/internal/mstime"
)

// Bucket is the mutable aggregation state for one millisecond.
type Bucket struct {
	ts      uint64
	bestBid float32
	bestAsk float32
	bidSize int32
	askSize int32
	any     bool
}

// Ts returns the bucket's timestamp, zero before the first Reset.
func (b *Bucket) Ts() uint64 { return b.ts }

// Reset clears all accumulated state and opens a bucket at ts.
func (b *Bucket) Reset(ts uint64) {
	b.ts = ts
	b.bestBid = 0
	b.bestAsk = float32(math.Inf(1))
	b.bidSize = 0
	b.askSize = 0
	b.any = false
}

// Update offers one quote to the bucket. Invalid quotes are counted as
// glitches and leave the state untouched. A valid quote contributes to
// whichever side it strictly improves.
func (b *Bucket) Update(q model.Quote, g *glitch.Counts) {
	hour := mstime.Hour(q.Ts)
	if q.Bid <= 0 || q.Ask <= 0 {
		g.Bump(glitch.NonPosPrice, hour)
		return
	}
	if q.Ask <= q.Bid {
		g.Bump(glitch.LockedCrossed, hour)
		return
	}
	if q.Bid > b.bestBid {
		b.bestBid = q.Bid
		b.bidSize = q.BidSize
		b.any = true
	}
	if q.Ask < b.bestAsk {
		b.bestAsk = q.Ask
		b.askSize = q.AskSize
		b.any = true
	}
}

// Close finalizes the bucket into a row. It returns false when no update
// was accepted. The log-return is ln(mid/prevMid) only when both mids
// are positive; callers pass prevMid = 0 when no valid same-day
// predecessor exists, which yields NaN.
func (b *Bucket) Close(prevMid float32) (model.Row, bool) {
	if !b.any {
		return model.Row{}, false
	}
	mid := 0.5 * (b.bestBid + b.bestAsk)
	r := model.Row{
		Ts:      b.ts,
		Mid:     mid,
		BidSize: float32(b.bidSize),
		AskSize: float32(b.askSize),
		Spread:  b.bestAsk - b.bestBid,
		Bid:     b.bestBid,
		Ask:     b.bestAsk,
	}
	if prevMid > 0 && mid > 0 {
		r.LogReturn = float32(math.Log(float64(mid) / float64(prevMid)))
	} else {
		r.LogReturn = float32(math.NaN())
	}
	return r, true
}
