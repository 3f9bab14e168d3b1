package model

// Quote is one raw venue update, transient and never persisted.
type Quote struct {
	Ts      uint64 // YYYYMMDDHHMMSSmmm
	Bid     float32
	Ask     float32
	BidSize int32
	AskSize int32
	Venue   byte // single-letter venue code
}

// Row is one finalized per-millisecond NBBO observation, produced by
// closing an aggregation bucket. LogReturn is NaN when no valid prior
// same-day mid existed.
type Row struct {
	Ts        uint64
	Mid       float32
	LogReturn float32
	BidSize   float32
	AskSize   float32
	Spread    float32
	Bid       float32
	Ask       float32
}
