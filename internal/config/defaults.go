package config

import "runtime"

// Default values for optional configuration fields.
const (
	DefaultGridMode    = GridEvent
	DefaultMaxGapMs    = 250
	DefaultWinsorQLo   = 1e-5
	DefaultWinsorQHi   = 1.0 - 1e-5
	DefaultTailBound   = 200_000
	DefaultPolicy      = WinsorDrop
	DefaultRTHStart    = "09:30"
	DefaultRTHEnd      = "16:00"
	DefaultVenues      = "PTQZYJK"
	DefaultSymbol      = "SPY"
	DefaultBatchRows   = 2_000_000
	DefaultLogEveryIn  = 5_000_000
	DefaultLogEveryOut = 1_000_000
)

// ApplyDefaults fills unset optional fields. Called by LoadWithDefaults;
// exported so flag-built configs get the same treatment.
func (c *Config) ApplyDefaults() {
	if c.Grid.Mode == "" {
		c.Grid.Mode = DefaultGridMode
	}
	if c.Grid.MaxGapMs == 0 {
		c.Grid.MaxGapMs = DefaultMaxGapMs
	}

	if c.Winsor.Policy == "" {
		c.Winsor.Policy = DefaultPolicy
	}
	if c.Winsor.QLo == 0 {
		c.Winsor.QLo = DefaultWinsorQLo
	}
	if c.Winsor.QHi == 0 {
		c.Winsor.QHi = DefaultWinsorQHi
	}
	if c.Winsor.TailBound == 0 {
		c.Winsor.TailBound = DefaultTailBound
	}

	if c.RTH.Start == "" {
		c.RTH.Start = DefaultRTHStart
	}
	if c.RTH.End == "" {
		c.RTH.End = DefaultRTHEnd
	}

	if c.Venues == "" {
		c.Venues = DefaultVenues
	}
	if c.Symbol == "" {
		c.Symbol = DefaultSymbol
	}

	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}

	if c.Output.BatchRows == 0 {
		c.Output.BatchRows = DefaultBatchRows
	}

	if c.Progress.LogEveryIn == 0 {
		c.Progress.LogEveryIn = DefaultLogEveryIn
	}
	if c.Progress.LogEveryOut == 0 {
		c.Progress.LogEveryOut = DefaultLogEveryOut
	}
}
