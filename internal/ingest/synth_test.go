package ingest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/nbbo-pipeline/internal/config"
	"github.com/rickgao/nbbo-pipeline/internal/msbin"
	"github.com/rickgao/nbbo-pipeline/internal/mstime"
)

func writeEventBin(t *testing.T, dir, name string, recs []msbin.Record) string {
	t.Helper()
	path := filepath.Join(dir, name)
	w, err := msbin.NewWriter(path)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Append(r))
	}
	require.NoError(t, w.Close())
	return path
}

func TestSynthesizeClockFromEvent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Grid.Mode = config.GridClock
	cfg.Grid.FFill = true
	cfg.Grid.MaxGapMs = 250

	eventDir := filepath.Join(cfg.Cache.Dir, msbin.SubdirEvent)
	clockDir := filepath.Join(cfg.Cache.Dir, msbin.SubdirClock)
	require.NoError(t, os.MkdirAll(eventDir, 0o755))
	require.NoError(t, os.MkdirAll(clockDir, 0o755))

	nan := float32(math.NaN())
	event := []msbin.Record{
		{Ts: mstime.Encode(20240315, 9, 30, 0, 0), Mid: 100, LogReturn: nan, Bid: 99.99, Ask: 100.01, BidSize: 5, AskSize: 7, Spread: 0.02},
		{Ts: mstime.Encode(20240315, 9, 30, 0, 3), Mid: 100.01, LogReturn: 0.0001, Bid: 100, Ask: 100.02, BidSize: 3, AskSize: 4, Spread: 0.02},
		// Oversized gap: no fills.
		{Ts: mstime.Encode(20240315, 9, 30, 1, 0), Mid: 100.02, LogReturn: 0.0001, Bid: 100.01, Ask: 100.03, BidSize: 2, AskSize: 2, Spread: 0.02},
	}
	in := writeEventBin(t, eventDir, "SPY2024.msbin", event)

	produced, err := SynthesizeClock(cfg, []string{in}, clockDir, nil)
	require.NoError(t, err)
	require.Len(t, produced, 1)

	recs, err := msbin.ReadAll(produced[0])
	require.NoError(t, err)

	// 1 real + 2 fills + 1 real + 1 real (996ms gap exceeds max).
	require.Len(t, recs, 5)
	assert.Equal(t, event[0].Ts, recs[0].Ts)
	assert.Equal(t, event[0].Mid, recs[0].Mid)
	assert.True(t, math.IsNaN(float64(recs[0].LogReturn)))
	assert.Equal(t, float32(0), recs[1].LogReturn)
	assert.Equal(t, float32(0), recs[2].LogReturn)
	assert.Equal(t, event[0].Mid, recs[1].Mid)
	assert.Equal(t, mstime.Encode(20240315, 9, 30, 0, 1), recs[1].Ts)
	assert.Equal(t, mstime.Encode(20240315, 9, 30, 0, 2), recs[2].Ts)
	assert.Equal(t, event[1], recs[3])
	assert.Equal(t, event[2], recs[4])
}

func TestSynthesisMatchesStageAClockGrid(t *testing.T) {
	// Building the clock cache from raw and synthesizing it from the
	// event cache of the same raw data must agree byte for byte.
	lines := []string{
		"20240315,09:30:00.000,P,99.99,5,100.01,7,R,0",
		"20240315,09:30:00.100,P,100.00,3,100.02,4,R,0",
		"20240315,09:30:00.150,T,100.01,2,100.03,6,R,0",
	}

	// Stage A directly on the clock grid.
	clockCfg := testConfig(t)
	clockCfg.Grid.Mode = config.GridClock
	clockCfg.Grid.FFill = true
	clockRecs, _ := convert(t, clockCfg, lines)

	// Stage A on the event grid, then synthesis.
	eventCfg := testConfig(t)
	eventRecs, _ := convert(t, eventCfg, lines)
	_ = eventRecs

	synthCfg := testConfig(t)
	synthCfg.Grid.Mode = config.GridClock
	synthCfg.Grid.FFill = true
	eventDir := filepath.Join(eventCfg.Cache.Dir, msbin.SubdirEvent)
	clockDir := filepath.Join(synthCfg.Cache.Dir, msbin.SubdirClock)
	require.NoError(t, os.MkdirAll(clockDir, 0o755))

	produced, err := SynthesizeClock(synthCfg, []string{filepath.Join(eventDir, "SPY2024.msbin")}, clockDir, nil)
	require.NoError(t, err)
	synthRecs, err := msbin.ReadAll(produced[0])
	require.NoError(t, err)

	require.Equal(t, len(clockRecs), len(synthRecs))
	for i := range clockRecs {
		a, b := clockRecs[i], synthRecs[i]
		// NaN != NaN, so compare fields with NaN awareness.
		assert.Equal(t, a.Ts, b.Ts, "record %d ts", i)
		assert.Equal(t, a.Mid, b.Mid, "record %d mid", i)
		if math.IsNaN(float64(a.LogReturn)) {
			assert.True(t, math.IsNaN(float64(b.LogReturn)), "record %d log-return NaN", i)
		} else {
			assert.Equal(t, a.LogReturn, b.LogReturn, "record %d log-return", i)
		}
	}
}
