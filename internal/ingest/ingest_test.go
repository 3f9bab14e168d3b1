package ingest

import (
	"compress/gzip"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/nbbo-pipeline/internal/config"
	"github.com/rickgao/nbbo-pipeline/internal/glitch"
	"github.com/rickgao/nbbo-pipeline/internal/msbin"
	"github.com/rickgao/nbbo-pipeline/internal/mstime"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Cache:  config.CacheConfig{Dir: t.TempDir()},
		Output: config.OutputConfig{Dir: t.TempDir()},
	}
	cfg.ApplyDefaults()
	cfg.Workers = 2
	require.NoError(t, cfg.Validate())
	return cfg
}

func writeRawGz(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	content := "DATE,TIME,EX,BID,BIDSIZ,ASK,ASKSIZ,QU_COND,EXTRA\n" + strings.Join(lines, "\n") + "\n"
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func convert(t *testing.T, cfg *config.Config, lines []string) ([]msbin.Record, *Converter) {
	t.Helper()
	raw := writeRawGz(t, t.TempDir(), "SPY2024.csv.gz", lines)
	sub := filepath.Join(cfg.Cache.Dir, msbin.SubdirEvent)
	if cfg.Grid.Clock() {
		sub = filepath.Join(cfg.Cache.Dir, msbin.SubdirClock)
	}
	require.NoError(t, os.MkdirAll(sub, 0o755))

	c, err := NewConverter(cfg, slog.Default())
	require.NoError(t, err)
	require.NoError(t, c.Run([]string{raw}, sub))

	recs, err := msbin.ReadAll(filepath.Join(sub, "SPY2024.msbin"))
	require.NoError(t, err)
	return recs, c
}

func TestConvertBasic(t *testing.T) {
	cfg := testConfig(t)
	recs, _ := convert(t, cfg, []string{
		"20240315,09:30:00.001,P,99.99,5,100.01,7,R,0",
		"20240315,09:30:00.001,T,100.00,3,100.02,4,R,0", // improves bid only
		"20240315,09:30:00.005,P,100.01,2,100.03,6,R,0",
	})

	require.Len(t, recs, 2)

	first := recs[0]
	assert.Equal(t, mstime.Encode(20240315, 9, 30, 0, 1), first.Ts)
	assert.Equal(t, float32(100.00), first.Bid)
	assert.Equal(t, float32(3), first.BidSize)
	assert.Equal(t, float32(100.01), first.Ask)
	assert.Equal(t, float32(7), first.AskSize)
	assert.True(t, math.IsNaN(float64(first.LogReturn)), "first row log-return must be NaN")

	second := recs[1]
	assert.Equal(t, mstime.Encode(20240315, 9, 30, 0, 5), second.Ts)
	want := float32(math.Log(float64(second.Mid) / float64(first.Mid)))
	assert.Equal(t, want, second.LogReturn)
}

func TestFiltersAndGlitches(t *testing.T) {
	cfg := testConfig(t)
	recs, c := convert(t, cfg, []string{
		"20240315,09:30:00.001,P,99.99,5,100.01,7,R,0",  // good
		"20240315,09:30:00.002,P,99.99,5,100.01,7,A,0",  // wrong condition
		"20240315,09:30:00.003,X,99.99,5,100.01,7,R,0",  // venue not allowed
		"20240315,09:29:59.000,P,99.99,5,100.01,7,R,0",  // before RTH
		"20240315,16:00:00.000,P,99.99,5,100.01,7,R,0",  // at RTH end
		"20240315,09:30:00.004,P,abc,5,100.01,7,R,0",    // parse failure
		"20240315,09:30:00.005,P,99.99,0,100.01,7,R,0",  // non-positive size
		"20240315,09:30:00.006,P,-1.00,5,100.01,7,R,0",  // non-positive price
	})

	require.Len(t, recs, 1)

	g := c.Glitches()
	assert.Equal(t, uint64(1), g.Total[glitch.CondFiltered])
	assert.Equal(t, uint64(1), g.Total[glitch.VenueFiltered])
	assert.Equal(t, uint64(2), g.Total[glitch.RTHFiltered])
	assert.Equal(t, uint64(1), g.Total[glitch.ParseFail])
	// The zero size and the negative price both fail the field check
	// before reaching the bucket.
	assert.Equal(t, uint64(2), g.Total[glitch.NonPosField])
}

func TestCrossedQuoteRejectedInBucket(t *testing.T) {
	cfg := testConfig(t)
	recs, c := convert(t, cfg, []string{
		"20240315,09:30:00.001,P,100.02,5,100.01,7,R,0", // crossed
		"20240315,09:30:00.001,P,100.01,5,100.01,7,R,0", // locked
	})

	assert.Empty(t, recs, "bucket with only crossed/locked quotes must emit nothing")
	assert.Equal(t, uint64(2), c.Glitches().Total[glitch.LockedCrossed])
}

func TestDayChangeResetsLogReturn(t *testing.T) {
	cfg := testConfig(t)
	recs, _ := convert(t, cfg, []string{
		"20240315,15:59:59.999,P,99.99,5,100.01,7,R,0",
		"20240318,09:30:00.000,P,100.04,5,100.06,7,R,0",
	})

	require.Len(t, recs, 2)
	assert.True(t, math.IsNaN(float64(recs[1].LogReturn)),
		"log-return across a day boundary must be NaN, got %g", recs[1].LogReturn)
}

func TestIdempotentRerun(t *testing.T) {
	cfg := testConfig(t)
	lines := []string{
		"20240315,09:30:00.001,P,99.99,5,100.01,7,R,0",
		"20240315,09:30:00.050,T,100.00,3,100.02,4,R,0",
		"20240315,09:30:01.000,Q,100.01,2,100.03,6,R,0",
	}
	raw := writeRawGz(t, t.TempDir(), "SPY2024.csv.gz", lines)
	sub := filepath.Join(cfg.Cache.Dir, msbin.SubdirEvent)
	require.NoError(t, os.MkdirAll(sub, 0o755))
	out := filepath.Join(sub, "SPY2024.msbin")

	c, err := NewConverter(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, c.Run([]string{raw}, sub))
	firstBytes, err := os.ReadFile(out)
	require.NoError(t, err)

	require.NoError(t, c.Run([]string{raw}, sub))
	secondBytes, err := os.ReadFile(out)
	require.NoError(t, err)

	assert.Equal(t, firstBytes, secondBytes, "rerun must produce a byte-identical cache file")
}

func TestClockGridForwardFill(t *testing.T) {
	cfg := testConfig(t)
	cfg.Grid.Mode = config.GridClock
	cfg.Grid.FFill = true
	cfg.Grid.MaxGapMs = 250

	recs, _ := convert(t, cfg, []string{
		"20240315,09:30:00.000,P,99.99,5,100.01,7,R,0",
		"20240315,09:30:00.200,P,100.00,3,100.02,4,R,0",
	})

	// 1 real + 199 fills + 1 real.
	require.Len(t, recs, 201)

	fills := recs[1:200]
	for i, fl := range fills {
		assert.Equal(t, float32(0), fl.LogReturn, "fill %d log-return", i)
		assert.Equal(t, recs[0].Mid, fl.Mid, "fill %d carries baseline mid", i)
	}
	assert.Equal(t, mstime.Encode(20240315, 9, 30, 0, 200), recs[200].Ts)
	assert.NotEqual(t, float32(0), recs[200].LogReturn, "real row keeps its own log-return")
}

func TestClockGridGapBeyondMaxNotFilled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Grid.Mode = config.GridClock
	cfg.Grid.FFill = true
	cfg.Grid.MaxGapMs = 250

	recs, _ := convert(t, cfg, []string{
		"20240315,09:30:00.000,P,99.99,5,100.01,7,R,0",
		"20240315,09:30:00.300,P,100.00,3,100.02,4,R,0",
	})
	require.Len(t, recs, 2, "300ms gap with max 250 must synthesize nothing")
}

func TestShortAndMalformedLinesSkipped(t *testing.T) {
	cfg := testConfig(t)
	recs, _ := convert(t, cfg, []string{
		"garbage",
		"20240315,badtime,P,99.99,5,100.01,7,R,0",
		"20240315,09:30:00.001,P,99.99,5,100.01,7,R,0",
	})
	require.Len(t, recs, 1)
}

func TestOpenFailure(t *testing.T) {
	cfg := testConfig(t)
	sub := filepath.Join(cfg.Cache.Dir, msbin.SubdirEvent)
	require.NoError(t, os.MkdirAll(sub, 0o755))

	c, err := NewConverter(cfg, nil)
	require.NoError(t, err)
	err = c.Run([]string{filepath.Join(t.TempDir(), "missing.csv.gz")}, sub)
	require.Error(t, err)
}
