package sink

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/nbbo-pipeline/internal/config"
	"github.com/rickgao/nbbo-pipeline/internal/msbin"
	"github.com/rickgao/nbbo-pipeline/internal/mstime"
)

func rec(year int, lr float32) msbin.Record {
	return msbin.Record{
		Ts:        mstime.Encode(uint32(year)*10000+315, 9, 30, 0, 0),
		Mid:       100,
		LogReturn: lr,
		BidSize:   1,
		AskSize:   2,
		Spread:    0.01,
		Bid:       99.995,
		Ask:       100.005,
	}
}

func readYear(t *testing.T, dir, symbol string, year int) []Row {
	t.Helper()
	rows, err := parquet.ReadFile[Row](filepath.Join(dir, fmt.Sprintf("%s_%d.parquet", symbol, year)))
	require.NoError(t, err)
	return rows
}

func TestPartitionerSplitsByYear(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPartitioner(dir, "SPY", 4, NewWinsor(false, "", 0, 0), slog.Default())
	require.NoError(t, err)

	require.NoError(t, p.Consume(rec(2023, 0.001)))
	require.NoError(t, p.Consume(rec(2023, -0.002)))
	require.NoError(t, p.Consume(rec(2024, 0.003)))
	require.NoError(t, p.Close())

	assert.Equal(t, uint64(3), p.Written())
	assert.Len(t, readYear(t, dir, "SPY", 2023), 2)
	assert.Len(t, readYear(t, dir, "SPY", 2024), 1)
}

func TestPartitionerClipMode(t *testing.T) {
	dir := t.TempDir()
	w := NewWinsor(true, config.WinsorClip, -0.001, 0.001)
	p, err := NewPartitioner(dir, "SPY", 10, w, nil)
	require.NoError(t, err)

	require.NoError(t, p.Consume(rec(2023, 0.0005))) // inside
	require.NoError(t, p.Consume(rec(2023, 0.05)))   // above, clamped
	require.NoError(t, p.Consume(rec(2023, -0.05)))  // below, clamped
	require.NoError(t, p.Close())

	rows := readYear(t, dir, "SPY", 2023)
	require.Len(t, rows, 3)
	assert.Equal(t, float32(0.0005), *rows[0].LogReturn)
	assert.Equal(t, float32(0.001), *rows[1].LogReturn)
	assert.Equal(t, float32(-0.001), *rows[2].LogReturn)
	assert.Equal(t, uint64(0), p.Dropped())
}

func TestPartitionerDropMode(t *testing.T) {
	dir := t.TempDir()
	w := NewWinsor(true, config.WinsorDrop, -0.001, 0.001)
	p, err := NewPartitioner(dir, "SPY", 10, w, nil)
	require.NoError(t, err)

	require.NoError(t, p.Consume(rec(2023, 0.0005)))
	require.NoError(t, p.Consume(rec(2023, 0.05)))
	require.NoError(t, p.Consume(rec(2023, -0.05)))
	require.NoError(t, p.Close())

	rows := readYear(t, dir, "SPY", 2023)
	require.Len(t, rows, 1)
	assert.Equal(t, float32(0.0005), *rows[0].LogReturn)
	assert.Equal(t, uint64(1), p.Written())
	assert.Equal(t, uint64(2), p.Dropped())
}

func TestPartitionerNaNLogReturnIsNullAndSurvivesDrop(t *testing.T) {
	dir := t.TempDir()
	w := NewWinsor(true, config.WinsorDrop, -0.001, 0.001)
	p, err := NewPartitioner(dir, "SPY", 10, w, nil)
	require.NoError(t, err)

	require.NoError(t, p.Consume(rec(2023, float32(math.NaN()))))
	require.NoError(t, p.Close())

	rows := readYear(t, dir, "SPY", 2023)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].LogReturn)
}

func TestNewWinsorDisabledOnNaNCutoffs(t *testing.T) {
	w := NewWinsor(true, config.WinsorClip, math.NaN(), math.NaN())
	assert.False(t, w.Enabled)
}

func TestPartitionerBatchBoundary(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPartitioner(dir, "SPY", 2, NewWinsor(false, "", 0, 0), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Consume(rec(2023, float32(i)*0.0001)))
	}
	require.NoError(t, p.Close())

	rows := readYear(t, dir, "SPY", 2023)
	assert.Len(t, rows, 5)
}
