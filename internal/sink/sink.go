// Package sink implements Stage C/D: a single-threaded pass that
// winsorizes log-returns and routes every cache record to a per-year
// Parquet file.
//
// The year comes from each record's own timestamp, not from the source
// file name, so a cache file spanning a year boundary is split across
// two output files. Writers are created lazily per year and the map is
// not safe for concurrent use; the stage is deliberately
// single-threaded.
package sink

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/rickgao/nbbo-pipeline/internal/config"
	"github.com/rickgao/nbbo-pipeline/internal/msbin"
	"github.com/rickgao/nbbo-pipeline/internal/mstime"
)

// Row is the columnar output schema. LogReturn is null exactly when no
// valid prior same-day mid existed.
type Row struct {
	Ts        uint64   `parquet:"ts"`
	Mid       float32  `parquet:"mid"`
	LogReturn *float32 `parquet:"log_return,optional"`
	BidSize   float32  `parquet:"bid_size"`
	AskSize   float32  `parquet:"ask_size"`
	Spread    float32  `parquet:"spread"`
	Bid       float32  `parquet:"bid"`
	Ask       float32  `parquet:"ask"`
}

// Winsor is the resolved outlier policy for one run.
type Winsor struct {
	Enabled bool
	Policy  string
	Lo, Hi  float64
}

// NewWinsor builds the policy from the Stage B cutoffs. NaN cutoffs
// (zero finite samples) disable winsorization.
func NewWinsor(enabled bool, policy string, lo, hi float64) Winsor {
	if math.IsNaN(lo) || math.IsNaN(hi) {
		enabled = false
	}
	return Winsor{Enabled: enabled, Policy: policy, Lo: lo, Hi: hi}
}

// Partitioner routes cache records to lazily created per-year writers.
type Partitioner struct {
	dir       string
	symbol    string
	batchRows int
	winsor    Winsor
	logger    *slog.Logger

	writers map[int]*yearWriter
	written uint64
	dropped uint64
}

// NewPartitioner creates the output directory and an empty writer map.
func NewPartitioner(dir, symbol string, batchRows int, w Winsor, logger *slog.Logger) (*Partitioner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Partitioner{
		dir:       dir,
		symbol:    symbol,
		batchRows: batchRows,
		winsor:    w,
		logger:    logger,
		writers:   make(map[int]*yearWriter),
	}, nil
}

// Consume applies the winsor policy to one record and appends the
// survivor to its year's writer.
func (p *Partitioner) Consume(rec msbin.Record) error {
	lr := rec.LogReturn
	finite := isFinite(lr)

	if p.winsor.Enabled && finite {
		switch p.winsor.Policy {
		case config.WinsorClip:
			if float64(lr) < p.winsor.Lo {
				lr = float32(p.winsor.Lo)
			} else if float64(lr) > p.winsor.Hi {
				lr = float32(p.winsor.Hi)
			}
		default: // drop
			if float64(lr) < p.winsor.Lo || float64(lr) > p.winsor.Hi {
				p.dropped++
				return nil
			}
		}
	}

	row := Row{
		Ts:      rec.Ts,
		Mid:     rec.Mid,
		BidSize: rec.BidSize,
		AskSize: rec.AskSize,
		Spread:  rec.Spread,
		Bid:     rec.Bid,
		Ask:     rec.Ask,
	}
	if finite {
		v := lr
		row.LogReturn = &v
	}

	yw, err := p.writer(mstime.Year(rec.Ts))
	if err != nil {
		return err
	}
	if err := yw.append(row); err != nil {
		return err
	}
	p.written++
	return nil
}

// Written returns the number of rows routed to output so far.
func (p *Partitioner) Written() uint64 { return p.written }

// Dropped returns the number of rows removed by drop-mode winsorizing.
func (p *Partitioner) Dropped() uint64 { return p.dropped }

// Close flushes and finalizes every year writer. Must be called after
// the last cache file has been consumed.
func (p *Partitioner) Close() error {
	for _, yw := range p.writers {
		if err := yw.close(); err != nil {
			return err
		}
		p.logger.Info("output file closed", "year", yw.year, "rows", yw.total)
	}
	return nil
}

func (p *Partitioner) writer(year int) (*yearWriter, error) {
	if yw, ok := p.writers[year]; ok {
		return yw, nil
	}
	path := filepath.Join(p.dir, fmt.Sprintf("%s_%d.parquet", p.symbol, year))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	yw := &yearWriter{
		year:      year,
		f:         f,
		pw:        parquet.NewGenericWriter[Row](f),
		batch:     make([]Row, 0, p.batchRows),
		batchRows: p.batchRows,
	}
	p.writers[year] = yw
	p.logger.Info("output file opened", "year", year, "path", path)
	return yw, nil
}

type yearWriter struct {
	year      int
	f         *os.File
	pw        *parquet.GenericWriter[Row]
	batch     []Row
	batchRows int
	total     uint64
}

func (w *yearWriter) append(row Row) error {
	w.batch = append(w.batch, row)
	if len(w.batch) >= w.batchRows {
		return w.flush()
	}
	return nil
}

// flush writes the buffered rows and ends the current row group.
func (w *yearWriter) flush() error {
	if len(w.batch) == 0 {
		return nil
	}
	if _, err := w.pw.Write(w.batch); err != nil {
		return fmt.Errorf("write parquet batch year %d: %w", w.year, err)
	}
	if err := w.pw.Flush(); err != nil {
		return fmt.Errorf("flush parquet row group year %d: %w", w.year, err)
	}
	w.total += uint64(len(w.batch))
	w.batch = w.batch[:0]
	return nil
}

func (w *yearWriter) close() error {
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer year %d: %w", w.year, err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close output file year %d: %w", w.year, err)
	}
	return nil
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
