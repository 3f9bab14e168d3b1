// Package pipeline sequences the four stages of a run: raw CSV
// conversion (A), tail-quantile scan (B), winsorization (C), and
// columnar output (D).
//
// The orchestrator resolves the cheapest usable data source before
// doing any work: an existing cache is never rebuilt, and a clock-grid
// cache is synthesized from the event cache rather than re-parsing raw
// files when possible.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/nbbo-pipeline/internal/config"
	"github.com/rickgao/nbbo-pipeline/internal/glitch"
	"github.com/rickgao/nbbo-pipeline/internal/ingest"
	"github.com/rickgao/nbbo-pipeline/internal/msbin"
	"github.com/rickgao/nbbo-pipeline/internal/quantile"
	"github.com/rickgao/nbbo-pipeline/internal/rundb"
	"github.com/rickgao/nbbo-pipeline/internal/sink"
	"github.com/rickgao/nbbo-pipeline/internal/workpool"
)

// ErrNoData is returned when neither raw files nor any usable cache
// exists for the configured symbol and years.
var ErrNoData = errors.New("no raw files and no usable cache")

// Result summarizes a completed run.
type Result struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	CacheFiles []string
	RowsIn     uint64
	RowsOut    uint64
	Dropped    uint64
	CutLo      float64
	CutHi      float64
}

// Pipeline owns one run of the full pipeline.
type Pipeline struct {
	cfg      *config.Config
	logger   *slog.Logger
	glitches *glitch.Counts
}

// New creates a pipeline for a validated configuration.
func New(cfg *config.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		logger:   logger,
		glitches: glitch.NewCounts(),
	}
}

// Glitches returns the diagnostic counters accumulated by Stage A.
func (p *Pipeline) Glitches() *glitch.Counts { return p.glitches }

// Run executes the full pipeline and returns its summary.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:     uuid.New(),
		StartedAt: time.Now(),
	}
	p.logger.Info("run starting",
		"run_id", res.RunID,
		"symbol", p.cfg.Symbol,
		"grid", p.cfg.Grid.Mode,
		"winsor", p.cfg.Winsor.Enabled,
	)

	eventDir := filepath.Join(p.cfg.Cache.Dir, msbin.SubdirEvent)
	clockDir := filepath.Join(p.cfg.Cache.Dir, msbin.SubdirClock)
	for _, d := range []string{eventDir, clockDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	cacheFiles, err := p.resolveCache(eventDir, clockDir)
	if err != nil {
		return nil, err
	}
	res.CacheFiles = cacheFiles
	p.logger.Info("cache resolved", "files", len(cacheFiles))

	cutLo, cutHi := math.NaN(), math.NaN()
	if p.cfg.Winsor.Enabled {
		cutLo, cutHi, err = p.scanCutoffs(cacheFiles)
		if err != nil {
			return nil, err
		}
		p.logger.Info("cutoffs computed", "cut_lo", cutLo, "cut_hi", cutHi)
	}
	res.CutLo, res.CutHi = cutLo, cutHi

	if err := p.writeOutput(cacheFiles, cutLo, cutHi, res); err != nil {
		return nil, err
	}

	res.FinishedAt = time.Now()

	if path := p.cfg.Report.Path; path != "" {
		if err := p.glitches.WriteReport(path); err != nil {
			return nil, fmt.Errorf("write glitch report: %w", err)
		}
	}

	p.record(ctx, res)

	p.logger.Info("run finished",
		"run_id", res.RunID,
		"rows_in", res.RowsIn,
		"rows_out", res.RowsOut,
		"dropped", res.Dropped,
		"glitches", p.glitches.Sum(),
		"duration", res.FinishedAt.Sub(res.StartedAt),
	)
	return res, nil
}

// resolveCache finds or builds the cache files for the active grid.
//
// Order: exact per-raw-file match, cache directory scan, event-to-clock
// synthesis, Stage A conversion, then failure.
func (p *Pipeline) resolveCache(eventDir, clockDir string) ([]string, error) {
	activeDir := eventDir
	if p.cfg.Grid.Clock() {
		activeDir = clockDir
	}

	rawFiles, err := p.listRaw()
	if err != nil {
		return nil, err
	}

	if len(rawFiles) > 0 {
		if files, ok := exactMatch(rawFiles, activeDir); ok {
			p.logger.Info("reusing cache (exact match)", "dir", activeDir)
			return files, nil
		}
	}

	files, err := p.scanCacheDir(activeDir)
	if err != nil {
		return nil, err
	}
	if len(files) > 0 {
		p.logger.Info("reusing cache (directory scan)", "dir", activeDir, "files", len(files))
		return files, nil
	}

	if p.cfg.Grid.Clock() {
		eventFiles, err := p.scanCacheDir(eventDir)
		if err != nil {
			return nil, err
		}
		if len(eventFiles) > 0 {
			p.logger.Info("synthesizing clock cache from event cache", "files", len(eventFiles))
			return ingest.SynthesizeClock(p.cfg, eventFiles, clockDir, p.logger)
		}
	}

	if len(rawFiles) > 0 {
		p.logger.Info("building cache from raw files", "files", len(rawFiles))
		conv, err := ingest.NewConverter(p.cfg, p.logger)
		if err != nil {
			return nil, err
		}
		if err := conv.Run(rawFiles, activeDir); err != nil {
			return nil, fmt.Errorf("stage A: %w", err)
		}
		p.glitches.Merge(conv.Glitches())

		out := make([]string, len(rawFiles))
		for i, raw := range rawFiles {
			out[i] = msbin.PathForRaw(raw, activeDir)
		}
		return out, nil
	}

	return nil, ErrNoData
}

// listRaw returns the raw CSVs for the configured symbol and years,
// sorted chronologically by the year embedded in the name.
func (p *Pipeline) listRaw() ([]string, error) {
	if p.cfg.Input.Dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(p.cfg.Input.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read input dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv.gz") {
			continue
		}
		year := msbin.ExtractYear(name, p.cfg.Symbol)
		if year < 0 || !p.cfg.Years.Accepts(year) {
			continue
		}
		files = append(files, filepath.Join(p.cfg.Input.Dir, name))
	}
	p.sortChrono(files)
	return files, nil
}

// scanCacheDir returns the msbin files in dir for the configured symbol
// and years, sorted chronologically.
func (p *Pipeline) scanCacheDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, msbin.Ext) {
			continue
		}
		year := msbin.ExtractYear(name, p.cfg.Symbol)
		if year < 0 || !p.cfg.Years.Accepts(year) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	p.sortChrono(files)
	return files, nil
}

func (p *Pipeline) sortChrono(files []string) {
	sym := p.cfg.Symbol
	sort.Slice(files, func(i, j int) bool {
		yi := msbin.ExtractYear(filepath.Base(files[i]), sym)
		yj := msbin.ExtractYear(filepath.Base(files[j]), sym)
		if yi != yj {
			return yi < yj
		}
		return files[i] < files[j]
	})
}

// exactMatch maps every raw file to its cache path and reports whether
// all of them already exist.
func exactMatch(rawFiles []string, cacheDir string) ([]string, bool) {
	out := make([]string, len(rawFiles))
	for i, raw := range rawFiles {
		path := msbin.PathForRaw(raw, cacheDir)
		if _, err := os.Stat(path); err != nil {
			return nil, false
		}
		out[i] = path
	}
	return out, true
}

// scanCutoffs runs Stage B: a parallel pass over the cache collecting
// the tail order statistics of every finite log-return.
func (p *Pipeline) scanCutoffs(files []string) (float64, float64, error) {
	est := quantile.NewEstimator(p.cfg.Winsor.TailBound, p.cfg.Winsor.QLo, p.cfg.Winsor.QHi)

	err := workpool.Run(p.cfg.Workers, len(files), func(i int) error {
		r, err := msbin.NewReader(files[i])
		if err != nil {
			return fmt.Errorf("stage B open %s: %w", files[i], err)
		}
		defer r.Close()

		local := est.NewLocal()
		var rec msbin.Record
		for {
			if err := r.Next(&rec); err != nil {
				if err == io.EOF {
					break
				}
				return fmt.Errorf("stage B read %s: %w", files[i], err)
			}
			lr := float64(rec.LogReturn)
			if !math.IsNaN(lr) && !math.IsInf(lr, 0) {
				local.Offer(rec.LogReturn)
			}
		}
		est.Merge(local)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	cutLo, cutHi, err := est.Cutoffs()
	if err != nil {
		return 0, 0, fmt.Errorf("stage B: %w", err)
	}
	return cutLo, cutHi, nil
}

// writeOutput runs Stage C/D: a sequential pass routing every record
// through the winsor policy into the per-year columnar files.
func (p *Pipeline) writeOutput(files []string, cutLo, cutHi float64, res *Result) error {
	outDir := filepath.Join(p.cfg.Output.Dir, p.cfg.OutputModeDir())
	w := sink.NewWinsor(p.cfg.Winsor.Enabled, p.cfg.Winsor.Policy, cutLo, cutHi)

	part, err := sink.NewPartitioner(outDir, p.cfg.Symbol, p.cfg.Output.BatchRows, w, p.logger)
	if err != nil {
		return err
	}

	for _, path := range files {
		r, err := msbin.NewReader(path)
		if err != nil {
			return fmt.Errorf("stage C open %s: %w", path, err)
		}

		var rec msbin.Record
		for {
			if err := r.Next(&rec); err != nil {
				if err == io.EOF {
					break
				}
				r.Close()
				return fmt.Errorf("stage C read %s: %w", path, err)
			}
			res.RowsIn++
			if err := part.Consume(rec); err != nil {
				r.Close()
				return err
			}
			if ev := p.cfg.Progress.LogEveryOut; ev > 0 && res.RowsIn%ev == 0 {
				p.logger.Info("stage C progress", "rows", res.RowsIn)
			}
		}
		r.Close()
	}

	if err := part.Close(); err != nil {
		return err
	}
	res.RowsOut = part.Written()
	res.Dropped = part.Dropped()
	return nil
}

// record sends the run manifest to the optional run database.
func (p *Pipeline) record(ctx context.Context, res *Result) {
	dsn := p.cfg.Database.DSN
	if dsn == "" {
		return
	}

	rec, err := rundb.Open(ctx, dsn, p.logger)
	if err != nil {
		p.logger.Error("run database unavailable", "error", err)
		return
	}
	defer rec.Close()

	run := rundb.Run{
		ID:         res.RunID,
		Symbol:     p.cfg.Symbol,
		GridMode:   p.cfg.Grid.Mode,
		Winsor:     p.cfg.Winsor.Policy,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		InputFiles: len(res.CacheFiles),
		RowsIn:     res.RowsIn,
		RowsOut:    res.RowsOut,
		Dropped:    res.Dropped,
		CutLo:      res.CutLo,
		CutHi:      res.CutHi,
	}
	if err := rec.RecordRun(ctx, run, p.glitches); err != nil {
		p.logger.Error("run manifest not recorded", "error", err)
	}
}
