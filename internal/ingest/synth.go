package ingest

import (
	"io"
	"log/slog"
	"path/filepath"

	"github.com/rickgao/nbbo-pipeline/internal/config"
	"github.com/rickgao/nbbo-pipeline/internal/ffill"
	"github.com/rickgao/nbbo-pipeline/internal/msbin"
	"github.com/rickgao/nbbo-pipeline/internal/workpool"
)

// SynthesizeClock derives the fixed-grid cache from existing event-grid
// cache files, applying the same gap-bounded forward-fill rule as Stage
// A without the raw parse. One file per worker; returns the produced
// clock cache paths in input order.
func SynthesizeClock(cfg *config.Config, eventBins []string, clockDir string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	produced := make([]string, len(eventBins))
	err := workpool.Run(cfg.Workers, len(eventBins), func(i int) error {
		outPath := filepath.Join(clockDir, filepath.Base(eventBins[i]))
		logger.Info("synthesizing clock cache",
			"from", eventBins[i],
			"out", outPath,
			"max_gap_ms", cfg.Grid.MaxGapMs,
		)
		if err := synthesizeOne(cfg, eventBins[i], outPath, logger); err != nil {
			return err
		}
		produced[i] = outPath
		return nil
	})
	if err != nil {
		return nil, err
	}
	return produced, nil
}

func synthesizeOne(cfg *config.Config, inPath, outPath string, logger *slog.Logger) error {
	r, err := msbin.NewReader(inPath)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := msbin.NewWriter(outPath)
	if err != nil {
		return err
	}

	filler := ffill.New(cfg.Grid.MaxGapMs)
	var rec msbin.Record
	var read uint64

	for {
		err := r.Next(&rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Abort()
			return err
		}
		read++

		if _, err := filler.Advance(rec, w.Append); err != nil {
			w.Abort()
			return err
		}
		if err := w.Append(rec); err != nil {
			w.Abort()
			return err
		}
		if ev := cfg.Progress.LogEveryOut; ev > 0 && w.Rows()%ev == 0 {
			logger.Info("synthesis progress", "file", inPath, "rows_out", w.Rows())
		}
	}

	if err := w.Close(); err != nil {
		return err
	}
	logger.Info("synthesis done", "file", inPath, "rows_in", read, "rows_out", w.Rows())
	return nil
}
