// Package rundb records run manifests in Postgres. It is optional:
// when no DSN is configured the pipeline never opens a recorder, and a
// recording failure is logged but never fails the run.
package rundb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/nbbo-pipeline/internal/glitch"
)

// Run is one pipeline execution's manifest row.
type Run struct {
	ID         uuid.UUID
	Symbol     string
	GridMode   string
	Winsor     string
	StartedAt  time.Time
	FinishedAt time.Time
	InputFiles int
	RowsIn     uint64
	RowsOut    uint64
	Dropped    uint64
	CutLo      float64
	CutHi      float64
}

// Recorder writes run manifests over a pgx connection pool.
type Recorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to the run database and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Recorder{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (r *Recorder) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// RecordRun inserts the manifest row and one row per glitch category
// in a single batch.
func (r *Recorder) RecordRun(ctx context.Context, run Run, counts *glitch.Counts) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO pipeline_runs
			(run_id, symbol, grid_mode, winsor_policy, started_at, finished_at,
			 input_files, rows_in, rows_out, rows_dropped, cut_lo, cut_hi)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, run.ID, run.Symbol, run.GridMode, run.Winsor, run.StartedAt, run.FinishedAt,
		run.InputFiles, int64(run.RowsIn), int64(run.RowsOut), int64(run.Dropped),
		run.CutLo, run.CutHi)

	queued := 1
	for category, n := range counts.Total {
		batch.Queue(`
			INSERT INTO pipeline_glitches (run_id, category, count)
			VALUES ($1, $2, $3)
		`, run.ID, category, int64(n))
		queued++
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < queued; i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
	}

	r.logger.Info("run recorded", "run_id", run.ID, "categories", queued-1)
	return nil
}
