// Package ingest implements Stage A of the pipeline: parallel
// conversion of raw compressed quote CSVs into the msbin cache, and the
// event-to-clock cache synthesis that reuses an existing event cache
// instead of re-parsing raw files.
//
// Files are processed one per worker. All per-file state is private;
// the only cross-worker synchronization is the glitch-counter merge
// after each file completes.
package ingest

import (
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/rickgao/nbbo-pipeline/internal/config"
	"github.com/rickgao/nbbo-pipeline/internal/ffill"
	"github.com/rickgao/nbbo-pipeline/internal/glitch"
	"github.com/rickgao/nbbo-pipeline/internal/gzline"
	"github.com/rickgao/nbbo-pipeline/internal/model"
	"github.com/rickgao/nbbo-pipeline/internal/msbin"
	"github.com/rickgao/nbbo-pipeline/internal/mstime"
	"github.com/rickgao/nbbo-pipeline/internal/nbbo"
	"github.com/rickgao/nbbo-pipeline/internal/workpool"
)

// Converter turns raw quote CSVs into msbin cache files.
type Converter struct {
	cfg    *config.Config
	rth    config.RTHBounds
	logger *slog.Logger

	mu       sync.Mutex
	glitches *glitch.Counts
}

// NewConverter builds a Stage A converter. The configuration must
// already be validated.
func NewConverter(cfg *config.Config, logger *slog.Logger) (*Converter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rth, err := cfg.RTH.Bounds()
	if err != nil {
		return nil, err
	}
	return &Converter{
		cfg:      cfg,
		rth:      rth,
		logger:   logger,
		glitches: glitch.NewCounts(),
	}, nil
}

// Glitches returns the merged diagnostic counters.
func (c *Converter) Glitches() *glitch.Counts { return c.glitches }

// Run converts every raw file into cacheSubdir in parallel.
func (c *Converter) Run(rawFiles []string, cacheSubdir string) error {
	return workpool.Run(c.cfg.Workers, len(rawFiles), func(i int) error {
		out := msbin.PathForRaw(rawFiles[i], cacheSubdir)
		c.logger.Info("stage A converting",
			"file", rawFiles[i],
			"out", out,
			"index", i+1,
			"total", len(rawFiles),
		)
		return c.convertFile(rawFiles[i], out)
	})
}

func (c *Converter) convertFile(rawPath, outPath string) error {
	g := glitch.NewCounts()

	r, err := gzline.Open(rawPath)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := msbin.NewWriter(outPath)
	if err != nil {
		return err
	}

	if err := c.scanFile(r, w, g); err != nil {
		w.Abort()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	c.mu.Lock()
	c.glitches.Merge(g)
	c.mu.Unlock()

	c.logger.Info("stage A done", "file", rawPath, "rows", w.Rows())
	return nil
}

func (c *Converter) scanFile(r *gzline.Reader, w *msbin.Writer, g *glitch.Counts) error {
	// Header line.
	if _, err := r.ReadLine(); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	var bucket nbbo.Bucket
	var prevMid float32
	var prevDay uint32
	havePrev := false

	doFill := c.cfg.Grid.Clock() && c.cfg.Grid.FFill
	filler := ffill.New(c.cfg.Grid.MaxGapMs)

	var inRows uint64

	flush := func() error {
		pm := float32(0)
		if havePrev && mstime.Day(bucket.Ts()) == prevDay {
			pm = prevMid
		}
		row, ok := bucket.Close(pm)
		if !ok {
			return nil
		}
		rec := msbin.FromRow(row)
		if doFill {
			if _, err := filler.Advance(rec, w.Append); err != nil {
				return err
			}
		}
		if err := w.Append(rec); err != nil {
			return err
		}
		prevMid = row.Mid
		prevDay = mstime.Day(row.Ts)
		havePrev = true
		return nil
	}

	for {
		line, err := r.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		inRows++
		if ev := c.cfg.Progress.LogEveryIn; ev > 0 && inRows%ev == 0 {
			c.logger.Info("stage A progress", "rows_in", inRows, "rows_out", w.Rows())
		}

		q, ok := c.parseLine(line, g)
		if !ok {
			continue
		}

		if bucket.Ts() == 0 {
			bucket.Reset(q.Ts)
		}
		if q.Ts != bucket.Ts() {
			if err := flush(); err != nil {
				return err
			}
			bucket.Reset(q.Ts)
		}
		bucket.Update(q, g)
	}

	if bucket.Ts() != 0 {
		if err := flush(); err != nil {
			return err
		}
	}
	return nil
}

// parseLine decodes one raw CSV line into a quote, applying the hard
// filters. Field order: date, time, venue, bid, bid size, ask, ask size,
// condition, plus unused trailing fields.
func (c *Converter) parseLine(line string, g *glitch.Counts) (model.Quote, bool) {
	fields := strings.SplitN(line, ",", 14)
	if len(fields) < 9 {
		return model.Quote{}, false
	}

	date, tod, venue := fields[0], fields[1], fields[2]
	sBid, sBidSz, sAsk, sAskSz, cond := fields[3], fields[4], fields[5], fields[6], fields[7]

	h, m, s, ms, ok := parseTime(tod)
	if !ok {
		return model.Quote{}, false
	}

	if cond != "R" {
		g.Bump(glitch.CondFiltered, h)
		return model.Quote{}, false
	}
	if len(venue) != 1 || !c.cfg.AllowsVenue(venue[0]) {
		g.Bump(glitch.VenueFiltered, h)
		return model.Quote{}, false
	}
	if !c.rth.Contains(h, m) {
		g.Bump(glitch.RTHFiltered, h)
		return model.Quote{}, false
	}

	bid, err1 := parseF32(sBid)
	ask, err2 := parseF32(sAsk)
	bidSz, err3 := parseI32(sBidSz)
	askSz, err4 := parseI32(sAskSz)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		g.Bump(glitch.ParseFail, h)
		return model.Quote{}, false
	}
	if bid <= 0 || ask <= 0 || bidSz <= 0 || askSz <= 0 {
		g.Bump(glitch.NonPosField, h)
		return model.Quote{}, false
	}

	day, err := strconv.ParseUint(date, 10, 64)
	if err != nil {
		return model.Quote{}, false
	}

	return model.Quote{
		Ts:      mstime.Encode(uint32(day), h, m, s, ms),
		Bid:     bid,
		Ask:     ask,
		BidSize: bidSz,
		AskSize: askSz,
		Venue:   venue[0],
	}, true
}

// parseTime decodes "HH:MM:SS" with an optional ".mmm" suffix.
func parseTime(s string) (h, m, sec, ms int, ok bool) {
	if len(s) < 8 || s[2] != ':' || s[5] != ':' {
		return 0, 0, 0, 0, false
	}
	var err error
	if h, err = strconv.Atoi(s[0:2]); err != nil {
		return 0, 0, 0, 0, false
	}
	if m, err = strconv.Atoi(s[3:5]); err != nil {
		return 0, 0, 0, 0, false
	}
	if sec, err = strconv.Atoi(s[6:8]); err != nil {
		return 0, 0, 0, 0, false
	}
	if len(s) >= 12 {
		if ms, err = strconv.Atoi(s[9:12]); err != nil {
			ms = 0
		}
	}
	return h, m, sec, ms, true
}

func parseF32(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) {
		return 0, strconv.ErrRange
	}
	return float32(v), nil
}

func parseI32(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}
