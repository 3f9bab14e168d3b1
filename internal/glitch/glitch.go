// Package glitch tallies per-row data-quality rejections.
//
// A glitch is a counted rejection that never aborts processing: bad
// prices, crossed markets, parse failures, rows outside the configured
// filters. Counts are keyed by category and by trading hour. Each worker
// accumulates into its own Counts and merges into a shared total once per
// file, so no lock is taken inside the per-row loop.
package glitch

import (
	"fmt"
	"io"
	"os"
	"sort"
)

// Rejection categories.
const (
	NonPosPrice   = "nonpos_price"
	LockedCrossed = "locked_crossed"
	ParseFail     = "parse_fail"
	NonPosField   = "nonpos_field"
	CondFiltered  = "cond_filtered"
	VenueFiltered = "venue_filtered"
	RTHFiltered   = "rth_filtered"
)

// Counts accumulates rejection tallies by category and trading hour.
// Not safe for concurrent use; merge per-worker instances instead.
type Counts struct {
	Total  map[string]uint64
	ByHour map[string]map[int]uint64
}

// NewCounts returns an empty accumulator.
func NewCounts() *Counts {
	return &Counts{
		Total:  make(map[string]uint64),
		ByHour: make(map[string]map[int]uint64),
	}
}

// Bump records one rejection of the given category at the given hour.
func (c *Counts) Bump(category string, hour int) {
	c.Total[category]++
	hm := c.ByHour[category]
	if hm == nil {
		hm = make(map[int]uint64)
		c.ByHour[category] = hm
	}
	hm[hour]++
}

// Merge adds another accumulator into this one.
func (c *Counts) Merge(o *Counts) {
	for k, v := range o.Total {
		c.Total[k] += v
	}
	for k, hm := range o.ByHour {
		dst := c.ByHour[k]
		if dst == nil {
			dst = make(map[int]uint64)
			c.ByHour[k] = dst
		}
		for h, n := range hm {
			dst[h] += n
		}
	}
}

// Sum returns the total rejection count across all categories.
func (c *Counts) Sum() uint64 {
	var n uint64
	for _, v := range c.Total {
		n += v
	}
	return n
}

// WriteReport writes the human-readable glitch report to path.
func (c *Counts) WriteReport(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create glitch report: %w", err)
	}
	defer f.Close()

	if err := c.write(f); err != nil {
		return fmt.Errorf("write glitch report: %w", err)
	}
	return nil
}

func (c *Counts) write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "NBBO pipeline glitch report\n\nTotals:\n"); err != nil {
		return err
	}
	for _, k := range sortedKeys(c.Total) {
		if _, err := fmt.Fprintf(w, "%-22s : %d\n", k, c.Total[k]); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "\nBy hour (RTH):\n"); err != nil {
		return err
	}
	for _, k := range sortedKeysHour(c.ByHour) {
		if _, err := fmt.Fprintf(w, "\n[%s]\n", k); err != nil {
			return err
		}
		for h := 9; h <= 15; h++ {
			if _, err := fmt.Fprintf(w, "  %d:00 - %d\n", h, c.ByHour[k][h]); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysHour(m map[string]map[int]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
