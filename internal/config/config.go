// Package config defines the immutable run configuration of the NBBO
// pipeline.
//
// Configuration is loaded once from a YAML file (with ${VAR} environment
// expansion), defaulted, validated, and then passed by pointer into every
// component. Nothing mutates it after LoadAndValidate returns.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Grid modes.
const (
	GridEvent = "event"
	GridClock = "clock"
)

// Winsorization policies.
const (
	WinsorClip = "clip"
	WinsorDrop = "drop"
)

// Config is the full run configuration.
type Config struct {
	Input    InputConfig    `yaml:"input"`
	Cache    CacheConfig    `yaml:"cache"`
	Output   OutputConfig   `yaml:"output"`
	Report   ReportConfig   `yaml:"report"`
	Grid     GridConfig     `yaml:"grid"`
	Winsor   WinsorConfig   `yaml:"winsor"`
	RTH      RTHConfig      `yaml:"rth"`
	Venues   string         `yaml:"venues"`
	Symbol   string         `yaml:"symbol"`
	Years    YearRange      `yaml:"years"`
	Workers  int            `yaml:"workers"`
	Progress ProgressConfig `yaml:"progress"`
	Database DatabaseConfig `yaml:"database"`
}

// InputConfig locates the raw quote CSVs. The directory may be empty or
// missing for cache-only runs.
type InputConfig struct {
	Dir string `yaml:"dir"`
}

// CacheConfig locates the msbin cache root. The pipeline maintains
// ms_event/ and ms_clock/ subdirectories beneath it.
type CacheConfig struct {
	Dir string `yaml:"dir"`
}

// OutputConfig locates the columnar output root and sets the physical
// batch size of the per-year writers.
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	BatchRows int    `yaml:"batch_rows"`
}

// ReportConfig locates the glitch report. Empty path disables the report.
type ReportConfig struct {
	Path string `yaml:"path"`
}

// GridConfig selects the time grid and the forward-fill behavior of the
// clock grid.
type GridConfig struct {
	Mode     string `yaml:"mode"`       // "event" or "clock"
	FFill    bool   `yaml:"ffill"`      // clock grid only
	MaxGapMs int    `yaml:"max_gap_ms"` // largest gap forward-fill bridges
}

// Clock reports whether the fixed millisecond grid is selected.
func (g GridConfig) Clock() bool { return g.Mode == GridClock }

// WinsorConfig controls outlier handling of log-returns.
type WinsorConfig struct {
	Enabled bool    `yaml:"enabled"`
	Policy  string  `yaml:"policy"` // "clip" or "drop"
	QLo     float64 `yaml:"q_lo"`
	QHi     float64 `yaml:"q_hi"`

	// TailBound is the number of extreme values retained near each tail
	// in Stage B. The stage verifies after scanning that the bound was
	// large enough for the realized ranks and aborts otherwise.
	TailBound int `yaml:"tail_bound"`
}

// RTHConfig is the regular-trading-hours window, "HH:MM" inclusive start
// and exclusive end hour.
type RTHConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// RTHBounds is the parsed window.
type RTHBounds struct {
	StartHour, StartMin int
	EndHour, EndMin     int
}

// Bounds parses the window strings.
func (r RTHConfig) Bounds() (RTHBounds, error) {
	sh, sm, err := parseHM(r.Start)
	if err != nil {
		return RTHBounds{}, fmt.Errorf("rth.start: %w", err)
	}
	eh, em, err := parseHM(r.End)
	if err != nil {
		return RTHBounds{}, fmt.Errorf("rth.end: %w", err)
	}
	return RTHBounds{StartHour: sh, StartMin: sm, EndHour: eh, EndMin: em}, nil
}

// Contains reports whether a time of day falls inside the window.
// Matches the established filter: the end hour is excluded entirely.
func (b RTHBounds) Contains(h, m int) bool {
	if h < b.StartHour || h >= b.EndHour {
		return false
	}
	if h == b.StartHour && m < b.StartMin {
		return false
	}
	return true
}

// YearRange filters input and cache files by the year embedded in their
// names. Zero bounds disable the corresponding check.
type YearRange struct {
	Lo int `yaml:"lo"`
	Hi int `yaml:"hi"`
}

// Accepts reports whether a year passes the filter.
func (y YearRange) Accepts(year int) bool {
	if y.Lo != 0 && year < y.Lo {
		return false
	}
	if y.Hi != 0 && year > y.Hi {
		return false
	}
	return true
}

// ProgressConfig sets how often per-file progress is logged, in rows.
type ProgressConfig struct {
	LogEveryIn  uint64 `yaml:"log_every_in"`
	LogEveryOut uint64 `yaml:"log_every_out"`
}

// DatabaseConfig configures the optional run-manifest sink. An empty DSN
// disables it.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AllowsVenue reports whether the single-letter venue code is in the
// allow-list.
func (c *Config) AllowsVenue(v byte) bool {
	return strings.IndexByte(c.Venues, v) >= 0
}

// OutputModeDir returns the output subdirectory name for the active grid
// and winsorization settings.
func (c *Config) OutputModeDir() string {
	if c.Grid.Clock() {
		if c.Winsor.Enabled {
			return "clock_winsor"
		}
		return "clock"
	}
	if c.Winsor.Enabled {
		return "event_winsor"
	}
	return "event"
}

func parseHM(s string) (h, m int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minute in %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("out of range: %q", s)
	}
	return h, m, nil
}
