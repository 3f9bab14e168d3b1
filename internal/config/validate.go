package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Cache.Dir == "" {
		return errors.New("cache.dir is required")
	}
	if c.Output.Dir == "" {
		return errors.New("output.dir is required")
	}

	if c.Grid.Mode != GridEvent && c.Grid.Mode != GridClock {
		return fmt.Errorf("grid.mode must be %q or %q, got %q", GridEvent, GridClock, c.Grid.Mode)
	}
	if c.Grid.MaxGapMs < 1 {
		return errors.New("grid.max_gap_ms must be >= 1")
	}
	if c.Grid.FFill && !c.Grid.Clock() {
		return errors.New("grid.ffill requires grid.mode: clock")
	}

	if c.Winsor.Enabled {
		if c.Winsor.Policy != WinsorClip && c.Winsor.Policy != WinsorDrop {
			return fmt.Errorf("winsor.policy must be %q or %q, got %q", WinsorClip, WinsorDrop, c.Winsor.Policy)
		}
		if c.Winsor.QLo <= 0 || c.Winsor.QLo >= 1 {
			return fmt.Errorf("winsor.q_lo must be in (0,1), got %g", c.Winsor.QLo)
		}
		if c.Winsor.QHi <= 0 || c.Winsor.QHi >= 1 {
			return fmt.Errorf("winsor.q_hi must be in (0,1), got %g", c.Winsor.QHi)
		}
		if c.Winsor.QLo >= c.Winsor.QHi {
			return fmt.Errorf("winsor.q_lo (%g) must be below winsor.q_hi (%g)", c.Winsor.QLo, c.Winsor.QHi)
		}
		if c.Winsor.TailBound < 1 {
			return errors.New("winsor.tail_bound must be >= 1")
		}
	}

	b, err := c.RTH.Bounds()
	if err != nil {
		return err
	}
	if b.EndHour*60+b.EndMin <= b.StartHour*60+b.StartMin {
		return fmt.Errorf("rth window is empty: %s-%s", c.RTH.Start, c.RTH.End)
	}

	if c.Venues == "" {
		return errors.New("venues allow-list must not be empty")
	}
	if c.Symbol == "" {
		return errors.New("symbol is required")
	}

	if c.Years.Lo != 0 && c.Years.Hi != 0 && c.Years.Lo > c.Years.Hi {
		return fmt.Errorf("years.lo (%d) cannot exceed years.hi (%d)", c.Years.Lo, c.Years.Hi)
	}

	if c.Workers < 1 {
		return errors.New("workers must be >= 1")
	}
	if c.Output.BatchRows < 1 {
		return errors.New("output.batch_rows must be >= 1")
	}

	return nil
}
