package msbin

import (
	"path/filepath"
	"strconv"
	"strings"
)

// FileName returns the cache file name for a symbol and year, e.g.
// "SPY2024.msbin".
func FileName(symbol string, year int) string {
	return symbol + strconv.Itoa(year) + Ext
}

// ExtractYear parses the 4-digit year that follows the symbol prefix in
// a file name ("SPY2024.msbin", "SPY2024.csv.gz", "SPY202401_11.msbin").
// Returns -1 when the name does not carry one.
func ExtractYear(name, symbol string) int {
	if !strings.HasPrefix(name, symbol) {
		return -1
	}
	rest := name[len(symbol):]
	if len(rest) < 4 {
		return -1
	}
	for i := 0; i < 4; i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return -1
		}
	}
	year, err := strconv.Atoi(rest[:4])
	if err != nil {
		return -1
	}
	return year
}

// PathForRaw maps a raw input file to its cache path in subdir:
// "<in>/SPY2024.csv.gz" -> "<subdir>/SPY2024.msbin".
func PathForRaw(rawPath, cacheSubdir string) string {
	name := filepath.Base(rawPath)
	if i := strings.Index(name, ".csv.gz"); i >= 0 {
		name = name[:i]
	}
	return filepath.Join(cacheSubdir, name+Ext)
}
