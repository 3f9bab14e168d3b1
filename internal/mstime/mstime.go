// Package mstime provides helpers for the pipeline's integer-encoded
// timestamps.
//
// Convention: ts is a uint64 of the form YYYYMMDDHHMMSSmmm. All helpers
// assume this layout. The encoding sorts chronologically as a plain
// integer, which is what the cache format and the per-year partitioner
// rely on.
package mstime

// Encode builds a timestamp from a YYYYMMDD day integer and intraday
// components.
func Encode(day uint32, h, m, s, ms int) uint64 {
	return uint64(day)*1000000000 +
		uint64(h)*10000000 +
		uint64(m)*100000 +
		uint64(s)*1000 +
		uint64(ms)
}

// Day extracts YYYYMMDD as an integer from the full timestamp.
func Day(ts uint64) uint32 {
	return uint32(ts / 1000000000)
}

// Year extracts the 4-digit year.
func Year(ts uint64) int {
	return int(ts / 10000000000000)
}

// Hour extracts HH (0-23).
func Hour(ts uint64) int {
	return int((ts / 10000000) % 100)
}

// Minute extracts MM (0-59).
func Minute(ts uint64) int {
	return int((ts / 100000) % 100)
}

// Second extracts SS (0-59).
func Second(ts uint64) int {
	return int((ts / 1000) % 100)
}

// Milli extracts mmm (0-999).
func Milli(ts uint64) int {
	return int(ts % 1000)
}

// SameDay reports whether two timestamps fall on the same calendar day.
func SameDay(a, b uint64) bool {
	return Day(a) == Day(b)
}

// MsSinceMidnight returns milliseconds since midnight from the
// HH:MM:SS.mmm components.
func MsSinceMidnight(ts uint64) int {
	return ((Hour(ts)*60+Minute(ts))*60+Second(ts))*1000 + Milli(ts)
}

// IncMs advances the timestamp by one millisecond. Rolls ms, seconds and
// minutes; does not perform calendar arithmetic, so the caller must stay
// within a valid intraday range. Forward-fill only runs within one
// trading day, which satisfies that.
func IncMs(ts uint64) uint64 {
	day := Day(ts)
	h, m, s, ms := Hour(ts), Minute(ts), Second(ts), Milli(ts)

	ms++
	if ms == 1000 {
		ms = 0
		s++
		if s == 60 {
			s = 0
			m++
			if m == 60 {
				m = 0
				h++
			}
		}
	}
	return Encode(day, h, m, s, ms)
}
