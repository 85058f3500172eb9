package store

import (
	"fmt"
	"time"
)

// FormatElapsed renders d as the zero-padded "SSS.mmm" label SPEC_FULL.md
// §4.1/§9 mandates for trail snapshot filenames: seconds (at least three
// digits, so backups sort lexicographically in chronological order for
// any operation running under 1000s) and milliseconds. Negative
// durations (clock skew) are clamped to zero.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	seconds := ms / 1000
	millis := ms % 1000
	return fmt.Sprintf("%03d.%03d", seconds, millis)
}
