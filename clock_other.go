//go:build !linux

package nucleus

import (
	"time"
)

// rawClockNow reports that no raw monotonic clock is available; callers fall
// back to the ordinary monotonic clock.
func rawClockNow() (time.Duration, bool) {
	return 0, false
}
