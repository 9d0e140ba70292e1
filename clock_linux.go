//go:build linux

package nucleus

import (
	"time"

	"golang.org/x/sys/unix"
)

// rawClockNow reads CLOCK_MONOTONIC_RAW, the hardware-based monotonic clock
// unaffected by NTP slewing.
func rawClockNow() (time.Duration, bool) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return 0, false
	}
	return time.Duration(ts.Nano()), true
}
