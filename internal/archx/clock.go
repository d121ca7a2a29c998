package archx

import "time"

// Clock abstracts the TSC/APIC-derived monotonic timestamp a CPU uses for
// timer deadlines. The hosted backend uses the Go monotonic clock; a
// future bare-metal backend would read the real timestamp counter here
// instead.
type Clock interface {
	// NowNanos returns a monotonically increasing timestamp in nanoseconds.
	// Only differences between two calls are meaningful.
	NowNanos() int64
}

// SystemClock is the hosted Clock backed by time.Now's monotonic reading.
type SystemClock struct{}

// processStart anchors SystemClock readings; time.Since subtracts the
// monotonic components of the two readings.
var processStart = time.Now()

func (SystemClock) NowNanos() int64 {
	return int64(time.Since(processStart))
}
