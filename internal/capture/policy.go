package capture

import "time"

// Default flush thresholds.
const (
	DefaultCountThreshold = 10
	DefaultFlushInterval  = 2000 * time.Millisecond
)

// Policy is the dual-threshold flush policy. A flush is due when either
// threshold is reached; the two are evaluated independently.
type Policy struct {
	CountThreshold int
	FlushInterval  time.Duration
}

// DefaultPolicy returns the default flush policy.
func DefaultPolicy() Policy {
	return Policy{
		CountThreshold: DefaultCountThreshold,
		FlushInterval:  DefaultFlushInterval,
	}
}

// normalized replaces non-positive values with the defaults.
func (p Policy) normalized() Policy {
	if p.CountThreshold < 1 {
		p.CountThreshold = DefaultCountThreshold
	}
	if p.FlushInterval <= 0 {
		p.FlushInterval = DefaultFlushInterval
	}
	return p
}

// Due reports whether a buffer of length n whose last flush attempt happened
// at lastFlush should be flushed at now.
func (p Policy) Due(n int, lastFlush, now time.Time) bool {
	if n == 0 {
		return false
	}
	return n >= p.CountThreshold || now.Sub(lastFlush) >= p.FlushInterval
}
