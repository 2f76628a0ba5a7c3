// Package progress converts per-output completion fractions into an overall
// job percentage and throttles how often that percentage is persisted.
package progress

import "time"

// Overall computes the job-wide completion percentage given the 0-based
// index of the output currently encoding, the total output count, and that
// output's local completion fraction in [0,1].
func Overall(index, total int, fraction float64) float64 {
	if total <= 0 {
		return 0
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	pct := 100 * (float64(index) + fraction) / float64(total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Throttle decides which progress values are worth persisting. A value is
// emitted when it has advanced by at least MinDelta points since the last
// emission, or when MinInterval has elapsed, whichever triggers first.
// Values never decrease across calls.
type Throttle struct {
	minDelta    float64
	minInterval time.Duration

	high     float64
	last     float64
	lastEmit time.Time
	emitted  bool

	now func() time.Time
}

func NewThrottle(minDelta float64, minInterval time.Duration) *Throttle {
	return &Throttle{
		minDelta:    minDelta,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Advance feeds the next raw percentage and reports whether it should be
// persisted. The returned value is clamped so the sequence of emitted
// values is monotonically non-decreasing.
func (t *Throttle) Advance(percent float64) (float64, bool) {
	if percent < t.high {
		percent = t.high
	} else {
		t.high = percent
	}

	now := t.now()
	if !t.emitted || percent-t.last >= t.minDelta || now.Sub(t.lastEmit) >= t.minInterval {
		t.emitted = true
		t.last = percent
		t.lastEmit = now
		return percent, true
	}
	return percent, false
}
