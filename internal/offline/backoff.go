package offline

import (
	"math/rand"
	"time"
)

// Backoff gives the wait before retry number attempt (starting at 1).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles Base per attempt up to Max. Jitter in [0,1] takes a
// random fraction of up to that share off each delay.
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	// Rand returns a number in [0,1). Defaults to math/rand.
	Rand func() float64
}

func (b Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt && i < 32 && (b.Max <= 0 || d < b.Max); i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		jitter := b.Jitter
		if jitter > 1 {
			jitter = 1
		}
		d -= time.Duration(float64(d) * jitter * r())
	}
	return d
}
