package socket

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnection delays: Min*Factor^n, spread by Jitter in
// either direction and capped at Max.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64

	attempts int
	rand     func() float64
}

// Duration returns the delay before the next attempt and counts the attempt.
func (b *Backoff) Duration() time.Duration {
	factor := b.Factor
	if factor <= 0 {
		factor = 2
	}
	rnd := b.rand
	if rnd == nil {
		rnd = rand.Float64
	}

	ms := float64(b.Min) * math.Pow(factor, float64(b.attempts))
	b.attempts++
	if b.Jitter > 0 {
		r := rnd()
		deviation := math.Floor(r * b.Jitter * ms)
		if int(math.Floor(r*10))&1 == 0 {
			ms -= deviation
		} else {
			ms += deviation
		}
	}
	if b.Max > 0 && (ms > float64(b.Max) || math.IsInf(ms, 1)) {
		ms = float64(b.Max)
	}
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms)
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int { return b.attempts }

// Reset starts the sequence over.
func (b *Backoff) Reset() { b.attempts = 0 }
