// Package trigger decides when a clip may actually be played.
//
// Two mechanisms live here:
//
//   - [Gate] enforces playback exclusivity per session. At most one clip is
//     in flight; a trigger that loses the race is dropped, never queued.
//   - [Limiter] is the probabilistic admission check for the periodic random
//     trigger. The longer the channel has gone without a play, the more
//     likely a random clip gets through.
package trigger

import (
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// DefaultRateAdjuster is the time constant, in seconds, of the random
// trigger's admission curve. At 256 the admission probability is roughly 20%
// one minute after the last play and 50% around three minutes.
const DefaultRateAdjuster = 256.0

// Gate is the per-session playback lock: Idle -> Playing by compare-and-swap.
// The zero value is an idle gate ready for use.
type Gate struct {
	playing atomic.Bool
}

// TryAcquire attempts the Idle -> Playing transition. It returns true when
// the caller now owns playback; a false return means another trigger won and
// this one must be dropped.
func (g *Gate) TryAcquire() bool {
	return g.playing.CompareAndSwap(false, true)
}

// Release returns the gate to Idle. Call exactly once per successful
// TryAcquire, whether playback completed or aborted.
func (g *Gate) Release() {
	g.playing.Store(false)
}

// Busy reports whether a playback currently holds the gate.
func (g *Gate) Busy() bool {
	return g.playing.Load()
}

// Limiter computes the admission probability for random triggers.
// It is safe for concurrent use.
type Limiter struct {
	rateAdjuster float64
	randFloat    func() float64
}

// NewLimiter creates a Limiter with the given rate adjuster in seconds.
// Values <= 0 fall back to DefaultRateAdjuster.
func NewLimiter(rateAdjuster float64) *Limiter {
	if rateAdjuster <= 0 {
		rateAdjuster = DefaultRateAdjuster
	}
	return &Limiter{
		rateAdjuster: rateAdjuster,
		randFloat:    rand.Float64,
	}
}

// SetRandSource replaces the uniform random source. Intended for tests.
func (l *Limiter) SetRandSource(f func() float64) {
	l.randFloat = f
}

// Probability returns the admission probability for a random trigger given
// the time since the last successful play: 1 - e^(-dt/rateAdjuster).
// It is 0 at dt = 0 and approaches 1 as the channel stays quiet.
func (l *Limiter) Probability(sinceLastPlay time.Duration) float64 {
	if sinceLastPlay <= 0 {
		return 0
	}
	return 1 - math.Exp(-sinceLastPlay.Seconds()/l.rateAdjuster)
}

// Admit draws against the admission probability and reports whether the
// random trigger may proceed to the gate.
func (l *Limiter) Admit(sinceLastPlay time.Duration) bool {
	return l.randFloat() < l.Probability(sinceLastPlay)
}
