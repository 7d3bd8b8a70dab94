// Package backoff computes the delay before an automatic retry.
package backoff

import (
	"math"
	"math/rand"
	"time"

	"github.com/cesargomez89/tubedrop/internal/constants"
)

// Policy maps the number of failed attempts so far (starting at 1) to the
// delay before the next attempt. Implementations must be pure apart from
// jitter.
type Policy interface {
	Delay(attempt int) time.Duration
}

// Linear waits Step for every failed attempt: Step, 2*Step, 3*Step, ...
type Linear struct {
	Step time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return l.Step * time.Duration(attempt)
}

// Exponential grows Base by Multiplier per attempt, capped at Max, with a
// symmetric random Jitter expressed as a fraction of the delay.
type Exponential struct {
	// Rand returns a value in [0,1). Nil means math/rand.
	Rand       func() float64
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Default returns the exponential policy used when nothing is configured.
func Default() Exponential {
	return Exponential{
		Base:       constants.DefaultBackoffBase,
		Max:        constants.DefaultBackoffMax,
		Multiplier: constants.DefaultBackoffMultiplier,
		Jitter:     constants.DefaultBackoffJitter,
	}
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := e.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(e.Base) * math.Pow(mult, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}

	if e.Jitter > 0 {
		r := e.Rand
		if r == nil {
			r = rand.Float64
		}
		// Spread uniformly over [-Jitter, +Jitter).
		d += d * e.Jitter * (2*r() - 1)
	}

	if d < 0 {
		d = 0
	}
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}
	return time.Duration(d)
}

// Zero retries immediately.
type Zero struct{}

func (Zero) Delay(int) time.Duration { return 0 }
