package atlas

import "time"

// nextBackoff returns the reconnect delay for the given attempt (1-based).
// The delay doubles from base each attempt and is capped at max. jitter is
// a fraction (0..1) of random spread applied around the computed delay so a
// venue full of processors does not reconnect in lockstep; rnd supplies a
// uniform value in [0,1).
func nextBackoff(attempt int, base, max time.Duration, jitter float64, rnd func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	if jitter > 0 && rnd != nil {
		// Spread uniformly across [d*(1-jitter), d*(1+jitter)].
		d = time.Duration(float64(d) * (1 + jitter*(2*rnd()-1)))
	}
	return d
}
