package coordinator

import "time"

// Backoff is a capped exponential retry policy for failed refreshes.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    5 * time.Second,
		Max:        5 * time.Minute,
		Multiplier: 2,
	}
}

// Next returns the delay before the next attempt after the given number of consecutive failures.
func (b Backoff) Next(failures int) time.Duration {
	if failures <= 0 || b.Initial <= 0 {
		return b.Initial
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.Initial)
	for i := 1; i < failures; i++ {
		delay *= mult
		if b.Max > 0 && delay >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(delay) > b.Max {
		return b.Max
	}
	return time.Duration(delay)
}
