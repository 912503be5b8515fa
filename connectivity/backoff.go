package connectivity

import "time"

// BackoffStrategy decides how long to wait between probes while offline.
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
	Reset()
}

// ExponentialBackoff grows the delay by Multiplier per attempt, capped at MaxDelay.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= eb.Multiplier
		if time.Duration(float64(eb.InitialDelay)*multiplier) > eb.MaxDelay {
			return eb.MaxDelay
		}
	}

	result := time.Duration(float64(eb.InitialDelay) * multiplier)
	if result > eb.MaxDelay {
		result = eb.MaxDelay
	}
	return result
}

func (eb *ExponentialBackoff) Reset() {}
