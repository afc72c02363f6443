package node

import "time"

// BackoffPolicy implements the hub's reconnect delay formula:
// delay = min(base * 2^(attempt-1), ceiling) for a 1-indexed attempt,
// abandoned once attempts or elapsed wall-clock time since the first
// failure in the streak reach a ceiling.
type BackoffPolicy struct {
	Base        time.Duration
	Ceiling     time.Duration
	MaxAttempts int
	MaxElapsed  time.Duration
}

// DefaultBackoffPolicy retries at 1s, 2s, 4s, 8s, 16s, then every 30s.
var DefaultBackoffPolicy = BackoffPolicy{
	Base:        time.Second,
	Ceiling:     30 * time.Second,
	MaxAttempts: 20,
	MaxElapsed:  10 * time.Minute,
}

// Delay returns the backoff delay for the given 1-indexed attempt number.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Ceiling {
			return p.Ceiling
		}
	}
	if d > p.Ceiling {
		return p.Ceiling
	}
	return d
}

// Abandoned reports whether the reconnect streak should be given up on,
// given the attempt count and the elapsed time since the first failure.
func (p BackoffPolicy) Abandoned(attempt int, elapsed time.Duration) bool {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return true
	}
	if p.MaxElapsed > 0 && elapsed >= p.MaxElapsed {
		return true
	}
	return false
}
