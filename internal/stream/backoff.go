package stream

import "time"

// NextDelay returns the reconnect delay for an attempt index: base * 2^attempt,
// capped. Pure so the retry policy is testable without timers.
func NextDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return cap
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > cap {
		return cap
	}
	return delay
}
