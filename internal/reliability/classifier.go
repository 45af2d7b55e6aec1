package reliability

import "time"

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsAbnormalCloseCode classifies websocket close codes. Only a normal
// closure (1000, RFC 6455) is terminal; every other code, including a
// missing close frame (1006), means the session ended abnormally and
// is eligible for reconnection.
func IsAbnormalCloseCode(code int) bool {
	return code != 1000
}

// Schedule is a fixed ordered list of reconnect delays indexed by
// consecutive-failure count.
type Schedule []time.Duration

// DefaultSchedule returns the standard reconnect ladder.
func DefaultSchedule() Schedule {
	return Schedule{time.Second, 2 * time.Second, 4 * time.Second}
}

// Delay returns the wait before the next reconnect attempt after the
// given number of consecutive failures (1-based). ok is false once the
// schedule is exhausted.
func (s Schedule) Delay(failures int) (d time.Duration, ok bool) {
	if failures < 1 {
		failures = 1
	}
	if failures > len(s) {
		return 0, false
	}
	return s[failures-1], true
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
