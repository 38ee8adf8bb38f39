package resilience

import (
	"time"

	"github.com/rotisserie/eris"
)

// Schedule is an ascending table of waits between automatic attempts. Once
// the attempt count passes the table length the last entry repeats.
type Schedule []time.Duration

// DefaultSchedule is 15m, 1h, 6h.
var DefaultSchedule = Schedule{15 * time.Minute, time.Hour, 6 * time.Hour}

// ParseSchedule parses durations such as "15m" or "6h". It rejects empty
// tables, non-positive entries and tables that are not ascending.
func ParseSchedule(values []string) (Schedule, error) {
	if len(values) == 0 {
		return nil, eris.New("resilience: empty backoff schedule")
	}
	out := make(Schedule, 0, len(values))
	for i, v := range values {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, eris.Wrapf(err, "resilience: parse backoff %q", v)
		}
		if d <= 0 {
			return nil, eris.Errorf("resilience: backoff %q must be positive", v)
		}
		if i > 0 && d < out[i-1] {
			return nil, eris.Errorf("resilience: backoff %q shorter than %s", v, out[i-1])
		}
		out = append(out, d)
	}
	return out, nil
}

// Delay returns the wait required after attempt (0-based) failures.
func (s Schedule) Delay(attempts int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= len(s) {
		attempts = len(s) - 1
	}
	return s[attempts]
}

// Due reports whether enough time has passed since last for another attempt.
// A nil last is always due.
func (s Schedule) Due(last *time.Time, attempts int, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= s.Delay(attempts)
}

// Strings renders the schedule for logs and config round trips.
func (s Schedule) Strings() []string {
	out := make([]string, len(s))
	for i, d := range s {
		out[i] = d.String()
	}
	return out
}
