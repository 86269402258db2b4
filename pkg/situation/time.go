package situation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Time is absolute world time in minutes since the world started
type Time int64

// Duration is a span of world time in minutes
type Duration int64

const (
	Minute Duration = 1
	Hour            = 60 * Minute
	Day             = 24 * Hour
)

func (t Time) Add(d Duration) Time {
	return t + Time(d)
}

func (t Time) Sub(u Time) Duration {
	return Duration(t - u)
}

// String renders as "day 3 04:00", days counted from zero
func (t Time) String() string {
	day := int64(t) / int64(Day)
	rem := int64(t) % int64(Day)
	return fmt.Sprintf("day %d %02d:%02d", day, rem/60, rem%60)
}

// String renders the most compact unit breakdown, such as "1d12h" or "90m"
func (d Duration) String() string {
	if d == 0 {
		return "0m"
	}
	var b strings.Builder
	n := int64(d)
	if n < 0 {
		b.WriteByte('-')
		n = -n
	}
	if days := n / int64(Day); days > 0 {
		fmt.Fprintf(&b, "%dd", days)
		n %= int64(Day)
	}
	if hours := n / int64(Hour); hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
		n %= int64(Hour)
	}
	if n > 0 {
		fmt.Fprintf(&b, "%dm", n)
	}
	return b.String()
}

// ParseDuration accepts a sequence of integer/unit pairs with units d, h, m
// ("3d", "24h", "1d12h30m"). A bare integer is minutes.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(n), nil
	}

	var total Duration
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'd' || r == 'h' || r == 'm':
			if num == "" {
				return 0, fmt.Errorf("invalid duration %q: unit without amount", s)
			}
			n, err := strconv.ParseInt(num, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			switch r {
			case 'd':
				total += Duration(n) * Day
			case 'h':
				total += Duration(n) * Hour
			default:
				total += Duration(n) * Minute
			}
			num = ""
		default:
			return 0, fmt.Errorf("invalid duration %q: unexpected %q", s, r)
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q: missing unit", s)
	}
	return total, nil
}

// UnmarshalJSON accepts minutes as a number or a unit string
func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseDuration(s)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be minutes or a string like \"24h\": %w", err)
	}
	*d = Duration(n)
	return nil
}
