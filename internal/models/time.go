package models

import (
	"fmt"
	"time"
)

// Vumi wire formats for timestamps. Messages are written with microsecond
// precision; both forms must be accepted on read.
const (
	vumiDateFormat        = "2006-01-02 15:04:05.000000"
	vumiDateFormatNoMicro = "2006-01-02 15:04:05"
)

// Timestamp is a UTC instant carried in the Vumi envelope format.
type Timestamp struct {
	time.Time
}

// Now returns the current UTC time truncated to microseconds, the precision
// that survives the wire format.
func Now() Timestamp {
	return Timestamp{time.Now().UTC().Truncate(time.Microsecond)}
}

// At wraps an instant, normalising to UTC microseconds.
func At(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Microsecond)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(vumiDateFormat) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid timestamp %s", s)
	}
	s = s[1 : len(s)-1]

	parsed, err := time.Parse(vumiDateFormat, s)
	if err != nil {
		parsed, err = time.Parse(vumiDateFormatNoMicro, s)
	}
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}
