// Package config provides configuration loading and validation for mediasift.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that supports human-readable parsing.
// In addition to Go's standard format it accepts 'd' (days) and 'w' (weeks):
// "2w", "30d", "1w2d12h".
type Duration time.Duration

// ParseDuration parses a human-readable duration string.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	// Rewrite day/week units into hours so time.ParseDuration can finish.
	var out strings.Builder
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' || r == '.' || r == '-':
			num += string(r)
		case r == 'd' || r == 'w':
			n, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			hours := n * 24
			if r == 'w' {
				hours *= 7
			}
			out.WriteString(strconv.FormatFloat(hours, 'f', -1, 64))
			out.WriteByte('h')
			num = ""
		default:
			out.WriteString(num)
			out.WriteRune(r)
			num = ""
		}
	}
	out.WriteString(num)

	d, err := time.ParseDuration(out.String())
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(d), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		return d.UnmarshalText([]byte(value))
	default:
		return fmt.Errorf("invalid duration type: %T", v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Std().String()), nil
}

// Std returns the standard time.Duration value.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration formatted as Go would.
func (d Duration) String() string {
	return d.Std().String()
}
