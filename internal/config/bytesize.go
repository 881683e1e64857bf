package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size value that supports human-readable parsing:
// "5MB", "1.5 GB", "500KB", or a raw byte count.
type ByteSize int64

var byteUnits = map[string]int64{
	"":   1,
	"b":  1,
	"kb": 1 << 10,
	"mb": 1 << 20,
	"gb": 1 << 30,
	"tb": 1 << 40,
}

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	idx := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			idx = i
			break
		}
	}
	numPart := strings.TrimSpace(s[:idx])
	unitPart := strings.TrimSpace(s[idx:])

	mult, ok := byteUnits[unitPart]
	if !ok {
		return 0, fmt.Errorf("invalid byte size unit %q", unitPart)
	}

	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("byte size must be non-negative: %q", s)
	}
	return ByteSize(n * float64(mult)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*b = ByteSize(value)
		return nil
	case string:
		return b.UnmarshalText([]byte(value))
	default:
		return fmt.Errorf("invalid byte size type: %T", v)
	}
}

// Int64 returns the size as a raw byte count.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String returns a human-readable representation.
func (b ByteSize) String() string {
	v := int64(b)
	switch {
	case v >= 1<<40:
		return fmt.Sprintf("%.1fTB", float64(v)/(1<<40))
	case v >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(v)/(1<<30))
	case v >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(v)/(1<<20))
	case v >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(v)/(1<<10))
	default:
		return fmt.Sprintf("%dB", v)
	}
}
