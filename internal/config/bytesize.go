package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size value that supports human-readable parsing.
//
// Examples:
//   - "100KB" = 100 * 1024 bytes
//   - "5MB"   = 5 * 1024 * 1024 bytes
//   - "1.5GB" = 1.5 * 1024^3 bytes
//   - "524288" = 524288 bytes (raw number still works)
//
// This type implements encoding.TextUnmarshaler for Viper/YAML support
// and json.Unmarshaler for JSON configuration files.
type ByteSize int64

// Binary unit multipliers.
const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30
	tib = 1 << 40
)

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	// Raw numeric value means bytes.
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("byte size must not be negative: %s", s)
		}
		return ByteSize(n), nil
	}

	upper := strings.ToUpper(trimmed)
	var mult float64
	var suffix string
	switch {
	case strings.HasSuffix(upper, "TB"):
		mult, suffix = tib, "TB"
	case strings.HasSuffix(upper, "GB"):
		mult, suffix = gib, "GB"
	case strings.HasSuffix(upper, "MB"):
		mult, suffix = mib, "MB"
	case strings.HasSuffix(upper, "KB"):
		mult, suffix = kib, "KB"
	case strings.HasSuffix(upper, "B"):
		mult, suffix = 1, "B"
	default:
		return 0, fmt.Errorf("invalid byte size %q: unknown unit", s)
	}

	numPart := strings.TrimSpace(strings.TrimSuffix(upper, suffix))
	value, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("byte size must not be negative: %s", s)
	}

	return ByteSize(value * mult), nil
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
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Try as a number (bytes) for backwards compatibility
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Bytes returns the size in bytes as int64.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// Int returns the size in bytes as int.
func (b ByteSize) Int() int {
	return int(b)
}

// String returns a human-readable string representation.
func (b ByteSize) String() string {
	v := int64(b)
	switch {
	case v >= tib && v%tib == 0:
		return fmt.Sprintf("%dTB", v/tib)
	case v >= gib && v%gib == 0:
		return fmt.Sprintf("%dGB", v/gib)
	case v >= mib && v%mib == 0:
		return fmt.Sprintf("%dMB", v/mib)
	case v >= kib && v%kib == 0:
		return fmt.Sprintf("%dKB", v/kib)
	default:
		return strconv.FormatInt(v, 10)
	}
}
