package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration unmarshals from a Go duration string ("30s", "1m30s") or from a
// bare number of seconds, which is what env overrides usually carry.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		secs, convErr := strconv.ParseFloat(s, 64)
		if convErr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		parsed = time.Duration(secs * float64(time.Second))
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret holds a credential. Every fmt verb and every text or JSON encoding
// prints a placeholder; only Value returns the credential.
type Secret string

const secretMask = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secretMask
}

// Format keeps %#v and %q from bypassing String.
func (s Secret) Format(f fmt.State, verb rune) {
	switch verb {
	case 'q':
		fmt.Fprintf(f, "%q", s.String())
	case 'v':
		if f.Flag('#') {
			fmt.Fprintf(f, "config.Secret(%q)", s.String())
			return
		}
		fallthrough
	default:
		fmt.Fprint(f, s.String())
	}
}

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

// MarshalText also covers JSON, which encodes TextMarshalers as strings.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}
