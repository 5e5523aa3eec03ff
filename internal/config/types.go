package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that decodes from text. Bare integers are
// read as seconds so SEAGENT_SERVER_SHUTDOWN_TIMEOUT=30 works.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	var parsed time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		parsed = time.Duration(n) * time.Second
	} else if parsed, err = time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: negative", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret is a credential. Every formatting and encoding path yields a
// placeholder; only Value exposes it.
type Secret string

const redactedSecret = "[REDACTED]"

func (s Secret) redacted() string {
	if s == "" {
		return ""
	}
	return redactedSecret
}

func (s Secret) String() string { return s.redacted() }

// Format covers %v, %#v, %q and the rest, which would otherwise bypass
// String for some verbs.
func (s Secret) Format(f fmt.State, verb rune) {
	switch verb {
	case 'q':
		fmt.Fprintf(f, "%q", s.redacted())
	case 'v':
		if f.Flag('#') {
			fmt.Fprintf(f, "config.Secret(%q)", s.redacted())
			return
		}
		fallthrough
	default:
		_, _ = f.Write([]byte(s.redacted()))
	}
}

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.redacted()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.redacted()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
