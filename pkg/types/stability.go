package types

import (
	"errors"
	"fmt"
)

// ErrInvalidStability indicates an unrecognised stability name.
var ErrInvalidStability = errors.New("invalid stability")

// Stability rates the maturity of an implementation. Values are ordered so
// that a policy threshold can be compared with <.
type Stability int

// Stability ratings. StabilityUnset defers to the policy default.
const (
	StabilityUnset Stability = iota
	StabilityInsecure
	StabilityBuggy
	StabilityDeveloper
	StabilityTesting
	StabilityStable
	StabilityPreferred
)

var stabilityNames = []string{"", "insecure", "buggy", "developer", "testing", "stable", "preferred"}

// ParseStability maps a lowercase name to its value. The empty string maps
// to StabilityUnset.
func ParseStability(s string) (Stability, error) {
	for i, name := range stabilityNames {
		if name == s {
			return Stability(i), nil
		}
	}
	return StabilityUnset, fmt.Errorf("%w: %q", ErrInvalidStability, s)
}

func (s Stability) String() string {
	if s < 0 || int(s) >= len(stabilityNames) {
		return fmt.Sprintf("stability(%d)", int(s))
	}
	return stabilityNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Stability) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stability) UnmarshalText(text []byte) error {
	parsed, err := ParseStability(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
