package types

import (
	"fmt"
	"strings"
)

// Constraint bounds a version from below (inclusive) and above (exclusive).
// A zero Version on either side leaves that side open.
type Constraint struct {
	NotBefore Version `json:"not_before,omitzero" yaml:"not_before,omitempty"`
	Before    Version `json:"before,omitzero" yaml:"before,omitempty"`
}

// Match reports whether v lies within the constraint.
func (c Constraint) Match(v Version) bool {
	if !c.NotBefore.IsZero() && v.Less(c.NotBefore) {
		return false
	}
	if !c.Before.IsZero() && !v.Less(c.Before) {
		return false
	}
	return true
}

// RangePartKind discriminates the variants of a VersionRange part.
type RangePartKind int

// Range part kinds.
const (
	RangePartExact RangePartKind = iota
	RangePartExclude
	RangePartRange
)

// RangePart is one alternative of a VersionRange: an exact version, an
// excluded version, or a half-open interval [Start, End).
type RangePart struct {
	Kind    RangePartKind
	Version Version // RangePartExact, RangePartExclude
	Start   Version // RangePartRange, zero = unbounded
	End     Version // RangePartRange, zero = unbounded
}

func parseRangePart(s string) (RangePart, error) {
	if start, end, ok := strings.Cut(s, ".."); ok {
		p := RangePart{Kind: RangePartRange}
		if start != "" {
			v, err := ParseVersion(start)
			if err != nil {
				return RangePart{}, err
			}
			p.Start = v
		}
		if end != "" {
			if !strings.HasPrefix(end, "!") {
				return RangePart{}, fmt.Errorf("%w: end of range %q must be exclusive (!)", ErrInvalidVersionRange, s)
			}
			v, err := ParseVersion(end[1:])
			if err != nil {
				return RangePart{}, err
			}
			p.End = v
		}
		return p, nil
	}
	if rest, ok := strings.CutPrefix(s, "!"); ok {
		v, err := ParseVersion(rest)
		if err != nil {
			return RangePart{}, err
		}
		return RangePart{Kind: RangePartExclude, Version: v}, nil
	}
	v, err := ParseVersion(s)
	if err != nil {
		return RangePart{}, err
	}
	return RangePart{Kind: RangePartExact, Version: v}, nil
}

// Match reports whether v is accepted by this part.
func (p RangePart) Match(v Version) bool {
	switch p.Kind {
	case RangePartExact:
		return p.Version.Equal(v)
	case RangePartExclude:
		return !p.Version.Equal(v)
	case RangePartRange:
		return Constraint{NotBefore: p.Start, Before: p.End}.Match(v)
	default:
		panic(fmt.Sprintf("unknown range part kind %d", p.Kind))
	}
}

// intersect narrows the part by c. ok is false when nothing remains.
func (p RangePart) intersect(c Constraint) (RangePart, bool) {
	switch p.Kind {
	case RangePartExact:
		return p, c.Match(p.Version)
	case RangePartExclude:
		// An exclusion outside the constraint is irrelevant and the
		// constraint remains; inside it the part is dropped.
		if c.Match(p.Version) {
			return RangePart{}, false
		}
		return RangePart{Kind: RangePartRange, Start: c.NotBefore, End: c.Before}, true
	case RangePartRange:
		start := p.Start
		if start.IsZero() || (!c.NotBefore.IsZero() && start.Less(c.NotBefore)) {
			start = c.NotBefore
		}
		end := p.End
		if end.IsZero() || (!c.Before.IsZero() && c.Before.Less(end)) {
			end = c.Before
		}
		if !start.IsZero() && !end.IsZero() && !start.Less(end) {
			return RangePart{}, false
		}
		return RangePart{Kind: RangePartRange, Start: start, End: end}, true
	default:
		panic(fmt.Sprintf("unknown range part kind %d", p.Kind))
	}
}

func (p RangePart) String() string {
	switch p.Kind {
	case RangePartExact:
		return p.Version.String()
	case RangePartExclude:
		return "!" + p.Version.String()
	case RangePartRange:
		s := p.Start.String() + ".."
		if !p.End.IsZero() {
			s += "!" + p.End.String()
		}
		return s
	default:
		return fmt.Sprintf("<kind %d>", p.Kind)
	}
}

// VersionRange is a disjunction of RangeParts written as "1.0..!2.0|!1.5".
// The empty range matches every version.
type VersionRange struct {
	parts []RangePart
}

// RangeNone is a range that matches no version.
var RangeNone = VersionRange{parts: []RangePart{{
	Kind:  RangePartRange,
	Start: MustParseVersion("0"),
	End:   MustParseVersion("0"),
}}}

// ParseVersionRange parses the "|" separated range syntax. An empty string
// yields the empty range.
func ParseVersionRange(s string) (VersionRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return VersionRange{}, nil
	}
	var r VersionRange
	for _, raw := range strings.Split(s, "|") {
		p, err := parseRangePart(strings.TrimSpace(raw))
		if err != nil {
			return VersionRange{}, fmt.Errorf("%w: %q: %w", ErrInvalidVersionRange, s, err)
		}
		r.parts = append(r.parts, p)
	}
	return r, nil
}

// MustParseVersionRange is like ParseVersionRange but panics on error.
func MustParseVersionRange(s string) VersionRange {
	r, err := ParseVersionRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// RangeFromConstraint returns the single-interval range equivalent to c.
func RangeFromConstraint(c Constraint) VersionRange {
	return VersionRange{parts: []RangePart{{Kind: RangePartRange, Start: c.NotBefore, End: c.Before}}}
}

// IsEmpty reports whether the range has no parts and therefore matches all
// versions.
func (r VersionRange) IsEmpty() bool { return len(r.parts) == 0 }

// Parts returns a copy of the range alternatives.
func (r VersionRange) Parts() []RangePart {
	return append([]RangePart(nil), r.parts...)
}

// Match reports whether any part accepts v. The empty range accepts all.
func (r VersionRange) Match(v Version) bool {
	if len(r.parts) == 0 {
		return true
	}
	for _, p := range r.parts {
		if p.Match(v) {
			return true
		}
	}
	return false
}

// Intersect narrows every part of the range by c. Parts that become empty
// are dropped; if none remain the result is RangeNone.
func (r VersionRange) Intersect(c Constraint) VersionRange {
	if len(r.parts) == 0 {
		return RangeFromConstraint(c)
	}
	var out VersionRange
	for _, p := range r.parts {
		if narrowed, ok := p.intersect(c); ok {
			out.parts = append(out.parts, narrowed)
		}
	}
	if len(out.parts) == 0 {
		return RangeNone
	}
	return out
}

// Equal compares ranges part by part.
func (r VersionRange) Equal(other VersionRange) bool {
	if len(r.parts) != len(other.parts) {
		return false
	}
	for i := range r.parts {
		if r.parts[i].String() != other.parts[i].String() {
			return false
		}
	}
	return true
}

func (r VersionRange) String() string {
	parts := make([]string, len(r.parts))
	for i, p := range r.parts {
		parts[i] = p.String()
	}
	return strings.Join(parts, "|")
}

// MarshalText implements encoding.TextMarshaler.
func (r VersionRange) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *VersionRange) UnmarshalText(text []byte) error {
	parsed, err := ParseVersionRange(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Restrictions is a conjunction of ranges: a version must match all of them.
// The solver accumulates one per interface as constraints propagate.
type Restrictions []VersionRange

// Match reports whether v satisfies every range.
func (rs Restrictions) Match(v Version) bool {
	for _, r := range rs {
		if !r.Match(v) {
			return false
		}
	}
	return true
}
