package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Version parsing errors.
var (
	ErrInvalidVersion      = errors.New("invalid version")
	ErrInvalidVersionRange = errors.New("invalid version range")
)

// Modifier is the optional prefix of an additional version part. The
// numeric values define the sort order: pre < rc < (none) < post.
type Modifier int

// Version part modifiers.
const (
	ModifierPre Modifier = iota - 2
	ModifierRC
	ModifierNone
	ModifierPost
)

var modifierNames = map[Modifier]string{
	ModifierPre:  "pre",
	ModifierRC:   "rc",
	ModifierNone: "",
	ModifierPost: "post",
}

// dottedList is a sequence of non-negative integers such as 1.2.3.
type dottedList []uint64

func parseDottedList(s string) (dottedList, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ".")
	list := make(dottedList, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil || f == "" {
			return nil, fmt.Errorf("%w: %q is not a dotted list", ErrInvalidVersion, s)
		}
		list[i] = n
	}
	return list, nil
}

// compare orders element-wise; a list that is a strict prefix of the other
// sorts first.
func (l dottedList) compare(other dottedList) int {
	for i := 0; i < len(l) && i < len(other); i++ {
		switch {
		case l[i] < other[i]:
			return -1
		case l[i] > other[i]:
			return 1
		}
	}
	switch {
	case len(l) < len(other):
		return -1
	case len(l) > len(other):
		return 1
	}
	return 0
}

func (l dottedList) String() string {
	parts := make([]string, len(l))
	for i, n := range l {
		parts[i] = strconv.FormatUint(n, 10)
	}
	return strings.Join(parts, ".")
}

// versionPart is one "-" separated suffix of a version, e.g. "pre2" or "post".
type versionPart struct {
	modifier Modifier
	list     dottedList
}

func parseVersionPart(s string) (versionPart, error) {
	p := versionPart{modifier: ModifierNone}
	for _, m := range []Modifier{ModifierPre, ModifierRC, ModifierPost} {
		name := modifierNames[m]
		if strings.HasPrefix(s, name) {
			p.modifier = m
			s = s[len(name):]
			break
		}
	}
	list, err := parseDottedList(s)
	if err != nil {
		return versionPart{}, err
	}
	p.list = list
	return p, nil
}

func (p versionPart) compare(other versionPart) int {
	switch {
	case p.modifier < other.modifier:
		return -1
	case p.modifier > other.modifier:
		return 1
	}
	return p.list.compare(other.list)
}

func (p versionPart) String() string {
	return modifierNames[p.modifier] + p.list.String()
}

// Version is an implementation version such as "1.2", "2.0-rc1" or
// "1.0-post". Versions are immutable values; the zero value is not a valid
// version and is reported by IsZero.
type Version struct {
	first      dottedList
	additional []versionPart
}

// ParseVersion parses a version string. The first part must be a non-empty
// dotted list of non-negative integers. Template placeholders such as
// "{version}" are rejected.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty string", ErrInvalidVersion)
	}
	if strings.ContainsAny(s, "{}") {
		return Version{}, fmt.Errorf("%w: %q contains template variables", ErrInvalidVersion, s)
	}
	parts := strings.Split(s, "-")
	first, err := parseDottedList(parts[0])
	if err != nil {
		return Version{}, err
	}
	if len(first) == 0 {
		return Version{}, fmt.Errorf("%w: %q must start with a dotted list", ErrInvalidVersion, s)
	}
	v := Version{first: first}
	for _, raw := range parts[1:] {
		p, err := parseVersionPart(raw)
		if err != nil {
			return Version{}, err
		}
		v.additional = append(v.additional, p)
	}
	return v, nil
}

// MustParseVersion is like ParseVersion but panics on error. Intended for
// constants and tests.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether v is the zero value (no version).
func (v Version) IsZero() bool {
	return len(v.first) == 0
}

// Compare returns -1, 0 or +1 depending on whether v sorts before, equal to
// or after other. Missing additional parts compare as an unmodified empty
// part, so 1.0-pre < 1.0 < 1.0-1 < 1.0-post.
func (v Version) Compare(other Version) int {
	if c := v.first.compare(other.first); c != 0 {
		return c
	}
	n := max(len(v.additional), len(other.additional))
	defaultPart := versionPart{modifier: ModifierNone}
	for i := 0; i < n; i++ {
		left, right := defaultPart, defaultPart
		if i < len(v.additional) {
			left = v.additional[i]
		}
		if i < len(other.additional) {
			right = other.additional[i]
		}
		if c := left.compare(right); c != 0 {
			return c
		}
	}
	return 0
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// Equal reports whether v and other sort the same. A trailing empty part
// is not significant, so 1.0 equals 1.0-.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// String returns the canonical string form; parsing it yields an equal value.
func (v Version) String() string {
	if v.IsZero() {
		return ""
	}
	var b strings.Builder
	b.WriteString(v.first.String())
	for _, p := range v.additional {
		b.WriteByte('-')
		b.WriteString(p.String())
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input leaves the
// zero value.
func (v *Version) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*v = Version{}
		return nil
	}
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
