package types

import (
	"slices"
	"time"
)

// Importance of a dependency.
type Importance int

// Dependency importance levels. Essential dependencies must be satisfied;
// recommended ones are dropped when they cannot be.
const (
	ImportanceEssential Importance = iota
	ImportanceRecommended
)

func (i Importance) String() string {
	if i == ImportanceRecommended {
		return "recommended"
	}
	return "essential"
}

// ParseImportance maps "essential", "recommended" and "" (essential).
func ParseImportance(s string) Importance {
	if s == "recommended" {
		return ImportanceRecommended
	}
	return ImportanceEssential
}

// MarshalText implements encoding.TextMarshaler.
func (i Importance) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Importance) UnmarshalText(text []byte) error {
	*i = ParseImportance(string(text))
	return nil
}

// Dependency points at another interface the implementation needs.
type Dependency struct {
	InterfaceURI string       `json:"interface"`
	Importance   Importance   `json:"importance,omitempty"`
	Versions     VersionRange `json:"versions,omitzero"`
	Constraints  []Constraint `json:"constraints,omitempty"`
	OS           OS           `json:"os,omitempty"`
}

// EffectiveRange folds Versions and Constraints into a single range.
func (d Dependency) EffectiveRange() VersionRange {
	r := d.Versions
	for _, c := range d.Constraints {
		r = r.Intersect(c)
	}
	return r
}

// IsEssential reports whether the dependency must be satisfied.
func (d Dependency) IsEssential() bool { return d.Importance == ImportanceEssential }

// Restriction limits the versions of another interface without pulling it
// into the selection.
type Restriction struct {
	InterfaceURI string       `json:"interface"`
	Versions     VersionRange `json:"versions,omitzero"`
	Constraints  []Constraint `json:"constraints,omitempty"`
	OS           OS           `json:"os,omitempty"`
}

// EffectiveRange folds Versions and Constraints into a single range.
func (r Restriction) EffectiveRange() VersionRange {
	out := r.Versions
	for _, c := range r.Constraints {
		out = out.Intersect(c)
	}
	return out
}

// Runner names another interface whose command executes this command.
type Runner struct {
	InterfaceURI string       `json:"interface"`
	Command      string       `json:"command,omitempty"`
	Arguments    []string     `json:"arguments,omitempty"`
	Versions     VersionRange `json:"versions,omitzero"`
}

// CommandName returns the runner command to invoke, defaulting to "run".
func (r Runner) CommandName() string {
	if r.Command == "" {
		return CommandRun
	}
	return r.Command
}

// Command is a named entry point of an implementation.
type Command struct {
	Name         string        `json:"name"`
	Path         string        `json:"path,omitempty"`
	Arguments    []string      `json:"arguments,omitempty"`
	Runner       *Runner       `json:"runner,omitempty"`
	Dependencies []Dependency  `json:"dependencies,omitempty"`
	Restrictions []Restriction `json:"restrictions,omitempty"`
}

// Well-known command names.
const (
	CommandRun     = "run"
	CommandCompile = "compile"
	CommandTest    = "test"
)

// ImplementationKind discriminates where an implementation comes from.
type ImplementationKind int

// Implementation kinds.
const (
	// ImplementationKindFeed is downloaded and kept in the store.
	ImplementationKindFeed ImplementationKind = iota
	// ImplementationKindPackage is provided by the host's package manager
	// and never enters the store.
	ImplementationKindPackage
	// ImplementationKindLocal lives at a fixed local path.
	ImplementationKindLocal
)

func (k ImplementationKind) String() string {
	switch k {
	case ImplementationKindFeed:
		return "feed"
	case ImplementationKindPackage:
		return "package"
	case ImplementationKindLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Implementation is one concrete version of an interface.
type Implementation struct {
	ID             string             `json:"id"`
	Kind           ImplementationKind `json:"kind"`
	FromFeed       string             `json:"from_feed,omitempty"`
	Version        Version            `json:"version"`
	Stability      Stability          `json:"stability,omitempty"`
	Architecture   Architecture       `json:"arch"`
	Languages      []string           `json:"langs,omitempty"`
	Released       time.Time          `json:"released,omitzero"`
	ManifestDigest ManifestDigest     `json:"manifest_digest,omitzero"`
	LocalPath      string             `json:"local_path,omitempty"`
	Dependencies   []Dependency       `json:"dependencies,omitempty"`
	Restrictions   []Restriction      `json:"restrictions,omitempty"`
	Commands       []Command          `json:"commands,omitempty"`
}

// Command returns the named command, or nil.
func (impl *Implementation) Command(name string) *Command {
	for i := range impl.Commands {
		if impl.Commands[i].Name == name {
			return &impl.Commands[i]
		}
	}
	return nil
}

// ContainsCommand reports whether impl can satisfy a request for name. The
// empty name (library use) is always satisfiable.
func (impl *Implementation) ContainsCommand(name string) bool {
	return name == "" || impl.Command(name) != nil
}

// SupportsLanguages reports whether impl offers any of langs. An empty set
// on either side matches.
func (impl *Implementation) SupportsLanguages(langs []string) bool {
	if len(langs) == 0 || len(impl.Languages) == 0 {
		return true
	}
	for _, l := range langs {
		if slices.Contains(impl.Languages, l) {
			return true
		}
	}
	return false
}

// IsCached reports whether the implementation needs no download given a
// store membership test.
func (impl *Implementation) IsCached(contains func(ManifestDigest) bool) bool {
	switch impl.Kind {
	case ImplementationKindPackage, ImplementationKindLocal:
		return true
	case ImplementationKindFeed:
		if impl.LocalPath != "" {
			return true
		}
		return contains != nil && !impl.ManifestDigest.IsEmpty() && contains(impl.ManifestDigest)
	default:
		return false
	}
}

// FeedReference points from an interface feed to an additional feed that
// contributes implementations.
type FeedReference struct {
	Source       string       `json:"src"`
	Architecture Architecture `json:"arch"`
	Languages    []string     `json:"langs,omitempty"`
}

// Feed is the parsed description of an interface.
type Feed struct {
	URI             string           `json:"uri"`
	Name            string           `json:"name"`
	Summary         string           `json:"summary,omitempty"`
	Implementations []Implementation `json:"implementations"`
	Feeds           []FeedReference  `json:"feeds,omitempty"`
}

// Implementation returns the implementation with the given ID, or nil.
func (f *Feed) Implementation(id string) *Implementation {
	for i := range f.Implementations {
		if f.Implementations[i].ID == id {
			return &f.Implementations[i]
		}
	}
	return nil
}
