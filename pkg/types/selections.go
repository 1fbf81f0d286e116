package types

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNotInSelections indicates a lookup for an interface that the
// selections do not cover.
var ErrNotInSelections = errors.New("interface not in selections")

// ImplementationSelection is the implementation chosen for one interface.
type ImplementationSelection struct {
	InterfaceURI   string             `json:"interface"`
	FromFeed       string             `json:"from_feed,omitempty"`
	ID             string             `json:"id"`
	Kind           ImplementationKind `json:"kind"`
	Version        Version            `json:"version"`
	Stability      Stability          `json:"stability,omitempty"`
	Architecture   Architecture       `json:"arch"`
	Languages      []string           `json:"langs,omitempty"`
	ManifestDigest ManifestDigest     `json:"manifest_digest,omitzero"`
	LocalPath      string             `json:"local_path,omitempty"`
	Commands       []Command          `json:"commands,omitempty"`
	Dependencies   []Dependency       `json:"dependencies,omitempty"`
	Restrictions   []Restriction      `json:"restrictions,omitempty"`

	// Candidates lists every implementation considered for this interface.
	// It is diagnostic only and not part of the persisted document.
	Candidates []SelectionCandidate `json:"-"`
}

// NewImplementationSelection copies the identity of impl for interface uri.
func NewImplementationSelection(uri string, impl *Implementation, candidates []SelectionCandidate) ImplementationSelection {
	return ImplementationSelection{
		InterfaceURI:   uri,
		FromFeed:       impl.FromFeed,
		ID:             impl.ID,
		Kind:           impl.Kind,
		Version:        impl.Version,
		Stability:      impl.Stability,
		Architecture:   impl.Architecture,
		Languages:      slices.Clone(impl.Languages),
		ManifestDigest: impl.ManifestDigest,
		LocalPath:      impl.LocalPath,
		Dependencies:   slices.Clone(impl.Dependencies),
		Restrictions:   slices.Clone(impl.Restrictions),
		Candidates:     candidates,
	}
}

// Command returns the named command, or nil.
func (s *ImplementationSelection) Command(name string) *Command {
	for i := range s.Commands {
		if s.Commands[i].Name == name {
			return &s.Commands[i]
		}
	}
	return nil
}

// Implementation reconstructs the implementation identity carried by s.
func (s *ImplementationSelection) Implementation() Implementation {
	return Implementation{
		ID:             s.ID,
		Kind:           s.Kind,
		FromFeed:       s.FromFeed,
		Version:        s.Version,
		Stability:      s.Stability,
		Architecture:   s.Architecture,
		Languages:      slices.Clone(s.Languages),
		ManifestDigest: s.ManifestDigest,
		LocalPath:      s.LocalPath,
		Dependencies:   slices.Clone(s.Dependencies),
		Restrictions:   slices.Clone(s.Restrictions),
		Commands:       slices.Clone(s.Commands),
	}
}

// Selections is the result of a solve: one implementation per interface in
// the dependency closure. The main interface comes first; the rest are
// sorted by URI.
type Selections struct {
	InterfaceURI    string                    `json:"interface"`
	Command         string                    `json:"command,omitempty"`
	Implementations []ImplementationSelection `json:"implementations"`
}

// Get returns the selection for uri, or nil.
func (s *Selections) Get(uri string) *ImplementationSelection {
	for i := range s.Implementations {
		if s.Implementations[i].InterfaceURI == uri {
			return &s.Implementations[i]
		}
	}
	return nil
}

// Contains reports whether uri has a selection.
func (s *Selections) Contains(uri string) bool { return s.Get(uri) != nil }

// Main returns the selection of the requested interface.
func (s *Selections) Main() (*ImplementationSelection, error) {
	if sel := s.Get(s.InterfaceURI); sel != nil {
		return sel, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotInSelections, s.InterfaceURI)
}

// Uncached lists the selections whose implementations still need to be
// fetched according to contains. Package-manager and local
// implementations never need fetching.
func (s *Selections) Uncached(contains func(ManifestDigest) bool) []ImplementationSelection {
	var out []ImplementationSelection
	for _, sel := range s.Implementations {
		impl := sel.Implementation()
		if !impl.IsCached(contains) {
			out = append(out, sel)
		}
	}
	return out
}

// Equal compares every persisted field, ignoring diagnostic candidates.
func (s *Selections) Equal(other *Selections) bool {
	if s.InterfaceURI != other.InterfaceURI || s.Command != other.Command ||
		len(s.Implementations) != len(other.Implementations) {
		return false
	}
	for i := range s.Implementations {
		if !s.Implementations[i].Equal(&other.Implementations[i]) {
			return false
		}
	}
	return true
}

// Equal compares the identity, version, digest and commands of two
// selections.
func (s *ImplementationSelection) Equal(other *ImplementationSelection) bool {
	if s.InterfaceURI != other.InterfaceURI || s.FromFeed != other.FromFeed || s.ID != other.ID ||
		s.Kind != other.Kind || !s.Version.Equal(other.Version) || s.Stability != other.Stability ||
		s.Architecture != other.Architecture || s.ManifestDigest != other.ManifestDigest ||
		s.LocalPath != other.LocalPath || !slices.Equal(s.Languages, other.Languages) {
		return false
	}
	return slices.EqualFunc(s.Commands, other.Commands, commandsEqual) &&
		slices.EqualFunc(s.Dependencies, other.Dependencies, dependenciesEqual) &&
		slices.EqualFunc(s.Restrictions, other.Restrictions, restrictionsEqual)
}

func commandsEqual(a, b Command) bool {
	if a.Name != b.Name || a.Path != b.Path || !slices.Equal(a.Arguments, b.Arguments) {
		return false
	}
	if (a.Runner == nil) != (b.Runner == nil) {
		return false
	}
	if a.Runner != nil && (a.Runner.InterfaceURI != b.Runner.InterfaceURI ||
		a.Runner.Command != b.Runner.Command || !slices.Equal(a.Runner.Arguments, b.Runner.Arguments) ||
		!a.Runner.Versions.Equal(b.Runner.Versions)) {
		return false
	}
	return slices.EqualFunc(a.Dependencies, b.Dependencies, dependenciesEqual) &&
		slices.EqualFunc(a.Restrictions, b.Restrictions, restrictionsEqual)
}

func dependenciesEqual(a, b Dependency) bool {
	return a.InterfaceURI == b.InterfaceURI && a.Importance == b.Importance && a.OS == b.OS &&
		a.EffectiveRange().Equal(b.EffectiveRange())
}

func restrictionsEqual(a, b Restriction) bool {
	return a.InterfaceURI == b.InterfaceURI && a.OS == b.OS && a.EffectiveRange().Equal(b.EffectiveRange())
}

// DiffKind classifies one entry of a selections diff.
type DiffKind int

// Diff kinds.
const (
	DiffAdded DiffKind = iota
	DiffRemoved
	DiffChanged
)

func (k DiffKind) String() string {
	switch k {
	case DiffAdded:
		return "added"
	case DiffRemoved:
		return "removed"
	case DiffChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// SelectionDiff describes how one interface differs between two
// selections. Old is nil for additions, New is nil for removals.
type SelectionDiff struct {
	InterfaceURI string
	Kind         DiffKind
	Old          *ImplementationSelection
	New          *ImplementationSelection
}

func (d SelectionDiff) String() string {
	switch d.Kind {
	case DiffAdded:
		return fmt.Sprintf("%s: new -> %s", d.InterfaceURI, d.New.Version)
	case DiffRemoved:
		return fmt.Sprintf("%s: %s -> removed", d.InterfaceURI, d.Old.Version)
	default:
		return fmt.Sprintf("%s: %s -> %s", d.InterfaceURI, d.Old.Version, d.New.Version)
	}
}

// Diff reports the interfaces whose selection differs from s to newer.
// A selection counts as changed when its implementation ID or version
// differs. The result is ordered by interface URI.
func (s *Selections) Diff(newer *Selections) []SelectionDiff {
	uris := make(map[string]struct{})
	for _, sel := range s.Implementations {
		uris[sel.InterfaceURI] = struct{}{}
	}
	for _, sel := range newer.Implementations {
		uris[sel.InterfaceURI] = struct{}{}
	}
	sorted := make([]string, 0, len(uris))
	for uri := range uris {
		sorted = append(sorted, uri)
	}
	slices.Sort(sorted)

	var diffs []SelectionDiff
	for _, uri := range sorted {
		oldSel, newSel := s.Get(uri), newer.Get(uri)
		switch {
		case oldSel == nil:
			diffs = append(diffs, SelectionDiff{InterfaceURI: uri, Kind: DiffAdded, New: newSel})
		case newSel == nil:
			diffs = append(diffs, SelectionDiff{InterfaceURI: uri, Kind: DiffRemoved, Old: oldSel})
		case oldSel.ID != newSel.ID || !oldSel.Version.Equal(newSel.Version):
			diffs = append(diffs, SelectionDiff{InterfaceURI: uri, Kind: DiffChanged, Old: oldSel, New: newSel})
		}
	}
	return diffs
}
