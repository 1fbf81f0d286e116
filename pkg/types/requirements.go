package types

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
)

// ErrInvalidInterfaceURI indicates an interface URI that is neither an
// absolute http(s) URL nor an absolute local path.
var ErrInvalidInterfaceURI = errors.New("invalid interface URI")

// Requirements is a query for the solver: which interface to run and under
// what conditions.
type Requirements struct {
	InterfaceURI string `json:"interface"`

	// Command is the entry point to select. nil selects the default ("run",
	// or "compile" for source); a pointer to "" asks for no command at all.
	Command *string `json:"command,omitempty"`

	// Source requests source code instead of a binary.
	Source bool `json:"source,omitempty"`

	Architecture Architecture `json:"arch"`
	Languages    []string     `json:"langs,omitempty"`

	// ExtraRestrictions bounds the versions of specific interfaces,
	// including the root, keyed by interface URI.
	ExtraRestrictions map[string]VersionRange `json:"extra_restrictions,omitempty"`
}

// CommandName wraps name for use as Requirements.Command.
func CommandName(name string) *string { return &name }

// NormalizeInterfaceURI canonicalises uri: http(s) URLs are kept as
// absolute URLs, file:// URLs and local paths become cleaned absolute
// paths. Relative paths are rejected.
func NormalizeInterfaceURI(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidInterfaceURI)
	}
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		u, err := url.Parse(uri)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidInterfaceURI, uri)
		}
		return u.String(), nil
	}
	if rest, ok := strings.CutPrefix(uri, "file://"); ok {
		uri = rest
	}
	if !filepath.IsAbs(uri) {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidInterfaceURI, uri)
	}
	return filepath.Clean(uri), nil
}

// Normalize canonicalises the interface URI and the keys of
// ExtraRestrictions in place.
func (r *Requirements) Normalize() error {
	uri, err := NormalizeInterfaceURI(r.InterfaceURI)
	if err != nil {
		return err
	}
	r.InterfaceURI = uri
	if len(r.ExtraRestrictions) > 0 {
		normalized := make(map[string]VersionRange, len(r.ExtraRestrictions))
		for key, vr := range r.ExtraRestrictions {
			k, err := NormalizeInterfaceURI(key)
			if err != nil {
				return err
			}
			normalized[k] = vr
		}
		r.ExtraRestrictions = normalized
	}
	return nil
}

// EffectiveCommand resolves the nil default command.
func (r Requirements) EffectiveCommand() string {
	if r.Command != nil {
		return *r.Command
	}
	if r.Source || r.Architecture.Cpu == CpuSource {
		return CommandCompile
	}
	return CommandRun
}

// Effective returns a copy with the default command and wildcard
// architecture resolved against the running platform.
func (r Requirements) Effective() Requirements {
	out := r.Clone()
	out.Command = CommandName(r.EffectiveCommand())
	if r.Source {
		out.Architecture.Cpu = CpuSource
	}
	out.Architecture = out.Architecture.Effective()
	return out
}

// Clone returns a deep copy.
func (r Requirements) Clone() Requirements {
	out := r
	if r.Command != nil {
		out.Command = CommandName(*r.Command)
	}
	out.Languages = slices.Clone(r.Languages)
	out.ExtraRestrictions = maps.Clone(r.ExtraRestrictions)
	return out
}

// ForInterface returns requirements for a dependency: same platform and
// restrictions, different interface and command.
func (r Requirements) ForInterface(uri string, command string) Requirements {
	out := r.Clone()
	out.InterfaceURI = uri
	out.Command = CommandName(command)
	return out
}

// RootRestriction returns the extra restriction for the requested interface.
func (r Requirements) RootRestriction() (VersionRange, bool) {
	vr, ok := r.ExtraRestrictions[r.InterfaceURI]
	return vr, ok
}

func (r Requirements) String() string {
	if r.Command == nil || *r.Command == "" {
		return r.InterfaceURI
	}
	return r.InterfaceURI + " (" + *r.Command + ")"
}
