package types

import (
	"fmt"
	"strings"
)

// XMLNamespace is the namespace of feed and selections documents.
const XMLNamespace = "http://zero-install.sourceforge.net/2004/injector/interface"

// VersionElement is a <version not-before=".." before=".."/> child of
// <requires> or <restricts>.
type VersionElement struct {
	NotBefore string `xml:"not-before,attr,omitempty"`
	Before    string `xml:"before,attr,omitempty"`
}

func (e VersionElement) constraint() (Constraint, error) {
	var c Constraint
	if err := c.NotBefore.UnmarshalText([]byte(e.NotBefore)); err != nil {
		return Constraint{}, err
	}
	if err := c.Before.UnmarshalText([]byte(e.Before)); err != nil {
		return Constraint{}, err
	}
	return c, nil
}

// DependencyElement is the XML form of a Dependency (<requires>) or a
// Restriction (<restricts>).
type DependencyElement struct {
	Interface   string           `xml:"interface,attr"`
	Importance  string           `xml:"importance,attr,omitempty"`
	Version     string           `xml:"version,attr,omitempty"`
	OS          string           `xml:"os,attr,omitempty"`
	Constraints []VersionElement `xml:"version"`
}

func (e DependencyElement) parts() (VersionRange, []Constraint, OS, error) {
	vr, err := ParseVersionRange(e.Version)
	if err != nil {
		return VersionRange{}, nil, OSAll, err
	}
	var cs []Constraint
	for _, ve := range e.Constraints {
		c, err := ve.constraint()
		if err != nil {
			return VersionRange{}, nil, OSAll, err
		}
		cs = append(cs, c)
	}
	os := OSAll
	if e.OS != "" {
		os = ParseOS(e.OS)
	}
	return vr, cs, os, nil
}

// Dependency converts the element.
func (e DependencyElement) Dependency() (Dependency, error) {
	vr, cs, os, err := e.parts()
	if err != nil {
		return Dependency{}, fmt.Errorf("requires %s: %w", e.Interface, err)
	}
	return Dependency{
		InterfaceURI: e.Interface,
		Importance:   ParseImportance(e.Importance),
		Versions:     vr,
		Constraints:  cs,
		OS:           os,
	}, nil
}

// Restriction converts the element.
func (e DependencyElement) Restriction() (Restriction, error) {
	vr, cs, os, err := e.parts()
	if err != nil {
		return Restriction{}, fmt.Errorf("restricts %s: %w", e.Interface, err)
	}
	return Restriction{InterfaceURI: e.Interface, Versions: vr, Constraints: cs, OS: os}, nil
}

func constraintElements(cs []Constraint) []VersionElement {
	var out []VersionElement
	for _, c := range cs {
		out = append(out, VersionElement{NotBefore: c.NotBefore.String(), Before: c.Before.String()})
	}
	return out
}

// NewDependencyElement builds the XML form of d.
func NewDependencyElement(d Dependency) DependencyElement {
	e := DependencyElement{
		Interface:   d.InterfaceURI,
		Version:     d.Versions.String(),
		Constraints: constraintElements(d.Constraints),
	}
	if d.Importance == ImportanceRecommended {
		e.Importance = d.Importance.String()
	}
	if d.OS != OSAll {
		e.OS = d.OS.String()
	}
	return e
}

// NewRestrictionElement builds the XML form of r.
func NewRestrictionElement(r Restriction) DependencyElement {
	e := DependencyElement{
		Interface:   r.InterfaceURI,
		Version:     r.Versions.String(),
		Constraints: constraintElements(r.Constraints),
	}
	if r.OS != OSAll {
		e.OS = r.OS.String()
	}
	return e
}

// RunnerElement is the XML form of a Runner.
type RunnerElement struct {
	Interface string   `xml:"interface,attr"`
	Command   string   `xml:"command,attr,omitempty"`
	Version   string   `xml:"version,attr,omitempty"`
	Args      []string `xml:"arg"`
}

// CommandElement is the XML form of a Command.
type CommandElement struct {
	Name      string              `xml:"name,attr"`
	Path      string              `xml:"path,attr,omitempty"`
	Args      []string            `xml:"arg"`
	Runner    *RunnerElement      `xml:"runner"`
	Requires  []DependencyElement `xml:"requires"`
	Restricts []DependencyElement `xml:"restricts"`
}

// Command converts the element.
func (e CommandElement) Command() (Command, error) {
	c := Command{Name: e.Name, Path: e.Path, Arguments: trimAll(e.Args)}
	if e.Runner != nil {
		vr, err := ParseVersionRange(e.Runner.Version)
		if err != nil {
			return Command{}, fmt.Errorf("command %s runner: %w", e.Name, err)
		}
		c.Runner = &Runner{
			InterfaceURI: e.Runner.Interface,
			Command:      e.Runner.Command,
			Arguments:    trimAll(e.Runner.Args),
			Versions:     vr,
		}
	}
	for _, re := range e.Requires {
		d, err := re.Dependency()
		if err != nil {
			return Command{}, fmt.Errorf("command %s: %w", e.Name, err)
		}
		c.Dependencies = append(c.Dependencies, d)
	}
	for _, re := range e.Restricts {
		r, err := re.Restriction()
		if err != nil {
			return Command{}, fmt.Errorf("command %s: %w", e.Name, err)
		}
		c.Restrictions = append(c.Restrictions, r)
	}
	return c, nil
}

// NewCommandElement builds the XML form of c.
func NewCommandElement(c Command) CommandElement {
	e := CommandElement{Name: c.Name, Path: c.Path, Args: c.Arguments}
	if c.Runner != nil {
		e.Runner = &RunnerElement{
			Interface: c.Runner.InterfaceURI,
			Command:   c.Runner.Command,
			Version:   c.Runner.Versions.String(),
			Args:      c.Runner.Arguments,
		}
	}
	for _, d := range c.Dependencies {
		e.Requires = append(e.Requires, NewDependencyElement(d))
	}
	for _, r := range c.Restrictions {
		e.Restricts = append(e.Restricts, NewRestrictionElement(r))
	}
	return e
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
