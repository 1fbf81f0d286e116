package types

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

type selectionsDocument struct {
	XMLName    xml.Name           `xml:"http://zero-install.sourceforge.net/2004/injector/interface selections"`
	Interface  string             `xml:"interface,attr"`
	Command    string             `xml:"command,attr,omitempty"`
	Selections []selectionElement `xml:"selection"`
}

type selectionElement struct {
	Interface      string              `xml:"interface,attr"`
	FromFeed       string              `xml:"from-feed,attr,omitempty"`
	ID             string              `xml:"id,attr"`
	Kind           string              `xml:"kind,attr,omitempty"`
	Version        string              `xml:"version,attr"`
	Stability      string              `xml:"stability,attr,omitempty"`
	Arch           string              `xml:"arch,attr,omitempty"`
	Langs          string              `xml:"langs,attr,omitempty"`
	LocalPath      string              `xml:"local-path,attr,omitempty"`
	ManifestDigest *ManifestDigest     `xml:"manifest-digest"`
	Commands       []CommandElement    `xml:"command"`
	Requires       []DependencyElement `xml:"requires"`
	Restricts      []DependencyElement `xml:"restricts"`
}

// MarshalSelections writes s as an indented selections document.
func MarshalSelections(w io.Writer, s *Selections) error {
	doc := selectionsDocument{Interface: s.InterfaceURI, Command: s.Command}
	for _, sel := range s.Implementations {
		el := selectionElement{
			Interface: sel.InterfaceURI,
			FromFeed:  sel.FromFeed,
			ID:        sel.ID,
			Version:   sel.Version.String(),
			Stability: sel.Stability.String(),
			LocalPath: sel.LocalPath,
			Langs:     strings.Join(sel.Languages, " "),
		}
		if sel.Kind != ImplementationKindFeed {
			el.Kind = sel.Kind.String()
		}
		if sel.Architecture != (Architecture{}) {
			el.Arch = sel.Architecture.String()
		}
		if !sel.ManifestDigest.IsEmpty() {
			digest := sel.ManifestDigest
			el.ManifestDigest = &digest
		}
		for _, c := range sel.Commands {
			el.Commands = append(el.Commands, NewCommandElement(c))
		}
		for _, d := range sel.Dependencies {
			el.Requires = append(el.Requires, NewDependencyElement(d))
		}
		for _, r := range sel.Restrictions {
			el.Restricts = append(el.Restricts, NewRestrictionElement(r))
		}
		doc.Selections = append(doc.Selections, el)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode selections: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// UnmarshalSelections reads a selections document. Errors in the document
// are reported as *FeedDataError.
func UnmarshalSelections(r io.Reader) (*Selections, error) {
	var doc selectionsDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &FeedDataError{Source: "selections", Err: err}
	}
	s := &Selections{InterfaceURI: doc.Interface, Command: doc.Command}
	for _, el := range doc.Selections {
		sel, err := el.selection()
		if err != nil {
			return nil, &FeedDataError{Source: "selections", Err: err}
		}
		s.Implementations = append(s.Implementations, sel)
	}
	return s, nil
}

func (el selectionElement) selection() (ImplementationSelection, error) {
	sel := ImplementationSelection{
		InterfaceURI: el.Interface,
		FromFeed:     el.FromFeed,
		ID:           el.ID,
		LocalPath:    el.LocalPath,
		Languages:    strings.Fields(el.Langs),
	}
	var err error
	if sel.Version, err = ParseVersion(el.Version); err != nil {
		return sel, fmt.Errorf("selection %s: %w", el.Interface, err)
	}
	if sel.Stability, err = ParseStability(el.Stability); err != nil {
		return sel, fmt.Errorf("selection %s: %w", el.Interface, err)
	}
	if sel.Architecture, err = ParseArchitecture(el.Arch); err != nil {
		return sel, fmt.Errorf("selection %s: %w", el.Interface, err)
	}
	switch el.Kind {
	case "", "feed":
		sel.Kind = ImplementationKindFeed
	case "package":
		sel.Kind = ImplementationKindPackage
	case "local":
		sel.Kind = ImplementationKindLocal
	default:
		return sel, fmt.Errorf("selection %s: unknown kind %q", el.Interface, el.Kind)
	}
	if el.ManifestDigest != nil {
		sel.ManifestDigest = *el.ManifestDigest
	}
	// Older documents carry the digest only in the ID.
	if sel.ManifestDigest.IsEmpty() {
		sel.ManifestDigest.ParseID(sel.ID)
	}
	for _, ce := range el.Commands {
		c, err := ce.Command()
		if err != nil {
			return sel, fmt.Errorf("selection %s: %w", el.Interface, err)
		}
		sel.Commands = append(sel.Commands, c)
	}
	for _, de := range el.Requires {
		d, err := de.Dependency()
		if err != nil {
			return sel, fmt.Errorf("selection %s: %w", el.Interface, err)
		}
		sel.Dependencies = append(sel.Dependencies, d)
	}
	for _, re := range el.Restricts {
		r, err := re.Restriction()
		if err != nil {
			return sel, fmt.Errorf("selection %s: %w", el.Interface, err)
		}
		sel.Restrictions = append(sel.Restrictions, r)
	}
	return sel, nil
}
