// Package feed reads interface feeds, caches them in SQLite and serves
// their implementations to the solver.
package feed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// ErrMissingID is returned for an <implementation> without an id.
var ErrMissingID = errors.New("implementation has no id")

type interfaceElement struct {
	XMLName xml.Name      `xml:"interface"`
	URI     string        `xml:"uri,attr"`
	Name    string        `xml:"name"`
	Summary string        `xml:"summary"`
	Feeds   []feedElement `xml:"feed"`
	groupBody
}

type feedElement struct {
	Src   string `xml:"src,attr"`
	Arch  string `xml:"arch,attr"`
	Langs string `xml:"langs,attr"`
}

// attrs are the attributes a <group> passes down to its children.
type attrs struct {
	Version         string `xml:"version,attr"`
	VersionModifier string `xml:"version-modifier,attr"`
	Stability       string `xml:"stability,attr"`
	Arch            string `xml:"arch,attr"`
	Langs           string `xml:"langs,attr"`
	Released        string `xml:"released,attr"`
	Main            string `xml:"main,attr"`
	LocalPath       string `xml:"local-path,attr"`
}

// body holds the children shared by groups and implementations.
type body struct {
	Requires  []types.DependencyElement `xml:"requires"`
	Restricts []types.DependencyElement `xml:"restricts"`
	Commands  []types.CommandElement    `xml:"command"`
}

type groupBody struct {
	Groups          []groupElement          `xml:"group"`
	Implementations []implementationElement `xml:"implementation"`
}

type groupElement struct {
	attrs
	body
	groupBody
}

type implementationElement struct {
	ID string `xml:"id,attr"`
	attrs
	body
	Digests []types.ManifestDigest `xml:"manifest-digest"`
}

// inherited is what an implementation receives from its enclosing groups.
type inherited struct {
	attrs        attrs
	dependencies []types.Dependency
	restrictions []types.Restriction
	commands     []types.Command
}

func (in inherited) merge(a attrs, b body) (inherited, error) {
	out := inherited{
		attrs:        overlay(in.attrs, a),
		dependencies: append([]types.Dependency(nil), in.dependencies...),
		restrictions: append([]types.Restriction(nil), in.restrictions...),
		commands:     append([]types.Command(nil), in.commands...),
	}
	for _, re := range b.Requires {
		d, err := re.Dependency()
		if err != nil {
			return inherited{}, err
		}
		out.dependencies = append(out.dependencies, d)
	}
	for _, re := range b.Restricts {
		r, err := re.Restriction()
		if err != nil {
			return inherited{}, err
		}
		out.restrictions = append(out.restrictions, r)
	}
	for _, ce := range b.Commands {
		c, err := ce.Command()
		if err != nil {
			return inherited{}, err
		}
		out.commands = replaceCommand(out.commands, c)
	}
	return out, nil
}

// overlay returns parent with every attribute child sets replaced.
func overlay(parent, child attrs) attrs {
	pick := func(p, c string) string {
		if c != "" {
			return c
		}
		return p
	}
	return attrs{
		Version:         pick(parent.Version, child.Version),
		VersionModifier: pick(parent.VersionModifier, child.VersionModifier),
		Stability:       pick(parent.Stability, child.Stability),
		Arch:            pick(parent.Arch, child.Arch),
		Langs:           pick(parent.Langs, child.Langs),
		Released:        pick(parent.Released, child.Released),
		Main:            pick(parent.Main, child.Main),
		LocalPath:       pick(parent.LocalPath, child.LocalPath),
	}
}

func replaceCommand(cmds []types.Command, c types.Command) []types.Command {
	for i := range cmds {
		if cmds[i].Name == c.Name {
			cmds[i] = c
			return cmds
		}
	}
	return append(cmds, c)
}

// Parse reads a feed document. uri is the location the feed was read
// from; it resolves relative local paths and is used when the document
// has no uri attribute.
func Parse(r io.Reader, uri string) (*types.Feed, error) {
	feed, err := parse(r, uri)
	if err != nil {
		return nil, &types.FeedDataError{Source: uri, Err: err}
	}
	return feed, nil
}

// ParseFile reads the feed at path.
func ParseFile(path string) (*types.Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()
	return Parse(f, path)
}

func parse(r io.Reader, uri string) (*types.Feed, error) {
	var doc interfaceElement
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	if doc.XMLName.Space != "" && doc.XMLName.Space != types.XMLNamespace {
		return nil, fmt.Errorf("unexpected namespace %q", doc.XMLName.Space)
	}

	feed := &types.Feed{
		URI:     doc.URI,
		Name:    strings.TrimSpace(doc.Name),
		Summary: strings.TrimSpace(doc.Summary),
	}
	if feed.URI == "" {
		feed.URI = uri
	}
	for _, fe := range doc.Feeds {
		arch, err := types.ParseArchitecture(fe.Arch)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", fe.Src, err)
		}
		feed.Feeds = append(feed.Feeds, types.FeedReference{
			Source:       fe.Src,
			Architecture: arch,
			Languages:    strings.Fields(fe.Langs),
		})
	}

	p := parser{feed: feed, baseDir: localBase(uri)}
	if err := p.walk(doc.groupBody, inherited{}); err != nil {
		return nil, err
	}
	return feed, nil
}

// localBase returns the directory of a local feed, or "" for remote ones.
func localBase(uri string) string {
	if filepath.IsAbs(uri) {
		return filepath.Dir(uri)
	}
	return ""
}

type parser struct {
	feed    *types.Feed
	baseDir string
}

func (p *parser) walk(g groupBody, in inherited) error {
	for _, ie := range g.Implementations {
		ctx, err := in.merge(ie.attrs, ie.body)
		if err != nil {
			return fmt.Errorf("implementation %s: %w", ie.ID, err)
		}
		impl, err := p.implementation(ie, ctx)
		if err != nil {
			return err
		}
		p.feed.Implementations = append(p.feed.Implementations, impl)
	}
	for _, ge := range g.Groups {
		ctx, err := in.merge(ge.attrs, ge.body)
		if err != nil {
			return fmt.Errorf("group: %w", err)
		}
		if err := p.walk(ge.groupBody, ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) implementation(ie implementationElement, in inherited) (types.Implementation, error) {
	if ie.ID == "" {
		return types.Implementation{}, ErrMissingID
	}
	a := in.attrs
	fail := func(err error) (types.Implementation, error) {
		return types.Implementation{}, fmt.Errorf("implementation %s: %w", ie.ID, err)
	}

	impl := types.Implementation{
		ID:           ie.ID,
		Kind:         types.ImplementationKindFeed,
		FromFeed:     p.feed.URI,
		Languages:    strings.Fields(a.Langs),
		Dependencies: in.dependencies,
		Restrictions: in.restrictions,
		Commands:     in.commands,
	}

	version, err := types.ParseVersion(a.Version + a.VersionModifier)
	if err != nil {
		return fail(err)
	}
	impl.Version = version

	impl.Stability = types.StabilityTesting
	if a.Stability != "" {
		if impl.Stability, err = types.ParseStability(a.Stability); err != nil {
			return fail(err)
		}
	}
	if impl.Architecture, err = types.ParseArchitecture(a.Arch); err != nil {
		return fail(err)
	}
	if a.Released != "" {
		if impl.Released, err = time.Parse(time.DateOnly, a.Released); err != nil {
			return fail(err)
		}
	}

	for _, d := range ie.Digests {
		mergeDigest(&impl.ManifestDigest, d)
	}
	impl.ManifestDigest.ParseID(ie.ID)

	localPath := a.LocalPath
	if localPath == "" && (strings.HasPrefix(ie.ID, ".") || strings.HasPrefix(ie.ID, "/")) {
		localPath = ie.ID
	}
	if localPath != "" {
		if !filepath.IsAbs(localPath) {
			if p.baseDir == "" {
				return fail(fmt.Errorf("relative local path %q in remote feed", localPath))
			}
			localPath = filepath.Join(p.baseDir, localPath)
		}
		impl.LocalPath = filepath.Clean(localPath)
		impl.Kind = types.ImplementationKindLocal
	}

	if a.Main != "" && impl.Command(types.CommandRun) == nil {
		impl.Commands = append(impl.Commands, types.Command{Name: types.CommandRun, Path: a.Main})
	}
	return impl, nil
}

func mergeDigest(dst *types.ManifestDigest, src types.ManifestDigest) {
	if dst.SHA1 == "" {
		dst.SHA1 = src.SHA1
	}
	if dst.SHA1New == "" {
		dst.SHA1New = src.SHA1New
	}
	if dst.SHA256 == "" {
		dst.SHA256 = src.SHA256
	}
	if dst.SHA256New == "" {
		dst.SHA256New = src.SHA256New
	}
}
