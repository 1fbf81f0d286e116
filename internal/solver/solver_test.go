package solver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/depot/pkg/types"
)

const (
	editorURI = "http://example.com/editor.xml"
	libURI    = "http://example.com/lib.xml"
	aURI      = "http://example.com/a.xml"
	bURI      = "http://example.com/b.xml"
	pythonURI = "http://example.com/python.xml"
)

// fakeProvider serves fixed implementation lists.
type fakeProvider struct {
	feeds map[string][]types.Implementation
	err   map[string]error
	fresh int
	calls map[string]int
}

func newProvider(feeds map[string][]types.Implementation) *fakeProvider {
	return &fakeProvider{feeds: feeds, err: map[string]error{}, calls: map[string]int{}}
}

func (p *fakeProvider) GetImplementations(_ context.Context, uri string) ([]types.Implementation, error) {
	p.calls[uri]++
	if err := p.err[uri]; err != nil {
		return nil, err
	}
	impls, ok := p.feeds[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrFeedNotFound, uri)
	}
	return impls, nil
}

func (p *fakeProvider) GetFresh(ctx context.Context, uri string) ([]types.Implementation, error) {
	p.fresh++
	return p.GetImplementations(ctx, uri)
}

type fakeStore map[string]bool

func (s fakeStore) Contains(d types.ManifestDigest) bool { return s[d.Best()] }

func impl(id, version string, stability types.Stability, deps ...types.Dependency) types.Implementation {
	return types.Implementation{
		ID:             id,
		Version:        types.MustParseVersion(version),
		Stability:      stability,
		ManifestDigest: types.ManifestDigest{SHA256New: id},
		Dependencies:   deps,
		Commands:       []types.Command{{Name: types.CommandRun, Path: "bin/" + id}},
	}
}

func requires(uri, versions string) types.Dependency {
	return types.Dependency{InterfaceURI: uri, Versions: types.MustParseVersionRange(versions)}
}

func recommends(uri, versions string) types.Dependency {
	d := requires(uri, versions)
	d.Importance = types.ImportanceRecommended
	return d
}

func library(uri string) types.Requirements {
	return types.Requirements{InterfaceURI: uri, Command: types.CommandName("")}
}

func versionOf(t *testing.T, sels *types.Selections, uri string) string {
	t.Helper()
	sel := sels.Get(uri)
	require.NotNil(t, sel, "no selection for %s", uri)
	return sel.Version.String()
}

func TestSolvePicksHighestStable(t *testing.T) {
	p := newProvider(map[string][]types.Implementation{
		editorURI: {
			impl("e10", "1.0", types.StabilityStable),
			impl("e20", "2.0", types.StabilityTesting),
			impl("e15", "1.5", types.StabilityStable),
		},
	})

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"stable policy", Options{StabilityPolicy: types.StabilityStable}, "1.5"},
		{"default policy", Options{}, "1.5"},
		{"help with testing", Options{HelpWithTesting: true}, "2.0"},
		{"testing policy", Options{StabilityPolicy: types.StabilityTesting}, "2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sels, err := New(p, tt.opts).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
			require.NoError(t, err)
			assert.Equal(t, tt.want, versionOf(t, sels, editorURI))
			assert.Equal(t, types.CommandRun, sels.Command)
			main, err := sels.Main()
			require.NoError(t, err)
			require.Len(t, main.Commands, 1)
			assert.Equal(t, types.CommandRun, main.Commands[0].Name)
		})
	}
}

func TestSolveStabilityOverrides(t *testing.T) {
	p := newProvider(map[string][]types.Implementation{
		editorURI: {
			impl("e10", "1.0", types.StabilityStable, requires(libURI, "")),
			impl("e20", "2.0", types.StabilityTesting, requires(libURI, "")),
		},
		libURI: {impl("l10", "1.0", types.StabilityTesting)},
	})

	_, err := New(p, Options{StabilityPolicy: types.StabilityStable}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	var serr *types.SolverError
	require.ErrorAs(t, err, &serr)

	tests := []struct {
		name       string
		prefs      map[string]types.InterfacePreferences
		wantEditor string
	}{
		{
			name:       "user rating raises dependency",
			prefs:      map[string]types.InterfacePreferences{libURI: {UserStability: map[string]types.Stability{"l10": types.StabilityStable}}},
			wantEditor: "1.0",
		},
		{
			name:       "interface policy lowers threshold for that interface only",
			prefs:      map[string]types.InterfacePreferences{libURI: {StabilityPolicy: types.StabilityTesting}},
			wantEditor: "1.0",
		},
		{
			name: "user rating promotes root candidate",
			prefs: map[string]types.InterfacePreferences{
				editorURI: {UserStability: map[string]types.Stability{"e20": types.StabilityPreferred}},
				libURI:    {StabilityPolicy: types.StabilityTesting},
			},
			wantEditor: "2.0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{StabilityPolicy: types.StabilityStable, Preferences: tt.prefs}
			sels, err := New(p, opts).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
			require.NoError(t, err)
			assert.Equal(t, tt.wantEditor, versionOf(t, sels, editorURI))
			assert.Equal(t, "1.0", versionOf(t, sels, libURI))
		})
	}

	t.Run("user rating demotes", func(t *testing.T) {
		prefs := map[string]types.InterfacePreferences{
			editorURI: {UserStability: map[string]types.Stability{"e10": types.StabilityBuggy}},
			libURI:    {StabilityPolicy: types.StabilityTesting},
		}
		cands, err := New(p, Options{Preferences: prefs}).Candidates(context.Background(), types.Requirements{InterfaceURI: editorURI})
		require.NoError(t, err)
		require.Len(t, cands, 2)
		for _, c := range cands {
			assert.False(t, c.IsSuitable, c.Implementation.ID)
		}
		assert.Equal(t, types.StabilityBuggy, cands[1].EffectiveStability)
		assert.Equal(t, types.NoteBuggy, cands[1].Notes)
	})
}

func TestSolvePropagatesConstraints(t *testing.T) {
	p := newProvider(map[string][]types.Implementation{
		editorURI: {impl("app", "1.0", types.StabilityStable, requires(aURI, "2.0.."))},
		aURI: {
			impl("a1", "1.0", types.StabilityStable),
			impl("a2", "2.0", types.StabilityStable, requires(bURI, "..!3.0")),
		},
		bURI: {
			impl("b31", "3.1", types.StabilityStable),
			impl("b25", "2.5", types.StabilityStable),
		},
	})

	sels, err := New(p, Options{}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	require.NoError(t, err)
	assert.Equal(t, "2.0", versionOf(t, sels, aURI))
	assert.Equal(t, "2.5", versionOf(t, sels, bURI))

	uris := make([]string, 0, len(sels.Implementations))
	for _, s := range sels.Implementations {
		uris = append(uris, s.InterfaceURI)
	}
	assert.Equal(t, []string{editorURI, aURI, bURI}, uris, "main first, then sorted")
}

func TestSolveBacktracks(t *testing.T) {
	// lib 2.0 conflicts with the b that a 2.0 needs, so a falls back to 1.0.
	p := newProvider(map[string][]types.Implementation{
		editorURI: {impl("app", "1.0", types.StabilityStable, requires(libURI, ""), requires(aURI, ""))},
		libURI:    {impl("lib2", "2.0", types.StabilityStable, requires(bURI, "..!2.0"))},
		aURI: {
			impl("a2", "2.0", types.StabilityStable, requires(bURI, "2.0..")),
			impl("a1", "1.0", types.StabilityStable, requires(bURI, "")),
		},
		bURI: {
			impl("b2", "2.0", types.StabilityStable),
			impl("b1", "1.0", types.StabilityStable),
		},
	})

	sels, err := New(p, Options{}).Solve(context.Background(), library(editorURI))
	require.NoError(t, err)
	assert.Equal(t, "1.0", versionOf(t, sels, aURI))
	assert.Equal(t, "1.0", versionOf(t, sels, bURI))
}

func TestSolveUnsatisfiable(t *testing.T) {
	p := newProvider(map[string][]types.Implementation{
		editorURI: {impl("app", "1.0", types.StabilityStable, requires(libURI, ""))},
		libURI:    {impl("lib", "1.0", types.StabilityTesting)},
	})

	_, err := New(p, Options{StabilityPolicy: types.StabilityStable}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	var se *types.SolverError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, libURI, se.InterfaceURI)
	assert.Contains(t, se.Reason, types.NoteBelowStability)

	sels, err := New(p, Options{StabilityPolicy: types.StabilityTesting}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	require.NoError(t, err, "raising the policy makes it solvable")
	assert.Equal(t, "1.0", versionOf(t, sels, libURI))
}

func TestSolveDropsRecommended(t *testing.T) {
	p := newProvider(map[string][]types.Implementation{
		editorURI: {impl("app", "1.0", types.StabilityStable, recommends(libURI, "5.0.."), requires(aURI, ""))},
		libURI:    {impl("lib", "1.0", types.StabilityStable)},
		aURI:      {impl("a", "1.0", types.StabilityStable)},
	})

	sels, err := New(p, Options{}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	require.NoError(t, err)
	assert.False(t, sels.Contains(libURI))
	assert.True(t, sels.Contains(aURI))
}

func TestSolveRunner(t *testing.T) {
	app := impl("app", "1.0", types.StabilityStable)
	app.Commands = []types.Command{{
		Name: types.CommandRun,
		Path: "main.py",
		Runner: &types.Runner{
			InterfaceURI: pythonURI,
			Arguments:    []string{"-u"},
			Versions:     types.MustParseVersionRange("3.0.."),
		},
	}}
	p := newProvider(map[string][]types.Implementation{
		editorURI: {app},
		pythonURI: {
			impl("py2", "2.7", types.StabilityStable),
			impl("py3", "3.11", types.StabilityStable),
			{ID: "py4", Version: types.MustParseVersion("4.0"), Stability: types.StabilityStable},
		},
	})

	sels, err := New(p, Options{}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	require.NoError(t, err)
	assert.Equal(t, "3.11", versionOf(t, sels, pythonURI), "4.0 has no run command")
	py := sels.Get(pythonURI)
	require.Len(t, py.Commands, 1)
	assert.Equal(t, "bin/py3", py.Commands[0].Path)
}

func TestSolveDeterministic(t *testing.T) {
	p := newProvider(map[string][]types.Implementation{
		editorURI: {impl("app", "1.0", types.StabilityStable, requires(aURI, ""), requires(bURI, ""))},
		aURI: {
			impl("a-x", "1.0", types.StabilityStable),
			impl("a-y", "1.0", types.StabilityStable),
		},
		bURI: {impl("b", "1.0", types.StabilityStable)},
	})

	s := New(p, Options{})
	first, err := s.Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	require.NoError(t, err)
	for range 5 {
		again, err := s.Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
	}
	assert.Equal(t, "a-x", first.Get(aURI).ID, "feed order breaks version ties")
}

func TestSolveCachePresence(t *testing.T) {
	p := newProvider(map[string][]types.Implementation{
		editorURI: {
			impl("first", "1.0", types.StabilityStable),
			impl("second", "1.0", types.StabilityStable),
			impl("old", "0.9", types.StabilityStable),
		},
	})

	tests := []struct {
		name  string
		store fakeStore
		want  string
	}{
		{"nothing cached", fakeStore{}, "first"},
		{"equal version cached", fakeStore{"sha256new_second": true}, "second"},
		{"older version cached", fakeStore{"sha256new_old": true}, "first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sels, err := New(p, Options{Store: tt.store}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
			require.NoError(t, err)
			assert.Equal(t, tt.want, sels.Get(editorURI).ID)
		})
	}
}

func TestSolveOffline(t *testing.T) {
	p := newProvider(map[string][]types.Implementation{
		editorURI: {
			impl("new", "2.0", types.StabilityStable),
			impl("old", "1.0", types.StabilityStable),
		},
	})
	opts := Options{NetworkUse: types.NetworkOffline, Store: fakeStore{"sha256new_old": true}}

	sels, err := New(p, opts).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	require.NoError(t, err)
	assert.Equal(t, "old", sels.Get(editorURI).ID)
}

func TestSolveExtraRestrictions(t *testing.T) {
	p := newProvider(map[string][]types.Implementation{
		editorURI: {
			impl("e2", "2.0", types.StabilityStable, requires(libURI, "")),
			impl("e1", "1.0", types.StabilityStable, requires(libURI, "")),
		},
		libURI: {
			impl("l3", "3.0", types.StabilityStable),
			impl("l2", "2.0", types.StabilityStable),
		},
	})
	req := types.Requirements{
		InterfaceURI: editorURI,
		ExtraRestrictions: map[string]types.VersionRange{
			editorURI: types.MustParseVersionRange("..!2.0"),
			libURI:    types.MustParseVersionRange("2.0"),
		},
	}

	sels, err := New(p, Options{}).Solve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "1.0", versionOf(t, sels, editorURI))
	assert.Equal(t, "2.0", versionOf(t, sels, libURI))
}

func TestSolveCommandOnExistingSelection(t *testing.T) {
	tool := impl("tool", "1.0", types.StabilityStable)
	tool.Commands = append(tool.Commands, types.Command{Name: "compile", Path: "bin/cc"})
	app := impl("app", "1.0", types.StabilityStable, requires(aURI, ""))
	app.Commands = []types.Command{{
		Name:   types.CommandRun,
		Runner: &types.Runner{InterfaceURI: aURI, Command: "compile"},
	}}
	p := newProvider(map[string][]types.Implementation{
		editorURI: {app},
		aURI:      {tool},
	})

	sels, err := New(p, Options{}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	require.NoError(t, err)
	sel := sels.Get(aURI)
	require.NotNil(t, sel)
	require.Len(t, sel.Commands, 1)
	assert.Equal(t, "compile", sel.Commands[0].Name)
}

func TestSolveSource(t *testing.T) {
	src := impl("src", "1.0", types.StabilityStable)
	src.Architecture = types.Architecture{Cpu: types.CpuSource}
	src.Commands = []types.Command{{Name: types.CommandCompile, Path: "build.sh"}}
	bin := impl("bin", "1.0", types.StabilityStable)
	p := newProvider(map[string][]types.Implementation{editorURI: {src, bin}})

	sels, err := New(p, Options{}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI, Source: true})
	require.NoError(t, err)
	assert.Equal(t, "src", sels.Get(editorURI).ID)
	assert.Equal(t, types.CommandCompile, sels.Command)

	sels, err = New(p, Options{}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	require.NoError(t, err)
	assert.Equal(t, "bin", sels.Get(editorURI).ID)
}

func TestSolveErrors(t *testing.T) {
	feedErr := &types.FeedDataError{Source: libURI, Err: errors.New("bad xml")}
	transient := &types.TransientError{Op: "fetch", Err: errors.New("timeout")}

	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{"missing feed", nil, func(t *testing.T, err error) { assert.ErrorIs(t, err, types.ErrFeedNotFound) }},
		{"bad feed", feedErr, func(t *testing.T, err error) { assert.Same(t, feedErr, err) }},
		{"transient", transient, func(t *testing.T, err error) { assert.True(t, types.IsTransient(err)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProvider(map[string][]types.Implementation{
				editorURI: {impl("app", "1.0", types.StabilityStable, requires(libURI, ""))},
			})
			if tt.err != nil {
				p.err[libURI] = tt.err
			}
			_, err := New(p, Options{}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestSolveCanceled(t *testing.T) {
	p := newProvider(map[string][]types.Implementation{editorURI: {impl("app", "1.0", types.StabilityStable)}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(p, Options{}).Solve(ctx, types.Requirements{InterfaceURI: editorURI})
	assert.True(t, types.IsCanceled(err))
}

func TestSolveTooComplex(t *testing.T) {
	// Every a conflicts with the only b, so the search exhausts its budget.
	var as []types.Implementation
	for i := range 50 {
		as = append(as, impl(fmt.Sprintf("a%d", i), fmt.Sprintf("1.%d", i), types.StabilityStable, requires(bURI, "5.0..")))
	}
	p := newProvider(map[string][]types.Implementation{
		editorURI: {impl("app", "1.0", types.StabilityStable, requires(aURI, ""))},
		aURI:      as,
		bURI:      {impl("b", "1.0", types.StabilityStable)},
	})

	_, err := New(p, Options{MaxSteps: 10}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	assert.ErrorIs(t, err, types.ErrGraphTooComplex)
}

func TestSolveRefreshUsesGetFresh(t *testing.T) {
	p := newProvider(map[string][]types.Implementation{editorURI: {impl("app", "1.0", types.StabilityStable)}})
	_, err := New(p, Options{Refresh: true}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	require.NoError(t, err)
	assert.Equal(t, 1, p.fresh)
}

func TestSolveFetchesEachFeedOnce(t *testing.T) {
	p := newProvider(map[string][]types.Implementation{
		editorURI: {impl("app", "1.0", types.StabilityStable, requires(aURI, ""), requires(bURI, ""))},
		aURI:      {impl("a", "1.0", types.StabilityStable, requires(bURI, ""))},
		bURI:      {impl("b", "1.0", types.StabilityStable)},
	})
	_, err := New(p, Options{}).Solve(context.Background(), types.Requirements{InterfaceURI: editorURI})
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls[bURI])
}

func TestCandidates(t *testing.T) {
	buggy := impl("buggy", "3.0", types.StabilityBuggy)
	insecure := impl("insecure", "4.0", types.StabilityInsecure)
	noRun := impl("norun", "2.5", types.StabilityStable)
	noRun.Commands = nil
	foreign := impl("foreign", "9.0", types.StabilityStable)
	foreign.Architecture = types.Architecture{OS: types.OSUnknown}
	french := impl("french", "8.0", types.StabilityStable)
	french.Languages = []string{"fr"}
	p := newProvider(map[string][]types.Implementation{
		editorURI: {
			impl("e10", "1.0", types.StabilityStable),
			impl("e20", "2.0", types.StabilityTesting),
			impl("e15", "1.5", types.StabilityPreferred),
			buggy, insecure, noRun, foreign, french,
		},
	})

	cands, err := New(p, Options{}).Candidates(context.Background(), types.Requirements{
		InterfaceURI: editorURI,
		Languages:    []string{"en"},
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(cands))
	notes := map[string]string{}
	for _, c := range cands {
		ids = append(ids, c.Implementation.ID)
		notes[c.Implementation.ID] = c.Notes
	}
	assert.Equal(t, []string{"e15", "e10"}, ids[:2], "preferred beats a higher stable version")
	assert.True(t, cands[0].IsSuitable)
	assert.False(t, cands[2].IsSuitable)
	assert.Equal(t, types.NoteBelowStability, notes["e20"])
	assert.Equal(t, types.NoteBuggy, notes["buggy"])
	assert.Equal(t, types.NoteInsecure, notes["insecure"])
	assert.Equal(t, fmt.Sprintf(types.NoteMissingCommand, types.CommandRun), notes["norun"])
	assert.Equal(t, types.NoteIncompatibleArch, notes["foreign"])
	assert.Equal(t, types.NoteWrongLanguage, notes["french"])
}
