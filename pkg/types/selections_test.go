package types

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSelections() *Selections {
	return &Selections{
		InterfaceURI: "http://example.com/editor.xml",
		Command:      CommandRun,
		Implementations: []ImplementationSelection{
			{
				InterfaceURI:   "http://example.com/editor.xml",
				FromFeed:       "http://example.com/editor.xml",
				ID:             "sha256new_EDITOR",
				Version:        MustParseVersion("1.5"),
				Stability:      StabilityStable,
				Architecture:   Architecture{OS: OSLinux, Cpu: CpuX64},
				ManifestDigest: ManifestDigest{SHA256New: "EDITOR"},
				Commands: []Command{{
					Name:      CommandRun,
					Path:      "bin/editor",
					Arguments: []string{"--fast"},
					Runner:    &Runner{InterfaceURI: "http://example.com/python.xml", Arguments: []string{"-u"}},
				}},
				Dependencies: []Dependency{{
					InterfaceURI: "http://example.com/lib.xml",
					Importance:   ImportanceRecommended,
					Constraints:  []Constraint{{Before: MustParseVersion("3.0")}},
				}},
			},
			{
				InterfaceURI:   "http://example.com/lib.xml",
				ID:             "sha1new=abc",
				Version:        MustParseVersion("2.5"),
				ManifestDigest: ManifestDigest{SHA1New: "abc"},
			},
			{
				InterfaceURI: "http://example.com/python.xml",
				ID:           "package:deb:python3:3.11",
				Kind:         ImplementationKindPackage,
				Version:      MustParseVersion("3.11"),
				Commands:     []Command{{Name: CommandRun, Path: "/usr/bin/python3"}},
			},
		},
	}
}

func TestSelectionsXMLRoundTrip(t *testing.T) {
	original := sampleSelections()

	var buf bytes.Buffer
	require.NoError(t, MarshalSelections(&buf, original))
	assert.Contains(t, buf.String(), `<selections xmlns="`+XMLNamespace+`"`)

	decoded, err := UnmarshalSelections(&buf)
	require.NoError(t, err)
	assert.True(t, original.Equal(decoded), "round trip changed the selections:\n%+v\n%+v", original, decoded)
}

func TestUnmarshalSelectionsDigestFromID(t *testing.T) {
	doc := `<?xml version="1.0"?>
<selections xmlns="http://zero-install.sourceforge.net/2004/injector/interface" interface="http://example.com/a.xml">
  <selection interface="http://example.com/a.xml" id="sha256=deadbeef" version="1.0"/>
</selections>`
	s, err := UnmarshalSelections(strings.NewReader(doc))
	require.NoError(t, err)
	main, err := s.Main()
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", main.ManifestDigest.SHA256)
}

func TestUnmarshalSelectionsInvalid(t *testing.T) {
	doc := `<selections xmlns="http://zero-install.sourceforge.net/2004/injector/interface" interface="a">
  <selection interface="a" id="x" version="not-a-version"/>
</selections>`
	_, err := UnmarshalSelections(strings.NewReader(doc))
	var dataErr *FeedDataError
	require.ErrorAs(t, err, &dataErr)
	require.ErrorIs(t, err, ErrInvalidVersion)
}

func TestSelectionsMainMissing(t *testing.T) {
	s := &Selections{InterfaceURI: "http://example.com/missing.xml"}
	_, err := s.Main()
	require.ErrorIs(t, err, ErrNotInSelections)
}

func TestSelectionsUncached(t *testing.T) {
	s := sampleSelections()
	cached := func(d ManifestDigest) bool { return d.SHA1New == "abc" }

	uncached := s.Uncached(cached)
	require.Len(t, uncached, 1)
	assert.Equal(t, "http://example.com/editor.xml", uncached[0].InterfaceURI)

	assert.Len(t, s.Uncached(func(ManifestDigest) bool { return true }), 0)
	assert.Len(t, s.Uncached(func(ManifestDigest) bool { return false }), 2)
}

func TestSelectionsDiff(t *testing.T) {
	older := sampleSelections()
	newer := sampleSelections()
	newer.Implementations[1].Version = MustParseVersion("2.6")
	newer.Implementations[1].ID = "sha1new=def"
	newer.Implementations = newer.Implementations[:2]
	newer.Implementations = append(newer.Implementations, ImplementationSelection{
		InterfaceURI: "http://example.com/new.xml",
		ID:           "sha1new=new",
		Version:      MustParseVersion("0.1"),
	})

	diffs := older.Diff(newer)
	require.Len(t, diffs, 3)

	assert.Equal(t, "http://example.com/lib.xml", diffs[0].InterfaceURI)
	assert.Equal(t, DiffChanged, diffs[0].Kind)
	assert.Equal(t, "http://example.com/lib.xml: 2.5 -> 2.6", diffs[0].String())

	assert.Equal(t, "http://example.com/new.xml", diffs[1].InterfaceURI)
	assert.Equal(t, DiffAdded, diffs[1].Kind)

	assert.Equal(t, "http://example.com/python.xml", diffs[2].InterfaceURI)
	assert.Equal(t, DiffRemoved, diffs[2].Kind)

	assert.Empty(t, older.Diff(sampleSelections()))
}
