package manifest

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// DigestOf generates the manifest of dir in format and returns it together
// with its digest ID.
func DigestOf(ctx context.Context, dir string, format Format, opts ...Option) (*Manifest, string, error) {
	m, err := Generate(ctx, dir, format, opts...)
	if err != nil {
		return nil, "", err
	}
	return m, m.CalculateDigest(), nil
}

// VerifyDirectory hashes dir with the strongest algorithm present in
// expected and checks the result. On mismatch the error is a
// *types.DigestMismatchError; when dir holds a .manifest file it is used as
// the expected side of the diff.
func VerifyDirectory(ctx context.Context, dir string, expected types.ManifestDigest) (*Manifest, error) {
	format, err := BestFormat(expected)
	if err != nil {
		return nil, err
	}
	m, actual, err := DigestOf(ctx, dir, format)
	if err != nil {
		return nil, err
	}
	want := format.Prefix() + format.DigestValue(expected)
	if actual == want {
		return m, nil
	}

	mismatch := &types.DigestMismatchError{
		Path:           dir,
		ExpectedDigest: want,
		ActualDigest:   actual,
		ActualManifest: m.String(),
	}
	// An unreadable .manifest only loses the diff, not the verdict.
	if stored, err := LoadFile(filepath.Join(dir, FileName), format); err == nil {
		mismatch.ExpectedManifest = stored.String()
		mismatch.Diff = Diff(stored, m)
		mismatch.UnifiedDiff = UnifiedDiff(stored, m)
	}
	return m, mismatch
}

// Diff lists the paths whose entries differ between expected and actual,
// sorted by path.
func Diff(expected, actual *Manifest) []types.ManifestDiffEntry {
	want := entryLines(expected)
	got := entryLines(actual)

	var out []types.ManifestDiffEntry
	for p, line := range want {
		other, ok := got[p]
		switch {
		case !ok:
			out = append(out, types.ManifestDiffEntry{Kind: types.ManifestMissing, Path: p, Expected: line})
		case other != line:
			out = append(out, types.ManifestDiffEntry{Kind: types.ManifestChanged, Path: p, Expected: line, Actual: other})
		}
	}
	for p, line := range got {
		if _, ok := want[p]; !ok {
			out = append(out, types.ManifestDiffEntry{Kind: types.ManifestExtra, Path: p, Actual: line})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// UnifiedDiff renders a line-based diff of two manifests.
func UnifiedDiff(expected, actual *Manifest) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected.String()),
		B:        difflib.SplitLines(actual.String()),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  1,
	})
	if err != nil {
		return ""
	}
	return text
}

func entryLines(m *Manifest) map[string]string {
	lines := make(map[string]string, len(m.nodes))
	for _, e := range m.Entries() {
		lines[e.Path] = e.Node.Line(m.format)
	}
	return lines
}
