package store

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/depot/internal/archive"
	"github.com/mesh-intelligence/depot/internal/manifest"
	"github.com/mesh-intelligence/depot/pkg/types"
)

var stamp = time.Unix(1700000000, 0)

type file struct {
	content    string
	executable bool
}

// makeSource writes files below a fresh directory and returns it with its
// sha256new digest.
func makeSource(t *testing.T, files map[string]file) (string, types.ManifestDigest) {
	t.Helper()
	dir := t.TempDir()
	for name, f := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		mode := os.FileMode(0o644)
		if f.executable {
			mode = 0o755
		}
		require.NoError(t, os.WriteFile(p, []byte(f.content), mode))
		require.NoError(t, os.Chmod(p, mode))
		require.NoError(t, os.Chtimes(p, stamp, stamp))
	}
	return dir, digestOf(t, dir)
}

func digestOf(t *testing.T, dir string) types.ManifestDigest {
	t.Helper()
	_, id, err := manifest.DigestOf(context.Background(), dir, manifest.SHA256New)
	require.NoError(t, err)
	d, err := types.ParseManifestDigest(id)
	require.NoError(t, err)
	return d
}

func newStore(t *testing.T, opts ...Option) *DirectoryStore {
	t.Helper()
	s, err := NewDirectoryStore(filepath.Join(t.TempDir(), "implementations"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = removeTree(s.Root()) })
	return s
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestAddDirectory(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newStore(t, WithMetrics(NewMetrics(reg)))
	src, digest := makeSource(t, map[string]file{
		"bin/tool": {content: "#!/bin/sh\n", executable: true},
		"README":   {content: "hello"},
	})

	res, err := s.AddDirectory(context.Background(), src, digest)
	require.NoError(t, err)
	assert.Equal(t, AddOutcomeAdded, res.Outcome)
	assert.Equal(t, filepath.Join(s.Root(), digest.Best()), res.Path)
	assert.True(t, s.Contains(digest))

	p, ok := s.GetPath(digest)
	require.True(t, ok)
	assert.FileExists(t, filepath.Join(p, manifest.FileName))
	info, err := os.Stat(filepath.Join(p, "README"))
	require.NoError(t, err)
	assert.Zero(t, info.Mode().Perm()&0o222, "entry is write-protected")
	info, err = os.Stat(filepath.Join(p, "bin", "tool"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o111)

	again, err := s.AddDirectory(context.Background(), src, digest)
	require.NoError(t, err)
	assert.Equal(t, AddOutcomeAlreadyExists, again.Outcome)
	assert.Equal(t, res.Path, again.Path)

	assert.Equal(t, 1.0, counterValue(t, reg, "depot_store_adds_total", map[string]string{"outcome": "added"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "depot_store_adds_total", map[string]string{"outcome": "already_exists"}))

	temps, err := s.ListAllTemp()
	require.NoError(t, err)
	assert.Empty(t, temps)
	require.NoError(t, s.Verify(context.Background(), digest))
}

func TestAddDirectoryMismatch(t *testing.T) {
	s := newStore(t)
	src, _ := makeSource(t, map[string]file{"a": {content: "a"}})
	_, wrong := makeSource(t, map[string]file{"a": {content: "b"}})

	_, err := s.AddDirectory(context.Background(), src, wrong)
	var mismatch *types.DigestMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, src, mismatch.Path)
	assert.Equal(t, wrong.Best(), mismatch.ExpectedDigest)

	all, err := s.ListAll()
	require.NoError(t, err)
	assert.Empty(t, all)
	temps, err := s.ListAllTemp()
	require.NoError(t, err)
	assert.Empty(t, temps, "staging removed after mismatch")
}

func TestAddDirectoryErrors(t *testing.T) {
	s := newStore(t)
	src, digest := makeSource(t, map[string]file{"a": {content: "a"}})

	_, err := s.AddDirectory(context.Background(), src, types.ManifestDigest{})
	assert.ErrorIs(t, err, ErrNoDigest)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.AddDirectory(ctx, src, digest)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.Contains(digest))
	temps, err := s.ListAllTemp()
	require.NoError(t, err)
	assert.Empty(t, temps)
}

func TestAddDirectoryIgnoresSourceManifest(t *testing.T) {
	s := newStore(t)
	src, digest := makeSource(t, map[string]file{"a": {content: "a"}})
	require.NoError(t, os.WriteFile(filepath.Join(src, manifest.FileName), []byte("stale"), 0o444))

	res, err := s.AddDirectory(context.Background(), src, digest)
	require.NoError(t, err)
	assert.Equal(t, AddOutcomeAdded, res.Outcome)
	require.NoError(t, s.Verify(context.Background(), digest))
}

func TestConcurrentAddsOfSameDigest(t *testing.T) {
	s := newStore(t)
	src, digest := makeSource(t, map[string]file{"lib/x.so": {content: "binary"}})

	const writers = 6
	outcomes := make([]AddOutcome, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.AddDirectory(context.Background(), src, digest)
			outcomes[i], errs[i] = res.Outcome, err
		}()
	}
	wg.Wait()

	added := 0
	for i := range writers {
		require.NoError(t, errs[i])
		if outcomes[i] == AddOutcomeAdded {
			added++
		}
	}
	assert.Equal(t, 1, added)
	require.NoError(t, s.Verify(context.Background(), digest))
	temps, err := s.ListAllTemp()
	require.NoError(t, err)
	assert.Empty(t, temps)
}

func tarGz(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content)), ModTime: stamp,
		}))
		_, err := io.WriteString(tw, content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	p := filepath.Join(t.TempDir(), "payload.tar.gz")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func TestCaseCheck(t *testing.T) {
	src, digest := makeSource(t, map[string]file{"README": {content: "a"}, "readme": {content: "b"}})
	entries, err := os.ReadDir(src)
	require.NoError(t, err)
	if len(entries) < 2 {
		t.Skip("case-insensitive file system")
	}
	archivePath := tarGz(t, map[string]string{"README": "a", "readme": "b"})

	t.Run("auto follows the root", func(t *testing.T) {
		s := newStore(t)
		probed, err := ignoresCase(s.Root())
		require.NoError(t, err)
		assert.Equal(t, probed, s.ChecksCase())
		assert.False(t, s.ChecksCase())
		rest, err := os.ReadDir(s.Root())
		require.NoError(t, err)
		assert.Empty(t, rest, "probe file removed")
	})

	t.Run("on rejects directory", func(t *testing.T) {
		s := newStore(t, WithCaseCheck(CaseCheckOn))
		assert.True(t, s.ChecksCase())
		_, err := s.AddDirectory(context.Background(), src, digest)
		assert.ErrorIs(t, err, manifest.ErrCaseCollision)
		assert.False(t, s.Contains(digest))
	})

	t.Run("on rejects archive", func(t *testing.T) {
		s := newStore(t, WithCaseCheck(CaseCheckOn))
		_, err := s.AddArchives(context.Background(), []ArchiveInfo{{Path: archivePath}}, digest)
		assert.ErrorIs(t, err, archive.ErrCaseCollision)
		temps, err := s.ListAllTemp()
		require.NoError(t, err)
		assert.Empty(t, temps)
	})

	t.Run("off accepts", func(t *testing.T) {
		s := newStore(t, WithCaseCheck(CaseCheckOff))
		res, err := s.AddDirectory(context.Background(), src, digest)
		require.NoError(t, err)
		assert.Equal(t, AddOutcomeAdded, res.Outcome)
	})
}

func TestParseCaseCheck(t *testing.T) {
	tests := []struct {
		in      string
		want    CaseCheck
		wantErr bool
	}{
		{"", CaseCheckAuto, false},
		{"auto", CaseCheckAuto, false},
		{"on", CaseCheckOn, false},
		{"off", CaseCheckOff, false},
		{"sometimes", CaseCheckAuto, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCaseCheck(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddArchivesOverlay(t *testing.T) {
	s := newStore(t)
	base := tarGz(t, map[string]string{"pkg/a.txt": "a", "pkg/b.txt": "old"})
	overlay := tarGz(t, map[string]string{"b.txt": "new"})
	_, digest := makeSource(t, map[string]file{"a.txt": {content: "a"}, "b.txt": {content: "new"}})

	res, err := s.AddArchives(context.Background(), []ArchiveInfo{
		{Path: base, SubDir: "pkg"},
		{Path: overlay},
	}, digest)
	require.NoError(t, err)
	assert.Equal(t, AddOutcomeAdded, res.Outcome)

	content, err := os.ReadFile(filepath.Join(res.Path, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
}

func TestRemove(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newStore(t, WithMetrics(NewMetrics(reg)))
	src, digest := makeSource(t, map[string]file{"deep/nested/file": {content: "x"}})
	_, err := s.AddDirectory(context.Background(), src, digest)
	require.NoError(t, err)

	removed, err := s.Remove(context.Background(), digest)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, s.Contains(digest))

	removed, err = s.Remove(context.Background(), digest)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 1.0, counterValue(t, reg, "depot_store_removes_total", nil))

	temps, err := s.ListAllTemp()
	require.NoError(t, err)
	assert.Empty(t, temps)
}

// corrupt rewrites name inside the entry, bypassing write protection.
func corrupt(t *testing.T, entry, name, content string) {
	t.Helper()
	p := filepath.Join(entry, name)
	require.NoError(t, os.Chmod(filepath.Dir(p), 0o755))
	require.NoError(t, os.Chmod(p, 0o644))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestVerifyAndAudit(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newStore(t, WithMetrics(NewMetrics(reg)), WithAuditConcurrency(2))
	goodSrc, good := makeSource(t, map[string]file{"ok": {content: "fine"}})
	badSrc, bad := makeSource(t, map[string]file{"data": {content: "original"}})
	_, err := s.AddDirectory(context.Background(), goodSrc, good)
	require.NoError(t, err)
	res, err := s.AddDirectory(context.Background(), badSrc, bad)
	require.NoError(t, err)

	corrupt(t, res.Path, "data", "tampered")

	err = s.Verify(context.Background(), bad)
	var mismatch *types.DigestMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Len(t, mismatch.Diff, 1)
	assert.Equal(t, "/data", mismatch.Diff[0].Path)
	assert.True(t, s.Contains(bad), "verify never repairs")

	var calls int
	mismatches, err := s.Audit(context.Background(), func(p Progress) {
		calls++
		assert.Equal(t, 2, p.Total)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, mismatches, 1)
	assert.Equal(t, bad.Best(), mismatches[0].ExpectedDigest)
	assert.Equal(t, 2.0, counterValue(t, reg, "depot_store_verify_failures_total", nil))

	err = s.Verify(context.Background(), types.ManifestDigest{SHA256: "missing"})
	assert.ErrorIs(t, err, types.ErrImplementationNotFound)
}

func TestOptimise(t *testing.T) {
	s := newStore(t)
	shared := file{content: "a fairly large shared library"}
	srcA, a := makeSource(t, map[string]file{"lib.so": shared, "only-a": {content: "a"}})
	srcB, b := makeSource(t, map[string]file{"sub/lib.so": shared, "only-b": {content: "b"}})
	srcC, c := makeSource(t, map[string]file{"lib.so": {content: shared.content, executable: true}})
	for _, src := range []struct {
		dir    string
		digest types.ManifestDigest
	}{{srcA, a}, {srcB, b}, {srcC, c}} {
		_, err := s.AddDirectory(context.Background(), src.dir, src.digest)
		require.NoError(t, err)
	}

	var progressCalls int
	saved, err := s.Optimise(context.Background(), func(Progress) { progressCalls++ })
	require.NoError(t, err)
	assert.Equal(t, int64(len(shared.content)), saved)
	assert.Equal(t, 3, progressCalls)

	pa, _ := s.GetPath(a)
	pb, _ := s.GetPath(b)
	pc, _ := s.GetPath(c)
	ia, err := os.Stat(filepath.Join(pa, "lib.so"))
	require.NoError(t, err)
	ib, err := os.Stat(filepath.Join(pb, "sub", "lib.so"))
	require.NoError(t, err)
	ic, err := os.Stat(filepath.Join(pc, "lib.so"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(ia, ib))
	assert.False(t, os.SameFile(ia, ic), "executable bit differs")

	for _, d := range []types.ManifestDigest{a, b, c} {
		require.NoError(t, s.Verify(context.Background(), d))
	}

	saved, err = s.Optimise(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, saved)
}

func TestPurge(t *testing.T) {
	s := newStore(t)
	src, digest := makeSource(t, map[string]file{"a": {content: "a"}})
	_, err := s.AddDirectory(context.Background(), src, digest)
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), stagingPrefix+"leftover"), 0o755))

	temps, err := s.ListAllTemp()
	require.NoError(t, err)
	assert.Len(t, temps, 1)

	require.NoError(t, s.Purge(context.Background()))
	all, err := s.ListAll()
	require.NoError(t, err)
	assert.Empty(t, all)
	temps, err = s.ListAllTemp()
	require.NoError(t, err)
	assert.Empty(t, temps)
}

func TestCompositeStore(t *testing.T) {
	first := newStore(t)
	second := newStore(t)
	c := NewComposite(first, second)

	srcA, a := makeSource(t, map[string]file{"a": {content: "a"}})
	srcB, b := makeSource(t, map[string]file{"b": {content: "b"}})
	_, err := second.AddDirectory(context.Background(), srcB, b)
	require.NoError(t, err)

	res, err := c.AddDirectory(context.Background(), srcA, a)
	require.NoError(t, err)
	assert.Equal(t, AddOutcomeAdded, res.Outcome)
	assert.True(t, first.Contains(a))
	assert.False(t, second.Contains(a))

	res, err = c.AddDirectory(context.Background(), srcB, b)
	require.NoError(t, err)
	assert.Equal(t, AddOutcomeAlreadyExists, res.Outcome)

	all, err := c.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.True(t, c.Contains(b))
	require.NoError(t, c.Verify(context.Background(), b))

	mismatches, err := c.Audit(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	removed, err := c.Remove(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, c.Contains(b))

	require.NoError(t, c.Purge(context.Background()))
	all, err = c.ListAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCompositeStoreSkipsReadOnlyRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	readOnly := newStore(t)
	writable := newStore(t)
	require.NoError(t, os.Chmod(readOnly.Root(), 0o555))
	t.Cleanup(func() { _ = os.Chmod(readOnly.Root(), 0o755) })

	src, digest := makeSource(t, map[string]file{"x": {content: "x"}})
	res, err := NewComposite(readOnly, writable).AddDirectory(context.Background(), src, digest)
	require.NoError(t, err)
	assert.Equal(t, AddOutcomeAdded, res.Outcome)
	assert.True(t, writable.Contains(digest))
}
