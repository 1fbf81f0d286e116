package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/depot/internal/manifest"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// dedupKey identifies files that can share an inode without changing any
// manifest line: same algorithm and hash, same size, same executable bit
// and same mtime.
type dedupKey struct {
	format     string
	hash       string
	size       int64
	executable bool
	mtime      int64
}

// Optimise replaces duplicate files across entries with hard links to the
// first copy seen. Entries are read from their stored .manifest; legacy
// sha1 entries are skipped because their manifests do not give exact file
// paths. When the file system refuses hard links Optimise stops and
// returns what it has saved so far.
func (s *DirectoryStore) Optimise(ctx context.Context, progress func(Progress)) (int64, error) {
	digests, err := s.ListAll()
	if err != nil {
		return 0, err
	}

	var saved int64
	defer func() { s.metrics.observeSaved(saved) }()

	seen := make(map[dedupKey]string)
	for i, d := range digests {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		n, stop, err := s.optimiseEntry(d, seen)
		saved += n
		if err != nil {
			return saved, err
		}
		if progress != nil {
			progress(Progress{Digest: d.Best(), Done: i + 1, Total: len(digests)})
		}
		if stop {
			break
		}
	}
	if saved > 0 {
		s.logger.Info("optimised store", "root", s.root, "saved_bytes", saved)
	}
	return saved, nil
}

func (s *DirectoryStore) optimiseEntry(digest types.ManifestDigest, seen map[dedupKey]string) (saved int64, stop bool, err error) {
	id := digest.Best()
	format, err := manifest.FormatFromPrefix(id)
	if err != nil || format.Name() == manifest.SHA1.Name() {
		return 0, false, nil
	}
	dir := filepath.Join(s.root, id)
	m, err := manifest.LoadFile(filepath.Join(dir, manifest.FileName), format)
	if err != nil {
		s.logger.Warn("skipping entry without readable manifest", "digest", id, "error", err)
		return 0, false, nil
	}

	for _, e := range m.Entries() {
		if !e.Node.IsFile() {
			continue
		}
		key := dedupKey{
			format:     format.Name(),
			hash:       e.Node.Hash,
			size:       e.Node.Size,
			executable: e.Node.Kind == manifest.NodeExecutable,
			mtime:      e.Node.ModTime,
		}
		p := filepath.Join(dir, filepath.FromSlash(e.Path))
		first, ok := seen[key]
		if !ok {
			seen[key] = p
			continue
		}
		same, err := sameFile(first, p, e.Node)
		if err != nil {
			s.logger.Warn("skipping file", "path", p, "error", err)
			continue
		}
		if same {
			continue
		}
		if err := replaceWithLink(first, p); err != nil {
			if linkUnsupported(err) {
				s.logger.Warn("hard links not supported, stopping optimisation", "root", s.root, "error", err)
				return saved, true, nil
			}
			return saved, false, fmt.Errorf("link %s: %w", p, err)
		}
		saved += e.Node.Size
	}
	return saved, false, nil
}

// sameFile reports whether a and b already share an inode. It fails when
// b no longer matches its manifest entry, so a damaged file is never
// linked over a good one.
func sameFile(a, b string, n manifest.Node) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if bi.Size() != n.Size || bi.ModTime().Unix() != n.ModTime || ai.Size() != n.Size {
		return false, fmt.Errorf("file does not match its manifest entry")
	}
	return os.SameFile(ai, bi), nil
}

// replaceWithLink atomically replaces target with a hard link to existing.
// The containing directory is made writable for the duration.
func replaceWithLink(existing, target string) error {
	dir := filepath.Dir(target)
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o200 == 0 {
		if err := os.Chmod(dir, info.Mode().Perm()|0o200); err != nil {
			return err
		}
		defer os.Chmod(dir, info.Mode().Perm())
	}
	tmp := filepath.Join(dir, ".depot-link-"+uuid.NewString())
	if err := os.Link(existing, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
