package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// builder writes extracted entries below root. Hard links and timestamps
// are queued and applied by finish, once every entry exists.
type builder struct {
	root      string
	hardlinks [][2]string // {link, existing}
	fileTimes map[string]time.Time
	dirTimes  map[string]time.Time
	matched   bool

	// folded maps lower-cased paths to the first spelling seen; nil when
	// case is not checked.
	folded map[string]string
}

func newBuilder(root string, opts Options) (*builder, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}
	b := &builder{
		root:      root,
		fileTimes: make(map[string]time.Time),
		dirTimes:  make(map[string]time.Time),
	}
	if opts.CaseFold {
		b.folded = make(map[string]string)
	}
	return b, nil
}

// claim records rel and each of its parents, failing when one of them was
// already seen with different case.
func (b *builder) claim(rel string) error {
	if b.folded == nil || rel == "" {
		return nil
	}
	for i := 0; i <= len(rel); i++ {
		if i < len(rel) && rel[i] != '/' {
			continue
		}
		prefix := rel[:i]
		key := strings.ToLower(prefix)
		if other, ok := b.folded[key]; ok {
			if other != prefix {
				return fmt.Errorf("%w: %q and %q", ErrCaseCollision, other, prefix)
			}
			continue
		}
		b.folded[key] = prefix
	}
	return nil
}

// fullPath resolves rel below root, refusing paths that pass through a
// symlink created earlier in the extraction.
func (b *builder) fullPath(rel string) (string, error) {
	if rel == "" {
		return b.root, nil
	}
	parts := strings.Split(rel, "/")
	current := b.root
	for _, part := range parts[:len(parts)-1] {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return "", err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return "", fmt.Errorf("%w: %q passes through a symlink", ErrPathTraversal, rel)
		}
	}
	return filepath.Join(b.root, filepath.FromSlash(rel)), nil
}

// prepare resolves rel, creates its parent and deletes whatever is already
// at that path so modes and link state start fresh.
func (b *builder) prepare(rel string) (string, error) {
	full, err := b.fullPath(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if info, err := os.Lstat(full); err == nil && !info.IsDir() {
		if err := os.Remove(full); err != nil {
			return "", err
		}
	}
	delete(b.fileTimes, rel)
	return full, nil
}

func (b *builder) dir(rel string, mtime time.Time) error {
	b.matched = true
	if err := b.claim(rel); err != nil {
		return err
	}
	full, err := b.fullPath(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return err
	}
	if rel != "" && !mtime.IsZero() {
		b.dirTimes[rel] = mtime
	}
	return nil
}

func (b *builder) file(rel string, r io.Reader, executable bool, mtime time.Time) error {
	b.matched = true
	if err := b.claim(rel); err != nil {
		return err
	}
	full, err := b.prepare(rel)
	if err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if executable {
		mode = 0o755
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// The umask may have dropped bits from the requested mode.
	if err := os.Chmod(full, mode); err != nil {
		return err
	}
	if !mtime.IsZero() {
		b.fileTimes[rel] = mtime
	}
	return nil
}

func (b *builder) symlink(rel, target string) error {
	b.matched = true
	if err := b.claim(rel); err != nil {
		return err
	}
	if path.IsAbs(target) {
		return fmt.Errorf("%w: symlink %q points to absolute path %q", ErrPathTraversal, rel, target)
	}
	if _, err := cleanRelative(path.Join(path.Dir(rel), target)); err != nil {
		return fmt.Errorf("symlink %q: %w", rel, err)
	}
	full, err := b.prepare(rel)
	if err != nil {
		return err
	}
	return os.Symlink(target, full)
}

func (b *builder) hardlink(rel, existing string) error {
	b.matched = true
	if err := b.claim(rel); err != nil {
		return err
	}
	b.hardlinks = append(b.hardlinks, [2]string{rel, existing})
	return nil
}

// finish creates queued hard links, then applies file and directory
// timestamps, deepest directories first.
func (b *builder) finish() error {
	for _, pair := range b.hardlinks {
		full, err := b.prepare(pair[0])
		if err != nil {
			return err
		}
		existing, err := b.fullPath(pair[1])
		if err != nil {
			return err
		}
		if err := os.Link(existing, full); err != nil {
			if err := copyFile(existing, full); err != nil {
				return fmt.Errorf("hard link %s: %w", pair[0], err)
			}
		}
		if t, ok := b.fileTimes[pair[1]]; ok {
			b.fileTimes[pair[0]] = t
		}
	}
	for rel, t := range b.fileTimes {
		full := filepath.Join(b.root, filepath.FromSlash(rel))
		if err := os.Chtimes(full, t, t); err != nil {
			return err
		}
	}
	dirs := make([]string, 0, len(b.dirTimes))
	for rel := range b.dirTimes {
		dirs = append(dirs, rel)
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i] > dirs[j] })
	for _, rel := range dirs {
		t := b.dirTimes[rel]
		if err := os.Chtimes(filepath.Join(b.root, filepath.FromSlash(rel)), t, t); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
