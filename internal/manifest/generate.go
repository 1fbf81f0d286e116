package manifest

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Names that are never part of a manifest when found at the root.
var ignoredRootNames = map[string]bool{
	FileName:   true,
	".xbit":    true,
	".symlink": true,
}

// Progress reports how far generation has come.
type Progress struct {
	Path      string
	BytesDone int64
	FilesDone int
}

// Option configures Generate.
type Option func(*generator)

// WithProgress registers a callback invoked after every entry.
func WithProgress(fn func(Progress)) Option {
	return func(g *generator) { g.progress = fn }
}

// WithCaseInsensitiveCheck rejects trees whose siblings differ only by
// case, as such trees cannot be reproduced on case-insensitive file systems.
func WithCaseInsensitiveCheck() Option {
	return func(g *generator) { g.caseCheck = true }
}

type generator struct {
	ctx       context.Context
	format    Format
	root      string
	nodes     []Node
	progress  func(Progress)
	caseCheck bool
	state     Progress
}

// Generate walks dir and returns its manifest in the given format.
// Cancellation is checked between entries; a cancelled walk returns the
// context's error and no manifest.
func Generate(ctx context.Context, dir string, format Format, opts ...Option) (*Manifest, error) {
	if format.IsZero() {
		return nil, fmt.Errorf("%w: zero format", ErrUnknownFormat)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("generate manifest: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("generate manifest for %s: %w", dir, ErrNotDirectory)
	}

	g := &generator{ctx: ctx, format: format, root: dir}
	for _, opt := range opts {
		opt(g)
	}
	if format.legacy {
		err = g.walkLegacy("/")
	} else {
		err = g.walk("/")
	}
	if err != nil {
		return nil, err
	}
	return New(format, g.nodes), nil
}

// CheckCaseCollisions walks dir and returns ErrCaseCollision for the first
// pair of siblings whose names differ only by case. Only names are read.
func CheckCaseCollisions(ctx context.Context, dir string) error {
	seen := make(map[string]map[string]string)
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		parent := filepath.Dir(p)
		names := seen[parent]
		if names == nil {
			names = make(map[string]string)
			seen[parent] = names
		}
		folded := strings.ToLower(d.Name())
		if other, ok := names[folded]; ok {
			return fmt.Errorf("%w: %q and %q in %s", ErrCaseCollision, other, d.Name(), parent)
		}
		names[folded] = d.Name()
		return nil
	})
}

// readSorted lists a directory in byte order, dropping ignored root files.
// os.ReadDir sorts by comparing names as byte strings, which is exactly the
// manifest order.
func (g *generator) readSorted(rel string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(g.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", rel, err)
	}
	kept := entries[:0]
	for _, e := range entries {
		if rel == "/" && ignoredRootNames[e.Name()] {
			continue
		}
		if strings.ContainsRune(e.Name(), '\n') {
			return nil, fmt.Errorf("%w: %q in %s", ErrMalformedName, e.Name(), rel)
		}
		kept = append(kept, e)
	}
	if g.caseCheck {
		seen := make(map[string]string, len(kept))
		for _, e := range kept {
			folded := strings.ToLower(e.Name())
			if other, ok := seen[folded]; ok {
				return nil, fmt.Errorf("%w: %q and %q in %s", ErrCaseCollision, other, e.Name(), rel)
			}
			seen[folded] = e.Name()
		}
	}
	return kept, nil
}

func (g *generator) abs(rel string) string {
	return filepath.Join(g.root, filepath.FromSlash(rel))
}

func (g *generator) walk(rel string) error {
	entries, err := g.readSorted(rel)
	if err != nil {
		return err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
			continue
		}
		if err := g.addLeaf(rel, e); err != nil {
			return err
		}
	}
	for _, name := range dirs {
		if err := g.ctx.Err(); err != nil {
			return err
		}
		sub := path.Join(rel, name)
		g.nodes = append(g.nodes, Node{Kind: NodeDirectory, FullPath: sub})
		if err := g.walk(sub); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) walkLegacy(rel string) error {
	entries, err := g.readSorted(rel)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			if err := g.addLeaf(rel, e); err != nil {
				return err
			}
			continue
		}
		if err := g.ctx.Err(); err != nil {
			return err
		}
		sub := path.Join(rel, e.Name())
		info, err := e.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", sub, err)
		}
		g.nodes = append(g.nodes, Node{Kind: NodeDirectory, FullPath: sub, ModTime: info.ModTime().Unix()})
		if err := g.walkLegacy(sub); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) addLeaf(rel string, e fs.DirEntry) error {
	if err := g.ctx.Err(); err != nil {
		return err
	}
	entryPath := path.Join(rel, e.Name())
	info, err := e.Info()
	if err != nil {
		return fmt.Errorf("stat %s: %w", entryPath, err)
	}

	var n Node
	switch mode := info.Mode(); {
	case mode.IsRegular():
		sum, err := g.hashFile(g.abs(entryPath))
		if err != nil {
			return err
		}
		n = Node{Kind: NodeFile, Hash: sum, ModTime: info.ModTime().Unix(), Size: info.Size(), Name: e.Name()}
		if mode.Perm()&0o111 != 0 {
			n.Kind = NodeExecutable
		}
	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(g.abs(entryPath))
		if err != nil {
			return fmt.Errorf("read symlink %s: %w", entryPath, err)
		}
		h := g.format.NewHash()
		_, _ = io.WriteString(h, target)
		n = Node{Kind: NodeSymlink, Hash: hex.EncodeToString(h.Sum(nil)), Size: int64(len(target)), Name: e.Name()}
	default:
		return fmt.Errorf("%w: %s (%s)", ErrUnsupportedFileType, entryPath, info.Mode().Type())
	}
	g.nodes = append(g.nodes, n)

	g.state.Path = entryPath
	g.state.FilesDone++
	g.state.BytesDone += n.Size
	if g.progress != nil {
		g.progress(g.state)
	}
	return nil
}

func (g *generator) hashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()
	h := g.format.NewHash()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
