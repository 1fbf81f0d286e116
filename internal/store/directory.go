package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/depot/internal/archive"
	"github.com/mesh-intelligence/depot/internal/manifest"
	"github.com/mesh-intelligence/depot/pkg/types"
)

const (
	stagingPrefix = ".tmp-"
	lockFileName  = ".lock"
)

// Option configures a DirectoryStore.
type Option func(*DirectoryStore)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *DirectoryStore) { s.logger = l }
}

// WithMetrics records store activity on m.
func WithMetrics(m *Metrics) Option {
	return func(s *DirectoryStore) { s.metrics = m }
}

// WithWriteProtection controls whether published entries have their write
// bits removed. It is on by default.
func WithWriteProtection(on bool) Option {
	return func(s *DirectoryStore) { s.writeProtect = on }
}

// WithAuditConcurrency bounds how many entries Audit verifies at once.
func WithAuditConcurrency(n int) Option {
	return func(s *DirectoryStore) {
		if n > 0 {
			s.auditWorkers = n
		}
	}
}

// CaseCheck selects when added trees are rejected for holding names that
// differ only by case.
type CaseCheck int

// Case check modes. CaseCheckAuto enables the check when the root's file
// system ignores case.
const (
	CaseCheckAuto CaseCheck = iota
	CaseCheckOn
	CaseCheckOff
)

var caseCheckNames = []string{"auto", "on", "off"}

// ParseCaseCheck maps auto, on or off to a CaseCheck. The empty string is
// auto.
func ParseCaseCheck(name string) (CaseCheck, error) {
	if name == "" {
		return CaseCheckAuto, nil
	}
	for i, n := range caseCheckNames {
		if n == name {
			return CaseCheck(i), nil
		}
	}
	return CaseCheckAuto, fmt.Errorf("unknown case check %q", name)
}

func (c CaseCheck) String() string {
	if c < 0 || int(c) >= len(caseCheckNames) {
		return fmt.Sprintf("casecheck(%d)", int(c))
	}
	return caseCheckNames[c]
}

// WithCaseCheck sets the case check mode; the default is CaseCheckAuto.
func WithCaseCheck(c CaseCheck) Option {
	return func(s *DirectoryStore) { s.caseCheck = c }
}

// DirectoryStore is a store kept in a single root directory.
type DirectoryStore struct {
	root         string
	logger       *slog.Logger
	metrics      *Metrics
	writeProtect bool
	auditWorkers int
	caseCheck    CaseCheck
	caseFold     bool
	manifestOpts []manifest.Option
}

var _ Store = (*DirectoryStore)(nil)

// NewDirectoryStore opens the store at root, creating the directory if
// needed.
func NewDirectoryStore(root string, opts ...Option) (*DirectoryStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	s := &DirectoryStore{
		root:         abs,
		logger:       slog.Default(),
		writeProtect: true,
		auditWorkers: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	switch s.caseCheck {
	case CaseCheckOn:
		s.caseFold = true
	case CaseCheckAuto:
		s.caseFold, err = ignoresCase(abs)
		if err != nil {
			s.logger.Debug("could not probe store case sensitivity", "root", abs, "error", err)
		}
	}
	if s.caseFold {
		s.manifestOpts = append(s.manifestOpts, manifest.WithCaseInsensitiveCheck())
	}
	return s, nil
}

// ignoresCase creates a mixed-case probe file in dir and reports whether
// its lower-case spelling resolves to it.
func ignoresCase(dir string) (bool, error) {
	name := ".Case-Probe-" + uuid.NewString()
	probe := filepath.Join(dir, name)
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false, err
	}
	f.Close()
	defer os.Remove(probe)

	_, err = os.Lstat(filepath.Join(dir, strings.ToLower(name)))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// ChecksCase reports whether added trees are checked for names that differ
// only by case.
func (s *DirectoryStore) ChecksCase() bool { return s.caseFold }

// Root returns the absolute path of the store directory.
func (s *DirectoryStore) Root() string { return s.root }

func (s *DirectoryStore) String() string { return s.root }

// ListAll returns the digests of all entries, sorted by name.
func (s *DirectoryStore) ListAll() ([]types.ManifestDigest, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list store: %w", err)
	}
	var digests []types.ManifestDigest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if d, err := types.ParseManifestDigest(e.Name()); err == nil {
			digests = append(digests, d)
		}
	}
	return digests, nil
}

// ListAllTemp returns every directory in the root whose name is not a
// digest.
func (s *DirectoryStore) ListAllTemp() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list store: %w", err)
	}
	var temps []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := types.ParseManifestDigest(e.Name()); err != nil {
			temps = append(temps, filepath.Join(s.root, e.Name()))
		}
	}
	return temps, nil
}

// Contains reports whether an entry exists for any of the digest's
// algorithms.
func (s *DirectoryStore) Contains(digest types.ManifestDigest) bool {
	_, ok := s.GetPath(digest)
	return ok
}

// GetPath returns the entry directory, trying the strongest algorithm
// first.
func (s *DirectoryStore) GetPath(digest types.ManifestDigest) (string, bool) {
	for _, id := range digest.AvailableIDs() {
		p := filepath.Join(s.root, id)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// AddDirectory copies source into a staging directory and publishes it.
func (s *DirectoryStore) AddDirectory(ctx context.Context, source string, digest types.ManifestDigest) (AddResult, error) {
	return s.add(ctx, digest, source, func(staging string) error {
		if s.caseFold {
			if err := manifest.CheckCaseCollisions(ctx, source); err != nil {
				return err
			}
		}
		return copyTree(ctx, source, staging)
	})
}

// AddArchives extracts archives in order into a staging directory and
// publishes it.
func (s *DirectoryStore) AddArchives(ctx context.Context, archives []ArchiveInfo, digest types.ManifestDigest) (AddResult, error) {
	names := make([]string, len(archives))
	for i, a := range archives {
		names[i] = a.Path
	}
	return s.add(ctx, digest, strings.Join(names, ", "), func(staging string) error {
		for _, a := range archives {
			opts := archive.Options{SubDir: a.SubDir, Destination: a.Destination, CaseFold: s.caseFold}
			if err := archive.ExtractFile(ctx, a.Path, a.MimeType, staging, opts); err != nil {
				return err
			}
		}
		return nil
	})
}

// add runs fill against a fresh staging directory, verifies the result
// against digest and renames it into place. The staging directory is gone
// when add returns, whatever the outcome.
func (s *DirectoryStore) add(ctx context.Context, digest types.ManifestDigest, source string, fill func(staging string) error) (result AddResult, err error) {
	start := time.Now()
	outcome := "error"
	defer func() { s.metrics.observeAdd(outcome, time.Since(start).Seconds()) }()

	id := digest.Best()
	if id == "" {
		return AddResult{}, ErrNoDigest
	}
	if p, ok := s.GetPath(digest); ok {
		outcome = AddOutcomeAlreadyExists.String()
		return AddResult{Outcome: AddOutcomeAlreadyExists, Path: p}, nil
	}

	staging, err := s.newStaging()
	if err != nil {
		return AddResult{}, err
	}
	defer func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil && err == nil {
			s.logger.Warn("could not remove staging directory", "path", staging, "error", rmErr)
		}
	}()

	if err := fill(staging); err != nil {
		return AddResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AddResult{}, err
	}

	m, err := s.verifyStaging(ctx, staging, digest)
	if err != nil {
		var mismatch *types.DigestMismatchError
		if errors.As(err, &mismatch) {
			outcome = "mismatch"
			mismatch.Path = source
			s.metrics.observeVerifyFailure()
		}
		return AddResult{}, err
	}
	manifestPath := filepath.Join(staging, manifest.FileName)
	if err := os.Remove(manifestPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AddResult{}, fmt.Errorf("replace manifest: %w", err)
	}
	if _, err := m.SaveFile(manifestPath); err != nil {
		return AddResult{}, err
	}

	target := filepath.Join(s.root, id)
	published, err := s.publish(staging, target)
	if err != nil {
		return AddResult{}, err
	}
	if !published {
		outcome = AddOutcomeAlreadyExists.String()
		return AddResult{Outcome: AddOutcomeAlreadyExists, Path: target}, nil
	}
	if s.writeProtect {
		if err := setWritable(target, false); err != nil {
			s.logger.Warn("could not write-protect entry", "path", target, "error", err)
		}
	}
	outcome = AddOutcomeAdded.String()
	s.logger.Info("added implementation", "digest", id, "source", source)
	return AddResult{Outcome: AddOutcomeAdded, Path: target}, nil
}

func (s *DirectoryStore) verifyStaging(ctx context.Context, staging string, digest types.ManifestDigest) (*manifest.Manifest, error) {
	format, err := manifest.BestFormat(digest)
	if err != nil {
		return nil, err
	}
	m, actual, err := manifest.DigestOf(ctx, staging, format, s.manifestOpts...)
	if err != nil {
		return nil, err
	}
	if want := format.Prefix() + format.DigestValue(digest); actual != want {
		return nil, &types.DigestMismatchError{
			ExpectedDigest: want,
			ActualDigest:   actual,
			ActualManifest: m.String(),
		}
	}
	return m, nil
}

// publish renames staging to target under the root lock. It reports false
// when another writer published the same digest first.
func (s *DirectoryStore) publish(staging, target string) (bool, error) {
	lock, err := lockRoot(filepath.Join(s.root, lockFileName))
	if err != nil {
		return false, err
	}
	defer lock.unlock()

	if _, err := os.Stat(target); err == nil {
		return false, nil
	}
	if err := os.Rename(staging, target); err != nil {
		if isRenameConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("publish %s: %w", filepath.Base(target), err)
	}
	return true, nil
}

func (s *DirectoryStore) newStaging() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	p := filepath.Join(s.root, stagingPrefix+id.String())
	if err := os.Mkdir(p, 0o755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	return p, nil
}

// Remove deletes an entry by first renaming it to a staging name, so
// readers never see a partially deleted entry under its digest.
func (s *DirectoryStore) Remove(ctx context.Context, digest types.ManifestDigest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, ok := s.GetPath(digest)
	if !ok {
		return false, nil
	}

	lock, err := lockRoot(filepath.Join(s.root, lockFileName))
	if err != nil {
		return false, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	doomed := filepath.Join(s.root, stagingPrefix+id.String())
	err = os.Rename(p, doomed)
	lock.unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", filepath.Base(p), err)
	}

	if err := removeTree(doomed); err != nil {
		return true, fmt.Errorf("delete %s: %w", filepath.Base(p), err)
	}
	s.metrics.observeRemove()
	s.logger.Info("removed implementation", "digest", filepath.Base(p))
	return true, nil
}

// Verify re-hashes the entry with the algorithm it is named after.
func (s *DirectoryStore) Verify(ctx context.Context, digest types.ManifestDigest) error {
	p, ok := s.GetPath(digest)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrImplementationNotFound, digest)
	}
	expected, err := types.ParseManifestDigest(filepath.Base(p))
	if err != nil {
		return err
	}
	if _, err := manifest.VerifyDirectory(ctx, p, expected); err != nil {
		var mismatch *types.DigestMismatchError
		if errors.As(err, &mismatch) {
			s.metrics.observeVerifyFailure()
			s.logger.Warn("implementation damaged", "digest", mismatch.ExpectedDigest, "actual", mismatch.ActualDigest)
		}
		return err
	}
	if s.writeProtect {
		if err := setWritable(p, false); err != nil {
			s.logger.Warn("could not write-protect entry", "path", p, "error", err)
		}
	}
	return nil
}

// Audit verifies all entries concurrently. Mismatches are collected;
// any other error stops the audit.
func (s *DirectoryStore) Audit(ctx context.Context, progress func(Progress)) ([]*types.DigestMismatchError, error) {
	digests, err := s.ListAll()
	if err != nil {
		return nil, err
	}

	var (
		mu         sync.Mutex
		mismatches []*types.DigestMismatchError
		done       int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.auditWorkers)
	for _, d := range digests {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := s.Verify(gctx, d)
			var mismatch *types.DigestMismatchError
			if err != nil && !errors.As(err, &mismatch) {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if mismatch != nil {
				mismatches = append(mismatches, mismatch)
			}
			done++
			if progress != nil {
				progress(Progress{Digest: d.Best(), Done: done, Total: len(digests)})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return mismatches, err
	}
	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].ExpectedDigest < mismatches[j].ExpectedDigest })
	return mismatches, nil
}

// Purge removes every entry and staging directory.
func (s *DirectoryStore) Purge(ctx context.Context) error {
	digests, err := s.ListAll()
	if err != nil {
		return err
	}
	var errs []error
	for _, d := range digests {
		if _, err := s.Remove(ctx, d); err != nil {
			if types.IsCanceled(err) {
				return err
			}
			errs = append(errs, err)
		}
	}
	temps, err := s.ListAllTemp()
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, t := range temps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := removeTree(t); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", filepath.Base(t), err))
		}
	}
	if len(errs) == 0 {
		s.logger.Info("purged store", "root", s.root)
	}
	return errors.Join(errs...)
}

// copyTree copies files, executables, symlinks and directories from src
// into dst, keeping modification times. A root-level .manifest is skipped.
func copyTree(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("read source %s: %w", src, manifest.ErrNotDirectory)
	}

	type dirTime struct {
		path  string
		mtime time.Time
	}
	var dirs []dirTime
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if rel == manifest.FileName {
			return nil
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch mode := info.Mode(); {
		case mode.IsDir():
			dirs = append(dirs, dirTime{target, info.ModTime()})
			return os.Mkdir(target, 0o755)
		case mode.IsRegular():
			return copyFile(p, target, info)
		case mode&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return fmt.Errorf("%w: %s", manifest.ErrUnsupportedFileType, rel)
		}
	})
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Chtimes(dirs[i].path, dirs[i].mtime, dirs[i].mtime); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, info fs.FileInfo) error {
	mode := os.FileMode(0o644)
	if info.Mode().Perm()&0o111 != 0 {
		mode = 0o755
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chmod(dst, mode); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// setWritable adds or strips the write bits of every file and directory
// below root. Symlinks are left alone since chmod would follow them.
// Children are handled before their parents.
func setWritable(root string, writable bool) error {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink == 0 {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := len(paths) - 1; i >= 0; i-- {
		info, err := os.Lstat(paths[i])
		if err != nil {
			return err
		}
		perm := info.Mode().Perm()
		if writable {
			perm |= 0o200
		} else {
			perm &^= 0o222
		}
		if perm != info.Mode().Perm() {
			if err := os.Chmod(paths[i], perm); err != nil {
				return err
			}
		}
	}
	return nil
}

// removeTree deletes a possibly write-protected tree.
func removeTree(p string) error {
	if err := setWritable(p, true); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.RemoveAll(p)
}
