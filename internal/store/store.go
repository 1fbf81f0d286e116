// Package store implements the content-addressable implementation store: a
// directory whose entries are implementation trees named after their
// manifest digest.
//
// Entries are published by renaming a fully verified staging directory into
// place, so a crash leaves at most an orphaned staging directory and never a
// half-written entry. Published entries are write-protected and never
// modified except by Optimise, which replaces identical files with hard
// links without changing any manifest.
package store

import (
	"context"
	"errors"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// ErrNoDigest is returned when an operation is given a digest with no
// supported algorithm set.
var ErrNoDigest = errors.New("manifest digest has no known algorithm")

// AddOutcome tells a successful add apart from a benign duplicate.
type AddOutcome int

// Add outcomes.
const (
	AddOutcomeAdded AddOutcome = iota
	AddOutcomeAlreadyExists
)

func (o AddOutcome) String() string {
	if o == AddOutcomeAlreadyExists {
		return "already_exists"
	}
	return "added"
}

// AddResult reports where an implementation lives after an add.
type AddResult struct {
	Outcome AddOutcome
	Path    string
}

// ArchiveInfo describes one archive to extract during AddArchives.
type ArchiveInfo struct {
	Path        string
	MimeType    string // guessed from Path when empty
	SubDir      string
	Destination string
}

// Progress reports how many entries a long-running operation has
// processed.
type Progress struct {
	Digest string
	Done   int
	Total  int
}

// Store is the contract shared by a single store root and a composite of
// several roots.
type Store interface {
	// ListAll returns the digests of all entries.
	ListAll() ([]types.ManifestDigest, error)

	// ListAllTemp returns the paths of staging directories left behind by
	// interrupted adds.
	ListAllTemp() ([]string, error)

	// Contains reports whether an entry exists under any of the digest's
	// algorithms. The answer may be stale by the time the caller acts.
	Contains(digest types.ManifestDigest) bool

	// GetPath returns the directory of the entry, if present.
	GetPath(digest types.ManifestDigest) (string, bool)

	// AddDirectory copies source into the store after verifying that it
	// hashes to digest.
	AddDirectory(ctx context.Context, source string, digest types.ManifestDigest) (AddResult, error)

	// AddArchives extracts archives over each other into one staging
	// directory, then verifies and publishes it like AddDirectory.
	AddArchives(ctx context.Context, archives []ArchiveInfo, digest types.ManifestDigest) (AddResult, error)

	// Remove deletes the entry. It reports false when there was nothing
	// to remove.
	Remove(ctx context.Context, digest types.ManifestDigest) (bool, error)

	// Verify re-hashes an entry. A corrupt entry yields a
	// *types.DigestMismatchError and is left in place.
	Verify(ctx context.Context, digest types.ManifestDigest) error

	// Audit verifies every entry and returns all mismatches found.
	Audit(ctx context.Context, progress func(Progress)) ([]*types.DigestMismatchError, error)

	// Optimise hard-links identical files across entries and returns the
	// number of bytes saved.
	Optimise(ctx context.Context, progress func(Progress)) (int64, error)

	// Purge removes every entry and staging directory.
	Purge(ctx context.Context) error
}
