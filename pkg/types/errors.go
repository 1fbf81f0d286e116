package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Lookup errors.
var (
	ErrFeedNotFound           = errors.New("feed not found")
	ErrImplementationNotFound = errors.New("implementation not found in store")
	ErrAlreadyInStore         = errors.New("implementation already in store")
	ErrGraphTooComplex        = errors.New("dependency graph too complex")
)

// FeedDataError reports a malformed feed, selections document or manifest.
// It is never worth retrying.
type FeedDataError struct {
	Source string
	Err    error
}

func (e *FeedDataError) Error() string {
	return fmt.Sprintf("invalid data in %s: %v", e.Source, e.Err)
}

func (e *FeedDataError) Unwrap() error { return e.Err }

// TransientError wraps an I/O or network failure the caller may retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// SolverError reports that no combination of implementations satisfies the
// requirements. InterfaceURI names the interface that could not be
// resolved.
type SolverError struct {
	InterfaceURI string
	Reason       string
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("no suitable implementation of %s: %s", e.InterfaceURI, e.Reason)
}

// ManifestDiffKind classifies one line of a manifest comparison.
type ManifestDiffKind int

// Manifest difference kinds.
const (
	ManifestMissing ManifestDiffKind = iota
	ManifestExtra
	ManifestChanged
)

func (k ManifestDiffKind) String() string {
	switch k {
	case ManifestMissing:
		return "missing"
	case ManifestExtra:
		return "extra"
	case ManifestChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// ManifestDiffEntry is one path that differs between the expected and the
// actual manifest.
type ManifestDiffEntry struct {
	Kind     ManifestDiffKind
	Path     string
	Expected string
	Actual   string
}

// DigestMismatchError reports that a directory does not hash to the digest
// it was expected to have. ExpectedManifest is empty when the expected
// manifest text is unknown.
type DigestMismatchError struct {
	Path             string
	ExpectedDigest   string
	ActualDigest     string
	ExpectedManifest string
	ActualManifest   string
	Diff             []ManifestDiffEntry
	UnifiedDiff      string
}

func (e *DigestMismatchError) Error() string {
	var b strings.Builder
	b.WriteString("digest mismatch")
	if e.Path != "" {
		fmt.Fprintf(&b, " for %s", e.Path)
	}
	fmt.Fprintf(&b, ": expected %s, got %s", e.ExpectedDigest, e.ActualDigest)
	return b.String()
}

// Details returns a human-readable listing of the differing entries.
func (e *DigestMismatchError) Details() string {
	if e.UnifiedDiff != "" {
		return e.UnifiedDiff
	}
	var b strings.Builder
	for _, d := range e.Diff {
		switch d.Kind {
		case ManifestMissing:
			fmt.Fprintf(&b, "missing: %s\n", d.Path)
		case ManifestExtra:
			fmt.Fprintf(&b, "extra:   %s\n", d.Path)
		case ManifestChanged:
			fmt.Fprintf(&b, "changed: %s\n  expected %s\n  actual   %s\n", d.Path, d.Expected, d.Actual)
		}
	}
	return b.String()
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsNotFound reports whether err means a feed or implementation is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFeedNotFound) || errors.Is(err, ErrImplementationNotFound)
}

// IsCanceled reports whether err stems from a cancelled or expired context.
// Cancellation is a control signal, not a failure.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
