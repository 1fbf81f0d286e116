// Package manifest generates, parses and verifies manifests: canonical
// textual listings of a directory tree whose hash is the digest that
// identifies an implementation in the store.
//
// A manifest has one line per entry. Files are "F" (or "X" when
// executable) followed by the content hash, mtime, size and name; symlinks
// are "S" followed by the hash of the link target, its length and the name;
// directories are "D" followed by the slash-separated path from the root.
// Within each directory files come first, sorted by byte value, then each
// sub-directory followed by its own contents.
package manifest

import "errors"

// Sentinel errors for manifest operations.
var (
	// ErrUnknownFormat is returned when a digest ID or format name does not
	// name a supported algorithm.
	ErrUnknownFormat = errors.New("unknown manifest format")

	// ErrUnsupportedFileType is returned for device nodes, sockets and pipes,
	// which cannot be represented in a manifest.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrCaseCollision is returned when case-insensitive checking is enabled
	// and two siblings differ only by case.
	ErrCaseCollision = errors.New("file names differ only by case")

	// ErrMalformedLine is returned by Load for a line it cannot parse.
	ErrMalformedLine = errors.New("malformed manifest line")

	// ErrMalformedName is returned for an entry whose name contains a
	// newline, which would split its manifest line in two.
	ErrMalformedName = errors.New("file name contains a newline")

	// ErrNotDirectory is returned when the path to hash is not a directory.
	ErrNotDirectory = errors.New("not a directory")
)
