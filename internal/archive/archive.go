// Package archive extracts implementation archives into staging directories
// and exports store entries back into archives.
//
// Extraction never writes outside its target: entries with absolute paths,
// ".." components, or paths that pass through a previously extracted
// symlink fail with ErrPathTraversal.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Supported archive MIME types.
const (
	MimeTypeZip     = "application/zip"
	MimeTypeTar     = "application/x-tar"
	MimeTypeTarGzip = "application/x-compressed-tar"
	MimeTypeTarBzip = "application/x-bzip-compressed-tar"
	MimeTypeTarZstd = "application/x-zstd-compressed-tar"
)

// Sentinel errors for archive operations.
var (
	// ErrUnsupportedType is returned for a MIME type no extractor handles.
	ErrUnsupportedType = errors.New("unsupported archive type")

	// ErrPathTraversal is returned when an entry would land outside the
	// target directory.
	ErrPathTraversal = errors.New("archive entry escapes target directory")

	// ErrMalformedName is returned for an entry name containing a newline,
	// which no manifest can represent.
	ErrMalformedName = errors.New("archive entry name contains a newline")

	// ErrCaseCollision is returned when Options.CaseFold is set and two
	// entries differ only by case.
	ErrCaseCollision = errors.New("archive entries differ only by case")

	// ErrSubDirNotFound is returned when Options.SubDir matched no entry.
	ErrSubDirNotFound = errors.New("sub-directory not found in archive")
)

// Options narrows and relocates what an extraction writes.
type Options struct {
	// SubDir, when set, extracts only this slash-separated directory of the
	// archive, with the prefix stripped.
	SubDir string

	// Destination, when set, places the extracted content in this
	// slash-separated sub-directory of the target.
	Destination string

	// CaseFold rejects entries whose paths differ from an earlier entry's
	// only by case.
	CaseFold bool
}

// Extractor unpacks one archive format.
type Extractor interface {
	Extract(ctx context.Context, src io.Reader, target string, opts Options) error
}

// ForMimeType returns the extractor for mimeType.
func ForMimeType(mimeType string) (Extractor, error) {
	switch strings.ToLower(mimeType) {
	case MimeTypeTar:
		return tarExtractor{decompress: nopDecompress}, nil
	case MimeTypeTarGzip:
		return tarExtractor{decompress: gzipDecompress}, nil
	case MimeTypeTarBzip:
		return tarExtractor{decompress: bzip2Decompress}, nil
	case MimeTypeTarZstd:
		return tarExtractor{decompress: zstdDecompress}, nil
	case MimeTypeZip:
		return zipExtractor{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}
}

// extensions maps file name suffixes to MIME types; longer suffixes first.
var extensions = []struct {
	suffix   string
	mimeType string
}{
	{".tar.gz", MimeTypeTarGzip},
	{".tar.bz2", MimeTypeTarBzip},
	{".tar.zst", MimeTypeTarZstd},
	{".tgz", MimeTypeTarGzip},
	{".tbz2", MimeTypeTarBzip},
	{".tbz", MimeTypeTarBzip},
	{".tzst", MimeTypeTarZstd},
	{".tar", MimeTypeTar},
	{".zip", MimeTypeZip},
}

// detected maps content-sniffed types to the archive types they imply.
// A compressed stream is assumed to hold a tar.
var detected = map[string]string{
	"application/zip":     MimeTypeZip,
	"application/x-tar":   MimeTypeTar,
	"application/gzip":    MimeTypeTarGzip,
	"application/x-bzip2": MimeTypeTarBzip,
	"application/zstd":    MimeTypeTarZstd,
}

// GuessMimeType guesses the archive type of the file at name, first from
// its extension and then from its content. It returns "" when neither
// gives an answer.
func GuessMimeType(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext.suffix) {
			return ext.mimeType
		}
	}
	mt, err := mimetype.DetectFile(name)
	if err != nil {
		return ""
	}
	for m := mt; m != nil; m = m.Parent() {
		if t, ok := detected[m.String()]; ok {
			return t
		}
	}
	return ""
}

// ExtractFile opens the archive at name and extracts it into target. An
// empty mimeType is guessed with GuessMimeType.
func ExtractFile(ctx context.Context, name, mimeType, target string, opts Options) error {
	if mimeType == "" {
		mimeType = GuessMimeType(name)
	}
	ex, err := ForMimeType(mimeType)
	if err != nil {
		return err
	}
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	if err := ex.Extract(ctx, f, target, opts); err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}
	return nil
}

// cleanRelative normalises a slash-separated relative path. It returns ""
// for the root and an error for absolute or escaping paths.
func cleanRelative(p string) (string, error) {
	if strings.ContainsRune(p, '\n') {
		return "", fmt.Errorf("%w: %q", ErrMalformedName, p)
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, p)
	}
	return cleaned, nil
}

// selectEntry maps an archive entry name to its path below the target,
// applying SubDir and Destination. ok is false for entries outside SubDir.
func selectEntry(name string, subDir, dest string) (rel string, ok bool, err error) {
	rel, err = cleanRelative(name)
	if err != nil {
		return "", false, err
	}
	if subDir != "" {
		switch {
		case rel == subDir:
			rel = ""
		case strings.HasPrefix(rel, subDir+"/"):
			rel = rel[len(subDir)+1:]
		default:
			return "", false, nil
		}
	}
	if dest != "" {
		rel = path.Join(dest, rel)
	}
	return rel, true, nil
}
