package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

type zipExtractor struct{}

func (zipExtractor) Extract(ctx context.Context, src io.Reader, target string, opts Options) error {
	subDir, dest, err := normaliseOptions(opts)
	if err != nil {
		return err
	}
	ra, size, cleanup, err := readerAt(src)
	if err != nil {
		return err
	}
	defer cleanup()
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return fmt.Errorf("read zip: %w", err)
	}

	b, err := newBuilder(target, opts)
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, ok, err := selectEntry(f.Name, subDir, dest)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := extractZipEntry(b, f, rel); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	if subDir != "" && !b.matched {
		return fmt.Errorf("%w: %q", ErrSubDirNotFound, subDir)
	}
	return b.finish()
}

func extractZipEntry(b *builder, f *zip.File, rel string) error {
	mode := f.Mode()
	switch {
	case mode.IsDir() || strings.HasSuffix(f.Name, "/"):
		return b.dir(rel, f.Modified)
	case mode&fs.ModeSymlink != 0:
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		target, err := io.ReadAll(io.LimitReader(rc, 4096))
		if err != nil {
			return err
		}
		return b.symlink(rel, string(target))
	case mode.IsRegular():
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		return b.file(rel, rc, mode&0o111 != 0, f.Modified)
	default:
		return nil
	}
}

// readerAt returns src as an io.ReaderAt, spooling it to a temporary file
// when it is not already a seekable file.
func readerAt(src io.Reader) (io.ReaderAt, int64, func(), error) {
	if f, ok := src.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode().IsRegular() {
			return f, info.Size(), func() {}, nil
		}
	}
	tmp, err := os.CreateTemp("", "depot-zip-*")
	if err != nil {
		return nil, 0, nil, err
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	size, err := io.Copy(tmp, src)
	if err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("spool zip: %w", err)
	}
	return tmp, size, cleanup, nil
}
