package archive

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type decompressor func(io.Reader) (io.ReadCloser, error)

func nopDecompress(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(r), nil }

func gzipDecompress(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) }

func bzip2Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(bzip2.NewReader(r)), nil
}

func zstdDecompress(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

type tarExtractor struct {
	decompress decompressor
}

func (t tarExtractor) Extract(ctx context.Context, src io.Reader, target string, opts Options) error {
	subDir, dest, err := normaliseOptions(opts)
	if err != nil {
		return err
	}
	stream, err := t.decompress(src)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	defer stream.Close()

	b, err := newBuilder(target, opts)
	if err != nil {
		return err
	}
	tr := tar.NewReader(stream)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %q", ErrPathTraversal, hdr.Name)
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		rel, ok, err := selectEntry(hdr.Name, subDir, dest)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			err = b.dir(rel, hdr.ModTime)
		case tar.TypeReg:
			err = b.file(rel, tr, hdr.Mode&0o111 != 0, hdr.ModTime)
		case tar.TypeSymlink:
			err = b.symlink(rel, hdr.Linkname)
		case tar.TypeLink:
			existing, inside, lerr := selectEntry(hdr.Linkname, subDir, dest)
			if lerr != nil {
				return lerr
			}
			if !inside {
				return fmt.Errorf("%w: hard link %q targets %q outside the extracted directory", ErrPathTraversal, hdr.Name, hdr.Linkname)
			}
			err = b.hardlink(rel, existing)
		default:
			// Devices and FIFOs cannot be part of an implementation.
			continue
		}
		if err != nil {
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
	}
	if subDir != "" && !b.matched {
		return fmt.Errorf("%w: %q", ErrSubDirNotFound, subDir)
	}
	return b.finish()
}

func normaliseOptions(opts Options) (subDir, dest string, err error) {
	if subDir, err = cleanRelative(opts.SubDir); err != nil {
		return "", "", err
	}
	if dest, err = cleanRelative(opts.Destination); err != nil {
		return "", "", err
	}
	return subDir, dest, nil
}
