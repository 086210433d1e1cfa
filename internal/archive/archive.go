package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm selects the codec applied on top of the tar stream.
type Algorithm string

const (
	Gzip Algorithm = "gzip"
	Lz4  Algorithm = "lz4"
	Zstd Algorithm = "zstd"
	None Algorithm = "none"
)

// Extension returns the archive file suffix for an algorithm.
func Extension(algo Algorithm) string {
	switch algo {
	case Gzip:
		return ".tar.gz"
	case Lz4:
		return ".tar.lz4"
	case Zstd:
		return ".tar.zst"
	default:
		return ".tar"
	}
}

// DetectAlgorithm infers the codec from an archive file name.
func DetectAlgorithm(filename string) Algorithm {
	switch {
	case strings.HasSuffix(filename, ".tar.gz"), strings.HasSuffix(filename, ".tgz"):
		return Gzip
	case strings.HasSuffix(filename, ".tar.lz4"):
		return Lz4
	case strings.HasSuffix(filename, ".tar.zst"):
		return Zstd
	default:
		return None
	}
}

type ErrUnsupportedAlgo Algorithm

func (e ErrUnsupportedAlgo) Error() string {
	return "unsupported compression algorithm: " + string(e)
}

// Pack archives the directory tree rooted at srcDir into dstFile, returning
// the archive's byte size. The file lands atomically: written to a temp path,
// renamed on success.
func Pack(srcDir, dstFile string, algo Algorithm) (int64, error) {
	if algo == "" {
		algo = Zstd
	}

	tmp := dstFile + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive %s: %w", dstFile, err)
	}
	defer os.Remove(tmp)

	cw, closeCodec, err := compressWriter(f, algo)
	if err != nil {
		f.Close()
		return 0, err
	}

	tw := tar.NewWriter(cw)
	if err := writeTree(tw, srcDir); err != nil {
		tw.Close()
		closeCodec()
		f.Close()
		return 0, err
	}
	if err := tw.Close(); err != nil {
		closeCodec()
		f.Close()
		return 0, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := closeCodec(); err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to flush codec: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush archive: %w", err)
	}

	if err := os.Rename(tmp, dstFile); err != nil {
		return 0, fmt.Errorf("failed to finalize archive (rename): %w", err)
	}
	info, err := os.Stat(dstFile)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func compressWriter(w io.Writer, algo Algorithm) (io.Writer, func() error, error) {
	switch algo {
	case None:
		return w, func() error { return nil }, nil
	case Gzip:
		gz := gzip.NewWriter(w)
		return gz, gz.Close, nil
	case Lz4:
		l := lz4.NewWriter(w)
		return l, l.Close, nil
	case Zstd:
		z, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, err
		}
		return z, z.Close, nil
	default:
		return nil, nil, ErrUnsupportedAlgo(algo)
	}
}

func writeTree(tw *tar.Writer, srcDir string) error {
	return filepath.WalkDir(srcDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("failed to archive %s: %w", rel, err)
		}
		return nil
	})
}

// Unpack extracts an archive into dstDir, inferring the codec from the file
// name. Entries resolving outside dstDir are rejected.
func Unpack(srcFile, dstDir string) error {
	f, err := os.Open(srcFile)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", srcFile, err)
	}
	defer f.Close()

	cr, closeCodec, err := decompressReader(f, DetectAlgorithm(srcFile))
	if err != nil {
		return err
	}
	defer closeCodec()

	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt archive %s: %w", srcFile, err)
		}

		target := filepath.Join(dstDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dstDir)+string(os.PathSeparator)) {
			return fmt.Errorf("refusing to extract %s outside %s", hdr.Name, dstDir)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

func decompressReader(r io.Reader, algo Algorithm) (io.Reader, func() error, error) {
	switch algo {
	case None:
		return r, func() error { return nil }, nil
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, gz.Close, nil
	case Lz4:
		return lz4.NewReader(r), func() error { return nil }, nil
	case Zstd:
		z, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return z, func() error { z.Close(); return nil }, nil
	default:
		return nil, nil, ErrUnsupportedAlgo(algo)
	}
}
