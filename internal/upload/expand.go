package upload

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrDecompress wraps every failure to expand an archived log.
var ErrDecompress = errors.New("decompression failed")

// IsArchive reports whether name is a gzip archive by its suffix.
func IsArchive(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".gz")
}

// ExpandProgress receives the number of decompressed bytes written so far.
type ExpandProgress func(written int64)

// Expand decompresses the gzip file src into dst.
func Expand(ctx context.Context, src, dst string, onProgress ExpandProgress) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	defer in.Close()

	reader, err := gzip.NewReader(in)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	defer reader.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecompress, err)
	}

	buf := make([]byte, 1024*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			out.Close()
			os.Remove(dst)
			return written, err
		}
		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				out.Close()
				os.Remove(dst)
				return written, fmt.Errorf("%w: write error: %v", ErrDecompress, err)
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(dst)
			return written, fmt.Errorf("%w: read error: %v", ErrDecompress, readErr)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(dst)
		return written, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	return written, nil
}

// ExpandToTemp decompresses path into a new file under tempDir and returns
// its location together with a cleanup func. Paths without a .gz suffix are
// returned unchanged with a no-op cleanup.
func ExpandToTemp(ctx context.Context, path, tempDir string) (string, func(), error) {
	if !IsArchive(path) {
		return path, func() {}, nil
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tmp, err := os.CreateTemp(tempDir, base+".*")
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if _, err := Expand(ctx, path, tmpPath, nil); err != nil {
		os.Remove(tmpPath)
		return "", nil, err
	}
	return tmpPath, func() { os.Remove(tmpPath) }, nil
}
