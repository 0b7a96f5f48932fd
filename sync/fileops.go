package sync

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	copyChunkSize = 256 * 1024 // write chunk for asset payloads
	hashChunkSize = 64 * 1024  // read chunk for rehashing
	tmpSuffix     = ".sync-tmp"
	maxNameLen    = 255
)

// safeTmpPath returns the temp path used while writing dst. Names that would
// exceed the filesystem limit are shortened and disambiguated by a digest of
// the original name.
func safeTmpPath(dst string) string {
	base := filepath.Base(dst)
	if len(base)+len(tmpSuffix) <= maxNameLen {
		return dst + tmpSuffix
	}
	sum := md5.Sum([]byte(base))
	tag := tmpSuffix + "-" + hex.EncodeToString(sum[:4])
	return filepath.Join(filepath.Dir(dst), base[:maxNameLen-len(tag)]+tag)
}

// resolveAssetPath joins a manifest path onto root, rejecting paths that
// would land outside of it.
func resolveAssetPath(root, inner string) (string, error) {
	full := filepath.Join(root, filepath.FromSlash(inner))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return full, fmt.Errorf("%w: %q", ErrPathEscapesRoot, inner)
	}
	return full, nil
}

// WriteAtomic streams r into dst:
// 1. MkdirAll the parent
// 2. Copy to the temp path in chunks, checking ctx between chunks
// 3. Verify the byte count when expected >= 0
// 4. Rename temp → dst
//
// On any failure the temp file is removed and an existing dst is untouched.
func WriteAtomic(ctx context.Context, fsys afero.Fs, dst string, r io.Reader, expected int64) (int64, error) {
	if err := fsys.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("mkdir dst parent: %w", err)
	}

	tmpPath := safeTmpPath(dst)
	tmpFile, err := fsys.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("create tmp: %w", err)
	}

	var (
		written int64
		copyErr error
		buf     = make([]byte, copyChunkSize)
	)
	for {
		if err := ctx.Err(); err != nil {
			copyErr = err
			break
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, writeErr := tmpFile.Write(buf[:n]); writeErr != nil {
				copyErr = fmt.Errorf("write tmp: %w", writeErr)
				break
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			copyErr = fmt.Errorf("read source: %w", readErr)
			break
		}
	}

	if err := tmpFile.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("close tmp: %w", err)
	}
	if copyErr == nil && expected >= 0 && written != expected {
		copyErr = fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, written, expected)
	}
	if copyErr != nil {
		fsys.Remove(tmpPath) //nolint:errcheck
		return written, copyErr
	}

	if err := fsys.Rename(tmpPath, dst); err != nil {
		fsys.Remove(tmpPath) //nolint:errcheck
		return written, fmt.Errorf("rename tmp to dst: %w", err)
	}
	return written, nil
}

// writeFileAtomic replaces path with data through a temp file.
func writeFileAtomic(fsys afero.Fs, path string, data []byte) error {
	_, err := WriteAtomic(context.Background(), fsys, path, bytes.NewReader(data), int64(len(data)))
	return err
}

// RemoveAsset deletes path. A missing file is logged and reported as
// existed=false; any other error is returned.
func RemoveAsset(fsys afero.Fs, path string) (bool, error) {
	err := fsys.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
		sub("fileops").Warn("delete target already absent", "path", path)
		return false, nil
	}
	return false, fmt.Errorf("remove asset: %w", err)
}

// HashFile streams path through md5 in fixed chunks and returns the hex
// digest and the byte count.
func HashFile(ctx context.Context, fsys afero.Fs, path string) (string, int64, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, hashChunkSize)
	var size int64
	for {
		if err := ctx.Err(); err != nil {
			return "", size, err
		}
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			size += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", size, fmt.Errorf("read file: %w", readErr)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// hashBytes returns the md5 hex digest of data.
func hashBytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
