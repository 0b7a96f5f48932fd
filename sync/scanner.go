package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"

	"github.com/marusama/semaphore/v2"
	"github.com/spf13/afero"
)

// DefaultHashLimit bounds concurrent file reads while rehashing.
const DefaultHashLimit = 5

// ScanAssets walks root and returns the manifest-relative path of every
// regular file. Leftover temp files from interrupted writes are skipped.
// A missing root yields no paths.
func ScanAssets(fsys afero.Fs, root string) ([]string, error) {
	l := sub("scanner")
	l.Debug("scan start", "root", root)

	if ok, _ := afero.DirExists(fsys, root); !ok {
		l.Debug("asset root absent", "root", root)
		return nil, nil
	}

	var paths []string
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			l.Warn("scan walk error", "path", path, "err", err)
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.Contains(info.Name(), tmpSuffix) {
			if logEnabled(slog.LevelDebug) {
				l.Debug("skipping temp file", "path", path)
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan assets: %w", err)
	}

	l.Debug("scan complete", "root", root, "files", len(paths))
	return paths, nil
}

// HashFiles rehashes the files at paths (manifest-relative, under root) with
// at most limit concurrent reads. Files that do not exist are skipped; any
// other read error fails the call once every started read has finished.
func HashFiles(ctx context.Context, fsys afero.Fs, root string, paths []string, limit int, bus *EventBus, label string) ([]HashRow, error) {
	if limit <= 0 {
		limit = DefaultHashLimit
	}
	sem := semaphore.New(limit)
	prog := newProgress(bus, EventHashed, label, len(paths))

	type slot struct {
		row     HashRow
		present bool
		err     error
	}
	out := make([]slot, len(paths))

	var wg gosync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				out[i].err = err
				return
			}
			defer sem.Release(1)

			full, err := resolveAssetPath(root, p)
			if err != nil {
				sub("scanner").Warn("not hashing path outside root", "path", p)
				return
			}
			hash, size, err := HashFile(ctx, fsys, full)
			switch {
			case errors.Is(err, fs.ErrNotExist):
			case err != nil:
				out[i].err = fmt.Errorf("hash %s: %w", p, err)
			default:
				out[i] = slot{row: HashRow{Path: p, Size: size, Hash: hash}, present: true}
			}
			prog.step(p, "")
		}(i, p)
	}
	wg.Wait()

	rows := make([]HashRow, 0, len(paths))
	var errs []error
	for _, s := range out {
		if s.err != nil {
			errs = append(errs, s.err)
			continue
		}
		if s.present {
			rows = append(rows, s.row)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sub("scanner").Info("files hashed", "type", label, "requested", len(paths), "present", len(rows))
	return rows, nil
}
