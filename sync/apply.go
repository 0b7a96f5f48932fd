package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/dustin/go-humanize"
	"github.com/marusama/semaphore/v2"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/spf13/afero"
)

// Downloader applies diff results to an asset tree: it fetches new and
// changed assets with bounded concurrency and removes deleted ones.
type Downloader struct {
	fs      afero.Fs
	fetcher Fetcher
	limit   int
	bus     *EventBus
}

// NewDownloader creates a Downloader writing to fsys. limit bounds the
// number of concurrent fetches; values <= 0 use DefaultDownloadLimit.
func NewDownloader(fsys afero.Fs, fetcher Fetcher, limit int) *Downloader {
	if limit <= 0 {
		limit = DefaultDownloadLimit
	}
	return &Downloader{fs: fsys, fetcher: fetcher, limit: limit}
}

// SetEventBus publishes per-asset progress on bus.
func (d *Downloader) SetEventBus(bus *EventBus) { d.bus = bus }

// Apply reconciles assetRoot with diff and returns one UpdateResult per
// classified path: NoChange results first, then fetch outcomes, then
// deletion outcomes. Failed fetches never cancel their siblings. The only
// returned error is a deletion failure other than a missing file.
func (d *Downloader) Apply(ctx context.Context, diff DiffResult, assetRoot string, allowDeletion bool) ([]UpdateResult, error) {
	return d.apply(ctx, "", diff, assetRoot, allowDeletion)
}

func (d *Downloader) apply(ctx context.Context, label string, diff DiffResult, assetRoot string, allowDeletion bool) ([]UpdateResult, error) {
	l := sub("apply")
	results := make([]UpdateResult, 0, diff.Len())

	for _, cr := range diff[CompareUnchanged] {
		full, _ := resolveAssetPath(assetRoot, cr.New.Path)
		results = append(results, UpdateResult{
			Compare:  cr,
			Download: DownloadNoChange,
			Path:     AssetPath{Full: full, Inner: cr.New.Path},
		})
	}

	fetches := make([]CompareResult, 0, len(diff[CompareNew])+len(diff[CompareChanged]))
	fetches = append(fetches, diff[CompareNew]...)
	fetches = append(fetches, diff[CompareChanged]...)
	if len(fetches) > 0 {
		d.checkFreeSpace(assetRoot, fetches)
		l.Info("downloading assets", "type", label, "count", len(fetches), "limit", d.limit)
		results = append(results, d.fetchAll(ctx, label, fetches, assetRoot)...)
	}

	deleted := diff[CompareDeleted]
	if len(deleted) > 0 {
		prog := newProgress(d.bus, EventAsset, label, len(deleted))
		for _, cr := range deleted {
			full, err := resolveAssetPath(assetRoot, cr.Current.Path)
			res := UpdateResult{Compare: cr, Download: DownloadForDeletionNoChange, Path: AssetPath{Full: full, Inner: cr.Current.Path}}
			if allowDeletion {
				if err != nil {
					l.Warn("refusing to delete outside asset root", "path", cr.Current.Path)
				} else if _, err := RemoveAsset(d.fs, full); err != nil {
					return nil, fmt.Errorf("delete %s: %w", cr.Current.Path, err)
				} else {
					res.Download = DownloadRemoved
				}
			}
			results = append(results, res)
			prog.step(res.Path.Inner, res.Download.String())
		}
		if allowDeletion {
			l.Info("assets removed", "type", label, "count", len(deleted))
		} else {
			l.Info("deletions deferred", "type", label, "count", len(deleted))
		}
	}
	return results, nil
}

// fetchAll downloads every result concurrently. Each goroutine writes only
// its own slot of the returned slice.
func (d *Downloader) fetchAll(ctx context.Context, label string, fetches []CompareResult, assetRoot string) []UpdateResult {
	sem := semaphore.New(d.limit)
	out := make([]UpdateResult, len(fetches))
	prog := newProgress(d.bus, EventAsset, label, len(fetches))

	var wg gosync.WaitGroup
	for i, cr := range fetches {
		wg.Add(1)
		go func(i int, cr CompareResult) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				out[i] = failedResult(assetRoot, cr)
				prog.step(cr.Path(), DownloadFailed.String())
				return
			}
			defer sem.Release(1)
			out[i] = d.download(ctx, assetRoot, cr)
			prog.step(cr.Path(), out[i].Download.String())
		}(i, cr)
	}
	wg.Wait()
	return out
}

func failedResult(assetRoot string, cr CompareResult) UpdateResult {
	full, _ := resolveAssetPath(assetRoot, cr.New.Path)
	return UpdateResult{Compare: cr, Download: DownloadFailed, Path: AssetPath{Full: full, Inner: cr.New.Path}}
}

// download fetches one asset and writes it atomically, verifying its size.
func (d *Downloader) download(ctx context.Context, assetRoot string, cr CompareResult) UpdateResult {
	l := sub("apply")
	row := cr.New
	res := failedResult(assetRoot, cr)
	if _, err := resolveAssetPath(assetRoot, row.Path); err != nil {
		l.Error("asset path rejected", "path", row.Path, "err", err)
		return res
	}

	body, size, err := d.fetcher.FetchAsset(ctx, row.Hash)
	if err != nil {
		l.Error("asset fetch failed", "path", row.Path, "hash", row.Hash, "err", err)
		return res
	}
	defer body.Close()

	if size >= 0 && size != row.Size {
		l.Error("asset has wrong size", "path", row.Path, "got", size, "want", row.Size)
		return res
	}
	if _, err := WriteAtomic(ctx, d.fs, res.Path.Full, body, row.Size); err != nil {
		l.Error("asset write failed", "path", row.Path, "err", err)
		return res
	}

	if logEnabled(slog.LevelDebug) {
		l.Debug("asset written", "path", row.Path, "size", row.Size)
	}
	res.Download = DownloadSuccess
	return res
}

// checkFreeSpace warns when the payload of fetches exceeds the free space of
// the volume holding assetRoot. Only real filesystems are checked.
func (d *Downloader) checkFreeSpace(assetRoot string, fetches []CompareResult) {
	if _, ok := d.fs.(*afero.OsFs); !ok {
		return
	}
	var need int64
	for _, cr := range fetches {
		need += cr.New.Size
	}

	dir := assetRoot
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		sub("apply").Debug("free space unknown", "dir", dir, "err", err)
		return
	}
	if uint64(need) > usage.Free {
		sub("apply").Warn("download may not fit on disk",
			"need", humanize.Bytes(uint64(need)), "free", humanize.Bytes(usage.Free))
	}
}
