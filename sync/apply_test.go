package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDownloader(t *testing.T) (*Store, *fakeFetcher, *Downloader) {
	t.Helper()
	s := setupTestStore(t)
	f := newFakeFetcher()
	return s, f, NewDownloader(s.Fs(), f, DefaultDownloadLimit)
}

func TestApply_Categories(t *testing.T) {
	s, f, d := setupTestDownloader(t)

	same := f.addAsset("same", "same")
	fresh := f.addAsset("dir/fresh", "fresh content")
	changedOld := HashRow{Path: "changed", Size: 3, Hash: "old"}
	changedNew := f.addAsset("changed", "new version")
	gone := HashRow{Path: "gone", Size: 4, Hash: "gone"}
	writeAsset(t, s.Fs(), s, "same", "same")
	writeAsset(t, s.Fs(), s, "changed", "old")
	writeAsset(t, s.Fs(), s, "gone", "gone")

	diff := Diff([]HashRow{same, changedOld, gone}, []HashRow{same, fresh, changedNew})
	results, err := d.Apply(context.Background(), diff, s.AssetRoot(), true)
	require.NoError(t, err)

	assert.Equal(t, map[string]DownloadType{
		"same":      DownloadNoChange,
		"dir/fresh": DownloadSuccess,
		"changed":   DownloadSuccess,
		"gone":      DownloadRemoved,
	}, downloadsByPath(results))

	// NoChange first, then fetch outcomes, then deletions.
	require.Len(t, results, 4)
	assert.Equal(t, DownloadNoChange, results[0].Download)
	assert.Equal(t, DownloadRemoved, results[3].Download)

	got, ok := readAsset(t, s, "changed")
	require.True(t, ok)
	assert.Equal(t, "new version", got)
	_, ok = readAsset(t, s, "gone")
	assert.False(t, ok)

	_, assets := f.counts()
	assert.Equal(t, 2, assets, "unchanged entries must not be fetched")
}

func TestApply_DeletionDisabled(t *testing.T) {
	s, _, d := setupTestDownloader(t)
	writeAsset(t, s.Fs(), s, "keep", "keep")

	diff := Diff([]HashRow{{Path: "keep", Size: 4, Hash: "k"}}, nil)
	results, err := d.Apply(context.Background(), diff, s.AssetRoot(), false)
	require.NoError(t, err)

	assert.Equal(t, map[string]DownloadType{"keep": DownloadForDeletionNoChange}, downloadsByPath(results))
	_, ok := readAsset(t, s, "keep")
	assert.True(t, ok)
}

func TestApply_DeleteMissingFileIsNotAnError(t *testing.T) {
	s, _, d := setupTestDownloader(t)

	diff := Diff([]HashRow{{Path: "never-there", Size: 1, Hash: "x"}}, nil)
	results, err := d.Apply(context.Background(), diff, s.AssetRoot(), true)
	require.NoError(t, err)
	assert.Equal(t, DownloadRemoved, results[0].Download)
}

func TestApply_DeletePermissionErrorPropagates(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "/c/AssetBundles/locked", []byte("x"), 0644))
	d := NewDownloader(afero.NewReadOnlyFs(base), newFakeFetcher(), 2)

	diff := Diff([]HashRow{{Path: "locked", Size: 1, Hash: "x"}}, nil)
	_, err := d.Apply(context.Background(), diff, "/c/AssetBundles", true)
	assert.Error(t, err)
}

func TestApply_SizeMismatchRejected(t *testing.T) {
	s, f, d := setupTestDownloader(t)

	row := f.addAsset("truncated", "0123456789")
	row.Size = 20 // manifest declares more than the server sends
	f.announce[row.Hash] = -1

	results, err := d.Apply(context.Background(), Diff(nil, []HashRow{row}), s.AssetRoot(), true)
	require.NoError(t, err)
	assert.Equal(t, DownloadFailed, results[0].Download)

	_, ok := readAsset(t, s, "truncated")
	assert.False(t, ok, "no file may remain at the destination")
	exists, _ := afero.Exists(s.Fs(), results[0].Path.Full+tmpSuffix)
	assert.False(t, exists)
}

func TestApply_AnnouncedSizeMismatchRejected(t *testing.T) {
	s, f, d := setupTestDownloader(t)

	row := f.addAsset("a", "abc")
	f.announce[row.Hash] = 99

	results, err := d.Apply(context.Background(), Diff(nil, []HashRow{row}), s.AssetRoot(), true)
	require.NoError(t, err)
	assert.Equal(t, DownloadFailed, results[0].Download)
	_, ok := readAsset(t, s, "a")
	assert.False(t, ok)
}

func TestApply_FailureIsolated(t *testing.T) {
	s, f, d := setupTestDownloader(t)

	var rows []HashRow
	for i := 0; i < 10; i++ {
		rows = append(rows, f.addAsset(fmt.Sprintf("ok%d", i), fmt.Sprintf("payload-%d", i)))
	}
	rows = append(rows, HashRow{Path: "missing", Size: 5, Hash: "not-on-cdn"})

	results, err := d.Apply(context.Background(), Diff(nil, rows), s.AssetRoot(), true)
	require.NoError(t, err)
	require.Len(t, results, 11)

	byPath := downloadsByPath(results)
	assert.Equal(t, DownloadFailed, byPath["missing"])
	for i := 0; i < 10; i++ {
		assert.Equal(t, DownloadSuccess, byPath[fmt.Sprintf("ok%d", i)])
	}
}

func TestApply_ConcurrencyBounded(t *testing.T) {
	s, f, _ := setupTestDownloader(t)
	f.assetDelay = 20 * time.Millisecond
	d := NewDownloader(s.Fs(), f, 3)

	var rows []HashRow
	for i := 0; i < 12; i++ {
		rows = append(rows, f.addAsset(fmt.Sprintf("f%d", i), fmt.Sprintf("c%d", i)))
	}
	_, err := d.Apply(context.Background(), Diff(nil, rows), s.AssetRoot(), true)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.LessOrEqual(t, f.peak, 3)
	assert.Greater(t, f.peak, 0)
}

func TestApply_PathOutsideRootFails(t *testing.T) {
	s, f, d := setupTestDownloader(t)
	row := f.addAsset("../version.txt", "evil")

	results, err := d.Apply(context.Background(), Diff(nil, []HashRow{row}), s.AssetRoot(), true)
	require.NoError(t, err)
	assert.Equal(t, DownloadFailed, results[0].Download)

	_, assets := f.counts()
	assert.Zero(t, assets)
}

func TestApply_PublishesProgress(t *testing.T) {
	s, f, d := setupTestDownloader(t)
	bus := NewEventBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	d.SetEventBus(bus)

	rows := []HashRow{f.addAsset("a", "1"), f.addAsset("b", "2")}
	_, err := d.Apply(context.Background(), Diff(nil, rows), s.AssetRoot(), true)
	require.NoError(t, err)

	var done []int
	for i := 0; i < 2; i++ {
		ev := <-ch
		assert.Equal(t, EventAsset, ev.Kind)
		assert.Equal(t, 2, ev.Total)
		done = append(done, ev.Done)
	}
	assert.ElementsMatch(t, []int{1, 2}, done)
}
