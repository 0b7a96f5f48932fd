package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepair_ReconcilesDisk(t *testing.T) {
	u, f := setupTestUpdater(t)
	s := u.Store()

	intact := f.addAsset("intact", "fine")
	damaged := f.addAsset("damaged", "original")
	missing := f.addAsset("cv/missing", "lost")
	require.NoError(t, s.SaveManifest(VersionAZL, []HashRow{intact, damaged}))
	require.NoError(t, s.SaveManifest(VersionCV, []HashRow{missing}))

	writeAsset(t, s.Fs(), s, "intact", "fine")
	writeAsset(t, s.Fs(), s, "damaged", "bitrot")
	writeAsset(t, s.Fs(), s, "stray", "nobody wants me")

	results, err := NewRepairer(u, 2).Repair(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]DownloadType{
		"intact":     DownloadNoChange,
		"damaged":    DownloadSuccess,
		"cv/missing": DownloadSuccess,
		"stray":      DownloadRemoved,
	}, downloadsByPath(results))

	got, _ := readAsset(t, s, "damaged")
	assert.Equal(t, "original", got)
	_, ok := readAsset(t, s, "stray")
	assert.False(t, ok)

	_, ok, err = s.LoadVersion(VersionAZL)
	require.NoError(t, err)
	assert.False(t, ok, "full repair does not persist versions")
}

// Simulates an update to v2 interrupted after some downloads: the disk
// already holds part of v2 but the persisted manifest still describes v1.
func TestRepairHashfile_ResumesInterruptedUpdate(t *testing.T) {
	u, f := setupTestUpdater(t)
	s := u.Store()

	keep := f.addAsset("keep", "same")
	doneOld := HashRow{Path: "done", Size: 3, Hash: hashBytes([]byte("old"))}
	pendingOld := HashRow{Path: "pending", Size: 3, Hash: hashBytes([]byte("old"))}
	removed := HashRow{Path: "removed", Size: 4, Hash: hashBytes([]byte("gone"))}
	require.NoError(t, s.SaveVersion(VersionAZL, "1.0.0"))
	require.NoError(t, s.SaveManifest(VersionAZL, []HashRow{keep, doneOld, pendingOld, removed}))

	doneNew := f.addAsset("done", "new done")
	pendingNew := f.addAsset("pending", "new pending")
	added := f.addAsset("added", "fresh")
	vr := token(VersionAZL, "1.0.1")
	f.setManifest(vr, []HashRow{keep, doneNew, pendingNew, added})

	writeAsset(t, s.Fs(), s, "keep", "same")
	writeAsset(t, s.Fs(), s, "done", "new done") // fetched before the interruption
	writeAsset(t, s.Fs(), s, "pending", "old")
	writeAsset(t, s.Fs(), s, "unrelated", "not in any manifest")

	report, err := NewRepairer(u, 0).RepairHashfile(context.Background(), vr)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, report.Status)
	assert.Equal(t, SourceRepairHashfile, report.Source)
	assert.Equal(t, "1.0.0", report.Previous)

	assert.Equal(t, map[string]DownloadType{
		"keep":    DownloadNoChange,
		"done":    DownloadSuccess, // recovered from disk, not refetched
		"pending": DownloadSuccess,
		"added":   DownloadSuccess,
	}, downloadsByPath(report.Results))

	_, assets := f.counts()
	assert.Equal(t, 2, assets, "only pending and added are fetched")

	_, ok := readAsset(t, s, "unrelated")
	assert.True(t, ok, "files outside the remote manifest are never touched")

	saved, _, err := s.LoadManifest(VersionAZL)
	require.NoError(t, err)
	assert.ElementsMatch(t, []HashRow{keep, doneNew, pendingNew, added}, saved)

	v, _, err := s.LoadVersion(VersionAZL)
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", v)

	dl, err := s.LoadDiffLog(VersionAZL, "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, CompareChanged, dl.SuccessFiles["done"])
	assert.Equal(t, CompareNew, dl.SuccessFiles["added"])
}

// When the on-disk recheck and the download disagree on a non-NoChange
// outcome, the download outcome is kept.
func TestRepairHashfile_DownloadOutcomeWinsOverDisk(t *testing.T) {
	u, f := setupTestUpdater(t)
	s := u.Store()

	old := HashRow{Path: "x", Size: 1, Hash: hashBytes([]byte("1"))}
	require.NoError(t, s.SaveManifest(VersionCV, []HashRow{old}))
	writeAsset(t, s.Fs(), s, "x", "22") // differs from both local and remote

	vr := token(VersionCV, "9")
	f.manifests[vr.Raw] = FormatHashRows([]HashRow{{Path: "x", Size: 3, Hash: "not-on-cdn"}})

	report, err := NewRepairer(u, 0).RepairHashfile(context.Background(), vr)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, DownloadFailed, report.Results[0].Download)
	assert.Equal(t, CompareChanged, report.Results[0].Compare.Type)
}

func TestRepairHashfile_NeverDeletes(t *testing.T) {
	u, f := setupTestUpdater(t)
	s := u.Store()

	old := f.addAsset("dropped", "bye")
	require.NoError(t, s.SaveManifest(VersionBGM, []HashRow{old}))
	writeAsset(t, s.Fs(), s, "dropped", "bye")

	vr := token(VersionBGM, "2")
	f.setManifest(vr, []HashRow{f.addAsset("other", "o")})

	_, err := NewRepairer(u, 0).RepairHashfile(context.Background(), vr)
	require.NoError(t, err)

	_, ok := readAsset(t, s, "dropped")
	assert.True(t, ok)
}

func TestRepairHashfile_ManifestFailureAborts(t *testing.T) {
	u, _ := setupTestUpdater(t)
	report, err := NewRepairer(u, 0).RepairHashfile(context.Background(), token(VersionCV, "1"))
	require.Error(t, err)
	assert.Equal(t, StatusFailed, report.Status)
}
