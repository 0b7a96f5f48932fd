package sync

import (
	"context"
	"fmt"

	"github.com/samber/lo"
)

// Repairer reconciles the asset tree with on-disk reality.
type Repairer struct {
	updater   *Updater
	hashLimit int
}

// NewRepairer creates a Repairer sharing u's store, fetcher and downloader.
// hashLimit bounds concurrent file reads; values <= 0 use DefaultHashLimit.
func NewRepairer(u *Updater, hashLimit int) *Repairer {
	if hashLimit <= 0 {
		hashLimit = DefaultHashLimit
	}
	return &Repairer{updater: u, hashLimit: hashLimit}
}

// Repair rehashes every file under the asset root, compares the result with
// the union of all persisted manifests and downloads or deletes whatever
// differs. Persisted manifests and versions are not modified.
func (r *Repairer) Repair(ctx context.Context) ([]UpdateResult, error) {
	l := sub("repair")
	s := r.updater.store

	paths, err := ScanAssets(s.Fs(), s.AssetRoot())
	if err != nil {
		return nil, err
	}
	l.Info("checking files on disk", "count", len(paths))

	actual, err := HashFiles(ctx, s.Fs(), s.AssetRoot(), paths, r.hashLimit, r.updater.bus, SourceRepair)
	if err != nil {
		return nil, fmt.Errorf("rehash assets: %w", err)
	}
	expected, err := s.LoadAllManifests()
	if err != nil {
		return nil, err
	}

	diff := Diff(actual, expected)
	l.Info("repair plan", "missing", len(diff[CompareNew]), "damaged", len(diff[CompareChanged]),
		"unexpected", len(diff[CompareDeleted]), "intact", len(diff[CompareUnchanged]))

	return r.updater.downloader.apply(ctx, SourceRepair, diff, s.AssetRoot(), true)
}

// RepairHashfile resumes an interrupted update of vr.Type. Only files the
// remote manifest references are rehashed, and nothing is deleted. A path
// whose download outcome is NoChange but whose on-disk state shows it was
// already fetched or removed since the last persisted manifest is reported
// with the on-disk outcome. The result is persisted like a normal update.
func (r *Repairer) RepairHashfile(ctx context.Context, vr VersionResult) (report *PassReport, err error) {
	l := sub("repair")
	u := r.updater
	s := u.store
	report = &PassReport{Type: vr.Type, Version: vr.Version, Source: SourceRepairHashfile}
	defer func() {
		if err != nil {
			report.Status = StatusFailed
			report.Err = err
			l.Error("hashfile repair failed", "type", vr.Type.Name, "stage", report.Stage.String(), "err", err)
		}
		u.finish(report)
	}()

	u.enter(report, StageCheckVersion)
	report.Previous, _, err = s.LoadVersion(vr.Type)
	if err != nil {
		return report, err
	}
	local, _, err := s.LoadManifest(vr.Type)
	if err != nil {
		return report, err
	}

	u.enter(report, StageFetchManifest)
	remote, err := u.fetchRemote(ctx, vr)
	if err != nil {
		return report, err
	}

	u.enter(report, StageDiff)
	referenced := lo.Map(remote, func(row HashRow, _ int) string { return row.Path })
	disk, err := HashFiles(ctx, s.Fs(), s.AssetRoot(), referenced, r.hashLimit, u.bus, vr.Type.Name)
	if err != nil {
		return report, fmt.Errorf("rehash assets: %w", err)
	}
	recovered := diskOutcomes(s.AssetRoot(), Diff(local, disk))
	l.Info("prior progress found on disk", "type", vr.Type.Name, "count", len(recovered))

	u.enter(report, StageApply)
	results, err := u.downloader.apply(ctx, vr.Type.Name, Diff(disk, remote), s.AssetRoot(), false)
	if err != nil {
		return report, err
	}
	for i, res := range results {
		if res.Download != DownloadNoChange {
			continue
		}
		if prior, ok := recovered[res.Path.Inner]; ok {
			results[i] = prior
		}
	}
	report.Results = results

	u.enter(report, StagePersist)
	if err := u.Persist(report); err != nil {
		return report, err
	}
	return report, nil
}

// diskOutcomes converts a diff of the persisted manifest against on-disk
// hashes into the outcomes a completed download would have produced.
func diskOutcomes(assetRoot string, diff DiffResult) map[string]UpdateResult {
	out := make(map[string]UpdateResult)
	for _, ct := range []CompareType{CompareNew, CompareChanged} {
		for _, cr := range diff[ct] {
			full, _ := resolveAssetPath(assetRoot, cr.New.Path)
			out[cr.New.Path] = UpdateResult{Compare: cr, Download: DownloadSuccess, Path: AssetPath{Full: full, Inner: cr.New.Path}}
		}
	}
	for _, cr := range diff[CompareDeleted] {
		full, _ := resolveAssetPath(assetRoot, cr.Current.Path)
		out[cr.Current.Path] = UpdateResult{Compare: cr, Download: DownloadRemoved, Path: AssetPath{Full: full, Inner: cr.Current.Path}}
	}
	return out
}
