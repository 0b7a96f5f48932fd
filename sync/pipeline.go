package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// UpdateOptions tune a single update pass.
type UpdateOptions struct {
	// ForceRefresh runs the pass even when the local version is current.
	ForceRefresh bool
	// IgnoreManifest diffs against an empty manifest instead of the
	// persisted one, refetching every asset.
	IgnoreManifest bool
}

// Updater drives the per-version-type pass
// CheckVersion → FetchManifest → Diff → Apply → Persist.
type Updater struct {
	store      *Store
	fetcher    Fetcher
	downloader *Downloader
	filter     *PathFilter
	journal    *Journal
	bus        *EventBus
}

// NewUpdater creates an Updater. filter may be nil to mirror every path.
func NewUpdater(store *Store, fetcher Fetcher, downloader *Downloader, filter *PathFilter) *Updater {
	return &Updater{store: store, fetcher: fetcher, downloader: downloader, filter: filter}
}

// SetJournal records every persisted or failed pass in j.
func (u *Updater) SetJournal(j *Journal) { u.journal = j }

// SetEventBus publishes stage changes on bus.
func (u *Updater) SetEventBus(bus *EventBus) {
	u.bus = bus
	u.downloader.SetEventBus(bus)
}

// Store returns the store the updater persists to.
func (u *Updater) Store() *Store { return u.store }

func (u *Updater) enter(report *PassReport, stage Stage) {
	report.Stage = stage
	if logEnabled(slog.LevelDebug) {
		sub("pipeline").Debug("stage enter", "type", report.Type.Name, "stage", stage.String())
	}
	u.bus.Publish(ProgressEvent{Kind: EventStage, Type: report.Type.Name, Stage: stage.String()})
}

func (u *Updater) finish(report *PassReport) {
	if report.Status == StatusFailed {
		u.journal.Record(report) //nolint:errcheck
	}
	u.bus.Publish(ProgressEvent{Kind: EventPassDone, Type: report.Type.Name, Status: string(report.Status)})
}

// Update runs one pass for the version announced by vr. When the local
// version is current and no refresh is forced, the report has status
// StatusUpToDate and no results. Errors abort only this version type.
func (u *Updater) Update(ctx context.Context, vr VersionResult, opts UpdateOptions) (report *PassReport, err error) {
	l := sub("pipeline")
	report = &PassReport{Type: vr.Type, Version: vr.Version, Source: SourceUpdate}
	defer func() {
		if err != nil {
			report.Status = StatusFailed
			report.Err = err
			l.Error("pass failed", "type", vr.Type.Name, "stage", report.Stage.String(), "err", err)
		}
		u.finish(report)
	}()

	// CheckVersion
	u.enter(report, StageCheckVersion)
	current, _, err := u.store.LoadVersion(vr.Type)
	if err != nil {
		return report, err
	}
	report.Previous = current
	newer, err := IsNewerVersion(vr.Version, current)
	if err != nil {
		return report, err
	}
	if !newer && !opts.ForceRefresh {
		l.Info("version is current", "type", vr.Type.Name, "version", current)
		report.Status = StatusUpToDate
		report.Stage = StageDone
		return report, nil
	}
	if newer {
		l.Info("update available", "type", vr.Type.Name, "current", current, "latest", vr.Version)
	} else {
		l.Info("version is current, refresh forced", "type", vr.Type.Name, "version", current)
	}

	// FetchManifest
	u.enter(report, StageFetchManifest)
	remote, err := u.fetchRemote(ctx, vr)
	if err != nil {
		return report, err
	}

	// Diff
	u.enter(report, StageDiff)
	var local []HashRow
	if !opts.IgnoreManifest {
		if local, _, err = u.store.LoadManifest(vr.Type); err != nil {
			return report, err
		}
	}
	diff := Diff(local, remote)

	// Apply
	u.enter(report, StageApply)
	results, err := u.downloader.apply(ctx, vr.Type.Name, diff, u.store.AssetRoot(), true)
	if err != nil {
		return report, err
	}
	report.Results = results

	// Persist
	u.enter(report, StagePersist)
	if err := u.Persist(report); err != nil {
		return report, err
	}
	return report, nil
}

// fetchRemote downloads, parses and filters the remote manifest of vr.
func (u *Updater) fetchRemote(ctx context.Context, vr VersionResult) ([]HashRow, error) {
	text, err := u.fetcher.FetchManifest(ctx, vr)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w for %s", ErrEmptyManifest, vr.Type.Name)
	}
	rows, err := ParseHashRows(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedManifest, vr.Type.Name, err)
	}
	kept := u.filter.Apply(rows)
	sub("pipeline").Info("manifest fetched", "type", vr.Type.Name, "rows", len(rows), "kept", len(kept))
	return kept, nil
}

// Persist stores the outcome of an applied pass: the retained manifest and
// the version string, then the difflog when any result is not NoChange, then
// the latest pointer when the difflog was written and the version is newer
// than the recorded one.
func (u *Updater) Persist(report *PassReport) error {
	l := sub("pipeline")
	vt := report.Type

	rows := RetainedRows(report.Results)
	if err := u.store.SaveManifest(vt, rows); err != nil {
		return err
	}
	if err := u.store.SaveVersion(vt, report.Version); err != nil {
		return err
	}

	written, err := u.store.SaveDiffLog(vt, report.Version, report.Results)
	if err != nil {
		return err
	}
	report.DiffLogWritten = written
	if written {
		advanced, err := u.store.AdvanceLatest(vt, report.Version)
		if err != nil {
			return err
		}
		report.LatestAdvanced = advanced
	}

	report.Status = StatusUpdated
	report.Stage = StageDone
	counts := report.Counts()
	l.Info("pass persisted", "type", vt.Name, "version", report.Version, "source", report.Source,
		"rows", len(rows), "success", counts[DownloadSuccess], "failed", counts[DownloadFailed],
		"removed", counts[DownloadRemoved], "difflog", written, "latest", report.LatestAdvanced)

	if err := u.journal.Record(report); err != nil {
		l.Warn("journal not updated", "type", vt.Name, "err", err)
	}
	return nil
}
