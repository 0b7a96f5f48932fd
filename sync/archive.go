package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

const (
	bundleAssetPrefix = "assets/"
	bundleAssetDir    = "assets/AssetBundles/"
	xapkManifest      = "manifest.json"
	defaultAssetExt   = ".ys"
)

// errStopWalk ends an archive walk early.
var errStopWalk = errors.New("stop walk")

// Bundle is an opened offline archive (obb, apk or the expansion inside an
// xapk). Entry sizes and the small per-version-type metadata files are read
// once when the bundle is opened; payloads are streamed on demand.
type Bundle struct {
	Name    string
	src     io.ReaderAt
	size    int64
	entries map[string]int64  // file name in archive -> size
	meta    map[string][]byte // version, hashes and xapk manifest files
	claimed map[string]bool   // entries already extracted to a manifest path
}

// OpenBundle identifies r as a zip container and indexes its entries.
func OpenBundle(ctx context.Context, name string, r io.ReaderAt, size int64) (*Bundle, error) {
	format, _, err := archives.Identify(ctx, name, io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotZip, name, err)
	}
	if _, ok := format.(archives.Zip); !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotZip, name, format.Extension())
	}

	b := &Bundle{
		Name:    name,
		src:     r,
		size:    size,
		entries: make(map[string]int64),
		meta:    make(map[string][]byte),
		claimed: make(map[string]bool),
	}
	err = b.walk(ctx, func(_ context.Context, f archives.FileInfo) error {
		b.entries[f.NameInArchive] = f.Size()
		if !isMetaEntry(f.NameInArchive) {
			return nil
		}
		data, err := readEntry(f)
		if err != nil {
			return err
		}
		b.meta[f.NameInArchive] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index bundle %s: %w", name, err)
	}
	sub("archive").Info("bundle opened", "name", name, "entries", len(b.entries))
	return b, nil
}

// OpenBundleFile opens the archive at path on fsys. The returned close
// function releases the file once the bundle is no longer used.
func OpenBundleFile(ctx context.Context, fsys afero.Fs, path string) (*Bundle, func() error, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open bundle: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat bundle: %w", err)
	}
	b, err := OpenBundle(ctx, filepath.Base(path), f, info.Size())
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return b, f.Close, nil
}

func isMetaEntry(name string) bool {
	if name == xapkManifest {
		return true
	}
	if !strings.HasPrefix(name, bundleAssetPrefix) || strings.Contains(name[len(bundleAssetPrefix):], "/") {
		return false
	}
	base := name[len(bundleAssetPrefix):]
	return (strings.HasPrefix(base, "version") && strings.HasSuffix(base, ".txt")) ||
		(strings.HasPrefix(base, "hashes") && strings.HasSuffix(base, ".csv"))
}

func readEntry(f archives.FileInfo) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.NameInArchive, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.NameInArchive, err)
	}
	return data, nil
}

// walk visits every file entry. Returning errStopWalk ends the walk without
// error.
func (b *Bundle) walk(ctx context.Context, fn func(context.Context, archives.FileInfo) error) error {
	err := archives.Zip{}.Extract(ctx, io.NewSectionReader(b.src, 0, b.size), func(ctx context.Context, f archives.FileInfo) error {
		if f.IsDir() {
			return nil
		}
		return fn(ctx, f)
	})
	if errors.Is(err, errStopWalk) {
		return nil
	}
	return err
}

// Has reports whether the bundle holds a file entry named name.
func (b *Bundle) Has(name string) bool {
	_, ok := b.entries[name]
	return ok
}

// Len returns the number of file entries.
func (b *Bundle) Len() int { return len(b.entries) }

// xapkManifestDoc is the subset of an xapk manifest.json used for import.
type xapkManifestDoc struct {
	PackageName string `json:"package_name"`
	Expansions  []struct {
		File string `json:"file"`
	} `json:"expansions"`
}

// OpenXAPK reads the manifest of an xapk container, determines the client
// from its package name and opens every expansion archive inside it. Each
// expansion is read fully into memory before it is opened.
func OpenXAPK(ctx context.Context, outer *Bundle) (Client, []*Bundle, error) {
	raw, ok := outer.meta[xapkManifest]
	if !ok {
		return Client{}, nil, fmt.Errorf("%s has no %s", outer.Name, xapkManifest)
	}
	var doc xapkManifestDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Client{}, nil, fmt.Errorf("parse %s: %w", xapkManifest, err)
	}
	client, ok := ClientFromPackageName(doc.PackageName)
	if !ok {
		return Client{}, nil, fmt.Errorf("unknown package %q in %s", doc.PackageName, outer.Name)
	}
	sub("archive").Info("client determined from xapk manifest", "client", client.Name, "package", doc.PackageName)

	wanted := make(map[string]bool, len(doc.Expansions))
	for _, e := range doc.Expansions {
		wanted[e.File] = true
	}
	buffered := make(map[string][]byte, len(wanted))
	err := outer.walk(ctx, func(_ context.Context, f archives.FileInfo) error {
		if !wanted[f.NameInArchive] {
			return nil
		}
		data, err := readEntry(f)
		if err != nil {
			return err
		}
		buffered[f.NameInArchive] = data
		if len(buffered) == len(wanted) {
			return errStopWalk
		}
		return nil
	})
	if err != nil {
		return Client{}, nil, fmt.Errorf("read expansions: %w", err)
	}

	var bundles []*Bundle
	for _, e := range doc.Expansions {
		data, ok := buffered[e.File]
		if !ok {
			return Client{}, nil, fmt.Errorf("expansion %s missing from %s", e.File, outer.Name)
		}
		b, err := OpenBundle(ctx, e.File, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return Client{}, nil, err
		}
		bundles = append(bundles, b)
	}
	return client, bundles, nil
}

// DetectClient picks the client an obb or apk belongs to from its file name.
// Obb names embed the package name; apks fall back to CN. fallback, when
// set, is used if the name does not identify a client.
func DetectClient(filename string, fallback *Client) (Client, error) {
	base := filepath.Base(filename)
	switch strings.ToLower(filepath.Ext(base)) {
	case ".obb":
		for _, c := range Clients {
			if c.PackageName != "" && strings.Contains(base, c.PackageName+".obb") {
				return c, nil
			}
		}
		if fallback != nil {
			return *fallback, nil
		}
		return Client{}, fmt.Errorf("file name %q does not match any known client", base)
	case ".apk":
		if fallback != nil {
			return *fallback, nil
		}
		return ClientCN, nil
	}
	return Client{}, fmt.Errorf("unsupported bundle extension %q", filepath.Ext(base))
}

// entryCandidates lists the archive names a manifest path may be stored
// under, most likely first.
func entryCandidates(manifestPath string) []string {
	name := bundleAssetDir + manifestPath
	if strings.Contains(path.Base(manifestPath), ".") {
		return []string{name}
	}
	return []string{name + defaultAssetExt, name}
}

// ImportOptions tune an archive import.
type ImportOptions struct {
	// AllowOlder imports version types even when the bundle's version is
	// not newer than the local one.
	AllowOlder bool
}

// Importer applies offline bundles to a client's asset store.
type Importer struct {
	updater *Updater
}

// NewImporter creates an Importer persisting through u.
func NewImporter(u *Updater) *Importer {
	return &Importer{updater: u}
}

// importPlan is the state of one version type during an import.
type importPlan struct {
	report  *PassReport
	results []UpdateResult
	pending []CompareResult
}

type pendingRef struct {
	plan *importPlan
	cr   CompareResult
}

// Import extracts every version type whose embedded version is newer than
// the local one. New and changed paths are extracted by name; paths not
// found by name are recovered from unclaimed entries matching size and
// content hash, and are Failed otherwise. Each version type is persisted
// like a normal update.
func (im *Importer) Import(ctx context.Context, b *Bundle, opts ImportOptions) ([]*PassReport, error) {
	l := sub("archive")
	u := im.updater
	s := u.store
	assetRoot := s.AssetRoot()

	var (
		reports []*PassReport
		plans   []*importPlan
	)
	for _, vt := range VersionTypes {
		plan, err := im.plan(b, vt, opts)
		if plan == nil {
			continue
		}
		reports = append(reports, plan.report)
		if err != nil {
			plan.report.Status = StatusFailed
			plan.report.Err = err
			l.Error("import planning failed", "type", vt.Name, "err", err)
			u.finish(plan.report)
			continue
		}
		if plan.report.Status == StatusSkipped {
			u.finish(plan.report)
			continue
		}
		plans = append(plans, plan)
	}

	// Direct extraction by manifest path.
	targets := make(map[string][]pendingRef)
	var unresolved []pendingRef
	for _, plan := range plans {
		for _, cr := range plan.pending {
			ref := pendingRef{plan: plan, cr: cr}
			name, ok := lo.Find(entryCandidates(cr.New.Path), b.Has)
			if !ok {
				unresolved = append(unresolved, ref)
				continue
			}
			targets[name] = append(targets[name], ref)
			b.claimed[name] = true
		}
	}
	if len(targets) > 0 {
		l.Info("extracting assets", "bundle", b.Name, "count", len(targets))
		if err := im.extractDirect(ctx, b, assetRoot, targets); err != nil {
			return reports, err
		}
	}

	// Content-hash fallback over unclaimed entries.
	if len(unresolved) > 0 {
		l.Info("searching archive by content hash", "bundle", b.Name, "paths", len(unresolved))
		if err := im.extractByHash(ctx, b, assetRoot, unresolved); err != nil {
			return reports, err
		}
	}

	for _, plan := range plans {
		plan.report.Results = plan.results
		u.enter(plan.report, StagePersist)
		if err := u.Persist(plan.report); err != nil {
			plan.report.Status = StatusFailed
			plan.report.Err = err
			l.Error("import persist failed", "type", plan.report.Type.Name, "err", err)
		}
		u.finish(plan.report)
	}
	return reports, nil
}

// plan checks the version of vt, diffs the embedded manifest and applies
// deletions. A nil plan means the bundle carries no data for vt.
func (im *Importer) plan(b *Bundle, vt VersionType, opts ImportOptions) (*importPlan, error) {
	l := sub("archive")
	u := im.updater
	s := u.store

	rawVersion, ok := b.meta[bundleAssetPrefix+vt.VersionFilename()]
	if !ok {
		l.Info("bundle has no version file", "type", vt.Name, "file", vt.VersionFilename())
		return nil, nil
	}
	version := strings.TrimSpace(string(rawVersion))
	plan := &importPlan{report: &PassReport{Type: vt, Version: version, Source: SourceImport}}
	u.enter(plan.report, StageCheckVersion)

	current, _, err := s.LoadVersion(vt)
	if err != nil {
		return plan, err
	}
	plan.report.Previous = current
	newer, err := IsNewerVersion(version, current)
	if err != nil {
		return plan, err
	}
	if !newer && !opts.AllowOlder {
		l.Info("bundle version not newer", "type", vt.Name, "current", current, "bundle", version)
		plan.report.Status = StatusSkipped
		return plan, nil
	}

	u.enter(plan.report, StageFetchManifest)
	rawHashes, ok := b.meta[bundleAssetPrefix+vt.HashesFilename()]
	if !ok {
		return plan, fmt.Errorf("%w: %s missing from %s", ErrMalformedManifest, vt.HashesFilename(), b.Name)
	}
	remote, err := ParseHashRows(string(rawHashes))
	if err != nil {
		return plan, fmt.Errorf("%w: %s: %v", ErrMalformedManifest, vt.HashesFilename(), err)
	}

	u.enter(plan.report, StageDiff)
	local, _, err := s.LoadManifest(vt)
	if err != nil {
		return plan, err
	}
	diff := Diff(local, remote)

	u.enter(plan.report, StageApply)
	for _, cr := range diff[CompareUnchanged] {
		full, _ := resolveAssetPath(s.AssetRoot(), cr.New.Path)
		plan.results = append(plan.results, UpdateResult{Compare: cr, Download: DownloadNoChange, Path: AssetPath{Full: full, Inner: cr.New.Path}})
	}
	for _, cr := range diff[CompareDeleted] {
		full, err := resolveAssetPath(s.AssetRoot(), cr.Current.Path)
		res := UpdateResult{Compare: cr, Download: DownloadForDeletionNoChange, Path: AssetPath{Full: full, Inner: cr.Current.Path}}
		if err == nil {
			if _, err := RemoveAsset(s.Fs(), full); err != nil {
				return plan, err
			}
			res.Download = DownloadRemoved
		}
		plan.results = append(plan.results, res)
	}
	for _, ct := range []CompareType{CompareNew, CompareChanged} {
		for _, cr := range diff[ct] {
			if _, err := resolveAssetPath(s.AssetRoot(), cr.New.Path); err != nil {
				plan.results = append(plan.results, failedResult(s.AssetRoot(), cr))
				continue
			}
			plan.pending = append(plan.pending, cr)
		}
	}
	l.Info("import planned", "type", vt.Name, "version", version, "extract", len(plan.pending),
		"removed", len(diff[CompareDeleted]), "unchanged", len(diff[CompareUnchanged]))
	return plan, nil
}

// extractDirect streams every targeted entry to its manifest path(s).
func (im *Importer) extractDirect(ctx context.Context, b *Bundle, assetRoot string, targets map[string][]pendingRef) error {
	fsys := im.updater.store.Fs()
	prog := newProgress(im.updater.bus, EventAsset, SourceImport, len(targets))
	remaining := len(targets)

	return b.walk(ctx, func(ctx context.Context, f archives.FileInfo) error {
		refs, ok := targets[f.NameInArchive]
		if !ok {
			return nil
		}
		first := refs[0]
		res := failedResult(assetRoot, first.cr)
		if rc, err := f.Open(); err != nil {
			sub("archive").Error("open entry failed", "entry", f.NameInArchive, "err", err)
		} else {
			_, err := WriteAtomic(ctx, fsys, res.Path.Full, rc, -1)
			rc.Close()
			if err != nil {
				sub("archive").Error("extract failed", "entry", f.NameInArchive, "err", err)
			} else {
				res.Download = DownloadSuccess
			}
		}
		first.plan.results = append(first.plan.results, res)

		for _, ref := range refs[1:] {
			dup := failedResult(assetRoot, ref.cr)
			if res.Download == DownloadSuccess {
				if err := copyAsset(ctx, im.updater.store, res.Path.Full, dup.Path.Full); err == nil {
					dup.Download = DownloadSuccess
				}
			}
			ref.plan.results = append(ref.plan.results, dup)
		}
		prog.step(f.NameInArchive, res.Download.String())

		remaining--
		if remaining == 0 {
			return errStopWalk
		}
		return nil
	})
}

// extractByHash reads every unclaimed entry whose size matches an
// unresolved path and extracts it to each path with the same content hash.
// One entry may satisfy several paths. Paths left unresolved are Failed.
func (im *Importer) extractByHash(ctx context.Context, b *Bundle, assetRoot string, unresolved []pendingRef) error {
	l := sub("archive")
	fsys := im.updater.store.Fs()

	bySize := lo.GroupBy(unresolved, func(ref pendingRef) int64 { return ref.cr.New.Size })
	resolved := make(map[*pendingRef]bool)
	open := len(unresolved)
	prog := newProgress(im.updater.bus, EventAsset, SourceImport, len(unresolved))

	err := b.walk(ctx, func(ctx context.Context, f archives.FileInfo) error {
		if b.claimed[f.NameInArchive] {
			return nil
		}
		refs := bySize[f.Size()]
		if len(refs) == 0 {
			return nil
		}
		data, err := readEntry(f)
		if err != nil {
			return err
		}
		hash := hashBytes(data)
		for i := range refs {
			ref := &refs[i]
			if resolved[ref] || ref.cr.New.Hash != hash {
				continue
			}
			res := failedResult(assetRoot, ref.cr)
			if _, err := WriteAtomic(ctx, fsys, res.Path.Full, bytes.NewReader(data), ref.cr.New.Size); err != nil {
				l.Error("extract by hash failed", "path", ref.cr.New.Path, "err", err)
				continue
			}
			res.Download = DownloadSuccess
			ref.plan.results = append(ref.plan.results, res)
			resolved[ref] = true
			open--
			prog.step(ref.cr.New.Path, res.Download.String())
			if logEnabled(slog.LevelDebug) {
				l.Debug("recovered by content hash", "path", ref.cr.New.Path, "entry", f.NameInArchive)
			}
		}
		if open == 0 {
			return errStopWalk
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("search bundle by hash: %w", err)
	}

	for _, refs := range bySize {
		for i := range refs {
			if resolved[&refs[i]] {
				continue
			}
			l.Warn("asset not found in bundle", "path", refs[i].cr.New.Path, "size", refs[i].cr.New.Size)
			refs[i].plan.results = append(refs[i].plan.results, failedResult(assetRoot, refs[i].cr))
			prog.step(refs[i].cr.New.Path, DownloadFailed.String())
		}
	}
	return nil
}

// copyAsset duplicates an extracted asset to a second manifest path.
func copyAsset(ctx context.Context, s *Store, src, dst string) error {
	f, err := s.Fs().Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = WriteAtomic(ctx, s.Fs(), dst, f, -1)
	return err
}
