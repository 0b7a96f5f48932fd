package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maruel/natural"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

const (
	assetDirName     = "AssetBundles"
	diffLogDirName   = "difflog"
	latestPointer    = "latest"
	legacyLatestJSON = "latest.json"
)

// Store persists per-client mirror state: version strings, manifests,
// difflogs and latest pointers. All paths are relative to one client
// directory on fs.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore creates a Store for the client directory root.
func NewStore(fsys afero.Fs, root string) *Store {
	return &Store{fs: fsys, root: root}
}

// Fs returns the filesystem the store writes to.
func (s *Store) Fs() afero.Fs { return s.fs }

// Root returns the client directory.
func (s *Store) Root() string { return s.root }

// AssetRoot returns the directory holding asset payloads.
func (s *Store) AssetRoot() string { return filepath.Join(s.root, assetDirName) }

// LoadVersion returns the persisted version string; ok is false when none
// was ever saved.
func (s *Store) LoadVersion(vt VersionType) (string, bool, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.root, vt.VersionFilename()))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read version %s: %w", vt.Name, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// SaveVersion persists the version string of vt.
func (s *Store) SaveVersion(vt VersionType, version string) error {
	if err := writeFileAtomic(s.fs, filepath.Join(s.root, vt.VersionFilename()), []byte(version)); err != nil {
		return fmt.Errorf("save version %s: %w", vt.Name, err)
	}
	sub("store").Debug("version saved", "type", vt.Name, "version", version)
	return nil
}

// LoadManifest returns the persisted manifest rows; ok is false when no
// manifest file exists. An empty file is an empty manifest.
func (s *Store) LoadManifest(vt VersionType) ([]HashRow, bool, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.root, vt.HashesFilename()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read manifest %s: %w", vt.Name, err)
	}
	rows, err := ParseHashRows(string(data))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorruptState, vt.HashesFilename(), err)
	}
	return rows, true, nil
}

// SaveManifest persists rows as the manifest of vt.
func (s *Store) SaveManifest(vt VersionType, rows []HashRow) error {
	if err := writeFileAtomic(s.fs, filepath.Join(s.root, vt.HashesFilename()), []byte(FormatHashRows(rows))); err != nil {
		return fmt.Errorf("save manifest %s: %w", vt.Name, err)
	}
	sub("store").Debug("manifest saved", "type", vt.Name, "rows", len(rows))
	return nil
}

// LoadAllManifests returns the union of every persisted manifest. When two
// version types list the same path, the first in table order wins.
func (s *Store) LoadAllManifests() ([]HashRow, error) {
	var all []HashRow
	for _, vt := range VersionTypes {
		rows, _, err := s.LoadManifest(vt)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return lo.UniqBy(all, func(r HashRow) string { return r.Path }), nil
}

func (s *Store) diffLogDir(vt VersionType) string {
	return filepath.Join(s.root, diffLogDirName, vt.String())
}

func (s *Store) diffLogPath(vt VersionType, version string) string {
	return filepath.Join(s.diffLogDir(vt), version+".json")
}

// migrateLegacyDiffLog renames a legacy latest.json to <version>.json and
// synthesizes the latest pointer from it.
func (s *Store) migrateLegacyDiffLog(vt VersionType) error {
	dir := s.diffLogDir(vt)
	legacy := filepath.Join(dir, legacyLatestJSON)
	data, err := afero.ReadFile(s.fs, legacy)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read legacy difflog: %w", err)
	}

	var dl DiffLog
	if err := json.Unmarshal(data, &dl); err != nil || dl.Version == "" {
		return fmt.Errorf("%w: %s", ErrCorruptState, legacy)
	}
	if err := s.fs.Rename(legacy, s.diffLogPath(vt, dl.Version)); err != nil {
		return fmt.Errorf("rename legacy difflog: %w", err)
	}
	if err := writeFileAtomic(s.fs, filepath.Join(dir, latestPointer), []byte(dl.Version)); err != nil {
		return fmt.Errorf("write latest pointer: %w", err)
	}
	sub("store").Info("legacy difflog migrated", "type", vt.Name, "version", dl.Version)
	return nil
}

// LatestVersion returns the latest pointer of vt; ok is false when no
// difflog was ever written.
func (s *Store) LatestVersion(vt VersionType) (string, bool, error) {
	if err := s.migrateLegacyDiffLog(vt); err != nil {
		return "", false, err
	}
	data, err := afero.ReadFile(s.fs, filepath.Join(s.diffLogDir(vt), latestPointer))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read latest pointer: %w", err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// SaveDiffLog writes the difflog of one applied version. Nothing is written
// when every result is NoChange; written reports whether a file was created.
func (s *Store) SaveDiffLog(vt VersionType, version string, results []UpdateResult) (bool, error) {
	changed := lo.Filter(results, func(r UpdateResult, _ int) bool {
		return r.Download != DownloadNoChange
	})
	if len(changed) == 0 {
		return false, nil
	}
	if err := s.migrateLegacyDiffLog(vt); err != nil {
		return false, err
	}

	dl := DiffLog{
		Version:      version,
		SuccessFiles: make(map[string]CompareType),
		FailedFiles:  make(map[string]CompareType),
	}
	for _, r := range changed {
		switch r.Download {
		case DownloadSuccess, DownloadRemoved:
			dl.SuccessFiles[r.Path.Inner] = r.Compare.Type
		case DownloadFailed:
			dl.FailedFiles[r.Path.Inner] = r.Compare.Type
		}
	}
	if err := s.writeDiffLog(vt, dl); err != nil {
		return false, err
	}
	sub("store").Info("difflog written", "type", vt.Name, "version", version,
		"success", len(dl.SuccessFiles), "failed", len(dl.FailedFiles))
	return true, nil
}

func (s *Store) writeDiffLog(vt VersionType, dl DiffLog) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode difflog: %w", err)
	}
	if err := writeFileAtomic(s.fs, s.diffLogPath(vt, dl.Version), data); err != nil {
		return fmt.Errorf("write difflog: %w", err)
	}
	return nil
}

// AdvanceLatest moves the latest pointer of vt to version if it is strictly
// newer than the recorded one. It reports whether the pointer moved.
func (s *Store) AdvanceLatest(vt VersionType, version string) (bool, error) {
	current, _, err := s.LatestVersion(vt)
	if err != nil {
		return false, err
	}
	newer, err := IsNewerVersion(version, current)
	if err != nil {
		return false, fmt.Errorf("compare latest: %w", err)
	}
	if !newer {
		if logEnabled(slog.LevelDebug) {
			sub("store").Debug("latest pointer kept", "type", vt.Name, "latest", current, "candidate", version)
		}
		return false, nil
	}
	if err := writeFileAtomic(s.fs, filepath.Join(s.diffLogDir(vt), latestPointer), []byte(version)); err != nil {
		return false, fmt.Errorf("write latest pointer: %w", err)
	}
	return true, nil
}

// LoadDiffLog reads the difflog of vt at version.
func (s *Store) LoadDiffLog(vt VersionType, version string) (*DiffLog, error) {
	if err := s.migrateLegacyDiffLog(vt); err != nil {
		return nil, err
	}
	path := s.diffLogPath(vt, version)
	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s %s", ErrDiffLogNotFound, vt.Name, version)
	}
	if err != nil {
		return nil, fmt.Errorf("read difflog: %w", err)
	}
	var dl DiffLog
	if err := json.Unmarshal(data, &dl); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, path, err)
	}
	return &dl, nil
}

// DiffLogVersions lists the versions that have a difflog, oldest first.
func (s *Store) DiffLogVersions(vt VersionType) ([]string, error) {
	if err := s.migrateLegacyDiffLog(vt); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, s.diffLogDir(vt))
	if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list difflogs: %w", err)
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		versions = append(versions, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Slice(versions, func(i, j int) bool { return natural.Less(versions[i], versions[j]) })
	return versions, nil
}

// ChangedFiles returns the paths a version added or changed successfully.
// An empty version means the latest one.
func (s *Store) ChangedFiles(vt VersionType, version string) ([]string, error) {
	if version == "" {
		latest, ok, err := s.LatestVersion(vt)
		if err != nil || !ok {
			return nil, err
		}
		version = latest
	}
	dl, err := s.LoadDiffLog(vt, version)
	if err != nil {
		return nil, err
	}
	var paths []string
	for p, ct := range dl.SuccessFiles {
		if ct != CompareDeleted {
			paths = append(paths, p)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return natural.Less(paths[i], paths[j]) })
	return paths, nil
}

// LinkVersions appends cross-references to the difflog of vt at version.
// Links already present are skipped. The difflog must exist.
func (s *Store) LinkVersions(vt VersionType, version string, links []LinkedVersion) error {
	dl, err := s.LoadDiffLog(vt, version)
	if err != nil {
		return err
	}
	before := len(dl.LinkedVersions)
	for _, l := range links {
		if !lo.Contains(dl.LinkedVersions, l) {
			dl.LinkedVersions = append(dl.LinkedVersions, l)
		}
	}
	if len(dl.LinkedVersions) == before {
		return nil
	}
	if err := s.writeDiffLog(vt, *dl); err != nil {
		return err
	}
	sub("store").Info("versions linked", "type", vt.Name, "version", version, "added", len(dl.LinkedVersions)-before)
	return nil
}
