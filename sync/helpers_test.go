package sync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves manifests by raw token and assets by hash, counting
// calls and tracking peak concurrency of open asset bodies.
type fakeFetcher struct {
	mu         gosync.Mutex
	manifests  map[string]string
	assets     map[string][]byte
	announce   map[string]int64 // overrides the announced size per hash
	manifestN  int
	assetN     int
	inflight   int
	peak       int
	assetDelay time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		manifests: make(map[string]string),
		assets:    make(map[string][]byte),
		announce:  make(map[string]int64),
	}
}

// addAsset registers content and returns its manifest row at path.
func (f *fakeFetcher) addAsset(path string, content string) HashRow {
	h := hashBytes([]byte(content))
	f.mu.Lock()
	f.assets[h] = []byte(content)
	f.mu.Unlock()
	return HashRow{Path: path, Size: int64(len(content)), Hash: h}
}

func (f *fakeFetcher) setManifest(vr VersionResult, rows []HashRow) {
	f.mu.Lock()
	f.manifests[vr.Raw] = FormatHashRows(rows)
	f.mu.Unlock()
}

func (f *fakeFetcher) FetchManifest(_ context.Context, vr VersionResult) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifestN++
	text, ok := f.manifests[vr.Raw]
	if !ok {
		return "", errors.New("404 Not Found")
	}
	return text, nil
}

func (f *fakeFetcher) FetchAsset(_ context.Context, hash string) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	f.assetN++
	data, ok := f.assets[hash]
	size := int64(len(data))
	if s, override := f.announce[hash]; override {
		size = s
	}
	if !ok {
		f.mu.Unlock()
		return nil, 0, errors.New("404 Not Found")
	}
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	delay := f.assetDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return &trackedBody{Reader: bytes.NewReader(data), f: f}, size, nil
}

func (f *fakeFetcher) counts() (manifests, assets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.manifestN, f.assetN
}

type trackedBody struct {
	io.Reader
	f    *fakeFetcher
	once gosync.Once
}

func (b *trackedBody) Close() error {
	b.once.Do(func() {
		b.f.mu.Lock()
		b.f.inflight--
		b.f.mu.Unlock()
	})
	return nil
}

func token(vt VersionType, version string) VersionResult {
	raw := "$" + vt.HashName + "$" + version + "$h"
	if vt.MultiPart() {
		raw = "$" + vt.HashName + "$" + strings.ReplaceAll(version, ".", "$") + "$h"
	}
	vr, err := ParseVersionToken(raw)
	if err != nil {
		panic(err)
	}
	return vr
}

func writeAsset(t *testing.T, fsys afero.Fs, s *Store, path, content string) {
	t.Helper()
	full, err := resolveAssetPath(s.AssetRoot(), path)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fsys, full, []byte(content), 0644))
}

func readAsset(t *testing.T, s *Store, path string) (string, bool) {
	t.Helper()
	full, err := resolveAssetPath(s.AssetRoot(), path)
	require.NoError(t, err)
	data, err := afero.ReadFile(s.Fs(), full)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func downloadsByPath(results []UpdateResult) map[string]DownloadType {
	out := make(map[string]DownloadType, len(results))
	for _, r := range results {
		out[r.Path.Inner] = r.Download
	}
	return out
}
