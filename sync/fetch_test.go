package sync

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cdnStub struct {
	mu        gosync.Mutex
	manifestN int
	agents    []string
}

func setupTestCDN(t *testing.T) (*CDNClient, *cdnStub) {
	t.Helper()
	stub := &cdnStub{}
	vr := token(VersionCV, "31")

	mux := http.NewServeMux()
	mux.HandleFunc("/android/hash/", func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.manifestN++
		stub.agents = append(stub.agents, r.UserAgent())
		stub.mu.Unlock()
		if r.URL.Path != "/android/hash/"+vr.Raw {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "cv/a,3,abc") //nolint:errcheck
	})
	mux.HandleFunc("/android/resource/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/android/resource/"+hashBytes([]byte("payload")) {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "payload") //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewCDNClient(srv.URL+"/", "test-agent/1.0", 2), stub
}

func TestCDNClient_FetchManifestCached(t *testing.T) {
	c, stub := setupTestCDN(t)
	vr := token(VersionCV, "31")

	text, err := c.FetchManifest(context.Background(), vr)
	require.NoError(t, err)
	assert.Equal(t, "cv/a,3,abc", text)

	text, err = c.FetchManifest(context.Background(), vr)
	require.NoError(t, err)
	assert.Equal(t, "cv/a,3,abc", text)

	assert.Equal(t, 1, stub.manifestN)
	assert.Equal(t, []string{"test-agent/1.0"}, stub.agents)
}

func TestCDNClient_FetchManifestNotFound(t *testing.T) {
	c, _ := setupTestCDN(t)
	_, err := c.FetchManifest(context.Background(), token(VersionBGM, "1"))
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestCDNClient_FetchAsset(t *testing.T) {
	c, _ := setupTestCDN(t)

	body, size, err := c.FetchAsset(context.Background(), hashBytes([]byte("payload")))
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, int64(7), size)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, _, err = c.FetchAsset(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestCDNClient_DownloadsThroughDownloader(t *testing.T) {
	c, _ := setupTestCDN(t)
	s := setupTestStore(t)

	diff := Diff(nil, []HashRow{row("cv/p", "payload")})
	results, err := NewDownloader(s.Fs(), c, 2).Apply(context.Background(), diff, s.AssetRoot(), true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, DownloadSuccess, results[0].Download)

	got, ok := readAsset(t, s, "cv/p")
	require.True(t, ok)
	assert.Equal(t, "payload", got)
}
