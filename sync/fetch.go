package sync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultDownloadLimit is the download fan-out and the per-host connection cap.
const DefaultDownloadLimit = 6

// Fetcher retrieves manifests and asset payloads from the CDN.
type Fetcher interface {
	// FetchManifest returns the manifest text announced by vr.
	FetchManifest(ctx context.Context, vr VersionResult) (string, error)
	// FetchAsset opens the payload with the given content hash. size is the
	// announced length, or -1 when unknown.
	FetchAsset(ctx context.Context, hash string) (body io.ReadCloser, size int64, err error)
}

// CDNClient implements Fetcher over HTTP.
type CDNClient struct {
	base      string
	userAgent string
	http      *http.Client
	manifests *ttlcache.Cache[string, string]
}

// NewCDNClient creates a client for the CDN at cdnURL. Connections per host
// are capped at maxConns so that callers limiting their own fan-out to the
// same number never queue inside the transport.
func NewCDNClient(cdnURL, userAgent string, maxConns int) *CDNClient {
	if maxConns <= 0 {
		maxConns = DefaultDownloadLimit
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = maxConns
	transport.MaxIdleConnsPerHost = maxConns

	return &CDNClient{
		base:      strings.TrimRight(cdnURL, "/") + "/android/",
		userAgent: userAgent,
		http:      &http.Client{Transport: transport, Timeout: 5 * time.Minute},
		manifests: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](10*time.Minute),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
}

func (c *CDNClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s for %s", ErrUnexpectedStatus, resp.Status, path)
	}
	return resp, nil
}

// FetchManifest downloads the manifest of vr. Manifests are cached by raw
// token for a few minutes so that a repair following an update reuses the
// same text.
func (c *CDNClient) FetchManifest(ctx context.Context, vr VersionResult) (string, error) {
	if item := c.manifests.Get(vr.Raw); item != nil {
		sub("cdn").Debug("manifest cache hit", "type", vr.Type.Name)
		return item.Value(), nil
	}

	resp, err := c.get(ctx, "hash/"+url.PathEscape(vr.Raw))
	if err != nil {
		return "", fmt.Errorf("fetch manifest %s: %w", vr.Type.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read manifest %s: %w", vr.Type.Name, err)
	}
	text := string(body)
	if strings.TrimSpace(text) != "" {
		c.manifests.Set(vr.Raw, text, ttlcache.DefaultTTL)
	}
	return text, nil
}

// FetchAsset opens the resource addressed by hash.
func (c *CDNClient) FetchAsset(ctx context.Context, hash string) (io.ReadCloser, int64, error) {
	resp, err := c.get(ctx, "resource/"+url.PathEscape(hash))
	if err != nil {
		return nil, 0, fmt.Errorf("fetch asset %s: %w", hash, err)
	}
	return resp.Body, resp.ContentLength, nil
}
