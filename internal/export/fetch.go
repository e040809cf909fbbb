package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "calbridge/internal/log"
)

// Feed is one subscribed ICS source. Name becomes the outbox file name
// (<name>.ics) and must not contain path separators.
type Feed struct {
	Name string
	URL  string
}

// feedMeta holds the HTTP validators cached for one feed URL.
type feedMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher pulls subscribed feeds into the outbox using conditional
// requests (ETag / If-Modified-Since) backed by a per-URL disk cache.
// The cache doubles as an outage fallback: when a feed is unreachable,
// the last good body is used rather than treating the feed as emptied.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	outbox   string
}

// NewFetcher builds a Fetcher caching under cacheDir and writing feed
// bodies into outbox.
func NewFetcher(cacheDir, outbox string) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		cacheDir: cacheDir,
		outbox:   outbox,
	}
}

// FetchAll refreshes every feed and writes <name>.ics into the outbox.
// A feed that cannot be fetched and has no cached body fails the whole
// refresh, the same way a failed export command does.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []Feed) error {
	if len(feeds) == 0 {
		return nil
	}
	if err := os.MkdirAll(f.outbox, 0o700); err != nil {
		return fmt.Errorf("prepare outbox: %w", err)
	}

	for _, feed := range feeds {
		if err := validFeedName(feed.Name); err != nil {
			return fmt.Errorf("feed %q: %w", feed.Name, err)
		}
		body, fromCache, err := f.fetchOne(ctx, feed)
		if err != nil {
			return fmt.Errorf("fetch feed %s: %w", feed.Name, err)
		}
		dest := filepath.Join(f.outbox, feed.Name+".ics")
		if err := os.WriteFile(dest, body, 0o600); err != nil {
			return fmt.Errorf("write feed %s: %w", feed.Name, err)
		}
		appLog.Info("feed refreshed", "feed", feed.Name, "bytes", len(body), "from_cache", fromCache)
	}
	return nil
}

// fetchOne returns the current body for one feed and whether it came from
// the cache instead of the network.
func (f *Fetcher) fetchOne(ctx context.Context, feed Feed) ([]byte, bool, error) {
	if feed.URL == "" {
		return nil, false, errors.New("feed URL is empty")
	}

	cachePath := f.cachePath(feed.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return nil, false, err
	}
	meta, _ := loadMeta(cachePath)
	cached, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, false, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Warn("feed unreachable, using cached body", "feed", feed.Name, "url", redactURL(feed.URL), "error", err.Error())
			return cached, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		next := feedMeta{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := saveCache(cachePath, next, body); err != nil {
			// The fresh body is still good; only the next run loses the
			// conditional-request shortcut.
			appLog.Warn("feed cache write failed", "feed", feed.Name, "error", err.Error())
		}
		return body, false, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, false, errors.New("304 Not Modified with no cached body")
		}
		appLog.Debug("feed not modified", "feed", feed.Name)
		return cached, true, nil

	default:
		if len(cached) > 0 {
			appLog.Warn("feed returned non-OK status, using cached body",
				"feed", feed.Name, "url", redactURL(feed.URL), "status", resp.StatusCode)
			return cached, true, nil
		}
		return nil, false, fmt.Errorf("unexpected status %s", resp.Status)
	}
}

// cachePath keys the cache by URL so renamed feeds never inherit a stale
// body from an unrelated endpoint.
func (f *Fetcher) cachePath(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(cachePath string) (feedMeta, error) {
	var meta feedMeta
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return feedMeta{}, err
	}
	return meta, nil
}

// saveCache writes body before meta so the validators never point at a
// body that failed to land.
func saveCache(cachePath string, meta feedMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

func validFeedName(name string) error {
	if name == "" {
		return errors.New("feed name is empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errors.New("feed name must be a plain file name")
	}
	return nil
}

// redactURL trims a feed URL to scheme and host for logging. Feed URLs
// often embed access tokens in the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(unparseable url)"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
