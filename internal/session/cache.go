// Package session persists the authenticated cookie set between runs so
// that the browser login is only replayed when the session has expired.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	appLog "schedcal/internal/log"
)

// record is the on-disk cache shape.
type record struct {
	Cookies  map[string]string `json:"cookies"`
	SavedAt  float64           `json:"saved_at"`
	Count    int               `json:"count"`
	Metadata map[string]any    `json:"metadata"`
}

// Info is a point-in-time snapshot of the cache state.
type Info struct {
	Exists     bool
	Count      int
	AgeSeconds float64
	SavedAt    float64
	Metadata   map[string]any
}

// Cache stores one cookie set with metadata in a single JSON file.
// It enforces no expiry: staleness shows up as a failed fetch.
type Cache struct {
	path string
	now  func() time.Time
}

// New creates a Cache rooted at path (e.g. ".session_cache/cookies.json").
func New(path string) *Cache {
	return &Cache{path: path, now: time.Now}
}

// Save overwrites the cache with the given cookie set and metadata and
// stamps the current wall-clock time.
func (c *Cache) Save(cookies map[string]string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	rec := record{
		Cookies:  cookies,
		SavedAt:  float64(c.now().UnixNano()) / float64(time.Second),
		Count:    len(cookies),
		Metadata: metadata,
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return err
	}

	appLog.Info("cookies saved to cache", "count", len(cookies), "path", c.path)
	return nil
}

// Load returns the cached cookie set, or ok=false when the cache is
// absent, unreadable, corrupt, or empty. An empty cookie set is never
// valid: it could only produce a fetch that fails every time.
func (c *Cache) Load() (map[string]string, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		appLog.Debug("no cookies in cache", "path", c.path)
		return nil, false
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		appLog.Warn("cookie cache is corrupt, treating as absent", "path", c.path, "parse_err", err)
		return nil, false
	}
	if len(rec.Cookies) == 0 {
		appLog.Warn("cookie cache is empty, treating as absent", "path", c.path)
		return nil, false
	}

	appLog.Info("cookies loaded from cache", "count", len(rec.Cookies))
	return rec.Cookies, true
}

// Clear deletes the cache file. Clearing an absent cache is a no-op.
func (c *Cache) Clear() error {
	err := os.Remove(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	appLog.Info("cached cookies cleared", "path", c.path)
	return nil
}

// Inspect reports the cache state without validating the cookie set.
func (c *Cache) Inspect() Info {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return Info{Exists: false}
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Info{Exists: false}
	}

	age := float64(c.now().UnixNano())/float64(time.Second) - rec.SavedAt
	return Info{
		Exists:     true,
		Count:      len(rec.Cookies),
		AgeSeconds: age,
		SavedAt:    rec.SavedAt,
		Metadata:   rec.Metadata,
	}
}
