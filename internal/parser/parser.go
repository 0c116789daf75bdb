// Package parser coordinates the cache-aware fetch cycle: cached
// cookies first, a single browser re-authentication when they fail, and
// merge-persistence of the resulting payload. It is the state machine
// at the center of the pipeline.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"schedcal/internal/fetch"
	appLog "schedcal/internal/log"
	"schedcal/internal/merge"
)

// CookieCache is the session-cache surface the parser needs.
type CookieCache interface {
	Load() (map[string]string, bool)
	Save(cookies map[string]string, metadata map[string]any) error
	Clear() error
}

// Fetcher issues one classified schedule request.
type Fetcher interface {
	Fetch(ctx context.Context, cookies map[string]string) fetch.Outcome
}

// Authenticator produces a fresh cookie set, or fails.
type Authenticator interface {
	Login(ctx context.Context) (map[string]string, error)
}

// Parser runs the fetch cycle and persists its results.
type Parser struct {
	cache    CookieCache
	client   Fetcher
	auth     Authenticator
	dataPath string

	outcome fetch.Outcome
	now     func() time.Time
}

// New builds a Parser. dataPath is the merged schedule store location.
func New(cache CookieCache, client Fetcher, auth Authenticator, dataPath string) *Parser {
	return &Parser{
		cache:    cache,
		client:   client,
		auth:     auth,
		dataPath: dataPath,
		now:      time.Now,
	}
}

// Parse walks the state machine:
//
//	CheckCache -> CachedFetch -> Done
//	           \> ReAuthenticate -> FreshFetch -> Done | fatal error
//
// A cached fetch that fails for any reason clears the cache: a cookie
// set that failed once this run is not retried. A failure after fresh
// authentication is not a session problem and is returned as an error;
// there is no second re-authentication.
func (p *Parser) Parse(ctx context.Context) (fetch.Outcome, error) {
	appLog.Info("parser started")
	appLog.Info("checking cached cookies")

	if cookies, ok := p.cache.Load(); ok {
		appLog.Info("cached cookies found")

		p.outcome = p.client.Fetch(ctx, cookies)
		if p.outcome.Success {
			appLog.Info("cached cookies are valid",
				"status", p.outcome.StatusCode,
				"elapsed", p.outcome.Elapsed.String(),
			)
			return p.outcome, nil
		}

		appLog.Warn("cached cookies are invalid",
			"kind", string(p.outcome.ErrKind),
			"status", p.outcome.StatusCode,
		)
		if err := p.cache.Clear(); err != nil {
			appLog.Error("failed to clear cookie cache", err)
		}
	}

	appLog.Info("obtaining new cookies via browser login")

	cookies, err := p.auth.Login(ctx)
	if err != nil {
		return p.outcome, fmt.Errorf("parser: re-authentication failed: %w", err)
	}
	if len(cookies) == 0 {
		return p.outcome, fmt.Errorf("parser: browser login returned no cookies")
	}

	p.outcome = p.client.Fetch(ctx, cookies)
	if !p.outcome.Success {
		return p.outcome, fmt.Errorf("parser: fetch failed after re-authentication: %w", p.outcome.Err())
	}

	if err := p.cache.Save(cookies, map[string]any{
		"auth_time": float64(p.now().UnixNano()) / float64(time.Second),
		"source":    "chromium_retry",
	}); err != nil {
		// The run still succeeded; the next run just logs in again.
		appLog.Warn("failed to persist cookies", "err", err)
	}

	appLog.Info("schedule received",
		"status", p.outcome.StatusCode,
		"elapsed", p.outcome.Elapsed.String(),
	)
	return p.outcome, nil
}

// Save merge-persists the last successful payload into the schedule
// store and returns its path. When the merge wrapper reports failure
// the payload is written as-is so a run never loses fresh data.
func (p *Parser) Save() (string, error) {
	if !p.outcome.Success {
		return "", fmt.Errorf("parser: no successful fetch to save")
	}

	if err := os.MkdirAll(filepath.Dir(p.dataPath), 0o700); err != nil {
		return "", fmt.Errorf("parser: create data dir: %w", err)
	}

	if merge.MergeFile(p.dataPath, p.outcome.Data) {
		appLog.Info("schedule merged and saved", "path", p.dataPath)
		return p.dataPath, nil
	}

	appLog.Warn("merge failed, saving without merge", "path", p.dataPath)

	data, err := json.MarshalIndent(p.outcome.Data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("parser: encode payload: %w", err)
	}
	if err := os.WriteFile(p.dataPath, data, 0o600); err != nil {
		return "", fmt.Errorf("parser: write store: %w", err)
	}

	appLog.Info("schedule saved", "path", p.dataPath)
	return p.dataPath, nil
}
