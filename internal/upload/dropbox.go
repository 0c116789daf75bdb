package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf16"

	appLog "schedcal/internal/log"
)

const (
	dropboxTokenURL      = "https://api.dropboxapi.com/oauth2/token"
	dropboxRPCBase       = "https://api.dropboxapi.com/2"
	dropboxContentUpload = "https://content.dropboxapi.com/2/files/upload"
)

// DropboxCredentials is the app key/secret plus the long-lived refresh
// token; short-lived access tokens are minted per run.
type DropboxCredentials struct {
	AppKey       string
	AppSecret    string
	RefreshToken string
}

// Dropbox uploads calendars into a Dropbox folder and exposes each one
// through a permanent direct-download shared link.
//
// Dropbox's HTTP API is three plain JSON endpoints here (token refresh,
// content upload, shared-link create), called directly rather than
// through a generated SDK.
type Dropbox struct {
	httpClient  *http.Client
	creds       DropboxCredentials
	folder      string
	accessToken string

	tokenURL    string
	rpcBase     string
	contentBase string
}

// NewDropbox builds the Dropbox backend and immediately exchanges the
// refresh token for an access token, so misconfiguration fails fast.
func NewDropbox(ctx context.Context, creds DropboxCredentials, folder string) (*Dropbox, error) {
	if creds.AppKey == "" || creds.AppSecret == "" || creds.RefreshToken == "" {
		return nil, fmt.Errorf("upload: dropbox credentials are not configured")
	}

	d := &Dropbox{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		creds:       creds,
		folder:      strings.Trim(filepath.ToSlash(folder), "/"),
		tokenURL:    dropboxTokenURL,
		rpcBase:     dropboxRPCBase,
		contentBase: dropboxContentUpload,
	}

	appLog.Info("refreshing dropbox access token")
	if err := d.refreshAccessToken(ctx); err != nil {
		return nil, err
	}
	appLog.Info("dropbox authenticated")
	return d, nil
}

func (d *Dropbox) Name() string { return "dropbox" }

// Upload ensures the remote folder exists, overwrites each calendar
// file, and returns a direct-download URL per calendar.
func (d *Dropbox) Upload(ctx context.Context, contents map[string][]byte, paths map[string]string) (map[string]string, error) {
	appLog.Info("dropbox upload start", "folder", "/"+d.folder, "files", len(contents))

	if err := d.ensureFolder(ctx); err != nil {
		return nil, err
	}

	urls := make(map[string]string, len(contents))
	for _, name := range sortedKeys(contents) {
		remotePath := "/" + strings.TrimPrefix(filepath.ToSlash(paths[name]), "/")

		if err := d.uploadFile(ctx, remotePath, contents[name]); err != nil {
			return nil, err
		}
		link, err := d.directLink(ctx, remotePath)
		if err != nil {
			return nil, err
		}
		urls[name] = link
		appLog.Info("uploaded calendar", "name", name, "path", remotePath)
	}

	appLog.Info("dropbox upload completed", "urls", len(urls))
	return urls, nil
}

func (d *Dropbox) refreshAccessToken(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", d.creds.RefreshToken)
	form.Set("client_id", d.creds.AppKey)
	form.Set("client_secret", d.creds.AppSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload: dropbox token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload: dropbox token refresh failed: %s: %s", resp.Status, body)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("upload: dropbox token response: %w", err)
	}
	if out.AccessToken == "" {
		return fmt.Errorf("upload: dropbox token response has no access_token")
	}
	d.accessToken = out.AccessToken
	return nil
}

// ensureFolder creates the calendar folder; a path conflict means it
// already exists and is fine.
func (d *Dropbox) ensureFolder(ctx context.Context) error {
	status, body, err := d.rpc(ctx, "/files/create_folder_v2", map[string]any{
		"path": "/" + d.folder,
	})
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusOK:
		appLog.Info("dropbox folder created", "path", "/"+d.folder)
		return nil
	case status == http.StatusConflict && strings.Contains(string(body), "conflict"):
		appLog.Debug("dropbox folder already exists", "path", "/"+d.folder)
		return nil
	default:
		return fmt.Errorf("upload: create folder /%s: HTTP %d: %s", d.folder, status, body)
	}
}

func (d *Dropbox) uploadFile(ctx context.Context, remotePath string, content []byte) error {
	arg, err := headerSafeJSON(map[string]any{
		"path":       remotePath,
		"mode":       "overwrite",
		"autorename": false,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.contentBase, bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+d.accessToken)
	req.Header.Set("Dropbox-API-Arg", arg)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload: dropbox upload %s: %w", remotePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return fmt.Errorf("upload: dropbox upload %s failed: %s: %s", remotePath, resp.Status, body)
	}
	return nil
}

// headerSafeJSON marshals v and escapes everything outside printable
// ASCII as \uXXXX, since Dropbox-API-Arg travels in an HTTP header and
// calendar names are Cyrillic.
func headerSafeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range string(data) {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
			continue
		}
		if r > 0xffff {
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, hi, lo)
			continue
		}
		fmt.Fprintf(&b, `\u%04x`, r)
	}
	return b.String(), nil
}

// directLink creates (or finds) a shared link for remotePath and
// rewrites it into a direct-download form.
func (d *Dropbox) directLink(ctx context.Context, remotePath string) (string, error) {
	status, body, err := d.rpc(ctx, "/sharing/create_shared_link_with_settings", map[string]any{
		"path": remotePath,
	})
	if err != nil {
		return "", err
	}

	if status == http.StatusOK {
		return parseSharedLink(body, remotePath)
	}

	// A link made on a previous run already exists; look it up instead.
	if status == http.StatusConflict && strings.Contains(string(body), "shared_link_already_exists") {
		status, body, err = d.rpc(ctx, "/sharing/list_shared_links", map[string]any{
			"path":        remotePath,
			"direct_only": true,
		})
		if err != nil {
			return "", err
		}
		if status == http.StatusOK {
			var out struct {
				Links []struct {
					URL string `json:"url"`
				} `json:"links"`
			}
			if err := json.Unmarshal(body, &out); err != nil || len(out.Links) == 0 {
				return "", fmt.Errorf("upload: no shared links for %s", remotePath)
			}
			return toDirectDownload(out.Links[0].URL), nil
		}
	}

	return "", fmt.Errorf("upload: shared link for %s: HTTP %d: %s", remotePath, status, body)
}

func parseSharedLink(body []byte, remotePath string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.URL == "" {
		return "", fmt.Errorf("upload: shared link response for %s is malformed", remotePath)
	}
	return toDirectDownload(out.URL), nil
}

// toDirectDownload rewrites a Dropbox share URL into the form that
// serves file bytes instead of the preview page.
func toDirectDownload(link string) string {
	link = strings.ReplaceAll(link, "www.dropbox.com", "dl.dropboxusercontent.com")
	link = strings.ReplaceAll(link, "?dl=0", "?dl=1")
	if !strings.Contains(link, "?dl=1") {
		if strings.Contains(link, "?") {
			link += "&dl=1"
		} else {
			link += "?dl=1"
		}
	}
	return link
}

// rpc posts a JSON body to an api.dropboxapi.com endpoint and returns
// the status and response body. Non-2xx statuses are returned to the
// caller for classification, not treated as transport errors.
func (d *Dropbox) rpc(ctx context.Context, endpoint string, arg map[string]any) (int, []byte, error) {
	payload, err := json.Marshal(arg)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.rpcBase+endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("upload: dropbox %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("upload: dropbox %s: read body: %w", endpoint, err)
	}
	return resp.StatusCode, body, nil
}
