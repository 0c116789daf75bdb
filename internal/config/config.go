package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Credentials never live in the YAML file; they are loaded
// separately from the environment (see Secrets).

// Uploader selects the file-hosting backend for generated calendars.
type Uploader string

const (
	UploaderGitHub  Uploader = "github"
	UploaderDropbox Uploader = "dropbox"
	UploaderNone    Uploader = "none"
)

// PortalConfig describes the schedule portal: where to log in and where
// to fetch the personal schedule from.
type PortalConfig struct {
	// LoginURL is the page carrying the login form.
	LoginURL string `yaml:"login_url" json:"login_url"`
	// EndpointURL is the URL the portal redirects to after a successful
	// login. Reaching it is the success condition for the browser flow.
	EndpointURL string `yaml:"endpoint_url" json:"endpoint_url"`
	// ScheduleAPIURL is the personal-schedule API endpoint; date_start
	// and date_end query parameters are appended per run.
	ScheduleAPIURL string `yaml:"schedule_api_url" json:"schedule_api_url"`

	// Form field names on the login page.
	UsernameField string `yaml:"username_field" json:"username_field"`
	PasswordField string `yaml:"password_field" json:"password_field"`
	SubmitField   string `yaml:"submit_field" json:"submit_field"`

	// AuthCookie is the cookie whose value becomes the Authorization
	// header on schedule requests.
	AuthCookie string `yaml:"auth_cookie" json:"auth_cookie"`

	// FetchTimeoutSec bounds a single schedule GET.
	FetchTimeoutSec int `yaml:"fetch_timeout_sec" json:"fetch_timeout_sec"`
	// LoginTimeoutSec bounds the whole browser login flow.
	LoginTimeoutSec int `yaml:"login_timeout_sec" json:"login_timeout_sec"`
	// Headless controls whether the login browser runs headless.
	Headless bool `yaml:"headless" json:"headless"`
}

// GitHubConfig holds the target repository for the GitHub uploader.
type GitHubConfig struct {
	Repo   string `yaml:"repo" json:"repo"`
	Branch string `yaml:"branch" json:"branch"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA timezone the institution's schedule is
	// anchored in (e.g. "Europe/Moscow").
	Timezone string `yaml:"timezone" json:"timezone"`

	// CalendarPrefix is prepended to the lesson type when naming
	// calendars, e.g. "ITMO" -> "ITMO Лекции".
	CalendarPrefix string `yaml:"calendar_prefix" json:"calendar_prefix"`

	// UIDDomain is the domain part of generated event UIDs.
	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`

	// RefreshCron, if set, runs the pipeline on this cron schedule
	// instead of once (e.g. "0 */6 * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheDir holds the session-cookie cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// CookiesFile is the cache file name inside CacheDir.
	CookiesFile string `yaml:"cookies_file" json:"cookies_file"`

	// DataDir / DataFile locate the merged schedule store.
	DataDir  string `yaml:"data_dir" json:"data_dir"`
	DataFile string `yaml:"data_file" json:"data_file"`

	// CalendarDir is where generated .ics files are written; it is also
	// the remote folder name for uploads.
	CalendarDir string `yaml:"calendar_dir" json:"calendar_dir"`

	// ReadmeFile is the path of the regenerated subscription document.
	ReadmeFile string `yaml:"readme_file" json:"readme_file"`

	// UploadWay selects the upload backend.
	UploadWay Uploader `yaml:"upload_way" json:"upload_way"`

	Portal PortalConfig `yaml:"portal" json:"portal"`
	GitHub GitHubConfig `yaml:"github" json:"github"`
}

// Secrets are credentials read from the process environment (optionally
// via a .env file loaded by the caller). envconfig prefix: SCHEDCAL.
type Secrets struct {
	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD"`

	GithubToken string `envconfig:"GITHUB_TOKEN"`

	DropboxAppKey       string `envconfig:"DROPBOX_APP_KEY"`
	DropboxAppSecret    string `envconfig:"DROPBOX_APP_SECRET"`
	DropboxRefreshToken string `envconfig:"DROPBOX_REFRESH_TOKEN"`
}

// LoadSecrets reads Secrets from the environment.
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := envconfig.Process("schedcal", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:       "Europe/Moscow",
		CalendarPrefix: "ITMO",
		UIDDomain:      "my.itmo.ru",
		RefreshCron:    "",
		CacheDir:       ".session_cache",
		CookiesFile:    "cookies.json",
		DataDir:        "data",
		DataFile:       "schedule.json",
		CalendarDir:    "calendars",
		ReadmeFile:     "README.md",
		UploadWay:      UploaderDropbox,
		Portal: PortalConfig{
			LoginURL:        "https://my.itmo.ru/schedule",
			EndpointURL:     "https://my.itmo.ru/schedule",
			ScheduleAPIURL:  "https://my.itmo.ru/api/schedule/schedule/personal",
			UsernameField:   "username",
			PasswordField:   "password",
			SubmitField:     "login",
			AuthCookie:      "auth._token.itmoId",
			FetchTimeoutSec: 30,
			LoginTimeoutSec: 60,
			Headless:        true,
		},
		GitHub: GitHubConfig{
			Branch: "main",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.CalendarPrefix == "" {
		c.CalendarPrefix = def.CalendarPrefix
	}
	if c.UIDDomain == "" {
		c.UIDDomain = def.UIDDomain
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.CookiesFile == "" {
		c.CookiesFile = def.CookiesFile
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.DataFile == "" {
		c.DataFile = def.DataFile
	}
	if c.CalendarDir == "" {
		c.CalendarDir = def.CalendarDir
	}
	if c.ReadmeFile == "" {
		c.ReadmeFile = def.ReadmeFile
	}

	switch c.UploadWay {
	case UploaderGitHub, UploaderDropbox, UploaderNone:
		// ok
	case "":
		c.UploadWay = def.UploadWay
	default:
		// Unknown value; disable uploads rather than guessing a backend.
		c.UploadWay = UploaderNone
	}

	if c.Portal.LoginURL == "" {
		c.Portal.LoginURL = def.Portal.LoginURL
	}
	if c.Portal.EndpointURL == "" {
		c.Portal.EndpointURL = def.Portal.EndpointURL
	}
	if c.Portal.ScheduleAPIURL == "" {
		c.Portal.ScheduleAPIURL = def.Portal.ScheduleAPIURL
	}
	if c.Portal.UsernameField == "" {
		c.Portal.UsernameField = def.Portal.UsernameField
	}
	if c.Portal.PasswordField == "" {
		c.Portal.PasswordField = def.Portal.PasswordField
	}
	if c.Portal.SubmitField == "" {
		c.Portal.SubmitField = def.Portal.SubmitField
	}
	if c.Portal.AuthCookie == "" {
		c.Portal.AuthCookie = def.Portal.AuthCookie
	}
	if c.Portal.FetchTimeoutSec <= 0 {
		c.Portal.FetchTimeoutSec = def.Portal.FetchTimeoutSec
	}
	if c.Portal.LoginTimeoutSec <= 0 {
		c.Portal.LoginTimeoutSec = def.Portal.LoginTimeoutSec
	}

	if c.GitHub.Branch == "" {
		c.GitHub.Branch = def.GitHub.Branch
	}
}

// CookiesPath returns the full path of the session cache file.
func (c *Config) CookiesPath() string {
	return filepath.Join(c.CacheDir, c.CookiesFile)
}

// DataPath returns the full path of the merged schedule store.
func (c *Config) DataPath() string {
	return filepath.Join(c.DataDir, c.DataFile)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".schedcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}
