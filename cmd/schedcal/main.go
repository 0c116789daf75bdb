package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"schedcal/internal/auth"
	"schedcal/internal/calendar"
	"schedcal/internal/config"
	"schedcal/internal/fetch"
	appLog "schedcal/internal/log"
	"schedcal/internal/parser"
	"schedcal/internal/readme"
	"schedcal/internal/schedule"
	"schedcal/internal/session"
	"schedcal/internal/upload"
)

type flagConfig struct {
	configPath string
	envPath    string
	once       bool
	skipUpload bool
	debug      bool
}

func main() {
	flags := parseFlags()

	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info(strings.Repeat("=", 60))
	appLog.Info("schedcal starting", "version", "0.1.0")
	appLog.Info(strings.Repeat("=", 60))

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(flags.envPath); err != nil {
		appLog.Debug("no .env file loaded", "path", flags.envPath)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		appLog.Error("failed to load secrets from environment", err)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"timezone", conf.Timezone,
		"upload_way", string(conf.UploadWay),
		"calendar_dir", conf.CalendarDir,
		"data_path", conf.DataPath(),
		"refresh", conf.RefreshCron,
		"once", flags.once,
		"skip_upload", flags.skipUpload,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.once || conf.RefreshCron == "" {
		if err := runPipeline(ctx, conf, secrets, flags.skipUpload); err != nil {
			os.Exit(1)
		}
		return
	}

	// Cron mode: run now, then on schedule until signalled. A failed run
	// is logged and retried at the next tick rather than killing the
	// daemon.
	if err := runPipeline(ctx, conf, secrets, flags.skipUpload); err != nil {
		appLog.Error("initial pipeline run failed", err)
	}

	c := cron.New()
	_, err = c.AddFunc(conf.RefreshCron, func() {
		if err := runPipeline(ctx, conf, secrets, flags.skipUpload); err != nil {
			appLog.Error("scheduled pipeline run failed", err)
		}
	})
	if err != nil {
		appLog.Error("invalid refresh cron expression", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("schedcal exiting")
}

// runPipeline executes one full fetch -> merge -> generate -> upload ->
// publish cycle. Every stage failure is logged here; the caller only
// decides whether it is fatal.
func runPipeline(ctx context.Context, conf *config.Config, secrets *config.Secrets, skipUpload bool) error {
	start := time.Now()

	cache := session.New(conf.CookiesPath())
	if info := cache.Inspect(); info.Exists {
		appLog.Info("session cache present",
			"cookies", info.Count,
			"age_seconds", int64(info.AgeSeconds),
		)
	}

	client := fetch.NewClient(conf.Portal)
	browser := auth.NewBrowser(conf.Portal, secrets.Username, secrets.Password)
	p := parser.New(cache, client, browser, conf.DataPath())

	if _, err := p.Parse(ctx); err != nil {
		appLog.Error("schedule parser failed", err)
		return err
	}
	dataPath, err := p.Save()
	if err != nil {
		appLog.Error("schedule parser failed", err)
		return err
	}
	parseElapsed := time.Since(start)

	payload, err := schedule.Load(dataPath)
	if err != nil {
		appLog.Error("calendar generator failed", err)
		return err
	}

	gen, err := calendar.NewGenerator(conf)
	if err != nil {
		appLog.Error("calendar generator failed", err)
		return err
	}
	calendars := gen.Generate(payload)
	paths, err := gen.Save()
	if err != nil {
		appLog.Error("calendar generator failed", err)
		return err
	}
	generateElapsed := time.Since(start) - parseElapsed

	if skipUpload || conf.UploadWay == config.UploaderNone {
		appLog.Info("upload skipped",
			"parse_elapsed", parseElapsed.Round(time.Millisecond).String(),
			"generate_elapsed", generateElapsed.Round(time.Millisecond).String(),
		)
		return nil
	}

	backend, err := newBackend(ctx, conf, secrets)
	if err != nil {
		appLog.Error("uploader failed", err)
		return err
	}

	contents := make(map[string][]byte, len(calendars))
	for name, cal := range calendars {
		contents[name] = []byte(cal.Serialize())
	}

	links, err := backend.Upload(ctx, contents, paths)
	if err != nil {
		appLog.Error("uploader failed", err, "backend", backend.Name())
		return err
	}
	uploadElapsed := time.Since(start) - parseElapsed - generateElapsed

	updater := readme.New(conf.ReadmeFile, conf.CalendarPrefix+" Schedule ICS")
	if err := updater.Update(links); err != nil {
		appLog.Error("readme updater failed", err)
		return err
	}

	appLog.Info(strings.Repeat("=", 60))
	appLog.Info("pipeline finished",
		"parse_elapsed", parseElapsed.Round(time.Millisecond).String(),
		"generate_elapsed", generateElapsed.Round(time.Millisecond).String(),
		"upload_elapsed", uploadElapsed.Round(time.Millisecond).String(),
		"total_elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	appLog.Info(strings.Repeat("=", 60))
	return nil
}

func newBackend(ctx context.Context, conf *config.Config, secrets *config.Secrets) (upload.Backend, error) {
	switch conf.UploadWay {
	case config.UploaderGitHub:
		return upload.NewGitHub(conf.GitHub, secrets.GithubToken)
	case config.UploaderDropbox:
		return upload.NewDropbox(ctx, upload.DropboxCredentials{
			AppKey:       secrets.DropboxAppKey,
			AppSecret:    secrets.DropboxAppSecret,
			RefreshToken: secrets.DropboxRefreshToken,
		}, conf.CalendarDir)
	default:
		return nil, fmt.Errorf("unknown upload way: %s", conf.UploadWay)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&cfg.envPath, "env", ".env", "Path to optional .env file")
	flag.BoolVar(&cfg.once, "once", false, "Run one pipeline cycle and exit even if refresh cron is configured")
	flag.BoolVar(&cfg.skipUpload, "skip-upload", false, "Generate calendars but skip upload and README update")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
