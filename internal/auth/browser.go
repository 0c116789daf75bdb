// Package auth drives a headless Chromium through the portal login form
// to obtain a fresh session-cookie set. It is the fallback path taken
// when the cached session is absent or rejected.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"schedcal/internal/config"
	appLog "schedcal/internal/log"
)

const locationPollInterval = 250 * time.Millisecond

// Browser performs the interactive login with real portal credentials.
type Browser struct {
	portal   config.PortalConfig
	username string
	password string
}

// NewBrowser builds a Browser for the given portal and credentials.
func NewBrowser(portal config.PortalConfig, username, password string) *Browser {
	return &Browser{
		portal:   portal,
		username: username,
		password: password,
	}
}

// Login opens the login page, submits the credential form, waits for
// the portal to land back on the schedule endpoint, and returns every
// cookie of the resulting session as a name-to-value map.
//
// The whole flow is bounded by the portal's login timeout; browser
// startup is included in the budget.
func (b *Browser) Login(parentCtx context.Context) (map[string]string, error) {
	if b.username == "" || b.password == "" {
		return nil, fmt.Errorf("auth: portal credentials are not configured")
	}

	appLog.Info("browser login start", "url", b.portal.LoginURL, "headless", b.portal.Headless)
	start := time.Now()

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, b.allocatorOptions()...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, time.Duration(b.portal.LoginTimeoutSec)*time.Second)
	defer timeoutCancel()

	userSel := fmt.Sprintf(`[name=%q]`, b.portal.UsernameField)
	passSel := fmt.Sprintf(`[name=%q]`, b.portal.PasswordField)
	submitSel := fmt.Sprintf(`[name=%q]`, b.portal.SubmitField)

	var cookies map[string]string

	tasks := chromedp.Tasks{
		chromedp.Navigate(b.portal.LoginURL),
		chromedp.WaitVisible(userSel, chromedp.ByQuery),
		chromedp.SendKeys(userSel, b.username, chromedp.ByQuery),
		chromedp.SendKeys(passSel, b.password, chromedp.ByQuery),
		chromedp.Click(submitSel, chromedp.ByQuery),
		b.waitForEndpoint(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			got, err := storage.GetCookies().Do(ctx)
			if err != nil {
				return err
			}
			cookies = make(map[string]string, len(got))
			for _, c := range got {
				cookies[c.Name] = c.Value
			}
			return nil
		}),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		appLog.Error("browser login failed", err, "url", b.portal.LoginURL)
		return nil, fmt.Errorf("auth: login flow failed: %w", err)
	}

	appLog.Info("browser login success",
		"elapsed", time.Since(start).Round(100*time.Millisecond).String(),
		"cookies", len(cookies),
	)
	return cookies, nil
}

// waitForEndpoint polls the current location until the portal redirects
// back to the schedule endpoint. The surrounding timeout context breaks
// the loop when the login never completes.
func (b *Browser) waitForEndpoint() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for {
			var loc string
			if err := chromedp.Location(&loc).Do(ctx); err != nil {
				return err
			}
			if loc == b.portal.EndpointURL {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("auth: still at %s: %w", loc, ctx.Err())
			case <-time.After(locationPollInterval):
			}
		}
	})
}

// allocatorOptions mirrors the trimmed-down browser profile used for
// automation: no images, no extensions, no background chatter.
func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if b.portal.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	opts = append(opts,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("disable-features", "TranslateUI"),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("mute-audio", true),
	)

	return opts
}
