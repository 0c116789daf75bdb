// Package fetch issues the authenticated schedule request and classifies
// every outcome into a typed result. It never retries; escalation policy
// belongs to the parser.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"schedcal/internal/config"
	appLog "schedcal/internal/log"
)

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	ErrSessionExpired ErrorKind = "session-expired"
	ErrForbidden      ErrorKind = "forbidden"
	ErrHTTP           ErrorKind = "http-error"
	ErrTimeout        ErrorKind = "timeout"
	ErrConnection     ErrorKind = "connection-error"
)

// maxErrorBody bounds how much of a non-200 response body is kept as
// error detail.
const maxErrorBody = 500

// Outcome is the result of a single schedule request. Exactly one of
// Success/failure fields is meaningful: on success Data holds the
// decoded payload, on failure ErrKind/ErrDetail describe what happened.
type Outcome struct {
	Success     bool
	Data        any
	StatusCode  int
	Elapsed     time.Duration
	CookieCount int
	ErrKind     ErrorKind
	ErrDetail   string
}

// AuthDiscarded reports whether the credential set that produced this
// outcome must be thrown away (401/403).
func (o Outcome) AuthDiscarded() bool {
	return o.ErrKind == ErrSessionExpired || o.ErrKind == ErrForbidden
}

// Err renders the failure as an error for logging; nil on success.
func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	if o.ErrDetail != "" {
		return errors.New(string(o.ErrKind) + ": " + o.ErrDetail)
	}
	return errors.New(string(o.ErrKind))
}

// Client fetches the personal schedule from the portal API.
type Client struct {
	httpClient *http.Client
	portal     config.PortalConfig
	now        func() time.Time
}

// NewClient builds a Client for the given portal. Redirects are never
// followed: the portal answers an expired session with a redirect to
// the login page, which must classify as a failure.
func NewClient(portal config.PortalConfig) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(portal.FetchTimeoutSec) * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		portal: portal,
		now:    time.Now,
	}
}

// TermWindow returns the date_start/date_end pair bounding the current
// academic term. The spring term runs Feb 1 to Jul 1; outside it the
// window reaches to the next term boundary.
func TermWindow(now time.Time) (time.Time, time.Time) {
	springStart := time.Date(now.Year(), time.February, 1, 0, 0, 0, 0, now.Location())
	springEnd := time.Date(now.Year(), time.July, 1, 0, 0, 0, 0, now.Location())

	switch {
	case now.Before(springStart):
		return now, springStart
	case now.Before(springEnd):
		return now, springEnd
	default:
		return now, springStart.AddDate(1, 0, 0)
	}
}

// Fetch issues one GET with the given cookie set and classifies the
// result. The portal wants the session twice: as cookies and as an
// Authorization header derived from the token cookie.
func (c *Client) Fetch(ctx context.Context, cookies map[string]string) Outcome {
	start := c.now()

	reqURL := c.requestURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Outcome{
			StatusCode:  0,
			Elapsed:     c.now().Sub(start),
			CookieCount: len(cookies),
			ErrKind:     ErrConnection,
			ErrDetail:   err.Error(),
		}
	}

	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "keep-alive")

	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	if token, ok := cookies[c.portal.AuthCookie]; ok {
		// The cookie value carries an encoded space between scheme and
		// token ("Bearer%20...").
		req.Header.Set("Authorization", strings.ReplaceAll(token, "%20", " "))
	}

	appLog.Info("GET schedule", "url", reqURL, "cookies", len(cookies))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		elapsed := c.now().Sub(start)
		kind := ErrConnection
		if isTimeout(err) {
			kind = ErrTimeout
		}
		appLog.Error("schedule request failed", err, "kind", string(kind))
		return Outcome{
			StatusCode:  0,
			Elapsed:     elapsed,
			CookieCount: len(cookies),
			ErrKind:     kind,
			ErrDetail:   err.Error(),
		}
	}
	defer resp.Body.Close()

	elapsed := c.now().Sub(start)

	switch resp.StatusCode {
	case http.StatusOK:
		// Decode as JSON; fall back to raw text when the endpoint
		// answers 200 with something else.
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return Outcome{
				StatusCode:  0,
				Elapsed:     elapsed,
				CookieCount: len(cookies),
				ErrKind:     ErrConnection,
				ErrDetail:   readErr.Error(),
			}
		}
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			data = string(body)
		}
		return Outcome{
			Success:     true,
			Data:        data,
			StatusCode:  http.StatusOK,
			Elapsed:     elapsed,
			CookieCount: len(cookies),
		}

	case http.StatusUnauthorized:
		return Outcome{
			StatusCode:  resp.StatusCode,
			Elapsed:     elapsed,
			CookieCount: len(cookies),
			ErrKind:     ErrSessionExpired,
			ErrDetail:   "session expired (401)",
		}

	case http.StatusForbidden:
		return Outcome{
			StatusCode:  resp.StatusCode,
			Elapsed:     elapsed,
			CookieCount: len(cookies),
			ErrKind:     ErrForbidden,
			ErrDetail:   "forbidden (403)",
		}

	default:
		// Includes redirects, which CheckRedirect left unfollowed.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Outcome{
			StatusCode:  resp.StatusCode,
			Elapsed:     elapsed,
			CookieCount: len(cookies),
			ErrKind:     ErrHTTP,
			ErrDetail:   "HTTP " + resp.Status + ": " + string(detail),
		}
	}
}

func (c *Client) requestURL() string {
	dateStart, dateEnd := TermWindow(c.now())

	q := url.Values{}
	q.Set("date_start", dateStart.Format("2006-01-02"))
	q.Set("date_end", dateEnd.Format("2006-01-02"))

	sep := "?"
	if strings.Contains(c.portal.ScheduleAPIURL, "?") {
		sep = "&"
	}
	return c.portal.ScheduleAPIURL + sep + q.Encode()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
