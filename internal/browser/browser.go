// Package browser implements fetcher.Fetcher on top of a headless Chromium
// driven by Playwright, for sellers whose pages need JavaScript.
package browser

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/fetcher"
	"github.com/maltedev/kleinanzeigen-scraper/internal/ratelimit"
)

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	Cookie         string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      fetcher.DefaultHTTPOptions().UserAgent,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "de-DE,de;q=0.9,en;q=0.8",
		TimezoneID:     "Europe/Berlin",
		Locale:         "de-DE",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

// Browser is a fetcher.Fetcher backed by one persistent browser context,
// so cookies survive between requests.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	limiter ratelimit.RateLimiter
	opts    *Options
	logger  *zap.Logger
}

var _ fetcher.Fetcher = (*Browser)(nil)

func New(opts *Options, limiter ratelimit.RateLimiter, logger *zap.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = ratelimit.NewDelay(0)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, eris.Wrap(err, "browser: start playwright")
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop() //nolint:errcheck
		return nil, eris.Wrap(err, "browser: launch chromium")
	}

	headers := make(map[string]string, len(opts.ExtraHeaders)+2)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}
	if opts.Cookie != "" {
		headers["Cookie"] = opts.Cookie
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	})
	if err != nil {
		browser.Close() //nolint:errcheck
		pw.Stop()       //nolint:errcheck
		return nil, eris.Wrap(err, "browser: create context")
	}
	bctx.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		limiter: limiter,
		opts:    opts,
		logger:  logger.With(zap.String("component", "browser")),
	}, nil
}

// Page navigates a fresh tab to url and returns the rendered HTML.
func (b *Browser) Page(ctx context.Context, url, referer string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "browser: wait for delay")
	}

	page, err := b.context.NewPage()
	if err != nil {
		return "", eris.Wrap(err, "browser: new page")
	}
	defer page.Close() //nolint:errcheck

	// playwright calls are not context aware; closing the tab aborts Goto.
	stop := context.AfterFunc(ctx, func() { _ = page.Close() })
	defer stop()

	gotoOpts := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
	}
	if referer != "" {
		gotoOpts.Referer = &referer
	}

	resp, err := page.Goto(url, gotoOpts)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", eris.Wrap(ctxErr, "browser: navigation cancelled")
	}
	if err != nil {
		return "", navigationError(url, err)
	}
	if resp == nil {
		return "", &fetcher.NetworkError{URL: url, Err: errors.New("no response")}
	}

	content, err := page.Content()
	if err != nil {
		return "", &fetcher.NetworkError{URL: url, StatusCode: resp.Status(), Err: err}
	}

	if fetcher.DetectBlock(resp.Status(), toHeader(resp.Headers()), []byte(content)) == fetcher.BlockCloudflare {
		content = b.awaitChallenge(page, url, content)
	}

	if err := classify(url, resp.Status(), resp.Headers(), []byte(content)); err != nil {
		return "", err
	}
	return content, nil
}

// Bytes downloads url through the context's request API so cookies are shared.
func (b *Browser) Bytes(ctx context.Context, url, referer string) ([]byte, string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, "", eris.Wrap(err, "browser: wait for delay")
	}

	opts := playwright.APIRequestContextGetOptions{
		Timeout: playwright.Float(float64(b.opts.Timeout.Milliseconds())),
	}
	if referer != "" {
		opts.Headers = map[string]string{"Referer": referer}
	}

	resp, err := b.context.Request().Get(url, opts)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, "", eris.Wrap(ctxErr, "browser: request cancelled")
	}
	if err != nil {
		return nil, "", navigationError(url, err)
	}
	defer resp.Dispose() //nolint:errcheck

	if resp.Status() < 200 || resp.Status() > 299 {
		return nil, "", &fetcher.NetworkError{URL: url, StatusCode: resp.Status()}
	}

	body, err := resp.Body()
	if err != nil {
		return nil, "", &fetcher.NetworkError{URL: url, StatusCode: resp.Status(), Err: err}
	}
	return body, resp.Headers()["content-type"], nil
}

// awaitChallenge gives an interstitial challenge a few seconds to resolve
// itself and returns the page content afterwards.
func (b *Browser) awaitChallenge(page playwright.Page, url, content string) string {
	b.logger.Info("challenge page detected, waiting", zap.String("url", url))

	err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(10000),
	})
	if err != nil {
		b.logger.Debug("challenge wait ended", zap.String("url", url), zap.Error(err))
	}

	if again, err := page.Content(); err == nil {
		return again
	}
	return content
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, eris.Wrap(err, "browser: close context"))
		}
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, eris.Wrap(err, "browser: close browser"))
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, eris.Wrap(err, "browser: stop playwright"))
		}
	}

	return errors.Join(errs...)
}

func classify(url string, status int, headers map[string]string, body []byte) error {
	block := fetcher.DetectBlock(status, toHeader(headers), body)
	if status < 200 || status > 299 || block != fetcher.BlockNone {
		return &fetcher.NetworkError{URL: url, StatusCode: status, Block: block}
	}
	return nil
}

func navigationError(url string, err error) error {
	return &fetcher.NetworkError{
		URL:     url,
		Timeout: errors.Is(err, playwright.ErrTimeout) || strings.Contains(err.Error(), "Timeout"),
		Err:     err,
	}
}

func toHeader(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
