package fetcher

import (
	"context"
	"errors"
	"net"
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/maltedev/kleinanzeigen-scraper/internal/ratelimit"
)

const acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	BaseURL          string
	UserAgent        string
	AcceptLanguage   string
	Cookie           string
	Timeout          time.Duration
	ImageTimeout     time.Duration
	CloudflareBypass bool
}

func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		BaseURL:        "https://www.kleinanzeigen.de",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		AcceptLanguage: "de-DE,de;q=0.9,en;q=0.8",
		Timeout:        20 * time.Second,
		ImageTimeout:   30 * time.Second,
	}
}

// HTTPFetcher fetches pages with a shared cookie jar and a fixed delay
// between requests.
type HTTPFetcher struct {
	client  *resty.Client
	limiter ratelimit.RateLimiter
	opts    HTTPOptions
	logger  *zap.Logger
}

func NewHTTPFetcher(opts HTTPOptions, limiter ratelimit.RateLimiter, logger *zap.Logger) (*HTTPFetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = ratelimit.NewDelay(0)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = opts.Timeout
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: cookie jar")
	}

	client := resty.New()
	client.SetCookieJar(jar)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.AcceptLanguage != "" {
		client.SetHeader("Accept-Language", opts.AcceptLanguage)
	}
	if opts.Cookie != "" {
		client.SetHeader("Cookie", opts.Cookie)
	}

	return &HTTPFetcher{
		client:  client,
		limiter: limiter,
		opts:    opts,
		logger:  logger.With(zap.String("component", "fetcher")),
	}, nil
}

// Warmup requests the start page once so the cookie jar holds a session.
// Failures are logged and ignored.
func (f *HTTPFetcher) Warmup(ctx context.Context) {
	if f.opts.BaseURL == "" {
		return
	}
	if _, err := f.Page(ctx, f.opts.BaseURL, ""); err != nil {
		f.logger.Warn("warm-up request failed", zap.String("url", f.opts.BaseURL), zap.Error(err))
	}
}

func (f *HTTPFetcher) Page(ctx context.Context, url, referer string) (string, error) {
	body, contentType, err := f.get(ctx, url, referer, acceptHTML, f.opts.Timeout, true)
	if err != nil {
		return "", err
	}
	return decodeUTF8(body, contentType), nil
}

func (f *HTTPFetcher) Bytes(ctx context.Context, url, referer string) ([]byte, string, error) {
	return f.get(ctx, url, referer, "image/avif,image/webp,image/*,*/*;q=0.8", f.opts.ImageTimeout, false)
}

func (f *HTTPFetcher) get(ctx context.Context, url, referer, accept string, timeout time.Duration, checkBlock bool) ([]byte, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", eris.Wrap(err, "fetcher: wait for delay")
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := f.client.R().SetContext(reqCtx).SetHeader("Accept", accept)
	if referer != "" {
		req.SetHeader("Referer", referer)
	}

	resp, err := req.Get(url)
	if err != nil {
		// Caller cancellation is not a network failure.
		if ctx.Err() != nil {
			return nil, "", eris.Wrap(ctx.Err(), "fetcher: cancelled")
		}
		return nil, "", &NetworkError{URL: url, Timeout: isTimeout(err), Err: err}
	}

	status := resp.StatusCode()
	body := resp.Body()

	if !resp.IsSuccess() {
		ne := &NetworkError{URL: url, StatusCode: status}
		if checkBlock {
			ne.Block = DetectBlock(status, resp.Header(), body)
		}
		f.logger.Warn("unexpected status",
			zap.String("url", url),
			zap.Int("status", status),
			zap.String("block", string(ne.Block)),
		)
		return nil, "", ne
	}

	if checkBlock {
		if block := DetectBlock(status, resp.Header(), body); block != BlockNone {
			f.logger.Warn("block page detected", zap.String("url", url), zap.String("block", string(block)))
			return nil, "", &NetworkError{URL: url, StatusCode: status, Block: block}
		}
	}

	f.logger.Debug("fetched",
		zap.String("url", url),
		zap.Int("status", status),
		zap.Int("bytes", len(body)),
	)

	return body, resp.Header().Get("Content-Type"), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// decodeUTF8 converts body to UTF-8 based on the declared or sniffed charset.
func decodeUTF8(body []byte, contentType string) string {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" {
		return string(body)
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

var _ Fetcher = (*HTTPFetcher)(nil)
