package fetcher

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot page detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// NetworkError is returned for any failed fetch: transport errors,
// timeouts, non-2xx responses and detected block pages.
type NetworkError struct {
	URL        string
	StatusCode int
	Timeout    bool
	Block      BlockType
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Block != BlockNone:
		return fmt.Sprintf("fetch %s: blocked (%s, status %d)", e.URL, e.Block, e.StatusCode)
	case e.Timeout:
		return fmt.Sprintf("fetch %s: timeout", e.URL)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err wraps a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// DetectBlock checks a response for signs of anti-bot protection.
func DetectBlock(status int, header http.Header, body []byte) BlockType {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || header.Get("cf-cache-status") != "" {
			return BlockCloudflare
		}
		if strings.EqualFold(header.Get("server"), "cloudflare") {
			return BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cf-challenge") {
		return BlockCloudflare
	}

	// Regular pages embed captcha scripts for the contact form, so only
	// short bodies are treated as a challenge.
	if len(body) < 20000 {
		if strings.Contains(lower, "captcha") || strings.Contains(lower, "sicherheitsabfrage") {
			return BlockCaptcha
		}
	}

	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return BlockJSShell
		}
		if strings.Contains(lower, `http-equiv="refresh"`) {
			return BlockJSShell
		}
	}

	return BlockNone
}
