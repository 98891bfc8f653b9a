// Package fetcher retrieves seller pages, listing pages and images.
package fetcher

import (
	"context"
)

// Fetcher performs plain GET requests. Implementations apply the configured
// delay before every request and return *NetworkError on failure.
type Fetcher interface {
	// Page returns the body of an HTML page decoded to UTF-8.
	Page(ctx context.Context, url, referer string) (string, error)
	// Bytes returns the raw body and its content type.
	Bytes(ctx context.Context, url, referer string) ([]byte, string, error)
}
