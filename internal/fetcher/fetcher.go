// Package fetcher downloads article pages and images over HTTP with per-host
// throttling and retries.
package fetcher

import (
	"context"
)

// Page is a fetched HTML document decoded to UTF-8.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	HTML        string
}

// Fetcher defines the interface for downloading remote content.
type Fetcher interface {
	// GetPage fetches rawURL and decodes the body using its declared charset.
	GetPage(ctx context.Context, rawURL string) (*Page, error)

	// DownloadToFile fetches rawURL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, rawURL, path string) (int64, error)
}
