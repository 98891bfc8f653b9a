// Package images downloads the photos of a listing.
package images

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/fetcher"
	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

var adIDPattern = regexp.MustCompile(`/(\d+)-`)

type Retriever struct {
	fetcher fetcher.Fetcher
	logger  *zap.Logger
}

func NewRetriever(f fetcher.Fetcher, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		fetcher: f,
		logger:  logger.With(zap.String("component", "images")),
	}
}

// RetrieveAll downloads every image of l in order. Failed images are skipped
// and returned as failures; they never abort the listing. Only cancellation
// of ctx stops early.
func (r *Retriever) RetrieveAll(ctx context.Context, l models.Listing) (models.ListingImages, []models.Failure) {
	folder := Folder(l.URL)
	result := models.ListingImages{ListingURL: l.URL, Folder: folder}
	var failures []models.Failure

	for i, imageURL := range l.ImageURLs {
		if ctx.Err() != nil {
			failures = append(failures, models.NewFailure(models.ScopeImage, imageURL, ctx.Err()))
			break
		}

		data, contentType, err := r.fetcher.Bytes(ctx, imageURL, l.URL)
		if err != nil {
			r.logger.Warn("image skipped", zap.String("url", imageURL), zap.Error(err))
			failures = append(failures, models.NewFailure(models.ScopeImage, imageURL, err))
			continue
		}

		result.Images = append(result.Images, models.Image{
			Name:        fmt.Sprintf("%s_%d%s", folder, i+1, Extension(imageURL, contentType)),
			URL:         imageURL,
			ContentType: contentType,
			Data:        data,
		})
	}

	r.logger.Debug("images retrieved",
		zap.String("listing", l.URL),
		zap.Int("ok", len(result.Images)),
		zap.Int("failed", len(failures)),
	)

	return result, failures
}

// Folder returns the ad id from a listing URL, or a stable short id derived
// from the URL when it carries none.
func Folder(listingURL string) string {
	if m := adIDPattern.FindStringSubmatch(listingURL); m != nil {
		return m[1]
	}
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(listingURL)).String()
	return "listing-" + id[:8]
}

// Extension picks a file extension from the URL path, then the content
// type, defaulting to ".jpg".
func Extension(imageURL, contentType string) string {
	if u, err := url.Parse(imageURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".avif":
			return ext
		}
	}
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			switch mediaType {
			case "image/jpeg":
				return ".jpg"
			case "image/png":
				return ".png"
			case "image/webp":
				return ".webp"
			case "image/gif":
				return ".gif"
			case "image/avif":
				return ".avif"
			}
		}
	}
	return ".jpg"
}
