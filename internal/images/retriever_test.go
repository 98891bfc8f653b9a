package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/fetcher"
	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
	"github.com/maltedev/kleinanzeigen-scraper/internal/ratelimit"
)

func newRetriever(t *testing.T) *Retriever {
	t.Helper()
	f, err := fetcher.NewHTTPFetcher(fetcher.DefaultHTTPOptions(), ratelimit.NewDelay(0), zap.NewNop())
	require.NoError(t, err)
	return NewRetriever(f, zap.NewNop())
}

func TestRetrieveAllSkipsFailedImage(t *testing.T) {
	var mu sync.Mutex
	var referers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		referers = append(referers, r.Header.Get("Referer"))
		mu.Unlock()
		if strings.HasSuffix(r.URL.Path, "/3") {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("img" + r.URL.Path))
	}))
	defer srv.Close()

	listing := models.Listing{
		URL: "https://www.kleinanzeigen.de/s-anzeige/felgen/2912345678-223-1234",
		ImageURLs: []string{
			srv.URL + "/api/v1/prod-ads/images/1",
			srv.URL + "/api/v1/prod-ads/images/2",
			srv.URL + "/api/v1/prod-ads/images/3",
			srv.URL + "/api/v1/prod-ads/images/4",
			srv.URL + "/api/v1/prod-ads/images/5",
		},
	}

	got, failures := newRetriever(t).RetrieveAll(context.Background(), listing)

	require.Len(t, got.Images, 4)
	require.Len(t, failures, 1)
	assert.Equal(t, models.ScopeImage, failures[0].Scope)
	assert.Equal(t, listing.ImageURLs[2], failures[0].URL)

	assert.Equal(t, "2912345678", got.Folder)
	names := []string{}
	for _, img := range got.Images {
		names = append(names, img.Name)
	}
	assert.Equal(t, []string{"2912345678_1.jpg", "2912345678_2.jpg", "2912345678_4.jpg", "2912345678_5.jpg"}, names)
	assert.Equal(t, []byte("img/api/v1/prod-ads/images/1"), got.Images[0].Data)

	mu.Lock()
	defer mu.Unlock()
	for _, ref := range referers {
		assert.Equal(t, listing.URL, ref)
	}
}

func TestRetrieveAllNoImages(t *testing.T) {
	got, failures := newRetriever(t).RetrieveAll(context.Background(), models.Listing{URL: "https://example.com/s-anzeige/x/1-2-3"})
	assert.Empty(t, got.Images)
	assert.Empty(t, failures)
	assert.Equal(t, "1", got.Folder)
}

func TestRetrieveAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, failures := newRetriever(t).RetrieveAll(ctx, models.Listing{
		URL:       "https://example.com/s-anzeige/x/1-2-3",
		ImageURLs: []string{"http://127.0.0.1:1/a.jpg", "http://127.0.0.1:1/b.jpg"},
	})
	assert.Empty(t, got.Images)
	assert.Len(t, failures, 1)
}

func TestFolder(t *testing.T) {
	assert.Equal(t, "2912345678", Folder("https://www.kleinanzeigen.de/s-anzeige/bmw/2912345678-223-1234"))

	a := Folder("https://example.com/listing/abc")
	assert.True(t, strings.HasPrefix(a, "listing-"))
	assert.Equal(t, a, Folder("https://example.com/listing/abc"))
	assert.NotEqual(t, a, Folder("https://example.com/listing/def"))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".png", Extension("https://x/a/b.PNG", ""))
	assert.Equal(t, ".webp", Extension("https://x/api/v1/prod-ads/images/ab/cd", "image/webp"))
	assert.Equal(t, ".jpg", Extension("https://x/api/v1/prod-ads/images/ab/cd", "application/octet-stream"))
	assert.Equal(t, ".jpg", Extension("https://x/noext", ""))
}
