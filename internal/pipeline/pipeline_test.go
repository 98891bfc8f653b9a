package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/collector"
	"github.com/maltedev/kleinanzeigen-scraper/internal/fetcher"
	"github.com/maltedev/kleinanzeigen-scraper/internal/images"
	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
	"github.com/maltedev/kleinanzeigen-scraper/internal/parser"
	"github.com/maltedev/kleinanzeigen-scraper/internal/ratelimit"
)

func listingHTML(title string, imgs ...string) string {
	body := fmt.Sprintf(`<html><body><h1>%s</h1><div id="viewad-description-text">Lochkreis: 5x112<br>17 Zoll</div>`, title)
	for _, img := range imgs {
		body += fmt.Sprintf(`<img src="%s?rule=$_59.JPG">`, img)
	}
	return body + `</body></html>`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/seller/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
<article data-href="/s-anzeige/felgen-a/100-223-1"></article>
<article data-href="/s-anzeige/felgen-b/200-223-1"></article>
</body></html>`)
	})
	mux.HandleFunc("/seller/43", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
<a href="/s-anzeige/felgen-b/200-223-1">B</a>
<a href="/s-anzeige/kaputt/300-223-1">kaputt</a>
<a href="/s-anzeige/felgen-d/400-223-1">D</a>
</body></html>`)
	})
	mux.HandleFunc("/s-anzeige/felgen-a/100-223-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML("BBS Felgen",
			srv.URL+"/api/v1/prod-ads/images/a/1",
			srv.URL+"/api/v1/prod-ads/images/a/2"))
	})
	mux.HandleFunc("/s-anzeige/felgen-b/200-223-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML("Borbet Felgen", srv.URL+"/api/v1/prod-ads/images/missing"))
	})
	mux.HandleFunc("/s-anzeige/felgen-d/400-223-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML("Rial Felgen"))
	})
	mux.HandleFunc("/api/v1/prod-ads/images/a/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg"))
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	f, err := fetcher.NewHTTPFetcher(fetcher.DefaultHTTPOptions(), ratelimit.NewDelay(0), zap.NewNop())
	require.NoError(t, err)

	opts := collector.DefaultOptions()
	opts.InventoryFallback = false

	return New(f,
		collector.New(f, opts, zap.NewNop()),
		parser.NewListingParser(),
		images.NewRetriever(f, zap.NewNop()),
		zap.NewNop(),
	)
}

type progressLog struct {
	mu    sync.Mutex
	items []Progress
}

func (l *progressLog) add(p Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, p)
}

func TestRunSingleSeller(t *testing.T) {
	srv := newTestServer(t)
	var log progressLog

	result, err := newPipeline(t).Run(context.Background(), []string{srv.URL + "/seller/42"}, log.add)
	require.NoError(t, err)

	require.Len(t, result.Listings, 2)
	assert.Equal(t, srv.URL+"/s-anzeige/felgen-a/100-223-1", result.Listings[0].URL)
	assert.Equal(t, "BBS Felgen", result.Listings[0].Title)
	assert.Equal(t, "5x112", result.Listings[0].Attr(models.AttrLochkreis))
	assert.Equal(t, "17", result.Listings[1].Attr(models.AttrZollgroesse))

	require.Len(t, result.Images, 1)
	assert.Equal(t, "100", result.Images[0].Folder)
	assert.Len(t, result.Images[0].Images, 2)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, models.ScopeImage, result.Failures[0].Scope)

	require.Len(t, result.Sellers, 1)
	assert.Equal(t, 2, result.Sellers[0].Found)
	assert.Equal(t, 2, result.Sellers[0].Parsed)

	require.NotEmpty(t, log.items)
	last := log.items[len(log.items)-1]
	assert.Equal(t, 1.0, last.Fraction())
	assert.Contains(t, last.Message, "2 Anzeigen")
}

func TestRunIsolatesFailures(t *testing.T) {
	srv := newTestServer(t)

	sellers := []string{
		srv.URL + "/seller/404",
		srv.URL + "/seller/42",
		"",
		srv.URL + "/seller/43",
		srv.URL + "/seller/42",
	}
	result, err := newPipeline(t).Run(context.Background(), sellers, nil)
	require.NoError(t, err)

	require.Len(t, result.Sellers, 3)
	assert.True(t, result.Sellers[0].Failed)
	assert.False(t, result.Sellers[1].Failed)
	assert.Equal(t, 3, result.Sellers[2].Found)
	assert.Equal(t, 1, result.Sellers[2].Parsed)

	urls := []string{}
	for _, l := range result.Listings {
		urls = append(urls, l.URL)
	}
	assert.Equal(t, []string{
		srv.URL + "/s-anzeige/felgen-a/100-223-1",
		srv.URL + "/s-anzeige/felgen-b/200-223-1",
		srv.URL + "/s-anzeige/felgen-d/400-223-1",
	}, urls)

	scopes := map[models.FailureScope]int{}
	for _, f := range result.Failures {
		scopes[f.Scope]++
	}
	assert.Equal(t, 1, scopes[models.ScopeSeller])
	assert.Equal(t, 1, scopes[models.ScopeListing])
	assert.Equal(t, 1, scopes[models.ScopeImage])
}

func TestRunAllSellersFailed(t *testing.T) {
	srv := newTestServer(t)

	result, err := newPipeline(t).Run(context.Background(), []string{srv.URL + "/seller/404"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllSellersFailed))
	require.NotNil(t, result)
	assert.Len(t, result.Failures, 1)
}

func TestRunNoSellers(t *testing.T) {
	_, err := newPipeline(t).Run(context.Background(), []string{" ", "# comment"}, nil)
	assert.ErrorIs(t, err, ErrNoSellers)
}

func TestRunCancelled(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t).Run(ctx, []string{srv.URL + "/seller/42"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeSellers(t *testing.T) {
	got := NormalizeSellers([]string{" https://a ", "", "# note", "https://b", "https://a"})
	assert.Equal(t, []string{"https://a", "https://b"}, got)
}

func TestProgressFraction(t *testing.T) {
	assert.Equal(t, 0.0, Progress{}.Fraction())
	assert.Equal(t, 0.5, Progress{SellerIndex: 1, SellerTotal: 2}.Fraction())
	assert.Equal(t, 0.75, Progress{SellerIndex: 1, SellerTotal: 2, ListingIndex: 1, ListingTotal: 2}.Fraction())
}

type recordingSink struct {
	name string
	err  error
	runs []string
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, runID string, _ *models.RunResult) error {
	s.runs = append(s.runs, runID)
	return s.err
}

func TestDeliver(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", err: errors.New("down")}

	errs := Deliver(context.Background(), "run-1", models.NewRunResult(), []Sink{bad, ok}, zap.NewNop())
	assert.Len(t, errs, 1)
	assert.Equal(t, []string{"run-1"}, ok.runs)
	assert.Equal(t, []string{"run-1"}, bad.runs)
}
