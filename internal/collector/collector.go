// Package collector discovers the listing URLs of a seller profile.
package collector

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/fetcher"
)

type Options struct {
	MaxPages int
	// Referer sent with the first page request.
	Referer string
	// InventoryFallback enables the seller inventory lookup when the profile
	// shows fewer than InventoryThreshold listings.
	InventoryFallback  bool
	InventoryThreshold int
	// InventoryURL is a format string taking the seller's user id.
	InventoryURL string
}

func DefaultOptions() Options {
	return Options{
		MaxPages:           50,
		Referer:            "https://www.kleinanzeigen.de/",
		InventoryFallback:  true,
		InventoryThreshold: 30,
		InventoryURL:       "https://www.kleinanzeigen.de/s-bestandsliste.html?userId=%s",
	}
}

// Page is one fetched page of a paginated seller profile.
type Page struct {
	URL  string
	HTML string
	Doc  *goquery.Document
}

type Collector struct {
	fetcher fetcher.Fetcher
	opts    Options
	logger  *zap.Logger
}

func New(f fetcher.Fetcher, opts Options, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	return &Collector{
		fetcher: f,
		opts:    opts,
		logger:  logger.With(zap.String("component", "collector")),
	}
}

// Pages returns the pages of a profile, following "next" links until none is
// left, a page repeats or MaxPages is reached. A fetch error is yielded once
// and ends the sequence. The sequence can be ranged over only once.
func (c *Collector) Pages(ctx context.Context, startURL string) iter.Seq2[Page, error] {
	used := false
	return func(yield func(Page, error) bool) {
		if used {
			return
		}
		used = true

		visited := make(map[string]bool)
		next, referer := startURL, c.opts.Referer

		for n := 0; next != "" && n < c.opts.MaxPages; n++ {
			if visited[next] {
				return
			}
			visited[next] = true

			body, err := c.fetcher.Page(ctx, next, referer)
			if err != nil {
				yield(Page{URL: next}, err)
				return
			}

			doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
			if err != nil {
				yield(Page{URL: next}, eris.Wrapf(err, "collector: parse %s", next))
				return
			}

			if !yield(Page{URL: next, HTML: body, Doc: doc}, nil) {
				return
			}

			referer, next = next, NextPage(doc, next)
		}
	}
}

// Collect returns the unique listing URLs of a seller in first-seen order.
// Any page failure discards the partial result.
func (c *Collector) Collect(ctx context.Context, sellerURL string) ([]string, error) {
	links, firstPage, err := c.collectPages(ctx, sellerURL)
	if err != nil {
		return nil, err
	}

	if c.opts.InventoryFallback && len(links) < c.opts.InventoryThreshold {
		if inventory := c.inventory(ctx, sellerURL, firstPage, links); len(inventory) > len(links) {
			c.logger.Info("using seller inventory",
				zap.String("seller", sellerURL),
				zap.Int("profile_links", len(links)),
				zap.Int("inventory_links", len(inventory)),
			)
			links = inventory
		}
	}

	c.logger.Info("collected listings", zap.String("seller", sellerURL), zap.Int("count", len(links)))
	return links, nil
}

func (c *Collector) collectPages(ctx context.Context, startURL string) ([]string, string, error) {
	set := newLinkSet()
	var firstPage string
	pages := 0

	for page, err := range c.Pages(ctx, startURL) {
		if err != nil {
			return nil, "", eris.Wrapf(err, "collector: page %d of %s", pages+1, startURL)
		}
		if pages == 0 {
			firstPage = page.HTML
		}
		pages++
		set.add(ListingLinks(page.Doc, page.URL)...)
	}

	c.logger.Debug("pages visited", zap.String("url", startURL), zap.Int("pages", pages))
	return set.items, firstPage, nil
}

var userIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`userId=(\d+)`),
	regexp.MustCompile(`"userId"\s*:\s*"?(\d+)`),
	regexp.MustCompile(`data-userid="(\d+)"`),
}

// FindUserID returns the seller user id embedded in a page, if any.
func FindUserID(html string) string {
	for _, re := range userIDPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1]
		}
	}
	return ""
}

// inventory looks up the seller's full inventory page. Failures are logged
// and yield nil.
func (c *Collector) inventory(ctx context.Context, sellerURL, firstPage string, links []string) []string {
	userID := FindUserID(firstPage)
	if userID == "" && len(links) > 0 {
		body, err := c.fetcher.Page(ctx, links[0], sellerURL)
		if err != nil {
			c.logger.Warn("inventory lookup: first listing failed", zap.String("url", links[0]), zap.Error(err))
			return nil
		}
		userID = FindUserID(body)
	}
	if userID == "" {
		c.logger.Debug("inventory lookup: no user id", zap.String("seller", sellerURL))
		return nil
	}

	inventoryURL := fmt.Sprintf(c.opts.InventoryURL, url.QueryEscape(userID))
	found, _, err := c.collectPages(ctx, inventoryURL)
	if err != nil {
		c.logger.Warn("inventory lookup failed", zap.String("url", inventoryURL), zap.Error(err))
		return nil
	}
	return found
}

// ListingLinks extracts absolute listing URLs from a profile page.
func ListingLinks(doc *goquery.Document, pageURL string) []string {
	base, _ := url.Parse(pageURL)
	set := newLinkSet()

	doc.Find("article[data-href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("data-href")
		set.add(resolve(base, href))
	})
	doc.Find(`a[href*="/s-anzeige/"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		set.add(resolve(base, href))
	})

	return set.items
}

var nextSelectors = []string{
	`link[rel="next"]`,
	`a[rel="next"]`,
	`a.pagination-next`,
	`.pagination-next a`,
}

// NextPage returns the absolute URL of the following page or "".
func NextPage(doc *goquery.Document, pageURL string) string {
	base, _ := url.Parse(pageURL)
	for _, sel := range nextSelectors {
		if href, ok := doc.Find(sel).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
			u, err := url.Parse(strings.TrimSpace(href))
			if err != nil {
				continue
			}
			if base != nil {
				u = base.ResolveReference(u)
			}
			u.Fragment = ""
			return u.String()
		}
	}
	return ""
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || !strings.Contains(href, "/s-anzeige/") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

type linkSet struct {
	seen  map[string]bool
	items []string
}

func newLinkSet() *linkSet {
	return &linkSet{seen: make(map[string]bool)}
}

func (s *linkSet) add(links ...string) {
	for _, l := range links {
		if l == "" || s.seen[l] {
			continue
		}
		s.seen[l] = true
		s.items = append(s.items, l)
	}
}
