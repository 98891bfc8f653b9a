package parser

import (
	"encoding/json"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

// ImagePathMarker identifies listing photos on the image CDN.
const ImagePathMarker = "/api/v1/prod-ads/images/"

var descriptionSelectors = []string{
	"#viewad-description-text",
	"#viewad-description",
	"#vip-ad-description",
	"[data-testid='description']",
	"section[data-testid='ad-description']",
}

type ListingParser struct {
	extractor *Extractor
}

func NewListingParser() *ListingParser {
	return &ListingParser{extractor: NewExtractor()}
}

func (p *ListingParser) Parse(pageURL, page string) models.Listing {
	listing := models.Listing{URL: pageURL}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		listing.Attributes = p.extractor.Extract(NewText("", ""))
		return listing
	}

	listing.Title = p.extractTitle(doc)
	listing.Description = p.extractDescription(doc)
	listing.ImageURLs = p.extractImages(doc, pageURL)
	listing.Attributes = p.extractor.Extract(NewText(listing.Title, listing.Description))

	return listing
}

func (p *ListingParser) extractTitle(doc *goquery.Document) string {
	for _, sel := range []string{"h1", "h2", "title"} {
		var title string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			title = strings.Join(strings.Fields(s.Text()), " ")
			return title == ""
		})
		if title != "" {
			return title
		}
	}
	return ""
}

func (p *ListingParser) extractDescription(doc *goquery.Document) string {
	for _, sel := range descriptionSelectors {
		if text := blockText(doc.Find(sel).First()); text != "" {
			return text
		}
	}

	var text string
	doc.Find("h2, h3, h4").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !strings.Contains(h.Text(), "Beschreibung") {
			return true
		}
		parent := h.Parent()
		if !parent.Is("section, div") {
			return true
		}
		text = blockText(h.NextAll())
		return text == ""
	})
	return text
}

func (p *ListingParser) extractImages(doc *goquery.Document, pageURL string) []string {
	base, _ := url.Parse(pageURL)
	seen := make(map[string]bool)
	var images []string

	add := func(raw string) {
		u := cleanImageURL(base, raw)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		images = append(images, u)
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"src", "data-imgsrc", "data-src"} {
			if v, ok := s.Attr(attr); ok && strings.Contains(v, ImagePathMarker) {
				add(v)
			}
		}
		if srcset, ok := s.Attr("srcset"); ok {
			for _, candidate := range strings.Split(srcset, ",") {
				fields := strings.Fields(candidate)
				if len(fields) > 0 && strings.Contains(fields[0], ImagePathMarker) {
					add(fields[0])
				}
			}
		}
	})

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return
		}
		for _, u := range jsonLDImages(data) {
			add(u)
		}
	})

	return images
}

// jsonLDImages collects ImageObject contentUrl values and listing image
// fields from decoded JSON-LD.
func jsonLDImages(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			out = append(out, jsonLDImages(item)...)
		}
	case map[string]any:
		if typ, _ := t["@type"].(string); typ == "ImageObject" {
			if u, ok := t["contentUrl"].(string); ok && strings.Contains(u, ImagePathMarker) {
				out = append(out, u)
			}
		}
		if img, ok := t["image"]; ok {
			out = append(out, imageField(img)...)
		}
		for _, k := range slices.Sorted(maps.Keys(t)) {
			if k == "image" {
				continue
			}
			switch t[k].(type) {
			case map[string]any, []any:
				out = append(out, jsonLDImages(t[k])...)
			}
		}
	}
	return out
}

func imageField(v any) []string {
	switch i := v.(type) {
	case string:
		if strings.Contains(i, ImagePathMarker) {
			return []string{i}
		}
	case []any:
		var out []string
		for _, item := range i {
			out = append(out, imageField(item)...)
		}
		return out
	case map[string]any:
		return jsonLDImages(i)
	}
	return nil
}

func cleanImageURL(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}
	u, err := url.Parse(raw)
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

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "li": true,
	"ul": true, "ol": true, "tr": true, "table": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "dd": true, "dt": true,
}

// blockText returns the text of sel with a line break at every block
// element and <br>, trimmed line by line.
func blockText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch {
			case n.Data == "br":
				b.WriteByte('\n')
				return
			case n.Data == "script" || n.Data == "style":
				return
			case blockElements[n.Data]:
				b.WriteByte('\n')
				defer b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

var _ Parser = (*ListingParser)(nil)
