package models

import (
	"time"
)

// Attribute is a column key for a value recognised in listing text.
type Attribute string

const (
	AttrFelgenhersteller         Attribute = "felgenhersteller"
	AttrReifenhersteller         Attribute = "reifenhersteller"
	AttrFelgenfarbe              Attribute = "felgenfarbe"
	AttrZollgroesse              Attribute = "zollgroesse"
	AttrLochkreis                Attribute = "lochkreis"
	AttrEinpresstiefeVorderachse Attribute = "einpresstiefe_vorderachse"
	AttrEinpresstiefeHinterachse Attribute = "einpresstiefe_hinterachse"
	AttrReifengroesseVorderachse Attribute = "reifengroesse_vorderachse"
	AttrReifengroesseHinterachse Attribute = "reifengroesse_hinterachse"
	AttrReifenbreiteVorderachse  Attribute = "reifenbreite_vorderachse"
	AttrReifenbreiteHinterachse  Attribute = "reifenbreite_hinterachse"
	AttrNabendurchmesser         Attribute = "nabendurchmesser"
	AttrReifensaison             Attribute = "reifensaison"
	AttrProfiltiefeVorderachse   Attribute = "profiltiefe_vorderachse"
	AttrProfiltiefeHinterachse   Attribute = "profiltiefe_hinterachse"
	AttrDOTVorderachse           Attribute = "dot_vorderachse"
	AttrDOTHinterachse           Attribute = "dot_hinterachse"
)

// Attributes lists the vocabulary in export column order.
var Attributes = []Attribute{
	AttrFelgenhersteller,
	AttrReifenhersteller,
	AttrFelgenfarbe,
	AttrZollgroesse,
	AttrLochkreis,
	AttrEinpresstiefeVorderachse,
	AttrEinpresstiefeHinterachse,
	AttrReifengroesseVorderachse,
	AttrReifengroesseHinterachse,
	AttrReifenbreiteVorderachse,
	AttrReifenbreiteHinterachse,
	AttrNabendurchmesser,
	AttrReifensaison,
	AttrProfiltiefeVorderachse,
	AttrProfiltiefeHinterachse,
	AttrDOTVorderachse,
	AttrDOTHinterachse,
}

func IsAttribute(name string) bool {
	for _, a := range Attributes {
		if string(a) == name {
			return true
		}
	}
	return false
}

type Listing struct {
	URL         string               `json:"url"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Attributes  map[Attribute]string `json:"attributes"`
	ImageURLs   []string             `json:"image_urls"`
}

// Attr returns the value for a, or "" when it was not recognised.
func (l Listing) Attr(a Attribute) string {
	if l.Attributes == nil {
		return ""
	}
	return l.Attributes[a]
}

type Image struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// ListingImages groups the downloaded images of one listing under Folder.
type ListingImages struct {
	ListingURL string  `json:"listing_url"`
	Folder     string  `json:"folder"`
	Images     []Image `json:"images"`
}

type FailureScope string

const (
	ScopeSeller  FailureScope = "seller"
	ScopeListing FailureScope = "listing"
	ScopeImage   FailureScope = "image"
)

type Failure struct {
	Scope   FailureScope `json:"scope"`
	URL     string       `json:"url"`
	Message string       `json:"message"`
}

func NewFailure(scope FailureScope, url string, err error) Failure {
	return Failure{Scope: scope, URL: url, Message: err.Error()}
}

// SellerSummary reports how one seller profile was processed.
type SellerSummary struct {
	URL      string `json:"url"`
	Found    int    `json:"found"`
	Parsed   int    `json:"parsed"`
	Failed   bool   `json:"failed"`
	ErrorMsg string `json:"error,omitempty"`
}

type RunResult struct {
	Sellers    []SellerSummary `json:"sellers"`
	Listings   []Listing       `json:"listings"`
	Images     []ListingImages `json:"images"`
	Failures   []Failure       `json:"failures"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`

	seen map[string]struct{}
}

func NewRunResult() *RunResult {
	return &RunResult{
		StartedAt: time.Now(),
		seen:      make(map[string]struct{}),
	}
}

// Has reports whether a listing with url was already added.
func (r *RunResult) Has(url string) bool {
	_, ok := r.seen[url]
	return ok
}

// AddListing appends l unless its URL is already present.
func (r *RunResult) AddListing(l Listing, images ListingImages) bool {
	if r.seen == nil {
		r.seen = make(map[string]struct{})
	}
	if _, ok := r.seen[l.URL]; ok {
		return false
	}
	r.seen[l.URL] = struct{}{}
	r.Listings = append(r.Listings, l)
	if len(images.Images) > 0 {
		r.Images = append(r.Images, images)
	}
	return true
}

func (r *RunResult) AddFailure(f Failure) {
	r.Failures = append(r.Failures, f)
}

func (r *RunResult) ImageCount() int {
	n := 0
	for _, li := range r.Images {
		n += len(li.Images)
	}
	return n
}
