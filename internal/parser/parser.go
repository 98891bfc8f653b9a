package parser

import (
	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

// Parser turns a listing page into a Listing. Parsing never fails: missing
// structure yields empty fields.
type Parser interface {
	Parse(pageURL, html string) models.Listing
}
