// Package export writes run results as CSV, XLSX and ZIP archives.
package export

import (
	"strings"

	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

const (
	ColumnURL         = "url"
	ColumnTitle       = "title"
	ColumnDescription = "description"
	ColumnImageURLs   = "image_urls"

	imageSeparator = ";"
)

// Default file names offered for download.
const (
	CSVFileName  = "kleinanzeigen_daten.csv"
	XLSXFileName = "kleinanzeigen_daten.xlsx"
	ZIPFileName  = "kleinanzeigen_bilder.zip"
)

// Columns returns the table header: fixed fields, the attribute vocabulary
// in order, then image URLs.
func Columns() []string {
	cols := []string{ColumnURL, ColumnTitle, ColumnDescription}
	for _, a := range models.Attributes {
		cols = append(cols, string(a))
	}
	return append(cols, ColumnImageURLs)
}

// Row renders l in Columns order. Missing attributes are empty.
func Row(l models.Listing) []string {
	row := []string{l.URL, l.Title, l.Description}
	for _, a := range models.Attributes {
		row = append(row, l.Attr(a))
	}
	return append(row, strings.Join(l.ImageURLs, imageSeparator))
}

// FromRow rebuilds a Listing from a record keyed by header.
func FromRow(header, record []string) models.Listing {
	l := models.Listing{Attributes: make(map[models.Attribute]string, len(models.Attributes))}
	for _, a := range models.Attributes {
		l.Attributes[a] = ""
	}

	for i, col := range header {
		if i >= len(record) {
			break
		}
		v := record[i]
		switch col {
		case ColumnURL:
			l.URL = v
		case ColumnTitle:
			l.Title = v
		case ColumnDescription:
			l.Description = v
		case ColumnImageURLs:
			if v != "" {
				l.ImageURLs = strings.Split(v, imageSeparator)
			}
		default:
			if models.IsAttribute(col) {
				l.Attributes[models.Attribute(col)] = v
			}
		}
	}
	return l
}
