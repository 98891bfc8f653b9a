package export

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

// Preview renders the first limit listings as a compact table. A limit of
// zero or less renders all of them.
func Preview(listings []models.Listing, limit int) string {
	return previewTable(listings, limit).Render()
}

// PreviewHTML renders the same table as an escaped HTML fragment.
func PreviewHTML(listings []models.Listing, limit int) string {
	t := previewTable(listings, limit)
	t.Style().HTML.CSSClass = "preview"
	return t.RenderHTML()
}

func previewTable(listings []models.Listing, limit int) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"#", "Titel", "Felge", "Zoll", "LK", "ET VA/HA", "Reifen VA", "Bilder"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 40, WidthMaxEnforcer: text.Trim},
	})

	shown := listings
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for i, l := range shown {
		t.AppendRow(table.Row{
			i + 1,
			l.Title,
			l.Attr(models.AttrFelgenhersteller),
			l.Attr(models.AttrZollgroesse),
			l.Attr(models.AttrLochkreis),
			axles(l.Attr(models.AttrEinpresstiefeVorderachse), l.Attr(models.AttrEinpresstiefeHinterachse)),
			l.Attr(models.AttrReifengroesseVorderachse),
			len(l.ImageURLs),
		})
	}
	if len(shown) < len(listings) {
		t.AppendFooter(table.Row{"", fmt.Sprintf("… %d weitere", len(listings)-len(shown))})
	}

	return t
}

func axles(front, rear string) string {
	switch {
	case front == "" && rear == "":
		return ""
	case rear == "":
		return front
	}
	return front + "/" + rear
}
