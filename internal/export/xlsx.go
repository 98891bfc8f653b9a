package export

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

const (
	SheetName    = "Anzeigen"
	maxCellChars = 32767
)

// WriteXLSX writes the same table as WriteCSV into a single sheet.
func WriteXLSX(w io.Writer, listings []models.Listing) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow(sheet, Columns())
	for _, l := range listings {
		addRow(sheet, Row(l))
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		if len(v) > maxCellChars {
			v = strings.ToValidUTF8(v[:maxCellChars], "")
		}
		row.AddCell().SetString(v)
	}
}
