package export

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

// WriteCSV writes one row per listing with a header row.
func WriteCSV(w io.Writer, listings []models.Listing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns()); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, l := range listings {
		if err := cw.Write(Row(l)); err != nil {
			return eris.Wrapf(err, "export: write csv row %s", l.URL)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// ReadCSV parses a file written by WriteCSV. Columns are matched by header
// name, unknown columns are ignored.
func ReadCSV(r io.Reader) ([]models.Listing, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, eris.New("export: empty csv")
	}
	if err != nil {
		return nil, eris.Wrap(err, "export: read csv header")
	}
	for i := range header {
		header[i] = strings.TrimPrefix(strings.TrimSpace(header[i]), "\ufeff")
	}

	var listings []models.Listing
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "export: read csv row")
		}
		listings = append(listings, FromRow(header, record))
	}
	return listings, nil
}
