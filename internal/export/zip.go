package export

import (
	"archive/zip"
	"io"
	"path"
	"time"

	"github.com/rotisserie/eris"

	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

// WriteZIP stores every image under a folder named after its listing.
func WriteZIP(w io.Writer, groups []models.ListingImages) error {
	zw := zip.NewWriter(w)
	now := time.Now()

	for _, g := range groups {
		for _, img := range g.Images {
			fw, err := zw.CreateHeader(&zip.FileHeader{
				Name:     path.Join(g.Folder, img.Name),
				Method:   zip.Deflate,
				Modified: now,
			})
			if err != nil {
				return eris.Wrapf(err, "export: zip entry %s", img.Name)
			}
			if _, err := fw.Write(img.Data); err != nil {
				return eris.Wrapf(err, "export: zip write %s", img.Name)
			}
		}
	}

	return eris.Wrap(zw.Close(), "export: close zip")
}
