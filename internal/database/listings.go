package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

const listingsTable = "scraped_listings"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scraped_listings (
	run_id      TEXT        NOT NULL,
	url         TEXT        NOT NULL,
	title       TEXT        NOT NULL DEFAULT '',
	description TEXT        NOT NULL DEFAULT '',
	attributes  JSONB       NOT NULL DEFAULT '{}'::jsonb,
	image_urls  TEXT[]      NOT NULL DEFAULT '{}',
	scraped_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, url)
);
CREATE INDEX IF NOT EXISTS scraped_listings_url_idx ON scraped_listings (url);
`

var listingColumns = []string{"run_id", "url", "title", "description", "attributes", "image_urls", "scraped_at"}

// ListingStore persists run results. It implements pipeline.Sink.
type ListingStore struct {
	pool   Pool
	logger *zap.Logger
	now    func() time.Time
}

func NewListingStore(pool Pool, logger *zap.Logger) *ListingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "listing_store")),
		now:    time.Now,
	}
}

func (s *ListingStore) Name() string { return "postgres" }

func (s *ListingStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return eris.Wrap(err, "database: ensure schema")
	}
	return nil
}

func (s *ListingStore) Publish(ctx context.Context, runID string, result *models.RunResult) error {
	_, err := s.SaveRun(ctx, runID, result.Listings)
	return err
}

// SaveRun replaces the stored listings of runID with listings.
func (s *ListingStore) SaveRun(ctx context.Context, runID string, listings []models.Listing) (int64, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	scrapedAt := s.now()
	rows := make([][]any, 0, len(listings))
	for _, l := range listings {
		attrs := make(map[string]string, len(l.Attributes))
		for k, v := range l.Attributes {
			if v != "" {
				attrs[string(k)] = v
			}
		}
		images := l.ImageURLs
		if images == nil {
			images = []string{}
		}
		rows = append(rows, []any{runID, l.URL, l.Title, l.Description, attrs, images, scrapedAt})
	}

	var n int64
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM scraped_listings WHERE run_id = $1`, runID); err != nil {
			return eris.Wrapf(err, "database: clear run %s", runID)
		}
		var err error
		n, err = tx.CopyFrom(ctx, pgx.Identifier{listingsTable}, listingColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return eris.Wrapf(err, "database: COPY INTO %s", listingsTable)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("listings saved", zap.String("run_id", runID), zap.Int64("rows", n))
	return n, nil
}

// RunURLs returns the listing URLs stored for runID, sorted. The stored
// command prints them.
func (s *ListingStore) RunURLs(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT url FROM scraped_listings WHERE run_id = $1 ORDER BY url`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "database: query run %s", runID)
	}
	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrapf(err, "database: scan run %s", runID)
	}
	return urls, nil
}
