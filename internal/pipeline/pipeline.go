// Package pipeline drives collection, parsing and image download for a list
// of seller profiles, one request at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/fetcher"
	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
	"github.com/maltedev/kleinanzeigen-scraper/internal/parser"
)

var (
	ErrNoSellers        = errors.New("no seller URLs given")
	ErrAllSellersFailed = errors.New("all sellers failed")
)

type ListingCollector interface {
	Collect(ctx context.Context, sellerURL string) ([]string, error)
}

type ImageRetriever interface {
	RetrieveAll(ctx context.Context, l models.Listing) (models.ListingImages, []models.Failure)
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Progress is reported after every step of a run.
type Progress struct {
	SellerIndex  int
	SellerTotal  int
	Seller       string
	ListingIndex int
	ListingTotal int
	Listing      string
	Level        Level
	Message      string
}

// Fraction estimates overall completion in [0, 1].
func (p Progress) Fraction() float64 {
	if p.SellerTotal == 0 {
		return 0
	}
	done := float64(p.SellerIndex)
	if p.ListingTotal > 0 {
		done += float64(p.ListingIndex) / float64(p.ListingTotal)
	}
	f := done / float64(p.SellerTotal)
	if f > 1 {
		return 1
	}
	return f
}

type Pipeline struct {
	fetcher   fetcher.Fetcher
	collector ListingCollector
	parser    parser.Parser
	retriever ImageRetriever
	logger    *zap.Logger
}

func New(f fetcher.Fetcher, c ListingCollector, p parser.Parser, r ImageRetriever, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:   f,
		collector: c,
		parser:    p,
		retriever: r,
		logger:    logger.With(zap.String("component", "pipeline")),
	}
}

// NormalizeSellers trims input lines and drops blanks, comments and repeats.
func NormalizeSellers(lines []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return out
}

// Run processes sellers in order. Seller, listing and image failures are
// recorded in the result and never stop the others. Run returns an error
// when ctx is done or when no seller could be collected at all.
func (p *Pipeline) Run(ctx context.Context, sellers []string, progress func(Progress)) (*models.RunResult, error) {
	sellers = NormalizeSellers(sellers)
	if len(sellers) == 0 {
		return nil, ErrNoSellers
	}
	if progress == nil {
		progress = func(Progress) {}
	}

	result := models.NewRunResult()
	failed := 0

	for i, seller := range sellers {
		if err := ctx.Err(); err != nil {
			result.FinishedAt = time.Now()
			return result, eris.Wrap(err, "pipeline: run cancelled")
		}

		summary := p.runSeller(ctx, i, len(sellers), seller, result, progress)
		result.Sellers = append(result.Sellers, summary)
		if summary.Failed {
			failed++
		}

		if err := ctx.Err(); err != nil {
			result.FinishedAt = time.Now()
			return result, eris.Wrap(err, "pipeline: run cancelled")
		}
	}

	result.FinishedAt = time.Now()

	progress(Progress{
		SellerIndex: len(sellers),
		SellerTotal: len(sellers),
		Level:       LevelInfo,
		Message:     fmt.Sprintf("Fertig: %d Anzeigen, %d Bilder, %d Fehler", len(result.Listings), result.ImageCount(), len(result.Failures)),
	})

	p.logger.Info("run finished",
		zap.Int("sellers", len(sellers)),
		zap.Int("listings", len(result.Listings)),
		zap.Int("images", result.ImageCount()),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)

	if failed == len(sellers) {
		return result, eris.Wrapf(ErrAllSellersFailed, "pipeline: %s", result.Sellers[0].ErrorMsg)
	}
	return result, nil
}

func (p *Pipeline) runSeller(ctx context.Context, idx, total int, seller string, result *models.RunResult, progress func(Progress)) models.SellerSummary {
	summary := models.SellerSummary{URL: seller}
	base := Progress{SellerIndex: idx, SellerTotal: total, Seller: seller}

	report := func(level Level, listingIdx, listingTotal int, listing, msg string) {
		pr := base
		pr.Level, pr.ListingIndex, pr.ListingTotal, pr.Listing, pr.Message = level, listingIdx, listingTotal, listing, msg
		progress(pr)
	}

	report(LevelInfo, 0, 0, "", fmt.Sprintf("Verkäufer %d/%d: Anzeigen werden gesammelt", idx+1, total))

	links, err := p.collector.Collect(ctx, seller)
	if err != nil {
		p.logger.Error("seller failed", zap.String("seller", seller), zap.Error(err))
		result.AddFailure(models.NewFailure(models.ScopeSeller, seller, err))
		summary.Failed = true
		summary.ErrorMsg = err.Error()
		report(LevelError, 0, 0, "", fmt.Sprintf("Fehler bei Verkäufer %s: %v", seller, err))
		return summary
	}

	summary.Found = len(links)
	report(LevelInfo, 0, len(links), "", fmt.Sprintf("Verkäufer %d/%d: %d Anzeigen gefunden", idx+1, total, len(links)))

	for j, link := range links {
		if ctx.Err() != nil {
			return summary
		}
		if result.Has(link) {
			p.logger.Debug("listing already collected", zap.String("url", link))
			continue
		}

		page, err := p.fetcher.Page(ctx, link, seller)
		if err != nil {
			if ctx.Err() != nil {
				return summary
			}
			p.logger.Warn("listing failed", zap.String("url", link), zap.Error(err))
			result.AddFailure(models.NewFailure(models.ScopeListing, link, err))
			report(LevelWarn, j+1, len(links), link, fmt.Sprintf("Anzeige übersprungen: %s (%v)", link, err))
			continue
		}

		listing := p.parser.Parse(link, page)
		images, failures := p.retriever.RetrieveAll(ctx, listing)
		for _, f := range failures {
			result.AddFailure(f)
		}

		result.AddListing(listing, images)
		summary.Parsed++

		report(LevelInfo, j+1, len(links), link, fmt.Sprintf("Anzeige %d/%d: %s (%d Bilder)", j+1, len(links), listing.Title, len(images.Images)))
	}

	return summary
}
