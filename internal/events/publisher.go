// Package events publishes scrape results to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

type EventType string

const (
	EventListingScraped EventType = "listing.scraped"
	EventRunCompleted   EventType = "run.completed"
)

const source = "kleinanzeigen-scraper"

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// ListingScrapedPayload is published once per listing.
type ListingScrapedPayload struct {
	EventID    string            `json:"event_id"`
	EventType  EventType         `json:"event_type"`
	Timestamp  time.Time         `json:"timestamp"`
	RunID      string            `json:"run_id"`
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	Attributes map[string]string `json:"attributes"`
	ImageURLs  []string          `json:"image_urls"`
}

// RunCompletedPayload is published once per run after all listings.
type RunCompletedPayload struct {
	EventID   string                 `json:"event_id"`
	EventType EventType              `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Sellers   []models.SellerSummary `json:"sellers"`
	Listings  int                    `json:"listings"`
	Images    int                    `json:"images"`
	Failures  int                    `json:"failures"`
	Duration  string                 `json:"duration"`
}

// Publisher writes run results to a Redis stream. It implements pipeline.Sink.
type Publisher struct {
	redis  RedisClient
	stream string
	logger *zap.Logger
	now    func() time.Time
}

func NewPublisher(client RedisClient, stream string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		redis:  client,
		stream: stream,
		logger: logger.With(zap.String("component", "event_publisher")),
		now:    time.Now,
	}
}

func (p *Publisher) Name() string { return "redis:" + p.stream }

// Publish adds one entry per listing and a closing run entry. It stops at
// the first failed XAdd.
func (p *Publisher) Publish(ctx context.Context, runID string, result *models.RunResult) error {
	for _, l := range result.Listings {
		attrs := make(map[string]string, len(l.Attributes))
		for k, v := range l.Attributes {
			if v != "" {
				attrs[string(k)] = v
			}
		}
		payload := ListingScrapedPayload{
			EventID:    uuid.New().String(),
			EventType:  EventListingScraped,
			Timestamp:  p.now(),
			RunID:      runID,
			URL:        l.URL,
			Title:      l.Title,
			Attributes: attrs,
			ImageURLs:  l.ImageURLs,
		}
		if err := p.add(ctx, payload.EventID, EventListingScraped, runID, payload); err != nil {
			return err
		}
	}

	payload := RunCompletedPayload{
		EventID:   uuid.New().String(),
		EventType: EventRunCompleted,
		Timestamp: p.now(),
		RunID:     runID,
		Sellers:   result.Sellers,
		Listings:  len(result.Listings),
		Images:    result.ImageCount(),
		Failures:  len(result.Failures),
		Duration:  result.FinishedAt.Sub(result.StartedAt).String(),
	}
	if err := p.add(ctx, payload.EventID, EventRunCompleted, runID, payload); err != nil {
		return err
	}

	p.logger.Info("run published",
		zap.String("run_id", runID),
		zap.String("stream", p.stream),
		zap.Int("listings", len(result.Listings)),
	)
	return nil
}

func (p *Publisher) add(ctx context.Context, eventID string, eventType EventType, runID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "events: marshal payload")
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"data":       string(data),
			"event_id":   eventID,
			"event_type": string(eventType),
			"run_id":     runID,
			"source":     source,
			"timestamp":  fmt.Sprintf("%d", p.now().UnixNano()),
		},
	}

	if _, err := p.redis.XAdd(ctx, args).Result(); err != nil {
		return eris.Wrapf(err, "events: publish %s to %s", eventType, p.stream)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.redis.Close()
}
