package jobs

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/config"
	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
	"github.com/maltedev/kleinanzeigen-scraper/internal/pipeline"
)

var (
	ErrNotFound    = errors.New("run not found")
	ErrNotFinished = errors.New("run not finished")
	ErrQueueFull   = errors.New("run queue is full")
	ErrNoSellers   = errors.New("no seller URLs given")
	ErrBadDelay    = errors.New("delay out of range")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const maxMessages = 200

// Runner executes one scrape. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, sellers []string, progress func(pipeline.Progress)) (*models.RunResult, error)
}

// RunnerFactory builds a Runner for the delay requested by a run.
type RunnerFactory func(delay time.Duration) (Runner, error)

type Message struct {
	Time  time.Time      `json:"time"`
	Level pipeline.Level `json:"level"`
	Text  string         `json:"text"`
}

// Run represents a scraping run requested through the web form or API
type Run struct {
	ID            string        `json:"id"`
	Sellers       []string      `json:"sellers"`
	Delay         time.Duration `json:"delay"`
	Status        Status        `json:"status"`
	Progress      float64       `json:"progress"`
	SellerIndex   int           `json:"seller_index"`
	ListingIndex  int           `json:"listing_index"`
	ListingTotal  int           `json:"listing_total"`
	ListingsFound int           `json:"listings_found"`
	ImagesFound   int           `json:"images_found"`
	FailureCount  int           `json:"failure_count"`
	Messages      []Message     `json:"messages"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Error         string        `json:"error,omitempty"`

	result *models.RunResult
}

// Finished reports whether the run reached a terminal status.
func (r *Run) Finished() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

func (r *Run) snapshot() *Run {
	cp := *r
	cp.Sellers = append([]string(nil), r.Sellers...)
	cp.Messages = append([]Message(nil), r.Messages...)
	return &cp
}

type Options struct {
	QueueSize int
	ResultTTL time.Duration
}

// Manager keeps runs in memory and executes them one at a time.
type Manager struct {
	mu      sync.RWMutex
	runs    map[string]*Run
	queue   chan string
	factory RunnerFactory
	sinks   []pipeline.Sink
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func NewManager(factory RunnerFactory, opts Options, sinks []pipeline.Sink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	return &Manager{
		runs:    make(map[string]*Run),
		queue:   make(chan string, opts.QueueSize),
		factory: factory,
		sinks:   sinks,
		opts:    opts,
		logger:  logger.With(zap.String("component", "run_manager")),
		now:     time.Now,
	}
}

// CreateRun queues a run for the given seller URLs.
func (m *Manager) CreateRun(sellers []string, delay time.Duration) (*Run, error) {
	sellers = pipeline.NormalizeSellers(sellers)
	if len(sellers) == 0 {
		return nil, ErrNoSellers
	}
	if delay < 0 || delay > config.MaxDelay {
		return nil, ErrBadDelay
	}

	run := &Run{
		ID:        uuid.New().String(),
		Sellers:   sellers,
		Delay:     delay,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case m.queue <- run.ID:
	default:
		return nil, ErrQueueFull
	}
	m.runs[run.ID] = run

	m.logger.Info("run created", zap.String("id", run.ID), zap.Int("sellers", len(sellers)), zap.Duration("delay", delay))
	return run.snapshot(), nil
}

func (m *Manager) GetRun(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return run.snapshot(), nil
}

// ListRuns returns all known runs, newest first.
func (m *Manager) ListRuns() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r.snapshot())
	}
	slices.SortFunc(out, func(a, b *Run) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Result returns the output of a finished run. Runs that failed before
// producing anything return ErrNotFinished.
func (m *Manager) Result(id string) (*models.RunResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !run.Finished() || run.result == nil {
		return nil, ErrNotFinished
	}
	return run.result, nil
}

// StartJanitor drops finished runs older than ResultTTL.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if m.opts.ResultTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *Manager) evictExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.opts.ResultTTL)
	n := 0
	for id, r := range m.runs {
		if r.Finished() && r.CompletedAt != nil && r.CompletedAt.Before(cutoff) {
			delete(m.runs, id)
			n++
		}
	}
	if n > 0 {
		m.logger.Info("expired runs removed", zap.Int("count", n))
	}
	return n
}
