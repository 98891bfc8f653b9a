package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
	"github.com/maltedev/kleinanzeigen-scraper/internal/pipeline"
)

// StartWorker processes queued runs until ctx is done.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("run worker started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("run worker stopping")
			return
		case id := <-m.queue:
			m.processRun(ctx, id)
		}
	}
}

func (m *Manager) processRun(ctx context.Context, id string) {
	m.mu.Lock()
	run, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	started := m.now()
	run.Status = StatusRunning
	run.StartedAt = &started
	sellers := append([]string(nil), run.Sellers...)
	delay := run.Delay
	m.mu.Unlock()

	m.logger.Info("processing run", zap.String("id", id), zap.Int("sellers", len(sellers)))

	runner, err := m.factory(delay)
	if err != nil {
		m.finish(id, nil, err)
		return
	}

	result, err := runner.Run(ctx, sellers, func(p pipeline.Progress) { m.updateProgress(id, p) })
	m.finish(id, result, err)

	if err == nil && len(m.sinks) > 0 {
		pipeline.Deliver(ctx, id, result, m.sinks, m.logger)
	}
}

func (m *Manager) updateProgress(id string, p pipeline.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return
	}
	run.Progress = p.Fraction()
	run.SellerIndex = p.SellerIndex
	run.ListingIndex = p.ListingIndex
	run.ListingTotal = p.ListingTotal
	if p.Message != "" {
		run.Messages = append(run.Messages, Message{Time: m.now(), Level: p.Level, Text: p.Message})
		if len(run.Messages) > maxMessages {
			run.Messages = run.Messages[len(run.Messages)-maxMessages:]
		}
	}
}

func (m *Manager) finish(id string, result *models.RunResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return
	}
	completed := m.now()
	run.CompletedAt = &completed
	run.result = result

	if result != nil {
		run.ListingsFound = len(result.Listings)
		run.ImagesFound = result.ImageCount()
		run.FailureCount = len(result.Failures)
	}

	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		m.logger.Error("run failed", zap.String("id", id), zap.Error(err))
		return
	}

	run.Status = StatusCompleted
	run.Progress = 1
	m.logger.Info("run completed",
		zap.String("id", id),
		zap.Int("listings", run.ListingsFound),
		zap.Int("images", run.ImagesFound),
	)
}
