package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

// Sink receives a finished run so it can be forwarded elsewhere.
type Sink interface {
	Name() string
	Publish(ctx context.Context, runID string, result *models.RunResult) error
}

// Deliver hands result to every sink. Sink errors are logged and returned
// but do not affect the run.
func Deliver(ctx context.Context, runID string, result *models.RunResult, sinks []Sink, logger *zap.Logger) []error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, runID, result); err != nil {
			logger.Error("sink failed", zap.String("sink", s.Name()), zap.String("run_id", runID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		logger.Info("run delivered", zap.String("sink", s.Name()), zap.String("run_id", runID))
	}
	return errs
}
