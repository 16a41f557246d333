package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-projects/internal/jobs"
	"github.com/odyssey-erp/odyssey-projects/internal/projects"
	"github.com/odyssey-erp/odyssey-projects/internal/wip"
)

// WIPRecalculator is the part of wip.Service the job drives.
type WIPRecalculator interface {
	Recalculate(ctx context.Context, projectID int64, opts wip.RecalcOptions) (wip.RecalcResult, error)
	RecalculateAll(ctx context.Context, opts wip.RecalcOptions) (wip.BatchResult, error)
}

// WIPRecalculateJob handles TaskWIPRecalculate.
type WIPRecalculateJob struct {
	Service WIPRecalculator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewWIPRecalculateJob initialises the recalculation handler.
func NewWIPRecalculateJob(service WIPRecalculator, logger *slog.Logger, metrics *jobmetrics.Metrics) *WIPRecalculateJob {
	return &WIPRecalculateJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle recalculates one project, or every active project when the payload
// carries no project id. Per-project failures inside a batch are counted and
// logged by the service; they do not fail the run.
func (j *WIPRecalculateJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("wip recalculate: handler not configured")
	}
	var payload WIPRecalculatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("wip recalculate: decode payload: %w", asynq.SkipRetry)
	}
	asOf, err := payload.asOf()
	if err != nil {
		return fmt.Errorf("wip recalculate: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskWIPRecalculate)
	defer func() {
		err = tracker.End(err)
	}()
	logger := logOrDefault(j.Logger).With(slog.String("job", TaskWIPRecalculate))
	opts := wip.RecalcOptions{AsOf: asOf, Notes: "scheduled recalculation"}

	if payload.All() {
		result, err := j.Service.RecalculateAll(ctx, opts)
		j.Metrics.ObserveBatch(len(result.Processed), len(result.Failed))
		if err != nil {
			logger.Error("wip batch aborted", slog.Any("error", err))
			return err
		}
		if len(result.Failed) > 0 {
			logger.Warn("wip batch finished with failures",
				slog.Int("processed", len(result.Processed)),
				slog.Int("failed", len(result.Failed)),
			)
		}
		return nil
	}

	logger = logger.With(slog.Int64("project_id", payload.ProjectID))
	result, err := j.Service.Recalculate(ctx, payload.ProjectID, opts)
	if err != nil {
		if errors.Is(err, projects.ErrProjectNotFound) {
			logger.Warn("wip recalculation skipped", slog.Any("error", err))
			return fmt.Errorf("wip recalculate: %v: %w", err, asynq.SkipRetry)
		}
		logger.Error("wip recalculation failed", slog.Any("error", err))
		return err
	}
	logger.Info("wip recalculated",
		slog.String("wip_value", result.Snapshot.WipValue.StringFixed(2)),
		slog.String("delta", result.Delta.StringFixed(2)),
	)
	return nil
}

func logOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
