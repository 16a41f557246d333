package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-projects/internal/jobs"
	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
)

// ErrLedgerUnbalanced fails an integrity run that found bad journals.
var ErrLedgerUnbalanced = errors.New("ledger integrity: unbalanced journals found")

// IntegrityVerifier is implemented by ledger.Engine.
type IntegrityVerifier interface {
	VerifyIntegrity(ctx context.Context) ([]ledger.IntegrityIssue, error)
}

// LedgerIntegrityJob handles TaskLedgerIntegrity.
type LedgerIntegrityJob struct {
	Verifier IntegrityVerifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewLedgerIntegrityJob initialises the integrity scan handler.
func NewLedgerIntegrityJob(verifier IntegrityVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Verifier: verifier, Logger: logger, Metrics: metrics}
}

// Handle runs the scan. Every offending journal is logged; the run fails
// without retry when any are found since a rerun would find the same rows.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Verifier == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() {
		err = tracker.End(err)
	}()
	logger := logOrDefault(j.Logger).With(slog.String("job", TaskLedgerIntegrity))

	issues, err := j.Verifier.VerifyIntegrity(ctx)
	if err != nil {
		logger.Error("ledger integrity scan failed", slog.Any("error", err))
		return err
	}
	j.Metrics.SetUnbalanced(len(issues))
	for _, issue := range issues {
		logger.Error("unbalanced journal",
			slog.String("journal_id", issue.JournalID.String()),
			slog.String("debit", issue.Debit.StringFixed(2)),
			slog.String("credit", issue.Credit.StringFixed(2)),
			slog.Int("lines", issue.Lines),
		)
	}
	if len(issues) > 0 {
		return fmt.Errorf("%w: %d: %w", ErrLedgerUnbalanced, len(issues), asynq.SkipRetry)
	}
	logger.Info("ledger integrity verified")
	return nil
}
