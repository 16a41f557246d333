package wip

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/platform/db"
	"github.com/odyssey-erp/odyssey-projects/internal/projects"
)

// Notifier receives committed recalculations and manual adjustments.
type Notifier interface {
	SnapshotRecorded(ctx context.Context, result RecalcResult)
	JournalPosted(ctx context.Context, journal ledger.Journal)
}

// Service values projects and keeps the snapshot series.
type Service struct {
	repo     RepositoryPort
	ledger   *ledger.Engine
	cfg      Config
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the valuation service.
func NewService(repo RepositoryPort, engine *ledger.Engine, cfg Config, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultConfig().BatchTimeout
	}
	return &Service{repo: repo, ledger: engine, cfg: cfg, notifier: notifier, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Config exposes the active valuation settings.
func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) asOf(t time.Time) time.Time {
	if t.IsZero() {
		return civilDate(s.now())
	}
	return civilDate(t)
}

// Compute values a project from live data without persisting anything.
func (s *Service) Compute(ctx context.Context, projectID int64, asOf time.Time) (Computation, error) {
	var out Computation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		project, costs, billings, err := load(ctx, tx, projectID, false)
		if err != nil {
			return err
		}
		out = Compute(s.cfg, project, costs, billings, s.asOf(asOf))
		return nil
	})
	return out, err
}

func load(ctx context.Context, tx TxRepository, projectID int64, lock bool) (projects.Project, []projects.Cost, []projects.Billing, error) {
	get := tx.GetProject
	if lock {
		get = tx.LockProject
	}
	project, err := get(ctx, projectID)
	if err != nil {
		return projects.Project{}, nil, nil, err
	}
	costs, err := tx.ListCosts(ctx, projectID)
	if err != nil {
		return projects.Project{}, nil, nil, fmt.Errorf("list costs: %w", err)
	}
	billings, err := tx.ListBillings(ctx, projectID)
	if err != nil {
		return projects.Project{}, nil, nil, fmt.Errorf("list billings: %w", err)
	}
	return project, costs, billings, nil
}

// Recalculate recomputes a project, appends a snapshot and, when enabled,
// posts an adjustment for the change in WIP since the last snapshot that was
// booked to the ledger. All of it commits together.
func (s *Service) Recalculate(ctx context.Context, projectID int64, opts RecalcOptions) (RecalcResult, error) {
	var result RecalcResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = RecalcResult{}
		project, costs, billings, err := load(ctx, tx, projectID, true)
		if err != nil {
			return err
		}
		computation, err := ComputeWithTotals(s.cfg, project, costs, billings, s.asOf(opts.AsOf), opts.ReportedCosts, opts.ReportedBilled)
		if err != nil {
			return err
		}
		previous, err := tx.LatestSnapshot(ctx, projectID)
		if err != nil {
			return fmt.Errorf("latest snapshot: %w", err)
		}
		// Deltas within epsilon are not booked, so the ledger only tracks the
		// last adjusted snapshot. Diffing against it keeps small moves from
		// being lost.
		baseline := previous
		if s.cfg.PostAdjustments {
			baseline, err = tx.LatestAdjustedSnapshot(ctx, projectID)
			if err != nil {
				return fmt.Errorf("latest adjusted snapshot: %w", err)
			}
		}
		delta := computation.WipValue
		if baseline != nil {
			delta = computation.WipValue.Sub(baseline.WipValue)
		}
		snapshot := SnapshotOf(computation)
		if s.cfg.PostAdjustments {
			journal, err := s.postAdjustment(ctx, tx.Ledger(), projectID, delta, computation.AsOf, opts.Notes, opts.ActorID)
			if err != nil {
				return fmt.Errorf("wip adjustment for project %d: %w", projectID, err)
			}
			if journal != nil {
				snapshot.AdjustmentJournalID = &journal.ID
				result.Adjustment = journal
			}
		}
		stored, err := tx.InsertSnapshot(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		result.Snapshot = stored
		result.Previous = previous
		result.Delta = delta
		return nil
	})
	if err != nil {
		return RecalcResult{}, concurrent(err)
	}
	s.logger.Info("wip recalculated",
		slog.Int64("project_id", projectID),
		slog.String("wip", result.Snapshot.WipValue.StringFixed(2)),
		slog.String("delta", result.Delta.StringFixed(2)),
		slog.Int("risk", result.Snapshot.RiskScore),
		slog.Bool("adjusted", result.Adjustment != nil),
	)
	if s.notifier != nil {
		s.notifier.SnapshotRecorded(ctx, result)
	}
	return result, nil
}

// PostWipAdjustment books amount against WIP in its own transaction. Amounts
// within epsilon of zero post nothing and return nil.
func (s *Service) PostWipAdjustment(ctx context.Context, projectID int64, amount decimal.Decimal, notes string) (*ledger.Journal, error) {
	var journal *ledger.Journal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockProject(ctx, projectID); err != nil {
			return err
		}
		var err error
		journal, err = s.postAdjustment(ctx, tx.Ledger(), projectID, amount, s.asOf(time.Time{}), notes, nil)
		return err
	})
	if err != nil {
		return nil, concurrent(err)
	}
	if journal != nil && s.notifier != nil {
		s.notifier.JournalPosted(ctx, *journal)
	}
	return journal, nil
}

func concurrent(err error) error {
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %w", ErrConcurrentUpdate, err)
	}
	return err
}

func (s *Service) postAdjustment(ctx context.Context, tx ledger.TxRepository, projectID int64, amount decimal.Decimal, date time.Time, notes string, actor *int64) (*ledger.Journal, error) {
	if amount.Abs().LessThanOrEqual(s.cfg.Epsilon) {
		return nil, nil
	}
	project := projectID
	journal, err := s.ledger.PostJournalTx(ctx, tx, ledger.PostingInput{
		Date:        date,
		Description: fmt.Sprintf("WIP adjustment project #%d (%s)", projectID, amount.StringFixed(2)),
		Notes:       notes,
		Lines:       AdjustmentLines(s.ledger.Accounts(), amount),
		ProjectID:   &project,
		Source:      ledger.SourceRef{Type: ledger.SourceProject, ID: projectID},
		Kind:        ledger.KindWIPAdjustment,
		ActorID:     actor,
	})
	if err != nil {
		return nil, err
	}
	return &journal, nil
}

// RecordSnapshot appends a snapshot as given.
func (s *Service) RecordSnapshot(ctx context.Context, snapshot Snapshot) (Snapshot, error) {
	var stored Snapshot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetProject(ctx, snapshot.ProjectID); err != nil {
			return err
		}
		var err error
		stored, err = tx.InsertSnapshot(ctx, snapshot)
		return err
	})
	return stored, err
}

// RecalculateAll recalculates every active project one at a time. Each
// project runs in its own transaction and timeout; a failure is logged and
// the loop moves on.
func (s *Service) RecalculateAll(ctx context.Context, opts RecalcOptions) (BatchResult, error) {
	var ids []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ids, err = tx.ActiveProjectIDs(ctx)
		return err
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("list active projects: %w", err)
	}
	var result BatchResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.recalculateOne(ctx, id, opts); err != nil {
			s.logger.Error("wip recalculation failed",
				slog.Int64("project_id", id),
				slog.Any("error", err),
			)
			result.Failed = append(result.Failed, ProjectFailure{ProjectID: id, Err: err})
			continue
		}
		result.Processed = append(result.Processed, id)
	}
	s.logger.Info("wip batch finished",
		slog.Int("processed", len(result.Processed)),
		slog.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (s *Service) recalculateOne(ctx context.Context, id int64, opts RecalcOptions) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	defer cancel()
	_, err := s.Recalculate(ctx, id, RecalcOptions{AsOf: opts.AsOf, Notes: opts.Notes, ActorID: opts.ActorID})
	return err
}

// LatestSnapshots returns the most recent snapshot of every project.
func (s *Service) LatestSnapshots(ctx context.Context) ([]Snapshot, error) {
	var out []Snapshot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.LatestSnapshots(ctx)
		return err
	})
	return out, err
}

// AgingBuckets buckets the latest snapshots by project age.
func (s *Service) AgingBuckets(ctx context.Context) ([]Bucket, error) {
	latest, err := s.LatestSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	return AgingBuckets(latest), nil
}

// RiskBuckets buckets the latest snapshots by risk score.
func (s *Service) RiskBuckets(ctx context.Context) ([]Bucket, error) {
	latest, err := s.LatestSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	return RiskBuckets(latest), nil
}

// Trend returns a project's snapshots between from and to inclusive. Zero
// bounds are open.
func (s *Service) Trend(ctx context.Context, projectID int64, from, to time.Time) ([]TrendPoint, error) {
	var snapshots []Snapshot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}
		var err error
		snapshots, err = tx.Snapshots(ctx, projectID, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	return TrendOf(snapshots), nil
}
