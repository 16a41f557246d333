// Package wip values work in progress: earned value not yet billed.
package wip

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
)

// Config tunes the valuation.
type Config struct {
	// ExpectedCostRatio is the share of contract value expected to be spent
	// as cost at completion.
	ExpectedCostRatio decimal.Decimal
	// Epsilon is the tolerance for reported totals and adjustment deltas.
	Epsilon         decimal.Decimal
	PostAdjustments bool
	BatchTimeout    time.Duration
}

// DefaultConfig returns the standard valuation settings.
func DefaultConfig() Config {
	return Config{
		ExpectedCostRatio: decimal.RequireFromString("0.70"),
		Epsilon:           decimal.RequireFromString("0.01"),
		PostAdjustments:   true,
		BatchTimeout:      20 * time.Second,
	}
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	if !c.ExpectedCostRatio.IsPositive() || c.ExpectedCostRatio.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("wip: expected cost ratio must be in (0, 1]")
	}
	if c.Epsilon.IsNegative() {
		return errors.New("wip: epsilon must not be negative")
	}
	return nil
}

// Computation is the valuation of a project at a date.
type Computation struct {
	ProjectID     int64
	AsOf          time.Time
	TotalCosts    decimal.Decimal
	TotalBilled   decimal.Decimal
	CompletionPct decimal.Decimal
	EarnedValue   decimal.Decimal
	WipValue      decimal.Decimal
	RiskScore     int
	AgeDays       int
}

// Snapshot is a persisted computation. Snapshots are append-only.
type Snapshot struct {
	ID                  int64
	ProjectID           int64
	Date                time.Time
	TotalCost           decimal.Decimal
	TotalBilled         decimal.Decimal
	CompletionPct       decimal.Decimal
	EarnedValue         decimal.Decimal
	WipValue            decimal.Decimal
	RiskScore           int
	AgeDays             int
	AdjustmentJournalID *uuid.UUID
	CreatedAt           time.Time
}

// SnapshotOf converts a computation into an unsaved snapshot.
func SnapshotOf(c Computation) Snapshot {
	return Snapshot{
		ProjectID:     c.ProjectID,
		Date:          c.AsOf,
		TotalCost:     c.TotalCosts,
		TotalBilled:   c.TotalBilled,
		CompletionPct: c.CompletionPct,
		EarnedValue:   c.EarnedValue,
		WipValue:      c.WipValue,
		RiskScore:     c.RiskScore,
		AgeDays:       c.AgeDays,
	}
}

// RecalcOptions tunes a single project recalculation.
type RecalcOptions struct {
	AsOf time.Time
	// ReportedCosts and ReportedBilled are caller totals checked against the
	// recomputed sums.
	ReportedCosts  *decimal.Decimal
	ReportedBilled *decimal.Decimal
	Notes          string
	ActorID        *int64
}

// RecalcResult describes a committed recalculation.
type RecalcResult struct {
	Snapshot   Snapshot
	Previous   *Snapshot
	Delta      decimal.Decimal
	Adjustment *ledger.Journal
}

// ProjectFailure records one failed project in a batch.
type ProjectFailure struct {
	ProjectID int64
	Err       error
}

// BatchResult summarises a batch recalculation.
type BatchResult struct {
	Processed []int64
	Failed    []ProjectFailure
}

// Bucket aggregates latest snapshots.
type Bucket struct {
	Label    string
	Projects int
	WipTotal decimal.Decimal
}

// TrendPoint is one snapshot on a project's time series.
type TrendPoint struct {
	Date          time.Time
	CompletionPct decimal.Decimal
	EarnedValue   decimal.Decimal
	TotalBilled   decimal.Decimal
	WipValue      decimal.Decimal
	RiskScore     int
}
