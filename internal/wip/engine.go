package wip

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/projects"
)

var hundred = decimal.NewFromInt(100)

// Compute values a project from its costs and billings. Every cost counts
// towards exposure regardless of status; rejected billings are not billed.
func Compute(cfg Config, project projects.Project, costs []projects.Cost, billings []projects.Billing, asOf time.Time) Computation {
	totalCosts := decimal.Zero
	for _, c := range costs {
		totalCosts = totalCosts.Add(c.Amount)
	}
	totalBilled := decimal.Zero
	for _, b := range billings {
		if b.Rejected() {
			continue
		}
		totalBilled = totalBilled.Add(b.Amount)
	}

	pct := completion(cfg, project, totalCosts)
	earned := pct.Div(hundred).Mul(project.TotalValue).Round(2)
	wipValue := earned.Sub(totalBilled)
	age := AgeInDays(project.StartDate, asOf)

	return Computation{
		ProjectID:     project.ID,
		AsOf:          civilDate(asOf),
		TotalCosts:    totalCosts,
		TotalBilled:   totalBilled,
		CompletionPct: pct.Round(2),
		EarnedValue:   earned,
		WipValue:      wipValue,
		RiskScore:     RiskScore(age, wipValue, totalCosts),
		AgeDays:       age,
	}
}

func completion(cfg Config, project projects.Project, totalCosts decimal.Decimal) decimal.Decimal {
	if project.Status == projects.StatusCompleted {
		return hundred
	}
	if !project.TotalValue.IsPositive() || !cfg.ExpectedCostRatio.IsPositive() {
		return decimal.Zero
	}
	pct := totalCosts.Div(project.TotalValue.Mul(cfg.ExpectedCostRatio)).Mul(hundred)
	return decimal.Min(hundred, pct)
}

// ComputeWithTotals is Compute plus a check of caller reported totals.
func ComputeWithTotals(cfg Config, project projects.Project, costs []projects.Cost, billings []projects.Billing, asOf time.Time, reportedCosts, reportedBilled *decimal.Decimal) (Computation, error) {
	c := Compute(cfg, project, costs, billings, asOf)
	if err := checkTotal(cfg, "total costs", reportedCosts, c.TotalCosts); err != nil {
		return Computation{}, err
	}
	if err := checkTotal(cfg, "total billed", reportedBilled, c.TotalBilled); err != nil {
		return Computation{}, err
	}
	return c, nil
}

func checkTotal(cfg Config, field string, reported *decimal.Decimal, computed decimal.Decimal) error {
	if reported == nil {
		return nil
	}
	if reported.Sub(computed).Abs().GreaterThan(cfg.Epsilon) {
		return &AmountMismatchError{Field: field, Reported: *reported, Computed: computed}
	}
	return nil
}

// AgeInDays counts whole calendar days from start to asOf. Both dates are
// truncated to their civil date first; the result is never negative.
func AgeInDays(start, asOf time.Time) int {
	if start.IsZero() {
		return 0
	}
	days := int(civilDate(asOf).Sub(civilDate(start)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var (
	ratio10 = decimal.RequireFromString("0.10")
	ratio20 = decimal.RequireFromString("0.20")
	ratio30 = decimal.RequireFromString("0.30")
)

// RiskScore combines project age and the WIP to cost ratio into [0, 100].
// Overbilled projects get a 20 point discount.
func RiskScore(ageDays int, wipValue, totalCosts decimal.Decimal) int {
	score := 0
	switch {
	case ageDays <= 30:
	case ageDays <= 60:
		score += 10
	case ageDays <= 90:
		score += 20
	default:
		score += 30
	}

	ratio := decimal.Zero
	if !totalCosts.IsZero() {
		ratio = wipValue.Div(totalCosts)
	}
	switch {
	case ratio.LessThan(ratio10):
	case ratio.LessThan(ratio20):
		score += 10
	case ratio.LessThan(ratio30):
		score += 20
	default:
		score += 40
	}

	if wipValue.IsNegative() {
		score -= 20
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// AdjustmentLines books amount between the WIP asset and retained earnings.
// A positive amount debits WIP; a negative one credits it.
func AdjustmentLines(accounts ledger.Accounts, amount decimal.Decimal) []ledger.LineInput {
	value := amount.Abs()
	wipSide, equitySide := ledger.Debit, ledger.Credit
	if amount.IsNegative() {
		wipSide, equitySide = ledger.Credit, ledger.Debit
	}
	return []ledger.LineInput{
		{AccountCode: accounts.WIP, Direction: wipSide, Amount: value, Label: ledger.LabelWIP},
		{AccountCode: accounts.RetainedEarnings, Direction: equitySide, Amount: value, Label: ledger.LabelWIP},
	}
}

// AgingBuckets groups snapshots by project age.
func AgingBuckets(snapshots []Snapshot) []Bucket {
	buckets := []Bucket{
		{Label: "0-30", WipTotal: decimal.Zero},
		{Label: "31-60", WipTotal: decimal.Zero},
		{Label: "61-90", WipTotal: decimal.Zero},
		{Label: "90+", WipTotal: decimal.Zero},
	}
	for _, s := range snapshots {
		idx := 3
		switch {
		case s.AgeDays <= 30:
			idx = 0
		case s.AgeDays <= 60:
			idx = 1
		case s.AgeDays <= 90:
			idx = 2
		}
		buckets[idx].Projects++
		buckets[idx].WipTotal = buckets[idx].WipTotal.Add(s.WipValue)
	}
	return buckets
}

// RiskBuckets groups snapshots by risk score.
func RiskBuckets(snapshots []Snapshot) []Bucket {
	buckets := []Bucket{
		{Label: "low", WipTotal: decimal.Zero},
		{Label: "medium", WipTotal: decimal.Zero},
		{Label: "high", WipTotal: decimal.Zero},
	}
	for _, s := range snapshots {
		idx := 2
		switch {
		case s.RiskScore < 30:
			idx = 0
		case s.RiskScore < 60:
			idx = 1
		}
		buckets[idx].Projects++
		buckets[idx].WipTotal = buckets[idx].WipTotal.Add(s.WipValue)
	}
	return buckets
}

// TrendOf maps snapshots to trend points in order.
func TrendOf(snapshots []Snapshot) []TrendPoint {
	points := make([]TrendPoint, 0, len(snapshots))
	for _, s := range snapshots {
		points = append(points, TrendPoint{
			Date:          s.Date,
			CompletionPct: s.CompletionPct,
			EarnedValue:   s.EarnedValue,
			TotalBilled:   s.TotalBilled,
			WipValue:      s.WipValue,
			RiskScore:     s.RiskScore,
		})
	}
	return points
}
