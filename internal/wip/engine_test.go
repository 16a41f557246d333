package wip

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-projects/internal/billable"
	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/projects"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ongoingProject() projects.Project {
	return projects.Project{ID: 1, Name: "Gedung A", TotalValue: dec("1000000"), StartDate: day(2024, 1, 31), Status: projects.StatusOngoing}
}

func TestComputeEarnedValueAndWip(t *testing.T) {
	costs := []projects.Cost{{ID: 1, Amount: dec("200000"), Status: "paid"}, {ID: 2, Amount: dec("150000"), Status: "pending"}}
	billings := []projects.Billing{{ID: 1, Amount: dec("300000"), Status: "unpaid"}}

	c := Compute(DefaultConfig(), ongoingProject(), costs, billings, day(2024, 3, 16))

	assertDecimal(t, "350000", c.TotalCosts)
	assertDecimal(t, "300000", c.TotalBilled)
	assertDecimal(t, "50", c.CompletionPct)
	assertDecimal(t, "500000", c.EarnedValue)
	assertDecimal(t, "200000", c.WipValue)
	assert.Equal(t, 45, c.AgeDays)
	assert.Equal(t, day(2024, 3, 16), c.AsOf)
}

func TestComputeCompletedProjectIsFullyEarned(t *testing.T) {
	project := ongoingProject()
	project.Status = projects.StatusCompleted

	c := Compute(DefaultConfig(), project, nil, nil, day(2024, 3, 16))

	assertDecimal(t, "100", c.CompletionPct)
	assertDecimal(t, "1000000", c.EarnedValue)
	assertDecimal(t, "1000000", c.WipValue)
}

func TestComputeCapsCompletionAndHandlesZeroValue(t *testing.T) {
	costs := []projects.Cost{{Amount: dec("800000")}}
	c := Compute(DefaultConfig(), ongoingProject(), costs, nil, day(2024, 3, 16))
	assertDecimal(t, "100", c.CompletionPct)
	assertDecimal(t, "1000000", c.EarnedValue)

	project := ongoingProject()
	project.TotalValue = decimal.Zero
	c = Compute(DefaultConfig(), project, costs, []projects.Billing{{Amount: dec("10")}}, day(2024, 3, 16))
	assertDecimal(t, "0", c.CompletionPct)
	assertDecimal(t, "0", c.EarnedValue)
	assertDecimal(t, "-10", c.WipValue)
}

func TestComputeUsesConfiguredCostRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpectedCostRatio = dec("0.50")
	costs := []projects.Cost{{Amount: dec("250000")}}

	c := Compute(cfg, ongoingProject(), costs, nil, day(2024, 3, 16))

	assertDecimal(t, "50", c.CompletionPct)
}

func TestComputeExcludesRejectedBillings(t *testing.T) {
	billings := []projects.Billing{
		{Amount: dec("100"), Status: projects.EventPaid},
		{Amount: dec("900"), Status: string(billable.StatusRejected)},
		{Amount: dec("50"), Status: projects.EventPending},
	}
	assert.True(t, billings[1].Rejected())
	c := Compute(DefaultConfig(), ongoingProject(), nil, billings, day(2024, 3, 16))
	assertDecimal(t, "150", c.TotalBilled)
}

func TestComputeWithTotalsRejectsMismatch(t *testing.T) {
	costs := []projects.Cost{{Amount: dec("350000")}}
	billings := []projects.Billing{{Amount: dec("300000")}}
	within := dec("350000.01")
	off := dec("350000.02")

	_, err := ComputeWithTotals(DefaultConfig(), ongoingProject(), costs, billings, day(2024, 3, 16), &within, nil)
	require.NoError(t, err)

	_, err = ComputeWithTotals(DefaultConfig(), ongoingProject(), costs, billings, day(2024, 3, 16), &off, nil)
	var mismatch *AmountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Equal(t, "total costs", mismatch.Field)
	assertDecimal(t, "350000", mismatch.Computed)

	billed := dec("1")
	_, err = ComputeWithTotals(DefaultConfig(), ongoingProject(), costs, billings, day(2024, 3, 16), nil, &billed)
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "total billed", mismatch.Field)
}

func TestAgeInDays(t *testing.T) {
	assert.Equal(t, 74, AgeInDays(day(2024, 1, 1), day(2024, 3, 15)))
	assert.Equal(t, 0, AgeInDays(day(2024, 3, 15), day(2024, 3, 15)))
	assert.Equal(t, 0, AgeInDays(day(2024, 4, 1), day(2024, 3, 15)))
	assert.Equal(t, 0, AgeInDays(time.Time{}, day(2024, 3, 15)))

	// Late evening to early morning across a clock change is still two days.
	before := time.FixedZone("EST", -5*3600)
	after := time.FixedZone("EDT", -4*3600)
	start := time.Date(2024, 3, 9, 23, 0, 0, 0, before)
	asOf := time.Date(2024, 3, 11, 1, 0, 0, 0, after)
	assert.Equal(t, 2, AgeInDays(start, asOf))
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name  string
		age   int
		wip   string
		costs string
		want  int
	}{
		{"ratio ten percent", 45, "50000", "500000", 20},
		{"overbilled floors at zero", 45, "-50000", "500000", 0},
		{"young and low ratio", 10, "1000", "500000", 0},
		{"ninety days", 90, "100000", "500000", 40},
		{"old and underbilled", 120, "300000", "500000", 70},
		{"no costs", 200, "0", "0", 30},
		{"no costs but earned", 200, "1000", "0", 30},
		{"old overbilled", 100, "-10", "500000", 10},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RiskScore(tc.age, dec(tc.wip), dec(tc.costs)))
		})
	}
}

func TestAdjustmentLines(t *testing.T) {
	accounts := ledger.DefaultAccounts()

	lines := AdjustmentLines(accounts, dec("250.50"))
	require.Len(t, lines, 2)
	assert.Equal(t, accounts.WIP, lines[0].AccountCode)
	assert.Equal(t, ledger.Debit, lines[0].Direction)
	assert.Equal(t, accounts.RetainedEarnings, lines[1].AccountCode)
	assert.Equal(t, ledger.Credit, lines[1].Direction)
	assertDecimal(t, "250.50", lines[1].Amount)

	lines = AdjustmentLines(accounts, dec("-10"))
	assert.Equal(t, ledger.Credit, lines[0].Direction)
	assert.Equal(t, ledger.Debit, lines[1].Direction)
	assertDecimal(t, "10", lines[0].Amount)
}

func TestBuckets(t *testing.T) {
	snapshots := []Snapshot{
		{ProjectID: 1, AgeDays: 0, RiskScore: 0, WipValue: dec("10")},
		{ProjectID: 2, AgeDays: 30, RiskScore: 29, WipValue: dec("20")},
		{ProjectID: 3, AgeDays: 31, RiskScore: 30, WipValue: dec("-5")},
		{ProjectID: 4, AgeDays: 90, RiskScore: 59, WipValue: dec("1")},
		{ProjectID: 5, AgeDays: 91, RiskScore: 60, WipValue: dec("100")},
	}

	aging := AgingBuckets(snapshots)
	require.Len(t, aging, 4)
	assert.Equal(t, []string{"0-30", "31-60", "61-90", "90+"}, []string{aging[0].Label, aging[1].Label, aging[2].Label, aging[3].Label})
	assert.Equal(t, 2, aging[0].Projects)
	assertDecimal(t, "30", aging[0].WipTotal)
	assert.Equal(t, 1, aging[1].Projects)
	assert.Equal(t, 1, aging[2].Projects)
	assert.Equal(t, 1, aging[3].Projects)

	risk := RiskBuckets(snapshots)
	require.Len(t, risk, 3)
	assert.Equal(t, 2, risk[0].Projects)
	assert.Equal(t, 2, risk[1].Projects)
	assertDecimal(t, "-4", risk[1].WipTotal)
	assert.Equal(t, 1, risk[2].Projects)
	assertDecimal(t, "100", risk[2].WipTotal)

	empty := AgingBuckets(nil)
	assert.Equal(t, 0, empty[3].Projects)
	assertDecimal(t, "0", empty[3].WipTotal)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.ExpectedCostRatio = decimal.Zero
	assert.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.ExpectedCostRatio = dec("1.5")
	assert.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.Epsilon = dec("-0.01")
	assert.Error(t, cfg.Validate())
}
