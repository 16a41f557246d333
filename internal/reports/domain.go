// Package reports aggregates the ledger and WIP snapshots into read models.
package reports

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
)

// Filter scopes a report to a date range and optionally a project.
type Filter struct {
	From      time.Time
	To        time.Time
	ProjectID *int64
}

// CashflowPoint captures monthly cash inflow and outflow.
type CashflowPoint struct {
	Period string          `json:"period"`
	In     decimal.Decimal `json:"in"`
	Out    decimal.Decimal `json:"out"`
	Net    decimal.Decimal `json:"net"`
}

// ProjectProfit is revenue against expense for one project.
type ProjectProfit struct {
	ProjectID   int64           `json:"project_id"`
	ProjectName string          `json:"project_name"`
	Revenue     decimal.Decimal `json:"revenue"`
	Expense     decimal.Decimal `json:"expense"`
	Profit      decimal.Decimal `json:"profit"`
	MarginPct   decimal.Decimal `json:"margin_pct"`
}

// TrialBalanceRow is one account of the trial balance.
type TrialBalanceRow struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Category ledger.Category `json:"category"`
	Debit    decimal.Decimal `json:"debit"`
	Credit   decimal.Decimal `json:"credit"`
	Balance  decimal.Decimal `json:"balance"`
}

// TrialBalance lists every account as of a date.
type TrialBalance struct {
	AsOf        string            `json:"as_of"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  decimal.Decimal   `json:"total_debit"`
	TotalCredit decimal.Decimal   `json:"total_credit"`
	Balanced    bool              `json:"balanced"`
}

// Bucket is a WIP aggregation bucket.
type Bucket struct {
	Label    string          `json:"label"`
	Projects int             `json:"projects"`
	WipTotal decimal.Decimal `json:"wip_total"`
}

var hundred = decimal.NewFromInt(100)

// Margin returns profit as a percentage of revenue, zero without revenue.
func Margin(revenue, expense decimal.Decimal) decimal.Decimal {
	if revenue.IsZero() {
		return decimal.Zero
	}
	return revenue.Sub(expense).Div(revenue).Mul(hundred).Round(2)
}

func newTrialBalance(asOf time.Time, balances []ledger.AccountBalance) TrialBalance {
	tb := TrialBalance{
		AsOf:        asOf.Format(time.DateOnly),
		Rows:        make([]TrialBalanceRow, 0, len(balances)),
		TotalDebit:  decimal.Zero,
		TotalCredit: decimal.Zero,
	}
	for _, b := range balances {
		row := TrialBalanceRow{
			Code:     b.Account.Code,
			Name:     b.Account.Name,
			Category: b.Account.Category,
			Debit:    decimal.Zero,
			Credit:   decimal.Zero,
			Balance:  b.Balance(),
		}
		net := b.Debit.Sub(b.Credit)
		if net.IsPositive() {
			row.Debit = net
		} else {
			row.Credit = net.Neg()
		}
		tb.TotalDebit = tb.TotalDebit.Add(row.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(row.Credit)
		tb.Rows = append(tb.Rows, row)
	}
	tb.Balanced = tb.TotalDebit.Equal(tb.TotalCredit)
	return tb
}
