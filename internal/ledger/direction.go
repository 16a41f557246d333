package ledger

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// legacyFlows maps the flow tags accepted at the system boundary to a
// direction plus semantic label. Cash-side tags are read from the point of
// view of the cash account: money in debits cash, money out credits it.
var legacyFlows = map[string]struct {
	direction Direction
	label     Label
}{
	"debit":       {Debit, LabelNone},
	"dr":          {Debit, LabelNone},
	"credit":      {Credit, LabelNone},
	"cr":          {Credit, LabelNone},
	"income":      {Debit, LabelIncome},
	"inflow":      {Debit, LabelIncome},
	"pemasukan":   {Debit, LabelIncome},
	"pendapatan":  {Debit, LabelIncome},
	"expense":     {Credit, LabelExpense},
	"outflow":     {Credit, LabelExpense},
	"pengeluaran": {Credit, LabelExpense},
	"beban":       {Credit, LabelExpense},
}

var folder = cases.Fold()

// ParseDirection normalises a raw flow tag into a Direction and optional
// Label. It is meant to be called once where data enters the system.
func ParseDirection(raw string) (Direction, Label, error) {
	key := folder.String(strings.TrimSpace(raw))
	if flow, ok := legacyFlows[key]; ok {
		return flow.direction, flow.label, nil
	}
	return "", LabelNone, fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
}
