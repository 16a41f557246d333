package ledger

import (
	"errors"
	"strings"
)

// Accounts holds the account codes the engine falls back on when pairing
// postings and when callers ask for role-based accounts.
type Accounts struct {
	Cash             string
	Bank             string
	Receivable       string
	Payable          string
	Revenue          string
	Expense          string
	Liability        string
	WIP              string
	RetainedEarnings string
	// CostCategories maps project cost categories to expense account codes.
	CostCategories map[string]string
}

// DefaultAccounts returns the default chart wiring.
func DefaultAccounts() Accounts {
	return Accounts{
		Cash:             "1101",
		Bank:             "1102",
		Receivable:       "1201",
		Payable:          "2101",
		Revenue:          "4101",
		Expense:          "5199",
		Liability:        "2101",
		WIP:              "1301",
		RetainedEarnings: "3201",
		CostCategories: map[string]string{
			"material":      "5101",
			"labor":         "5102",
			"equipment":     "5103",
			"subcontractor": "5104",
			"overhead":      "5105",
		},
	}
}

// Validate ensures every role resolves to a code.
func (a Accounts) Validate() error {
	for name, code := range map[string]string{
		"cash":              a.Cash,
		"bank":              a.Bank,
		"receivable":        a.Receivable,
		"payable":           a.Payable,
		"revenue":           a.Revenue,
		"expense":           a.Expense,
		"liability":         a.Liability,
		"wip":               a.WIP,
		"retained earnings": a.RetainedEarnings,
	} {
		if strings.TrimSpace(code) == "" {
			return errors.New("ledger: " + name + " account required")
		}
	}
	return nil
}

// ExpenseFor resolves the expense account of a project cost category.
// Unknown categories book to the general expense account.
func (a Accounts) ExpenseFor(category string) string {
	if code, ok := a.CostCategories[strings.ToLower(strings.TrimSpace(category))]; ok && code != "" {
		return code
	}
	return a.Expense
}

// PaymentAccount returns the caller supplied cash account or the bank default.
func (a Accounts) PaymentAccount(override string) string {
	if code := strings.TrimSpace(override); code != "" {
		return code
	}
	return a.Bank
}

// CounterRole names the kind of account that offsets a primary posting.
type CounterRole string

const (
	RoleCash      CounterRole = "cash"
	RoleRevenue   CounterRole = "revenue"
	RoleExpense   CounterRole = "expense"
	RoleLiability CounterRole = "liability"
)

// CounterRoleFor is the pairing table used for counter suggestions. It is a
// pure function of the primary account's category, cash flag and direction.
//
//	cash     debit  -> revenue    cash     credit -> expense
//	asset    debit  -> liability  asset    credit -> expense
//	revenue, expense, liability, equity -> cash
func CounterRoleFor(category Category, isCash bool, direction Direction) CounterRole {
	switch category {
	case CategoryAsset:
		if isCash {
			if direction == Debit {
				return RoleRevenue
			}
			return RoleExpense
		}
		if direction == Debit {
			return RoleLiability
		}
		return RoleExpense
	default:
		return RoleCash
	}
}

// CounterDirection derives the counter posting side from the primary's
// category and direction. A two-line journal balances only when the counter
// sits on the opposite side, so every category inverts the primary direction.
func CounterDirection(_ Category, direction Direction) Direction {
	return direction.Opposite()
}

// CodeFor resolves a role to a configured account code.
func (a Accounts) CodeFor(role CounterRole) string {
	switch role {
	case RoleRevenue:
		return a.Revenue
	case RoleExpense:
		return a.Expense
	case RoleLiability:
		return a.Liability
	default:
		return a.Cash
	}
}
