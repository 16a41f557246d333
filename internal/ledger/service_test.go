package ledger_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/ledger/ledgertest"
)

func newEngine(t *testing.T) (*ledger.Engine, *ledgertest.Store) {
	t.Helper()
	chart := ledger.DefaultChart()
	store := ledgertest.NewStore(chart...)
	engine := ledger.NewEngine(store, ledger.NewStaticCatalog(chart...), ledger.DefaultAccounts(), nil)
	engine.WithNow(func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) })
	return engine, store
}

func amt(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func simpleInput(amount string) ledger.PostingInput {
	return ledger.PostingInput{
		Description: "Billing #42 -> unpaid",
		Lines: []ledger.LineInput{
			{AccountCode: "1201", Direction: ledger.Debit, Amount: amt(amount)},
			{AccountCode: "4101", Direction: ledger.Credit, Amount: amt(amount)},
		},
	}
}

func TestPostJournalAcceptedJournalsBalance(t *testing.T) {
	engine, store := newEngine(t)
	rng := rand.New(rand.NewSource(7))
	codes := []string{"1101", "1102", "1201", "2101", "4101", "5101", "5199"}

	for i := 0; i < 200; i++ {
		var lines []ledger.LineInput
		total := decimal.Zero
		for n := 1 + rng.Intn(3); n > 0; n-- {
			a := decimal.New(int64(1+rng.Intn(5_000_000)), -2)
			total = total.Add(a)
			lines = append(lines, ledger.LineInput{AccountCode: codes[rng.Intn(len(codes))], Direction: ledger.Debit, Amount: a})
		}
		remaining := total
		for n := rng.Intn(3); n > 0 && remaining.GreaterThan(decimal.New(1, 0)); n-- {
			part := remaining.Div(decimal.NewFromInt(2)).Round(2)
			if !part.IsPositive() {
				break
			}
			lines = append(lines, ledger.LineInput{AccountCode: codes[rng.Intn(len(codes))], Direction: ledger.Credit, Amount: part})
			remaining = remaining.Sub(part)
		}
		lines = append(lines, ledger.LineInput{AccountCode: codes[rng.Intn(len(codes))], Direction: ledger.Credit, Amount: remaining})
		if rng.Intn(4) == 0 {
			lines[0].Amount = lines[0].Amount.Add(decimal.New(1, -2))
		}

		_, err := engine.PostJournal(context.Background(), ledger.PostingInput{Description: "random", Lines: lines})
		if err != nil {
			require.ErrorIs(t, err, ledger.ErrUnbalanced)
		}
	}

	journals := store.Journals()
	require.NotEmpty(t, journals)
	for _, j := range journals {
		debit, credit := j.Totals()
		assert.True(t, debit.Equal(credit), "journal %s debit %s credit %s", j.ID, debit, credit)
		assert.GreaterOrEqual(t, len(j.Postings), 2)
		for _, p := range j.Postings {
			assert.Equal(t, j.ID, p.JournalID)
		}
	}
}

func TestPostJournalRejectsInvalidInput(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	_, err := engine.PostJournal(ctx, ledger.PostingInput{Lines: []ledger.LineInput{{AccountCode: "1101", Direction: ledger.Debit, Amount: amt("10")}}})
	var unbalanced *ledger.UnbalancedJournalError
	require.ErrorAs(t, err, &unbalanced)
	assert.Equal(t, 1, unbalanced.Lines)

	in := simpleInput("100.00")
	in.Lines[1].Amount = amt("99.99")
	_, err = engine.PostJournal(ctx, in)
	require.ErrorAs(t, err, &unbalanced)
	assert.Equal(t, "100", unbalanced.Debit.String())

	in = simpleInput("100.00")
	in.Lines[0].Amount = amt("-100")
	in.Lines[1].Amount = amt("-100")
	_, err = engine.PostJournal(ctx, in)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	in = simpleInput("100.00")
	in.Lines[1].AccountCode = "9999"
	_, err = engine.PostJournal(ctx, in)
	var notFound *ledger.AccountNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "9999", notFound.Code)

	in = simpleInput("100.00")
	in.Kind = ledger.KindRecognition
	_, err = engine.PostJournal(ctx, in)
	require.Error(t, err)

	assert.Empty(t, store.Journals())
}

func TestPostJournalIsAllOrNothing(t *testing.T) {
	engine, store := newEngine(t)
	store.FailPostings = errors.New("disk full")

	_, err := engine.PostJournal(context.Background(), simpleInput("250.00"))
	require.Error(t, err)
	assert.Empty(t, store.Journals())
}

func TestPostJournalAssignsIDAndDate(t *testing.T) {
	engine, _ := newEngine(t)
	journal, err := engine.PostJournal(context.Background(), simpleInput("250.00"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, journal.ID)
	assert.Equal(t, ledger.KindManual, journal.Kind)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), journal.Date)
	require.Len(t, journal.Postings, 2)
	for _, p := range journal.Postings {
		assert.Equal(t, "Billing #42 -> unpaid", p.Description)
	}
}

func TestPostJournalDuplicateRecognition(t *testing.T) {
	engine, store := newEngine(t)
	in := simpleInput("500.00")
	in.Kind = ledger.KindRecognition
	in.Source = ledger.SourceRef{Type: ledger.SourceBilling, ID: 42}

	_, err := engine.PostJournal(context.Background(), in)
	require.NoError(t, err)
	_, err = engine.PostJournal(context.Background(), in)
	require.ErrorIs(t, err, ledger.ErrDuplicateJournal)
	assert.Len(t, store.Journals(), 1)
}

func TestReverseJournalTwiceProducesOneReversal(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	original, err := engine.PostJournal(ctx, simpleInput("1000.00"))
	require.NoError(t, err)

	first, err := engine.ReverseJournal(ctx, original.ID, ledger.ReverseOptions{})
	require.NoError(t, err)
	second, err := engine.ReverseJournal(ctx, original.ID, ledger.ReverseOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	journals := store.Journals()
	require.Len(t, journals, 2)
	reversals := 0
	for _, j := range journals {
		if j.IsReversal {
			reversals++
			require.NotNil(t, j.ReversalOfID)
			assert.Equal(t, original.ID, *j.ReversalOfID)
			assert.Equal(t, ledger.KindReversal, j.Kind)
		} else {
			assert.True(t, j.Reversed)
			require.NotNil(t, j.ReversedByID)
			assert.Equal(t, first.ID, *j.ReversedByID)
		}
	}
	assert.Equal(t, 1, reversals)

	require.Len(t, first.Postings, 2)
	for i, p := range first.Postings {
		orig := original.Postings[i]
		assert.Equal(t, orig.AccountCode, p.AccountCode)
		assert.Equal(t, orig.Direction.Opposite(), p.Direction)
		assert.True(t, orig.Amount.Equal(p.Amount))
		assert.Equal(t, ledger.LabelReversal, p.Label)
	}
}

func TestReverseJournalRestoresBalances(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	_, err := engine.PostJournal(ctx, simpleInput("300.00"))
	require.NoError(t, err)
	before := store.Balances()

	journal, err := engine.PostJournal(ctx, ledger.PostingInput{
		Description: "Cost #7 -> unpaid",
		Lines: []ledger.LineInput{
			{AccountCode: "5101", Direction: ledger.Debit, Amount: amt("120.50")},
			{AccountCode: "5102", Direction: ledger.Debit, Amount: amt("79.50")},
			{AccountCode: "2101", Direction: ledger.Credit, Amount: amt("200.00")},
		},
	})
	require.NoError(t, err)
	assert.True(t, store.Balances()["2101"].Equal(amt("200")))

	_, err = engine.ReverseJournal(ctx, journal.ID, ledger.ReverseOptions{Notes: "rejected"})
	require.NoError(t, err)
	after := store.Balances()
	for code, balance := range before {
		assert.True(t, balance.Equal(after[code]), "account %s: %s != %s", code, balance, after[code])
	}
}

func TestReverseJournalRejectsReversalAndUnknown(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	original, err := engine.PostJournal(ctx, simpleInput("10.00"))
	require.NoError(t, err)
	reversal, err := engine.ReverseJournal(ctx, original.ID, ledger.ReverseOptions{})
	require.NoError(t, err)

	_, err = engine.ReverseJournal(ctx, reversal.ID, ledger.ReverseOptions{})
	require.ErrorIs(t, err, ledger.ErrCannotReverseReversal)

	_, err = engine.ReverseJournal(ctx, uuid.New(), ledger.ReverseOptions{})
	require.ErrorIs(t, err, ledger.ErrJournalNotFound)
}

func TestPostWithCounter(t *testing.T) {
	engine, _ := newEngine(t)
	journal, err := engine.PostWithCounter(context.Background(), ledger.PrimaryInput{
		Description: "Cash sale",
		AccountCode: "1101",
		Direction:   ledger.Debit,
		Amount:      amt("75.25"),
		Label:       ledger.LabelIncome,
	})
	require.NoError(t, err)
	require.Len(t, journal.Postings, 2)
	assert.Equal(t, "4101", journal.Postings[1].AccountCode)
	assert.Equal(t, ledger.Credit, journal.Postings[1].Direction)
	assert.Equal(t, ledger.LabelCounter, journal.Postings[1].Label)

	journal, err = engine.PostWithCounter(context.Background(), ledger.PrimaryInput{
		AccountCode:        "5103",
		Direction:          ledger.Debit,
		Amount:             amt("40"),
		CounterAccountCode: "2101",
	})
	require.NoError(t, err)
	assert.Equal(t, "2101", journal.Postings[1].AccountCode)
	assert.Equal(t, ledger.Credit, journal.Postings[1].Direction)
}

func TestJournalsForSourceAndIntegrity(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	in := simpleInput("60.00")
	in.Kind = ledger.KindRecognition
	in.Source = ledger.SourceRef{Type: ledger.SourceBilling, ID: 9}
	journal, err := engine.PostJournal(ctx, in)
	require.NoError(t, err)
	_, err = engine.PostJournal(ctx, simpleInput("5.00"))
	require.NoError(t, err)

	journals, err := engine.JournalsForSource(ctx, in.Source)
	require.NoError(t, err)
	require.Len(t, journals, 1)
	assert.Equal(t, journal.ID, journals[0].ID)

	issues, err := engine.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.Empty(t, issues)

	store.Corrupt(ledger.Posting{JournalID: journal.ID, AccountCode: "1101", Direction: ledger.Debit, Amount: amt("1.00")})
	issues, err = engine.VerifyIntegrity(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, journal.ID, issues[0].JournalID)
	assert.Equal(t, 3, issues[0].Lines)
}

func TestAccountBalancesFilters(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	project := int64(3)
	in := simpleInput("80.00")
	in.ProjectID = &project
	_, err := engine.PostJournal(ctx, in)
	require.NoError(t, err)
	_, err = engine.PostJournal(ctx, simpleInput("20.00"))
	require.NoError(t, err)

	balances, err := engine.AccountBalances(ctx, ledger.BalanceFilter{ProjectID: &project, Codes: []string{"1201", "4101"}})
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "1201", balances[0].Account.Code)
	assert.True(t, balances[0].Balance().Equal(amt("80")))
	assert.True(t, balances[1].Balance().Equal(amt("80")))

	balances, err = engine.AccountBalances(ctx, ledger.BalanceFilter{Codes: []string{"1201"}})
	require.NoError(t, err)
	assert.True(t, balances[0].Balance().Equal(amt("100")))
}
