package reports

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/wip"
)

// BalanceSource provides per account totals.
type BalanceSource interface {
	AccountBalances(ctx context.Context, filter ledger.BalanceFilter) ([]ledger.AccountBalance, error)
}

// WipSource provides WIP snapshot aggregations.
type WipSource interface {
	AgingBuckets(ctx context.Context) ([]wip.Bucket, error)
	RiskBuckets(ctx context.Context) ([]wip.Bucket, error)
}

// Service coordinates report queries with the cache layer.
type Service struct {
	repo     Repository
	balances BalanceSource
	wip      WipSource
	cache    *Cache
	now      func() time.Time
}

// NewService wires report sources with a Cache helper. cache may be nil.
func NewService(repo Repository, balances BalanceSource, wipSource WipSource, cache *Cache) *Service {
	return &Service{repo: repo, balances: balances, wip: wipSource, cache: cache, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func dateToken(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.DateOnly)
}

func projectToken(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func keyFor(report string, parts ...string) string {
	return strings.Join(append([]string{"reports", report}, parts...), ":")
}

func fetch[T any](ctx context.Context, c *Cache, base string, loader func(context.Context) (T, error)) (T, error) {
	var out T
	key, err := c.BuildKey(ctx, base)
	if err != nil {
		return out, err
	}
	err = c.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	return out, err
}

// CashFlow returns monthly cash movement within the filter.
func (s *Service) CashFlow(ctx context.Context, filter Filter) ([]CashflowPoint, error) {
	key := keyFor("cashflow", dateToken(filter.From), dateToken(filter.To), projectToken(filter.ProjectID))
	return fetch(ctx, s.cache, key, func(ctx context.Context) ([]CashflowPoint, error) {
		return s.repo.MonthlyCashflow(ctx, filter)
	})
}

// Profitability returns revenue, expense and margin per project.
func (s *Service) Profitability(ctx context.Context, filter Filter) ([]ProjectProfit, error) {
	key := keyFor("profitability", dateToken(filter.From), dateToken(filter.To), projectToken(filter.ProjectID))
	return fetch(ctx, s.cache, key, func(ctx context.Context) ([]ProjectProfit, error) {
		return s.repo.ProjectProfitability(ctx, filter)
	})
}

// TrialBalance lists every account balance as of a date; zero means today.
func (s *Service) TrialBalance(ctx context.Context, asOf time.Time) (TrialBalance, error) {
	if asOf.IsZero() {
		y, m, d := s.now().Date()
		asOf = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return fetch(ctx, s.cache, keyFor("trial_balance", dateToken(asOf)), func(ctx context.Context) (TrialBalance, error) {
		balances, err := s.balances.AccountBalances(ctx, ledger.BalanceFilter{AsOf: asOf})
		if err != nil {
			return TrialBalance{}, err
		}
		return newTrialBalance(asOf, balances), nil
	})
}

// WipAging buckets the latest WIP snapshots by project age.
func (s *Service) WipAging(ctx context.Context) ([]Bucket, error) {
	return fetch(ctx, s.cache, keyFor("wip_aging"), func(ctx context.Context) ([]Bucket, error) {
		buckets, err := s.wip.AgingBuckets(ctx)
		return toBuckets(buckets), err
	})
}

// WipRisk buckets the latest WIP snapshots by risk score.
func (s *Service) WipRisk(ctx context.Context) ([]Bucket, error) {
	return fetch(ctx, s.cache, keyFor("wip_risk"), func(ctx context.Context) ([]Bucket, error) {
		buckets, err := s.wip.RiskBuckets(ctx)
		return toBuckets(buckets), err
	})
}

func toBuckets(in []wip.Bucket) []Bucket {
	out := make([]Bucket, 0, len(in))
	for _, b := range in {
		out = append(out, Bucket{Label: b.Label, Projects: b.Projects, WipTotal: b.WipTotal})
	}
	return out
}

// Invalidate drops every cached report.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}
