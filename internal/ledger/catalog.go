package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Catalog resolves account codes. The chart of accounts is owned elsewhere;
// the ledger only reads it.
type Catalog interface {
	Account(ctx context.Context, code string) (Account, error)
}

// StaticCatalog is an in-memory chart of accounts.
type StaticCatalog struct {
	accounts map[string]Account
}

// NewStaticCatalog indexes the supplied accounts by code.
func NewStaticCatalog(accounts ...Account) *StaticCatalog {
	idx := make(map[string]Account, len(accounts))
	for _, acc := range accounts {
		idx[acc.Code] = acc
	}
	return &StaticCatalog{accounts: idx}
}

// Account implements Catalog.
func (c *StaticCatalog) Account(_ context.Context, code string) (Account, error) {
	acc, ok := c.accounts[code]
	if !ok {
		return Account{}, &AccountNotFoundError{Code: code}
	}
	return acc, nil
}

// Accounts lists the catalog sorted by code.
func (c *StaticCatalog) Accounts() []Account {
	out := make([]Account, 0, len(c.accounts))
	for _, acc := range c.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// DefaultChart is the seed chart of accounts matching DefaultAccounts.
func DefaultChart() []Account {
	return []Account{
		{Code: "1101", Name: "Kas", Category: CategoryAsset, IsCash: true},
		{Code: "1102", Name: "Bank", Category: CategoryAsset, IsCash: true},
		{Code: "1201", Name: "Piutang Usaha", Category: CategoryAsset},
		{Code: "1301", Name: "Pekerjaan Dalam Proses", Category: CategoryAsset},
		{Code: "1501", Name: "Peralatan", Category: CategoryAsset},
		{Code: "2101", Name: "Hutang Usaha", Category: CategoryLiability},
		{Code: "2201", Name: "Uang Muka Pelanggan", Category: CategoryLiability},
		{Code: "3101", Name: "Modal Disetor", Category: CategoryEquity},
		{Code: "3201", Name: "Laba Ditahan", Category: CategoryEquity},
		{Code: "4101", Name: "Pendapatan Proyek", Category: CategoryRevenue},
		{Code: "4201", Name: "Pendapatan Lain-lain", Category: CategoryRevenue},
		{Code: "5101", Name: "Beban Material", Category: CategoryExpense},
		{Code: "5102", Name: "Beban Tenaga Kerja", Category: CategoryExpense},
		{Code: "5103", Name: "Beban Peralatan", Category: CategoryExpense},
		{Code: "5104", Name: "Beban Subkontraktor", Category: CategoryExpense},
		{Code: "5105", Name: "Beban Overhead Proyek", Category: CategoryExpense},
		{Code: "5199", Name: "Beban Proyek Lainnya", Category: CategoryExpense},
	}
}

const catalogKeyPrefix = "ledger:account:"

// CachedCatalog is a redis read-through cache in front of another Catalog.
// Misses are not cached so newly created accounts become visible at once.
type CachedCatalog struct {
	next   Catalog
	client *redis.Client
	ttl    time.Duration
}

// NewCachedCatalog wraps next with redis caching.
func NewCachedCatalog(next Catalog, client *redis.Client, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{next: next, client: client, ttl: ttl}
}

// Account implements Catalog.
func (c *CachedCatalog) Account(ctx context.Context, code string) (Account, error) {
	if c.client == nil {
		return c.next.Account(ctx, code)
	}
	key := catalogKeyPrefix + code
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var acc Account
		if err := json.Unmarshal(payload, &acc); err == nil {
			return acc, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return c.next.Account(ctx, code)
	}
	acc, err := c.next.Account(ctx, code)
	if err != nil {
		return Account{}, err
	}
	if raw, err := json.Marshal(acc); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return acc, nil
}
