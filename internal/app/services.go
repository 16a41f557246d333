package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-projects/internal/billable"
	"github.com/odyssey-erp/odyssey-projects/internal/events"
	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/observability"
	"github.com/odyssey-erp/odyssey-projects/internal/reports"
	"github.com/odyssey-erp/odyssey-projects/internal/wip"
)

// Dependencies are the connections shared by the API and the worker.
type Dependencies struct {
	Logger    *slog.Logger
	Config    *Config
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Publisher events.Publisher
	Enqueuer  events.Enqueuer
	Metrics   *observability.Metrics
}

// Services holds the wired domain services.
type Services struct {
	Ledger     *ledger.Engine
	Billable   *billable.Service
	WIP        *wip.Service
	Reports    *reports.Service
	Dispatcher *events.Dispatcher
}

// BuildServices wires the ledger, state machine, WIP engine and reports
// around one post-commit dispatcher.
func BuildServices(deps Dependencies) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catalog := ledger.NewCachedCatalog(ledger.NewAccountStore(deps.Pool), deps.Redis, deps.Config.CatalogCacheTTL)
	engine := ledger.NewEngine(ledger.NewRepository(deps.Pool), catalog, deps.Config.LedgerAccounts(), logger)

	reportCache := reports.NewCache(deps.Redis, deps.Config.ReportCacheTTL)
	dispatcher := events.NewDispatcher(logger, deps.Publisher, reportCache, deps.Enqueuer)
	if deps.Metrics != nil {
		dispatcher.WithObserver(deps.Metrics)
	}

	billableService := billable.NewService(billable.NewRepository(deps.Pool), engine, dispatcher, logger)
	wipService := wip.NewService(wip.NewRepository(deps.Pool), engine, deps.Config.WIPConfig(), dispatcher, logger)
	reportService := reports.NewService(reports.NewRepository(deps.Pool), engine, wipService, reportCache)

	return &Services{
		Ledger:     engine,
		Billable:   billableService,
		WIP:        wipService,
		Reports:    reportService,
		Dispatcher: dispatcher,
	}
}
