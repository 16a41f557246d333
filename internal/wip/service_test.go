package wip

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/ledger/ledgertest"
	"github.com/odyssey-erp/odyssey-projects/internal/projects"
)

type memoryRepo struct {
	store     *ledgertest.Store
	projects  map[int64]projects.Project
	costs     map[int64][]projects.Cost
	billings  map[int64][]projects.Billing
	snapshots []Snapshot
	failCosts map[int64]error
	locks     int
}

type memoryTx struct {
	*ledgertest.Tx
	repo      *memoryRepo
	snapshots []Snapshot
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		store:     ledgertest.NewStore(ledger.DefaultChart()...),
		projects:  map[int64]projects.Project{},
		costs:     map[int64][]projects.Cost{},
		billings:  map[int64][]projects.Billing{},
		failCosts: map[int64]error{},
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	ltx := m.store.Begin()
	tx := &memoryTx{Tx: ltx, repo: m, snapshots: append([]Snapshot(nil), m.snapshots...)}
	if err := fn(ctx, tx); err != nil {
		ltx.Rollback()
		return err
	}
	m.snapshots = tx.snapshots
	ltx.Commit()
	return nil
}

func (t *memoryTx) Ledger() ledger.TxRepository { return t.Tx }

func (t *memoryTx) GetProject(_ context.Context, id int64) (projects.Project, error) {
	p, ok := t.repo.projects[id]
	if !ok {
		return projects.Project{}, &projects.ProjectNotFoundError{ProjectID: id}
	}
	return p, nil
}

func (t *memoryTx) LockProject(ctx context.Context, id int64) (projects.Project, error) {
	t.repo.locks++
	return t.GetProject(ctx, id)
}

func (t *memoryTx) ListCosts(_ context.Context, projectID int64) ([]projects.Cost, error) {
	if err := t.repo.failCosts[projectID]; err != nil {
		return nil, err
	}
	return t.repo.costs[projectID], nil
}

func (t *memoryTx) ListBillings(_ context.Context, projectID int64) ([]projects.Billing, error) {
	return t.repo.billings[projectID], nil
}

func (t *memoryTx) ActiveProjectIDs(context.Context) ([]int64, error) {
	var ids []int64
	for id, p := range t.repo.projects {
		if p.Status.Active() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *memoryTx) LatestSnapshot(_ context.Context, projectID int64) (*Snapshot, error) {
	for i := len(t.snapshots) - 1; i >= 0; i-- {
		if t.snapshots[i].ProjectID == projectID {
			s := t.snapshots[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) LatestAdjustedSnapshot(_ context.Context, projectID int64) (*Snapshot, error) {
	for i := len(t.snapshots) - 1; i >= 0; i-- {
		if t.snapshots[i].ProjectID == projectID && t.snapshots[i].AdjustmentJournalID != nil {
			s := t.snapshots[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) InsertSnapshot(_ context.Context, s Snapshot) (Snapshot, error) {
	s.ID = int64(len(t.snapshots) + 1)
	s.CreatedAt = fixedNow
	t.snapshots = append(t.snapshots, s)
	return s, nil
}

func (t *memoryTx) LatestSnapshots(ctx context.Context) ([]Snapshot, error) {
	seen := map[int64]bool{}
	var out []Snapshot
	for i := len(t.snapshots) - 1; i >= 0; i-- {
		s := t.snapshots[i]
		if seen[s.ProjectID] {
			continue
		}
		seen[s.ProjectID] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out, nil
}

func (t *memoryTx) Snapshots(_ context.Context, projectID int64, from, to time.Time) ([]Snapshot, error) {
	var out []Snapshot
	for _, s := range t.snapshots {
		if s.ProjectID != projectID {
			continue
		}
		if !from.IsZero() && s.Date.Before(from) {
			continue
		}
		if !to.IsZero() && s.Date.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

type recordingNotifier struct {
	results  []RecalcResult
	journals []ledger.Journal
}

func (n *recordingNotifier) SnapshotRecorded(_ context.Context, result RecalcResult) {
	n.results = append(n.results, result)
}

func (n *recordingNotifier) JournalPosted(_ context.Context, journal ledger.Journal) {
	n.journals = append(n.journals, journal)
}

var fixedNow = time.Date(2024, 3, 16, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, accounts ledger.Accounts, cfg Config) (*Service, *memoryRepo, *recordingNotifier, *bytes.Buffer) {
	t.Helper()
	repo := newMemoryRepo()
	engine := ledger.NewEngine(repo.store, ledger.NewStaticCatalog(ledger.DefaultChart()...), accounts, nil)
	engine.WithNow(func() time.Time { return fixedNow })
	notifier := &recordingNotifier{}
	var logs bytes.Buffer
	svc := NewService(repo, engine, cfg, notifier, slog.New(slog.NewTextHandler(&logs, nil)))
	svc.WithNow(func() time.Time { return fixedNow })
	return svc, repo, notifier, &logs
}

func (m *memoryRepo) seedProject(p projects.Project, costs []string, billings []string) {
	m.projects[p.ID] = p
	for i, c := range costs {
		m.costs[p.ID] = append(m.costs[p.ID], projects.Cost{ID: int64(i + 1), ProjectID: p.ID, Amount: dec(c), Status: "pending"})
	}
	for i, b := range billings {
		m.billings[p.ID] = append(m.billings[p.ID], projects.Billing{ID: int64(i + 1), ProjectID: p.ID, Amount: dec(b), Status: "unpaid"})
	}
}

func TestRecalculatePostsDeltaAgainstPreviousSnapshot(t *testing.T) {
	svc, repo, notifier, _ := newTestService(t, ledger.DefaultAccounts(), DefaultConfig())
	repo.seedProject(ongoingProject(), []string{"350000"}, []string{"300000"})
	ctx := context.Background()

	first, err := svc.Recalculate(ctx, 1, RecalcOptions{Notes: "month end"})
	require.NoError(t, err)
	assert.Nil(t, first.Previous)
	assertDecimal(t, "200000", first.Snapshot.WipValue)
	assertDecimal(t, "200000", first.Delta)
	require.NotNil(t, first.Adjustment)
	assert.Equal(t, ledger.KindWIPAdjustment, first.Adjustment.Kind)
	assert.Equal(t, ledger.SourceRef{Type: ledger.SourceProject, ID: 1}, first.Adjustment.Source)
	require.NotNil(t, first.Snapshot.AdjustmentJournalID)
	assert.Equal(t, first.Adjustment.ID, *first.Snapshot.AdjustmentJournalID)
	assert.Equal(t, 45, first.Snapshot.AgeDays)
	assert.Equal(t, 50, first.Snapshot.RiskScore)

	repo.costs[1] = append(repo.costs[1], projects.Cost{ID: 2, ProjectID: 1, Amount: dec("70000")})
	second, err := svc.Recalculate(ctx, 1, RecalcOptions{})
	require.NoError(t, err)
	require.NotNil(t, second.Previous)
	assertDecimal(t, "60", second.Snapshot.CompletionPct)
	assertDecimal(t, "300000", second.Snapshot.WipValue)
	assertDecimal(t, "100000", second.Delta)
	require.NotNil(t, second.Adjustment)
	assertDecimal(t, "100000", second.Adjustment.Postings[0].Amount)
	assertDecimal(t, "300000", repo.store.Balances()["1301"])

	repo.billings[1] = append(repo.billings[1], projects.Billing{ID: 2, ProjectID: 1, Amount: dec("400000"), Status: "unpaid"})
	third, err := svc.Recalculate(ctx, 1, RecalcOptions{})
	require.NoError(t, err)
	assertDecimal(t, "-100000", third.Snapshot.WipValue)
	assertDecimal(t, "-400000", third.Delta)
	require.NotNil(t, third.Adjustment)
	assert.Equal(t, ledger.Credit, third.Adjustment.Postings[0].Direction)
	assertDecimal(t, "-100000", repo.store.Balances()["1301"])
	assertDecimal(t, "-100000", repo.store.Balances()["3201"])

	fourth, err := svc.Recalculate(ctx, 1, RecalcOptions{})
	require.NoError(t, err)
	assert.Nil(t, fourth.Adjustment)
	assert.Nil(t, fourth.Snapshot.AdjustmentJournalID)
	assertDecimal(t, "0", fourth.Delta)

	assert.Len(t, repo.snapshots, 4)
	assert.Len(t, repo.store.Journals(), 3)
	assert.Len(t, notifier.results, 4)
}

func TestRecalculateWithoutAdjustments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PostAdjustments = false
	svc, repo, _, _ := newTestService(t, ledger.DefaultAccounts(), cfg)
	repo.seedProject(ongoingProject(), []string{"350000"}, nil)

	result, err := svc.Recalculate(context.Background(), 1, RecalcOptions{})
	require.NoError(t, err)
	assert.Nil(t, result.Adjustment)
	assert.Len(t, repo.snapshots, 1)
	assert.Empty(t, repo.store.Journals())
}

func TestRecalculateRollsBackOnFailure(t *testing.T) {
	t.Run("amount mismatch", func(t *testing.T) {
		svc, repo, notifier, _ := newTestService(t, ledger.DefaultAccounts(), DefaultConfig())
		repo.seedProject(ongoingProject(), []string{"350000"}, []string{"300000"})
		reported := dec("349000")

		_, err := svc.Recalculate(context.Background(), 1, RecalcOptions{ReportedCosts: &reported})
		require.ErrorIs(t, err, ErrAmountMismatch)
		assert.Empty(t, repo.snapshots)
		assert.Empty(t, repo.store.Journals())
		assert.Empty(t, notifier.results)
	})

	t.Run("unknown wip account", func(t *testing.T) {
		accounts := ledger.DefaultAccounts()
		accounts.WIP = "9999"
		svc, repo, _, _ := newTestService(t, accounts, DefaultConfig())
		repo.seedProject(ongoingProject(), []string{"350000"}, []string{"300000"})

		_, err := svc.Recalculate(context.Background(), 1, RecalcOptions{})
		require.ErrorIs(t, err, ledger.ErrAccountNotFound)
		assert.Empty(t, repo.snapshots)
		assert.Empty(t, repo.store.Journals())
	})

	t.Run("missing project", func(t *testing.T) {
		svc, _, _, _ := newTestService(t, ledger.DefaultAccounts(), DefaultConfig())
		_, err := svc.Recalculate(context.Background(), 7, RecalcOptions{})
		var missing *projects.ProjectNotFoundError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, int64(7), missing.ProjectID)
	})
}

func TestRecalculateAllContinuesAfterFailure(t *testing.T) {
	svc, repo, _, logs := newTestService(t, ledger.DefaultAccounts(), DefaultConfig())
	for id := int64(1); id <= 3; id++ {
		p := ongoingProject()
		p.ID = id
		repo.seedProject(p, []string{"70000"}, nil)
	}
	done := ongoingProject()
	done.ID = 4
	done.Status = projects.StatusCompleted
	repo.seedProject(done, nil, nil)
	repo.failCosts[2] = errors.New("connection reset")

	result, err := svc.RecalculateAll(context.Background(), RecalcOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, result.Processed)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, int64(2), result.Failed[0].ProjectID)
	assert.ErrorContains(t, result.Failed[0].Err, "connection reset")
	assert.Len(t, repo.snapshots, 2)
	assert.Contains(t, logs.String(), "wip recalculation failed")
	assert.Contains(t, logs.String(), "project_id=2")
}

func TestRecalculateAllStopsWhenCancelled(t *testing.T) {
	svc, repo, _, _ := newTestService(t, ledger.DefaultAccounts(), DefaultConfig())
	repo.seedProject(ongoingProject(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.RecalculateAll(ctx, RecalcOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Processed)
}

func TestPostWipAdjustment(t *testing.T) {
	svc, repo, notifier, _ := newTestService(t, ledger.DefaultAccounts(), DefaultConfig())
	repo.seedProject(ongoingProject(), nil, nil)
	ctx := context.Background()

	journal, err := svc.PostWipAdjustment(ctx, 1, dec("0.01"), "rounding")
	require.NoError(t, err)
	assert.Nil(t, journal)
	assert.Empty(t, notifier.journals)

	journal, err = svc.PostWipAdjustment(ctx, 1, dec("-1250"), "write down")
	require.NoError(t, err)
	require.NotNil(t, journal)
	debit, credit := journal.Totals()
	assert.True(t, debit.Equal(credit))
	assertDecimal(t, "-1250", repo.store.Balances()["1301"])
	require.Len(t, notifier.journals, 1)
	assert.Equal(t, journal.ID, notifier.journals[0].ID)
	assert.Equal(t, ledger.KindWIPAdjustment, notifier.journals[0].Kind)
	assert.Equal(t, 2, repo.locks)

	_, err = svc.PostWipAdjustment(ctx, 2, dec("10"), "")
	assert.ErrorIs(t, err, projects.ErrProjectNotFound)
	assert.Len(t, notifier.journals, 1)
}

func TestRecalculateBooksAccumulatedSmallMoves(t *testing.T) {
	svc, repo, _, _ := newTestService(t, ledger.DefaultAccounts(), DefaultConfig())
	repo.seedProject(ongoingProject(), []string{"350000"}, nil)
	ctx := context.Background()

	first, err := svc.Recalculate(ctx, 1, RecalcOptions{})
	require.NoError(t, err)
	assertDecimal(t, "500000", first.Snapshot.WipValue)
	require.NotNil(t, first.Adjustment)

	for i := 1; i <= 100; i++ {
		repo.billings[1] = append(repo.billings[1], projects.Billing{ID: int64(i), ProjectID: 1, Amount: dec("0.01"), Status: projects.EventUnpaid})
		result, err := svc.Recalculate(ctx, 1, RecalcOptions{})
		require.NoError(t, err)
		if i == 1 {
			assert.Nil(t, result.Adjustment)
			assertDecimal(t, "-0.01", result.Delta)
		}
		if i == 2 {
			require.NotNil(t, result.Adjustment, "two cents past the last booked snapshot exceed epsilon")
			assertDecimal(t, "-0.02", result.Delta)
		}
	}

	latest, err := svc.LatestSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assertDecimal(t, "499999", latest[0].WipValue)
	drift := repo.store.Balances()["1301"].Sub(latest[0].WipValue).Abs()
	assert.True(t, drift.LessThanOrEqual(DefaultConfig().Epsilon), "ledger WIP drifted by %s", drift)
}

func TestReadsUseLatestSnapshotPerProject(t *testing.T) {
	svc, repo, _, _ := newTestService(t, ledger.DefaultAccounts(), DefaultConfig())
	ctx := context.Background()
	for id := int64(1); id <= 2; id++ {
		p := ongoingProject()
		p.ID = id
		repo.seedProject(p, nil, nil)
	}
	_, err := svc.RecordSnapshot(ctx, Snapshot{ProjectID: 1, Date: day(2024, 1, 31), AgeDays: 100, RiskScore: 80, WipValue: dec("5")})
	require.NoError(t, err)
	_, err = svc.RecordSnapshot(ctx, Snapshot{ProjectID: 1, Date: day(2024, 2, 29), AgeDays: 10, RiskScore: 10, WipValue: dec("7")})
	require.NoError(t, err)
	_, err = svc.RecordSnapshot(ctx, Snapshot{ProjectID: 2, Date: day(2024, 2, 29), AgeDays: 45, RiskScore: 45, WipValue: dec("3")})
	require.NoError(t, err)
	_, err = svc.RecordSnapshot(ctx, Snapshot{ProjectID: 9})
	require.ErrorIs(t, err, projects.ErrProjectNotFound)

	aging, err := svc.AgingBuckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, aging[0].Projects)
	assertDecimal(t, "7", aging[0].WipTotal)
	assert.Equal(t, 1, aging[1].Projects)
	assert.Equal(t, 0, aging[3].Projects)

	risk, err := svc.RiskBuckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, risk[0].Projects)
	assert.Equal(t, 1, risk[1].Projects)
	assert.Equal(t, 0, risk[2].Projects)

	trend, err := svc.Trend(ctx, 1, day(2024, 2, 1), time.Time{})
	require.NoError(t, err)
	require.Len(t, trend, 1)
	assertDecimal(t, "7", trend[0].WipValue)

	trend, err = svc.Trend(ctx, 1, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, trend, 2)
	assert.True(t, trend[0].Date.Before(trend[1].Date))
}

func TestComputeDoesNotPersist(t *testing.T) {
	svc, repo, _, _ := newTestService(t, ledger.DefaultAccounts(), DefaultConfig())
	repo.seedProject(ongoingProject(), []string{"350000"}, []string{"300000"})

	c, err := svc.Compute(context.Background(), 1, time.Time{})
	require.NoError(t, err)
	assertDecimal(t, "200000", c.WipValue)
	assert.Equal(t, day(2024, 3, 16), c.AsOf)
	assert.Empty(t, repo.snapshots)
	assert.Empty(t, repo.store.Journals())
}
