package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-projects/internal/platform/db"
)

// Store loads projects, billings and costs.
type Store struct {
	q db.Querier
}

// NewStore binds the queries to a pool or transaction.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

const projectColumns = `id, name, client_name, total_value, start_date, end_date, status, created_at, updated_at`

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, id int64) (Project, error) {
	return s.loadProject(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
}

// LockProject loads a project and holds its row lock until the transaction
// ends. Writers of a project's valuation take it first.
func (s *Store) LockProject(ctx context.Context, id int64) (Project, error) {
	return s.loadProject(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) loadProject(ctx context.Context, query string, id int64) (Project, error) {
	var p Project
	err := s.q.QueryRow(ctx, query, id).
		Scan(&p.ID, &p.Name, &p.ClientName, &p.TotalValue, &p.StartDate, &p.EndDate, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, &ProjectNotFoundError{ProjectID: id}
		}
		return Project{}, err
	}
	return p, nil
}

// ListBillings returns every billing of a project.
func (s *Store) ListBillings(ctx context.Context, projectID int64) ([]Billing, error) {
	rows, err := s.q.Query(ctx, `SELECT id, project_id, amount, status, post_journal, description, billing_date
FROM billings WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Billing
	for rows.Next() {
		var b Billing
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Amount, &b.Status, &b.PostJournal, &b.Description, &b.BillingDate); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListCosts returns every cost of a project.
func (s *Store) ListCosts(ctx context.Context, projectID int64) ([]Cost, error) {
	rows, err := s.q.Query(ctx, `SELECT id, project_id, amount, status, post_journal, category, description, cost_date
FROM project_costs WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Cost
	for rows.Next() {
		var c Cost
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Amount, &c.Status, &c.PostJournal, &c.Category, &c.Description, &c.CostDate); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ActiveProjectIDs lists projects that are neither completed nor cancelled.
func (s *Store) ActiveProjectIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.q.Query(ctx, `SELECT id FROM projects WHERE status NOT IN ('completed','cancelled') ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateProject inserts a project. Used by seeding and fixtures.
func (s *Store) CreateProject(ctx context.Context, p Project) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO projects (name, client_name, total_value, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, p.Name, p.ClientName, p.TotalValue, p.StartDate, p.EndDate, string(p.Status)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create project: %w", err)
	}
	return id, nil
}

// CreateBilling inserts a pending billing.
func (s *Store) CreateBilling(ctx context.Context, b Billing) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO billings (project_id, amount, post_journal, description, billing_date)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, b.ProjectID, b.Amount, b.PostJournal, b.Description, b.BillingDate).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create billing: %w", err)
	}
	return id, nil
}

// CreateCost inserts a pending cost.
func (s *Store) CreateCost(ctx context.Context, c Cost) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO project_costs (project_id, amount, post_journal, category, description, cost_date)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, c.ProjectID, c.Amount, c.PostJournal, c.Category, c.Description, c.CostDate).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create cost: %w", err)
	}
	return id, nil
}
