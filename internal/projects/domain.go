// Package projects holds the read models of projects and their billable
// events as kept by the surrounding CRUD layer.
package projects

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle stage of a project.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusOngoing   Status = "ongoing"
	StatusOnHold    Status = "on_hold"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Active reports whether the project takes part in batch WIP recalculation.
func (s Status) Active() bool {
	return s != StatusCompleted && s != StatusCancelled
}

// Project is a contract with a client.
type Project struct {
	ID         int64
	Name       string
	ClientName string
	TotalValue decimal.Decimal
	StartDate  time.Time
	EndDate    *time.Time
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Statuses of billings and project costs. The billable state machine owns the
// transitions between them.
const (
	EventPending  = "pending"
	EventUnpaid   = "unpaid"
	EventPaid     = "paid"
	EventRejected = "rejected"
)

// Billing is an invoice raised against a project.
type Billing struct {
	ID          int64
	ProjectID   int64
	Amount      decimal.Decimal
	Status      string
	PostJournal bool
	Description string
	BillingDate time.Time
}

// Rejected reports whether the billing was rejected and its journals reversed.
func (b Billing) Rejected() bool {
	return b.Status == EventRejected
}

// Cost is an expense incurred on a project.
type Cost struct {
	ID          int64
	ProjectID   int64
	Amount      decimal.Decimal
	Status      string
	PostJournal bool
	Category    string
	Description string
	CostDate    time.Time
}

// ErrProjectNotFound indicates a missing project.
var ErrProjectNotFound = errors.New("projects: project not found")

// ProjectNotFoundError names the missing project.
type ProjectNotFoundError struct {
	ProjectID int64
}

func (e *ProjectNotFoundError) Error() string {
	return fmt.Sprintf("projects: project %d not found", e.ProjectID)
}

func (e *ProjectNotFoundError) Unwrap() error {
	return ErrProjectNotFound
}
