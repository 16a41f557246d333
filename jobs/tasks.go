package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWIPRecalculate recalculates WIP for one project or, without a
	// project id, for every active project.
	TaskWIPRecalculate = "wip:recalculate"
	// TaskLedgerIntegrity scans the ledger for unbalanced journals.
	TaskLedgerIntegrity = "ledger:integrity"
)

// WIPRecalculatePayload scopes a recalculation run.
type WIPRecalculatePayload struct {
	// ProjectID is zero for a batch over all active projects.
	ProjectID int64  `json:"project_id,omitempty"`
	AsOf      string `json:"as_of,omitempty"`
}

// All reports whether the payload requests the batch run.
func (p WIPRecalculatePayload) All() bool {
	return p.ProjectID == 0
}

func (p WIPRecalculatePayload) asOf() (time.Time, error) {
	if p.AsOf == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, p.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as_of %q: %w", p.AsOf, err)
	}
	return t, nil
}

// NewWIPRecalculateTask constructs the recalculation task.
func NewWIPRecalculateTask(payload WIPRecalculatePayload) (*asynq.Task, error) {
	if payload.ProjectID < 0 {
		return nil, fmt.Errorf("jobs: invalid project id %d", payload.ProjectID)
	}
	if _, err := payload.asOf(); err != nil {
		return nil, fmt.Errorf("jobs: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWIPRecalculate, data), nil
}

// LedgerIntegrityPayload is empty today; the scan always covers the whole ledger.
type LedgerIntegrityPayload struct{}

// NewLedgerIntegrityTask constructs the integrity scan task.
func NewLedgerIntegrityTask() (*asynq.Task, error) {
	data, err := json.Marshal(LedgerIntegrityPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}
