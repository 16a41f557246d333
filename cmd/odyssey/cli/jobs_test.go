package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-projects/jobs"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeInspector struct{}

func (fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 2, Scheduled: 1}, nil
}

func (fakeInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "s1"}}, nil
}

func (fakeInspector) Close() error { return nil }

func TestTrigger(t *testing.T) {
	queue := &fakeEnqueuer{}
	c := &JobsCLI{client: queue, inspector: fakeInspector{}}

	info, err := c.Trigger(context.Background(), jobs.TaskWIPRecalculate, TriggerOptions{
		ProjectID: 4,
		AsOf:      time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskWIPRecalculate, info.Type)
	var payload jobs.WIPRecalculatePayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &payload))
	assert.Equal(t, jobs.WIPRecalculatePayload{ProjectID: 4, AsOf: "2024-05-31"}, payload)

	_, err = c.Trigger(context.Background(), jobs.TaskLedgerIntegrity, TriggerOptions{})
	require.NoError(t, err)

	_, err = c.Trigger(context.Background(), "mail:send", TriggerOptions{})
	assert.ErrorContains(t, err, "unsupported job")
	assert.Len(t, queue.tasks, 2)
	require.NoError(t, c.Close())
}

func TestInspectQueue(t *testing.T) {
	c := &JobsCLI{client: &fakeEnqueuer{}, inspector: fakeInspector{}}

	stats, err := c.InspectQueue()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)

	var out bytes.Buffer
	PrintStats(&out, stats)
	assert.Equal(t, "queue=default pending=2 active=0 scheduled=1 retry=0 failed=0\n", out.String())

	scheduled, err := c.ListScheduled(0)
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)

	_, err = (*JobsCLI)(nil).InspectQueue()
	assert.Error(t, err)
}
