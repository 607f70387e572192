package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/stockledger/backoffice/jobs"
)

type stubQueue struct {
	enqueued []string
}

func (s *stubQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.enqueued = append(s.enqueued, task.Type())
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubQueue) Close() error { return nil }

type stubInspector struct{}

func (stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 2, Retry: 1}, nil
}

func (stubInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "s1", Type: jobs.TaskInventoryDriftScan, NextProcessAt: time.Date(2024, 6, 5, 7, 0, 0, 0, time.UTC)}}, nil
}

func (stubInspector) Close() error { return nil }

func TestTriggerCommand(t *testing.T) {
	q := &stubQueue{}
	c := &JobsCLI{client: q, inspector: stubInspector{}}
	var out, errOut bytes.Buffer

	code := c.Command(context.Background(), []string{"trigger", jobs.TaskInventoryBaselineSeed}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	require.Equal(t, "enqueued inventory:baseline_seed id=task-1\n", out.String())
	require.Equal(t, []string{jobs.TaskInventoryBaselineSeed}, q.enqueued)

	errOut.Reset()
	code = c.Command(context.Background(), []string{"trigger", "finance:close"}, &out, &errOut)
	require.Equal(t, 1, code)
	require.Contains(t, errOut.String(), "unsupported job")
}

func TestStatsAndScheduledCommands(t *testing.T) {
	c := &JobsCLI{client: &stubQueue{}, inspector: stubInspector{}}
	var out, errOut bytes.Buffer

	require.Equal(t, 0, c.Command(context.Background(), []string{"stats"}, &out, &errOut))
	var stats QueueStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	require.Equal(t, QueueStats{Queue: "default", Pending: 2, Retry: 1}, stats)

	out.Reset()
	require.Equal(t, 0, c.Command(context.Background(), []string{"scheduled", "5"}, &out, &errOut))
	require.Equal(t, "s1\tinventory:drift_scan\t2024-06-05T07:00:00Z\n", out.String())

	require.Equal(t, 2, c.Command(context.Background(), nil, &out, &errOut))
	require.Equal(t, 2, c.Command(context.Background(), []string{"scheduled", "x"}, &out, &errOut))
}
