package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasentinel/complaint-engine/internal/database"
)

type stubHandler struct {
	name string
	err  error
	runs atomic.Int64
	done chan struct{}
}

func (h *stubHandler) Execute(context.Context) error {
	h.runs.Add(1)
	if h.done != nil {
		close(h.done)
	}
	return h.err
}

func (h *stubHandler) Name() string        { return h.name }
func (h *stubHandler) Description() string { return "stub task" }

func TestScheduler_Register(t *testing.T) {
	s := New(slog.Default())

	require.NoError(t, s.Register("0 */5 * * * *", &stubHandler{name: "task-a"}))

	t.Run("duplicate names are refused", func(t *testing.T) {
		err := s.Register("0 */5 * * * *", &stubHandler{name: "task-a"})
		assert.Error(t, err)
	})

	t.Run("bad cron expressions are refused", func(t *testing.T) {
		err := s.Register("not a schedule", &stubHandler{name: "task-b"})
		assert.Error(t, err)
	})

	t.Run("snapshot lists the registered task", func(t *testing.T) {
		tasks := s.Tasks()
		require.Len(t, tasks, 1)
		assert.Equal(t, "task-a", tasks[0].Name)
		assert.Equal(t, "0 */5 * * * *", tasks[0].Schedule)
		assert.Zero(t, tasks[0].RunCount)
	})
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(slog.Default())

	t.Run("unknown task is an error", func(t *testing.T) {
		assert.Error(t, s.RunNow("no-such-task"))
	})

	t.Run("runs the task and tracks statistics", func(t *testing.T) {
		handler := &stubHandler{name: "task-a", done: make(chan struct{})}
		require.NoError(t, s.Register("0 0 3 * * *", handler))

		require.NoError(t, s.RunNow("task-a"))
		select {
		case <-handler.done:
		case <-time.After(2 * time.Second):
			t.Fatal("task did not run")
		}

		assert.Eventually(t, func() bool {
			for _, task := range s.Tasks() {
				if task.Name == "task-a" {
					return task.RunCount == 1 && !task.LastRun.IsZero()
				}
			}
			return false
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("handler errors count against the task", func(t *testing.T) {
		handler := &stubHandler{name: "task-err", err: errors.New("boom"), done: make(chan struct{})}
		require.NoError(t, s.Register("0 0 3 * * *", handler))

		require.NoError(t, s.RunNow("task-err"))
		select {
		case <-handler.done:
		case <-time.After(2 * time.Second):
			t.Fatal("task did not run")
		}

		assert.Eventually(t, func() bool {
			for _, task := range s.Tasks() {
				if task.Name == "task-err" {
					return task.ErrorCount == 1
				}
			}
			return false
		}, 2*time.Second, 10*time.Millisecond)
	})
}

type fakeLister struct {
	pending []*database.Complaint
	err     error
}

func (f *fakeLister) ListPendingDispatch(context.Context, time.Duration, int) ([]*database.Complaint, error) {
	return f.pending, f.err
}

type fakeDispatcher struct {
	errs  map[string]error
	calls []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, complaintID string, _ *string, _ database.Role) (*database.Complaint, error) {
	f.calls = append(f.calls, complaintID)
	if err, ok := f.errs[complaintID]; ok {
		return nil, err
	}
	return &database.Complaint{ID: complaintID, Status: database.StatusAssigned}, nil
}

func TestDispatchRetryHandler_Execute(t *testing.T) {
	logger := slog.Default()
	pending := []*database.Complaint{{ID: "c-1"}, {ID: "c-2"}, {ID: "c-3"}}

	t.Run("dispatches every aged pending complaint", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		h := NewDispatchRetryHandler(&fakeLister{pending: pending}, dispatcher, time.Hour, 100, logger)

		require.NoError(t, h.Execute(context.Background()))
		assert.Equal(t, []string{"c-1", "c-2", "c-3"}, dispatcher.calls)
	})

	t.Run("stops early when still no eligible officer", func(t *testing.T) {
		dispatcher := &fakeDispatcher{errs: map[string]error{"c-1": database.ErrNoEligibleOfficer}}
		h := NewDispatchRetryHandler(&fakeLister{pending: pending}, dispatcher, time.Hour, 100, logger)

		require.NoError(t, h.Execute(context.Background()))
		assert.Equal(t, []string{"c-1"}, dispatcher.calls)
	})

	t.Run("skips complaints that moved on since listing", func(t *testing.T) {
		dispatcher := &fakeDispatcher{errs: map[string]error{"c-2": database.ErrInvalidTransition}}
		h := NewDispatchRetryHandler(&fakeLister{pending: pending}, dispatcher, time.Hour, 100, logger)

		require.NoError(t, h.Execute(context.Background()))
		assert.Equal(t, []string{"c-1", "c-2", "c-3"}, dispatcher.calls)
	})

	t.Run("listing failure is the task's error", func(t *testing.T) {
		h := NewDispatchRetryHandler(&fakeLister{err: errors.New("db down")}, &fakeDispatcher{}, time.Hour, 100, logger)
		assert.Error(t, h.Execute(context.Background()))
	})
}

type fakeStatsSource struct {
	stats *database.DashboardStats
	err   error
}

func (f *fakeStatsSource) GetStats(context.Context, float64) (*database.DashboardStats, error) {
	return f.stats, f.err
}

func TestStatsRefreshHandler_Execute(t *testing.T) {
	t.Run("tolerates a nil collector", func(t *testing.T) {
		h := NewStatsRefreshHandler(&fakeStatsSource{stats: &database.DashboardStats{}}, nil, 70, slog.Default())
		assert.NoError(t, h.Execute(context.Background()))
	})

	t.Run("source failure is the task's error", func(t *testing.T) {
		h := NewStatsRefreshHandler(&fakeStatsSource{err: errors.New("db down")}, nil, 70, slog.Default())
		assert.Error(t, h.Execute(context.Background()))
	})
}
