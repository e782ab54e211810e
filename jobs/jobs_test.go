package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-accounts/internal/jobs"
	"github.com/odyssey-erp/odyssey-accounts/internal/users"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueDefault}, nil
}

type fakeMailer struct {
	sent []SendEmailPayload
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg SendEmailPayload) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestLockoutNotifierEnqueuesTask(t *testing.T) {
	queue := &fakeQueue{}
	notifier := NewLockoutNotifier(queue)
	until := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	err := notifier.AccountLocked(context.Background(), users.Account{ID: "acc-1", Name: "John", Email: "john@example.com"}, until)
	require.NoError(t, err)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, TaskTypeAccountLocked, queue.tasks[0].Type())

	var payload AccountLockedPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &payload))
	assert.Equal(t, "acc-1", payload.AccountID)
	assert.True(t, payload.LockedUntil.Equal(until))
}

func TestLockoutNotifierToleratesDuplicateTask(t *testing.T) {
	notifier := NewLockoutNotifier(&fakeQueue{err: asynq.ErrTaskIDConflict})
	require.NoError(t, notifier.AccountLocked(context.Background(), users.Account{ID: "acc-1"}, time.Now()))

	notifier = NewLockoutNotifier(&fakeQueue{err: errors.New("redis down")})
	require.Error(t, notifier.AccountLocked(context.Background(), users.Account{ID: "acc-1"}, time.Now()))
}

func TestAccountLockedJobSchedulesEmail(t *testing.T) {
	queue := &fakeQueue{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewAccountLockedJob(queue, nil, metrics)

	task, err := NewAccountLockedTask(AccountLockedPayload{
		AccountID:   "acc-1",
		Email:       "john@example.com",
		Name:        "John",
		LockedUntil: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, queue.tasks, 1)
	assert.Equal(t, TaskTypeSendEmail, queue.tasks[0].Type())
	var mail SendEmailPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &mail))
	assert.Equal(t, "john@example.com", mail.To)
	assert.Contains(t, mail.Body, "Hi John")
	assert.Contains(t, mail.Body, "01 May 2026")
}

func TestAccountLockedJobSkipsRetryOnBadPayload(t *testing.T) {
	job := NewAccountLockedJob(&fakeQueue{}, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskTypeAccountLocked, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	body, _ := json.Marshal(AccountLockedPayload{AccountID: "acc-1"})
	err = job.Handle(context.Background(), asynq.NewTask(TaskTypeAccountLocked, body))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSendEmailJob(t *testing.T) {
	mailer := &fakeMailer{}
	job := NewSendEmailJob(mailer, nil)

	task, err := NewSendEmailTask(SendEmailPayload{To: "a@x.com", Subject: "hi", Body: "body"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, mailer.sent, 1)

	err = job.Handle(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte(`{"subject":"x"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	mailer.err = errors.New("smtp down")
	require.Error(t, job.Handle(context.Background(), task))
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func TestJobsHealth(t *testing.T) {
	cases := map[string]struct {
		inspector QueueInspector
		status    int
		pending   float64
	}{
		"no inspector":    {inspector: nil, status: http.StatusOK},
		"queue info":      {inspector: fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3}}, status: http.StatusOK, pending: 3},
		"queue not found": {inspector: fakeInspector{err: asynq.ErrQueueNotFound}, status: http.StatusOK},
		"redis down":      {inspector: fakeInspector{err: errors.New("dial tcp")}, status: http.StatusServiceUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Route("/jobs", NewHandler(tc.inspector, nil).MountRoutes)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
			require.Equal(t, tc.status, rr.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, QueueDefault, body["queue"])
			assert.Equal(t, tc.pending, body["pending"])
		})
	}
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	require.Error(t, err)
}
