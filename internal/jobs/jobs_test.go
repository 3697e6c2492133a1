package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dbfs "github.com/garnizeh/techsync/db"
	"github.com/garnizeh/techsync/internal/db"
	"github.com/garnizeh/techsync/internal/jobs"
	"github.com/garnizeh/techsync/internal/repository/sqlite"
	"github.com/garnizeh/techsync/pkg/models"
)

func setupRepo(t *testing.T) *sqlite.SQLiteRepo {
	t.Helper()
	ctx := context.Background()
	dsn := "file:jobs_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	d, err := db.New(ctx, dsn, slog.Default())
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := db.Migrate(ctx, d, dbfs.Migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sqlite.New(d, slog.Default())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEnqueueAndProcess(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	handled := make(chan struct{}, 1)
	handlers := map[string]jobs.Handler{
		"test": func(ctx context.Context, j *models.BackgroundJob) error {
			handled <- struct{}{}
			return nil
		},
	}
	pool := jobs.NewWorkerPool(repo, handlers, slog.Default(), 1)
	pool.Start(ctx)
	defer pool.Stop()

	id, err := pool.Enqueue(ctx, "test", map[string]string{"foo": "bar"}, 10, 3)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-handled:
	case <-time.After(3 * time.Second):
		t.Fatalf("handler was not called")
	}
	waitFor(t, "job marked done", func() bool {
		j, err := repo.GetJob(ctx, id)
		return err == nil && j != nil && j.Status == jobs.StatusDone
	})
}

func TestFailingJobsAreDeadLettered(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	handlers := map[string]jobs.Handler{
		"fail":  func(ctx context.Context, j *models.BackgroundJob) error { return errors.New("boom") },
		"panic": func(ctx context.Context, j *models.BackgroundJob) error { panic("bad payload") },
	}
	pool := jobs.NewWorkerPool(repo, handlers, slog.Default(), 2)
	pool.Start(ctx)
	defer pool.Stop()

	for _, typ := range []string{"fail", "panic", "unknown"} {
		if _, err := pool.Enqueue(ctx, typ, nil, 10, 1); err != nil {
			t.Fatalf("enqueue %s: %v", typ, err)
		}
	}

	waitFor(t, "three dead letters", func() bool {
		n, err := repo.CountDeadLetters(ctx)
		return err == nil && n == 3
	})
}

func TestFailingJobIsRetried(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	var calls atomic.Int32
	handlers := map[string]jobs.Handler{
		"flaky": func(ctx context.Context, j *models.BackgroundJob) error {
			calls.Add(1)
			return errors.New("transient")
		},
	}
	pool := jobs.NewWorkerPool(repo, handlers, slog.Default(), 1)
	pool.Start(ctx)
	defer pool.Stop()

	id, err := pool.Enqueue(ctx, "flaky", nil, 10, 3)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, "job scheduled for retry", func() bool {
		j, err := repo.GetJob(ctx, id)
		return err == nil && j != nil && j.Status == jobs.StatusRetry && j.Attempts == 1 && j.LastError == "transient"
	})
	if calls.Load() != 1 {
		t.Fatalf("retry must wait for backoff, handler ran %d times", calls.Load())
	}
}

func TestBackoffDuration(t *testing.T) {
	if d := jobs.BackoffDuration(0); d != time.Second {
		t.Fatalf("attempt 0: %v", d)
	}
	if d := jobs.BackoffDuration(2); d != 4*time.Second {
		t.Fatalf("attempt 2: %v", d)
	}
	if d := jobs.BackoffDuration(64); d != 5*time.Minute {
		t.Fatalf("attempt 64 must be capped: %v", d)
	}
}

type countingRepo struct {
	mu       sync.Mutex
	enqueued []*models.BackgroundJob
}

func (c *countingRepo) Enqueue(ctx context.Context, j *models.BackgroundJob) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueued = append(c.enqueued, j)
	return int64(len(c.enqueued)), nil
}
func (c *countingRepo) FetchNext(ctx context.Context) (*models.BackgroundJob, error) { return nil, nil }
func (c *countingRepo) UpdateJob(ctx context.Context, j *models.BackgroundJob) error { return nil }
func (c *countingRepo) MoveToDeadLetter(ctx context.Context, j *models.BackgroundJob) error {
	return nil
}

func (c *countingRepo) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enqueued)
}

func TestSchedule_EnqueuesPeriodically(t *testing.T) {
	repo := &countingRepo{}
	pool := jobs.NewWorkerPool(repo, nil, slog.Default(), 1)
	pool.Schedule(context.Background(), 20*time.Millisecond, jobs.TypeSyncBatch, jobs.SyncPayload{PendingOnly: true}, 1)

	waitFor(t, "two scheduled jobs", func() bool { return repo.count() >= 2 })
	pool.Stop()
	pool.Stop()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	j := repo.enqueued[0]
	if j.Type != jobs.TypeSyncBatch || j.MaxAttempts != 1 || string(j.Payload) != `{"pending_only":true}` {
		t.Fatalf("unexpected scheduled job: %+v payload=%s", j, j.Payload)
	}
}

type fakeSyncer struct {
	got [][]models.Pair
}

func (f *fakeSyncer) SyncBatch(ctx context.Context, pairs []models.Pair) []models.SyncOutcome {
	f.got = append(f.got, pairs)
	out := make([]models.SyncOutcome, len(pairs))
	for i, p := range pairs {
		out[i] = models.SyncOutcome{TicketID: p.TicketID, AssignmentResult: models.AssignmentFailed, CommentResult: models.CommentFailed, ErrorDetail: "down"}
	}
	return out
}

type fakeLister struct {
	all, pending []models.Pair
	err          error
}

func (f *fakeLister) ListAssignments(ctx context.Context) ([]models.Pair, error) { return f.all, f.err }
func (f *fakeLister) ClaimPendingSync(ctx context.Context, limit int) ([]models.Pair, error) {
	return f.pending, f.err
}

func TestSyncBatchHandler(t *testing.T) {
	ctx := context.Background()
	all := []models.Pair{{TicketID: "T-1", TechnicianName: "Ava"}, {TicketID: "T-2", TechnicianName: "Ben"}}
	pending := all[1:]
	explicit := []models.Pair{{TicketID: "T-9", TechnicianName: "Cleo"}}

	cases := []struct {
		name    string
		payload string
		want    []models.Pair
	}{
		{"explicit pairs", mustJSON(t, jobs.SyncPayload{Pairs: explicit}), explicit},
		{"empty payload syncs everything", `{}`, all},
		{"null payload syncs everything", `null`, all},
		{"pending only", mustJSON(t, jobs.SyncPayload{PendingOnly: true}), pending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			syncer := &fakeSyncer{}
			h := jobs.SyncBatchHandler(syncer, &fakeLister{all: all, pending: pending}, nil)
			// remote failures are in the outcomes, not a job error
			if err := h(ctx, &models.BackgroundJob{ID: 1, Payload: json.RawMessage(tc.payload)}); err != nil {
				t.Fatalf("handler: %v", err)
			}
			if len(syncer.got) != 1 || len(syncer.got[0]) != len(tc.want) || syncer.got[0][0] != tc.want[0] {
				t.Fatalf("synced %+v, want %+v", syncer.got, tc.want)
			}
		})
	}

	h := jobs.SyncBatchHandler(&fakeSyncer{}, &fakeLister{}, nil)
	if err := h(ctx, &models.BackgroundJob{Payload: json.RawMessage(`{"pairs":"nope"}`)}); err == nil {
		t.Fatalf("expected error for undecodable payload")
	}
	h = jobs.SyncBatchHandler(&fakeSyncer{}, &fakeLister{err: errors.New("db down")}, nil)
	if err := h(ctx, &models.BackgroundJob{Payload: json.RawMessage(`{}`)}); err == nil {
		t.Fatalf("expected error when assignments cannot be listed")
	}
	syncer := &fakeSyncer{}
	h = jobs.SyncBatchHandler(syncer, &fakeLister{}, nil)
	if err := h(ctx, &models.BackgroundJob{Payload: json.RawMessage(`{}`)}); err != nil || len(syncer.got) != 0 {
		t.Fatalf("empty store should be a no-op, err=%v calls=%d", err, len(syncer.got))
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
