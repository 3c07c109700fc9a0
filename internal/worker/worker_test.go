package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/config"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/failure"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/jobs"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/jobs/repository"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/runner"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/transcode"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
	"github.com/go-redis/redis/v8"
)

const queueKey = "q"

// scriptedRunner returns the queued reports in order. A nil entry blocks
// until the job context ends and reports an interrupt.
type scriptedRunner struct {
	mu      sync.Mutex
	reports []*transcode.Report
	slots   []string
	calls   int
}

func (r *scriptedRunner) Run(ctx context.Context, slot string, job *models.TranscodeJob, opts ...runner.Option) transcode.Report {
	r.mu.Lock()
	i := r.calls
	r.calls++
	r.slots = append(r.slots, slot)
	var rep *transcode.Report
	if i < len(r.reports) {
		rep = r.reports[i]
	}
	r.mu.Unlock()

	if rep == nil {
		<-ctx.Done()
		return transcode.Report{Outcome: transcode.OutcomeInterrupted, Output: job.OutputPath}
	}
	return *rep
}

func (r *scriptedRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type harness struct {
	mr     *miniredis.Miniredis
	queue  jobs.RedisRepository
	cfg    *config.Config
	runner *scriptedRunner
	worker *Worker
}

func newHarness(t *testing.T, reports ...*transcode.Report) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Default()
	cfg.Worker.MaxAttempts = 2
	h := &harness{
		mr:     mr,
		queue:  repository.NewJobRedisRepo(client, queueKey),
		cfg:    cfg,
		runner: &scriptedRunner{reports: reports},
	}
	h.worker = NewWorker(cfg, logger.NewNop(), h.queue, h.runner,
		WithCPUGate(func(float64) (bool, float64) { return true, 1 }),
		WithPollTimeout(time.Second),
		WithCheckInterval(time.Millisecond),
	)
	return h
}

func (h *harness) enqueue(t *testing.T, id string, timeout int64) *models.TranscodeJob {
	t.Helper()
	job := &models.TranscodeJob{
		JobID:          id,
		InputPath:      "/media/" + id + ".mp4",
		OutputPath:     "/media/" + id + ".av1.mp4",
		TimeoutSeconds: timeout,
		MaxAttempts:    2,
		Status:         models.JobStatusQueued,
	}
	if err := h.queue.Enqueue(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	got, err := h.queue.Dequeue(context.Background(), time.Second)
	if err != nil || got == nil {
		t.Fatalf("Dequeue: %v, %v", got, err)
	}
	return got
}

func (h *harness) length(key string) int {
	if !h.mr.Exists(key) {
		return 0
	}
	items, _ := h.mr.List(key)
	return len(items)
}

func (h *harness) stored(t *testing.T, id string) *models.TranscodeJob {
	t.Helper()
	job, err := h.queue.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return job
}

func TestProcessSuccess(t *testing.T) {
	h := newHarness(t, &transcode.Report{Outcome: transcode.OutcomeSuccess})
	job := h.enqueue(t, "a", 0)
	h.worker.Process(context.Background(), "slot-0", job)

	got := h.stored(t, "a")
	if got.Status != models.JobStatusCompleted || got.Progress != 1 || got.Attempts != 1 || got.Outcome != "success" {
		t.Errorf("job = %+v", got)
	}
	if h.length(queueKey+":processing") != 0 || h.length(queueKey) != 0 {
		t.Error("job left on a queue list")
	}
}

func TestRetryableFailureIsRetriedThenDeadLettered(t *testing.T) {
	fail := &transcode.Report{Outcome: transcode.OutcomeRuntimeFailure, Err: failure.Runtime("video_encoder", errors.New("boom"), "")}
	h := newHarness(t, fail, fail)
	job := h.enqueue(t, "a", 0)

	h.worker.Process(context.Background(), "slot-0", job)
	if h.length(queueKey) != 1 {
		t.Fatal("retryable failure not requeued")
	}
	got := h.stored(t, "a")
	if got.Status != models.JobStatusQueued || got.Attempts != 1 || got.Error == "" {
		t.Errorf("after first failure: %+v", got)
	}

	job, _ = h.queue.Dequeue(context.Background(), time.Second)
	h.worker.Process(context.Background(), "slot-0", job)
	if h.length(queueKey) != 0 || h.length(queueKey+":dead") != 1 {
		t.Fatal("job not dead-lettered after max attempts")
	}
	if got := h.stored(t, "a"); got.Status != models.JobStatusDead || got.Attempts != 2 {
		t.Errorf("after second failure: %+v", got)
	}
}

func TestBuildFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, &transcode.Report{Outcome: transcode.OutcomeBuildFailure, Err: failure.Build("instantiate", errors.New("no svtav1enc"))})
	job := h.enqueue(t, "a", 0)
	h.worker.Process(context.Background(), "slot-0", job)

	got := h.stored(t, "a")
	if got.Status != models.JobStatusFailed || got.CompletedAt.IsZero() {
		t.Errorf("job = %+v", got)
	}
	if h.length(queueKey) != 0 || h.length(queueKey+":processing") != 0 || h.length(queueKey+":dead") != 0 {
		t.Error("non-retryable failure left on a list")
	}
}

func TestBusyWorkspaceIsRequeued(t *testing.T) {
	busy := &transcode.Report{Outcome: transcode.OutcomeWorkspaceFailure, Err: failure.Busy("lock", errors.New("workspace in use"))}
	h := newHarness(t, busy)
	job := h.enqueue(t, "a", 0)
	h.worker.Process(context.Background(), "slot-0", job)

	if got := h.stored(t, "a"); got.Status != models.JobStatusQueued || got.Attempts != 1 {
		t.Errorf("job = %+v", got)
	}
	if h.length(queueKey) != 1 || h.length(queueKey+":processing") != 0 {
		t.Error("job on a busy workspace not requeued")
	}
}

func TestTimeoutCountsAsRetryable(t *testing.T) {
	h := newHarness(t, nil)
	job := h.enqueue(t, "a", 1)
	rep := h.worker.Process(context.Background(), "slot-0", job)
	if rep.Outcome != transcode.OutcomeInterrupted {
		t.Fatalf("outcome = %s", rep.Outcome)
	}
	got := h.stored(t, "a")
	if got.Status != models.JobStatusQueued || got.Attempts != 1 || got.Error != "timed out after 1s" {
		t.Errorf("job = %+v", got)
	}
}

func TestShutdownRequeuesWithoutSpendingAnAttempt(t *testing.T) {
	h := newHarness(t, nil)
	job := h.enqueue(t, "a", 0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	h.worker.Process(ctx, "slot-0", job)

	got := h.stored(t, "a")
	if got.Status != models.JobStatusQueued || got.Attempts != 0 {
		t.Errorf("job = %+v", got)
	}
	if h.length(queueKey) != 1 || h.length(queueKey+":processing") != 0 {
		t.Error("interrupted job not back on the queue")
	}
}

func TestRunProcessesQueueUntilCancelled(t *testing.T) {
	h := newHarness(t, &transcode.Report{Outcome: transcode.OutcomeSuccess})
	if err := h.queue.Enqueue(context.Background(), &models.TranscodeJob{JobID: "a", InputPath: "a.mp4", OutputPath: "a.av1.mp4", Status: models.JobStatusQueued}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.worker.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for h.runner.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never picked up")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if h.runner.slots[0] != "slot-0" {
		t.Errorf("slot = %s", h.runner.slots[0])
	}
	if got := h.stored(t, "a"); got.Status != models.JobStatusCompleted {
		t.Errorf("job = %+v", got)
	}
}

func TestBusyCPUHoldsOffDequeue(t *testing.T) {
	h := newHarness(t)
	h.worker.cpuGate = func(float64) (bool, float64) { return false, 99 }
	if err := h.queue.Enqueue(context.Background(), &models.TranscodeJob{JobID: "a", InputPath: "a.mp4", OutputPath: "a.av1.mp4", Status: models.JobStatusQueued}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = h.worker.Run(ctx)
	if h.runner.count() != 0 || h.length(queueKey) != 1 {
		t.Error("job pulled while CPU was busy")
	}
}

func (h *harness) abandon(t *testing.T, id string, attempts int) {
	t.Helper()
	job := h.enqueue(t, id, 1)
	job.Status = models.JobStatusProcessing
	job.Attempts = attempts
	job.StartedAt = time.Now().Add(-time.Hour)
	if err := h.queue.SaveJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
}

func TestReclaimAbandonedJobs(t *testing.T) {
	h := newHarness(t)
	h.abandon(t, "a", 1)
	h.abandon(t, "b", 2)
	h.enqueue(t, "c", 0)

	n, err := h.worker.Reclaim(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Reclaim = %d, %v", n, err)
	}
	if h.length(queueKey) != 1 || h.length(queueKey+":dead") != 1 || h.length(queueKey+":processing") != 1 {
		t.Fatal("abandoned jobs not settled")
	}
	if got := h.stored(t, "a"); got.Status != models.JobStatusQueued || got.Attempts != 1 || got.Outcome != "abandoned" {
		t.Errorf("a = %+v", got)
	}
	if got := h.stored(t, "b"); got.Status != models.JobStatusDead || got.Error == "" {
		t.Errorf("b = %+v", got)
	}

	if n, err := h.worker.Reclaim(context.Background()); err != nil || n != 0 {
		t.Errorf("second Reclaim = %d, %v", n, err)
	}
}
