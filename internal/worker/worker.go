// Package worker pulls jobs off the queue and runs them one at a time per
// slot, deciding after each run whether the job is done, retried or dead.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/config"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/failure"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/jobs"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/runner"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/transcode"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/utils"
)

const (
	errorBackoff    = 2 * time.Second
	settleTimeout   = 10 * time.Second
	progressTimeout = 2 * time.Second
	// reclaimGrace is how long past its deadline a processing entry is left
	// to its owner before it counts as abandoned.
	reclaimGrace = time.Minute

	outcomeAbandoned = "abandoned"
)

// JobRunner executes one job in the workspace of slot.
type JobRunner interface {
	Run(ctx context.Context, slot string, job *models.TranscodeJob, opts ...runner.Option) transcode.Report
}

// CPUGate reports whether the host has room for another encode.
type CPUGate func(maxCPUUsage float64) (bool, float64)

type Worker struct {
	cfg       *config.Config
	logger    logger.Logger
	redisRepo jobs.RedisRepository
	jobRepo   jobs.Repository
	runner    JobRunner
	cpuGate   CPUGate

	checkInterval   time.Duration
	pollTimeout     time.Duration
	reclaimInterval time.Duration
	wg              sync.WaitGroup
}

type Option func(*Worker)

// WithHistory mirrors every job state change into the Postgres history.
func WithHistory(repo jobs.Repository) Option {
	return func(w *Worker) { w.jobRepo = repo }
}

func WithCPUGate(gate CPUGate) Option {
	return func(w *Worker) { w.cpuGate = gate }
}

func WithCheckInterval(d time.Duration) Option {
	return func(w *Worker) { w.checkInterval = d }
}

func WithPollTimeout(d time.Duration) Option {
	return func(w *Worker) { w.pollTimeout = d }
}

func WithReclaimInterval(d time.Duration) Option {
	return func(w *Worker) { w.reclaimInterval = d }
}

func NewWorker(cfg *config.Config, logger logger.Logger, redisRepo jobs.RedisRepository, jobRunner JobRunner, opts ...Option) *Worker {
	w := &Worker{
		cfg:           cfg,
		logger:        logger,
		redisRepo:     redisRepo,
		runner:        jobRunner,
		cpuGate:       utils.CheckCPUUsage,
		checkInterval:   time.Duration(cfg.Worker.CheckInterval) * time.Second,
		pollTimeout:     time.Duration(cfg.Worker.PollTimeout) * time.Second,
		reclaimInterval: time.Duration(cfg.Worker.ReclaimInterval) * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.pollTimeout <= 0 {
		w.pollTimeout = time.Second
	}
	if w.reclaimInterval <= 0 {
		w.reclaimInterval = time.Minute
	}
	return w
}

// Run starts one loop per configured slot and blocks until ctx is cancelled
// and every in-flight job has been settled.
func (w *Worker) Run(ctx context.Context) error {
	count := w.cfg.Worker.WorkerCount
	if count < 1 {
		count = 1
	}
	w.logger.Infof("Starting worker with %d slot(s)", count)
	w.wg.Add(1)
	go w.reclaimLoop(ctx)
	for i := 0; i < count; i++ {
		w.wg.Add(1)
		go w.loop(ctx, fmt.Sprintf("slot-%d", i))
	}
	w.wg.Wait()
	w.logger.Info("Worker stopped")
	return nil
}

func (w *Worker) reclaimLoop(ctx context.Context) {
	defer w.wg.Done()
	for ctx.Err() == nil {
		n, err := w.Reclaim(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			w.logger.Errorf("Failed to reclaim stalled jobs: %v", err)
		case n > 0:
			w.logger.Infof("Reclaimed %d stalled job(s)", n)
		}
		sleep(ctx, w.reclaimInterval)
	}
}

// Reclaim settles jobs whose worker died mid-run: back onto the queue while
// attempts remain, otherwise onto the dead list. It returns how many jobs it
// moved.
func (w *Worker) Reclaim(ctx context.Context) (int, error) {
	stalled, err := w.redisRepo.Stalled(ctx, time.Now().Add(-reclaimGrace))
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, job := range stalled {
		if job.MaxAttempts <= 0 {
			job.MaxAttempts = w.cfg.Worker.MaxAttempts
		}
		job.Outcome = outcomeAbandoned
		job.Error = fmt.Sprintf("abandoned by its worker on attempt %d", job.Attempts)
		dead := job.Attempts >= job.MaxAttempts
		ok, err := w.redisRepo.Reclaim(ctx, job, dead)
		if err != nil {
			w.logger.Errorf("Failed to reclaim job %s: %v", job.JobID, err)
			continue
		}
		if !ok {
			continue
		}
		moved++
		if dead {
			w.logger.Errorf("Job %s abandoned after %d attempts, moved to dead letter", job.JobID, job.Attempts)
		} else {
			w.logger.Warnf("Job %s abandoned (attempt %d/%d), requeued", job.JobID, job.Attempts, job.MaxAttempts)
		}
		w.recordHistory(ctx, job)
	}
	return moved, nil
}

func (w *Worker) loop(ctx context.Context, slot string) {
	defer w.wg.Done()
	for ctx.Err() == nil {
		if ok, usage := w.cpuGate(w.cfg.Worker.MaxCPUUsage); !ok {
			w.logger.Infof("CPU usage %.2f%% too high, waiting...", usage)
			sleep(ctx, w.checkInterval)
			continue
		}

		job, err := w.redisRepo.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Errorf("Failed to fetch job: %v", err)
			sleep(ctx, errorBackoff)
			continue
		}
		if job == nil {
			continue
		}
		w.Process(ctx, slot, job)
	}
}

// Process runs a dequeued job to an outcome and settles it on the queue.
func (w *Worker) Process(ctx context.Context, slot string, job *models.TranscodeJob) transcode.Report {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = w.cfg.Worker.MaxAttempts
	}
	job.Attempts++
	job.Status = models.JobStatusProcessing
	job.StartedAt = time.Now().UTC()
	job.Progress = 0
	job.Error = ""
	if err := w.redisRepo.SaveJob(ctx, job); err != nil {
		w.logger.Warnf("Failed to mark job %s in progress: %v", job.JobID, err)
	}
	w.recordHistory(ctx, job)

	w.logger.Infof("Processing job %s (attempt %d/%d): %s -> %s", job.JobID, job.Attempts, job.MaxAttempts, job.InputPath, job.OutputPath)
	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout())
	rep := w.runner.Run(jobCtx, slot, job, runner.WithReporter(w.progressReporter(ctx, job.JobID)))
	timedOut := errors.Is(jobCtx.Err(), context.DeadlineExceeded)
	cancel()

	w.settle(ctx, job, rep, timedOut)
	return rep
}

func (w *Worker) progressReporter(ctx context.Context, jobID string) func(float64) {
	return func(ratio float64) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), progressTimeout)
		defer cancel()
		if err := w.redisRepo.UpdateProgress(pctx, jobID, ratio); err != nil {
			w.logger.Debugf("Failed to report progress of %s: %v", jobID, err)
		}
	}
}

// settle records the outcome on a context detached from shutdown.
func (w *Worker) settle(ctx context.Context, job *models.TranscodeJob, rep transcode.Report, timedOut bool) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	job.Outcome = string(rep.Outcome)
	var err error
	switch {
	case rep.Outcome == transcode.OutcomeSuccess:
		job.Status = models.JobStatusCompleted
		job.Progress = 1
		job.CompletedAt = time.Now().UTC()
		err = w.redisRepo.Ack(sctx, job)
		w.logger.Infof("Job %s: %s", job.JobID, rep.StatusLine())

	case rep.Outcome == transcode.OutcomeInterrupted && !timedOut:
		// Shutdown interrupts do not count as an attempt.
		job.Attempts--
		err = w.redisRepo.Requeue(sctx, job)
		w.logger.Warnf("Job %s interrupted by shutdown, requeued", job.JobID)

	case timedOut || failure.IsRetryable(rep.Err):
		job.Error = errorText(rep, timedOut, job.Timeout())
		if job.Attempts < job.MaxAttempts {
			err = w.redisRepo.Requeue(sctx, job)
			w.logger.Warnf("Job %s failed (attempt %d/%d), requeued: %s", job.JobID, job.Attempts, job.MaxAttempts, job.Error)
		} else {
			err = w.redisRepo.DeadLetter(sctx, job)
			w.logger.Errorf("Job %s moved to dead letter after %d attempts: %s", job.JobID, job.Attempts, job.Error)
		}

	default:
		job.Status = models.JobStatusFailed
		job.Error = errorText(rep, false, 0)
		job.CompletedAt = time.Now().UTC()
		err = w.redisRepo.Ack(sctx, job)
		w.logger.Errorf("Job %s: %s", job.JobID, rep.StatusLine())
	}
	if err != nil {
		w.logger.Errorf("Failed to settle job %s: %v", job.JobID, err)
	}
	w.recordHistory(sctx, job)
}

func errorText(rep transcode.Report, timedOut bool, timeout time.Duration) string {
	if timedOut {
		return fmt.Sprintf("timed out after %s", timeout)
	}
	if rep.Err == nil {
		return string(rep.Outcome)
	}
	return rep.Err.Error()
}

func (w *Worker) recordHistory(ctx context.Context, job *models.TranscodeJob) {
	if w.jobRepo == nil {
		return
	}
	if err := w.jobRepo.UpdateJob(ctx, job); err != nil {
		w.logger.Warnf("Failed to record job %s in history: %v", job.JobID, err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
