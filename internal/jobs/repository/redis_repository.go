package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/jobs"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/go-redis/redis/v8"
)

const (
	jobKeyPrefix     = "job:"
	processingSuffix = ":processing"
	deadSuffix       = ":dead"
	// orphanField marks when a processing entry was first seen without a
	// worker having recorded its start.
	orphanField = "orphan_seen"
)

// reclaimScript moves ARGV[1] from the processing list KEYS[1] to KEYS[2] and
// rewrites the job hash KEYS[3], but only if the entry is still there.
var reclaimScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[3], 'status', ARGV[3], 'progress', ARGV[4], 'job_data', ARGV[2])
redis.call('HDEL', KEYS[3], 'orphan_seen')
redis.call('LPUSH', KEYS[2], ARGV[2])
return 1
`)

type jobRedisRepo struct {
	redisClient *redis.Client
	queueKey    string
}

func NewJobRedisRepo(redisClient *redis.Client, queueKey string) jobs.RedisRepository {
	return &jobRedisRepo{
		redisClient: redisClient,
		queueKey:    queueKey,
	}
}

func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

func (r *jobRedisRepo) processingKey() string {
	return r.queueKey + processingSuffix
}

func (r *jobRedisRepo) deadKey() string {
	return r.queueKey + deadSuffix
}

func (r *jobRedisRepo) Enqueue(ctx context.Context, job *models.TranscodeJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	pipe := r.redisClient.TxPipeline()
	r.saveJob(ctx, pipe, job, payload)
	pipe.LPush(ctx, r.queueKey, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (r *jobRedisRepo) Dequeue(ctx context.Context, timeout time.Duration) (*models.TranscodeJob, error) {
	payload, err := r.redisClient.BRPopLPush(ctx, r.queueKey, r.processingKey(), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	job := &models.TranscodeJob{}
	if err := json.Unmarshal([]byte(payload), job); err != nil {
		pipe := r.redisClient.TxPipeline()
		pipe.LRem(ctx, r.processingKey(), 1, payload)
		pipe.LPush(ctx, r.deadKey(), payload)
		if _, deadErr := pipe.Exec(ctx); deadErr != nil {
			return nil, fmt.Errorf("error unmarshalling job: %v; failed to dead-letter it: %w", err, deadErr)
		}
		return nil, fmt.Errorf("error unmarshalling job: %w", err)
	}
	job.SetRaw(payload)
	return job, nil
}

func (r *jobRedisRepo) Ack(ctx context.Context, job *models.TranscodeJob) error {
	pipe := r.redisClient.TxPipeline()
	if err := r.saveJobPipe(ctx, pipe, job); err != nil {
		return err
	}
	pipe.LRem(ctx, r.processingKey(), 1, job.Raw())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.JobID, err)
	}
	return nil
}

func (r *jobRedisRepo) Requeue(ctx context.Context, job *models.TranscodeJob) error {
	job.Status = models.JobStatusQueued
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	pipe := r.redisClient.TxPipeline()
	r.saveJob(ctx, pipe, job, payload)
	pipe.LRem(ctx, r.processingKey(), 1, job.Raw())
	pipe.LPush(ctx, r.queueKey, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", job.JobID, err)
	}
	job.SetRaw(string(payload))
	return nil
}

func (r *jobRedisRepo) DeadLetter(ctx context.Context, job *models.TranscodeJob) error {
	job.Status = models.JobStatusDead
	if job.CompletedAt.IsZero() {
		job.CompletedAt = time.Now()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	pipe := r.redisClient.TxPipeline()
	r.saveJob(ctx, pipe, job, payload)
	pipe.LRem(ctx, r.processingKey(), 1, job.Raw())
	pipe.LPush(ctx, r.deadKey(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dead-letter job %s: %w", job.JobID, err)
	}
	return nil
}

func (r *jobRedisRepo) Stalled(ctx context.Context, cutoff time.Time) ([]*models.TranscodeJob, error) {
	entries, err := r.redisClient.LRange(ctx, r.processingKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}
	var stalled []*models.TranscodeJob
	for _, raw := range entries {
		job := &models.TranscodeJob{}
		if err := json.Unmarshal([]byte(raw), job); err != nil || job.JobID == "" {
			continue
		}
		if stored, err := r.GetJob(ctx, job.JobID); err == nil {
			job = stored
		}
		deadline, err := r.deadline(ctx, job)
		if err != nil {
			return nil, err
		}
		if !deadline.Before(cutoff) {
			continue
		}
		job.SetRaw(raw)
		stalled = append(stalled, job)
	}
	return stalled, nil
}

// deadline is when a processing entry stops being owned: the end of its run
// budget once a worker recorded the start, otherwise the moment it was first
// seen here without one.
func (r *jobRedisRepo) deadline(ctx context.Context, job *models.TranscodeJob) (time.Time, error) {
	if job.Status == models.JobStatusProcessing && !job.StartedAt.IsZero() {
		return job.StartedAt.Add(job.Timeout()), nil
	}
	key := jobKey(job.JobID)
	if err := r.redisClient.HSetNX(ctx, key, orphanField, time.Now().Unix()).Err(); err != nil {
		return time.Time{}, fmt.Errorf("failed to mark job %s: %w", job.JobID, err)
	}
	seen, err := r.redisClient.HGet(ctx, key, orphanField).Int64()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read mark of job %s: %w", job.JobID, err)
	}
	return time.Unix(seen, 0), nil
}

func (r *jobRedisRepo) Reclaim(ctx context.Context, job *models.TranscodeJob, dead bool) (bool, error) {
	target := r.queueKey
	job.Status = models.JobStatusQueued
	if dead {
		target = r.deadKey()
		job.Status = models.JobStatusDead
		if job.CompletedAt.IsZero() {
			job.CompletedAt = time.Now()
		}
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}
	moved, err := reclaimScript.Run(ctx, r.redisClient,
		[]string{r.processingKey(), target, jobKey(job.JobID)},
		job.Raw(), string(payload), string(job.Status), strconv.FormatFloat(job.Progress, 'f', -1, 64),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to reclaim job %s: %w", job.JobID, err)
	}
	if moved == 0 {
		return false, nil
	}
	job.SetRaw(string(payload))
	return true, nil
}

func (r *jobRedisRepo) SaveJob(ctx context.Context, job *models.TranscodeJob) error {
	pipe := r.redisClient.TxPipeline()
	if err := r.saveJobPipe(ctx, pipe, job); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.JobID, err)
	}
	return nil
}

func (r *jobRedisRepo) saveJobPipe(ctx context.Context, pipe redis.Pipeliner, job *models.TranscodeJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	r.saveJob(ctx, pipe, job, payload)
	return nil
}

func (r *jobRedisRepo) saveJob(ctx context.Context, pipe redis.Pipeliner, job *models.TranscodeJob, payload []byte) {
	pipe.HSet(ctx, jobKey(job.JobID),
		"status", string(job.Status),
		"progress", job.Progress,
		"job_data", string(payload),
	)
	pipe.HDel(ctx, jobKey(job.JobID), orphanField)
}

func (r *jobRedisRepo) GetJob(ctx context.Context, jobID string) (*models.TranscodeJob, error) {
	fields, err := r.redisClient.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	data, ok := fields["job_data"]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	job := &models.TranscodeJob{}
	if err := json.Unmarshal([]byte(data), job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job data: %w", err)
	}
	if status, ok := fields["status"]; ok {
		job.Status = models.JobStatus(status)
	}
	if p, ok := fields["progress"]; ok {
		if progress, err := strconv.ParseFloat(p, 64); err == nil {
			job.Progress = progress
		}
	}
	return job, nil
}

func (r *jobRedisRepo) UpdateProgress(ctx context.Context, jobID string, progress float64) error {
	if err := r.redisClient.HSet(ctx, jobKey(jobID), "progress", progress).Err(); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

func (r *jobRedisRepo) QueueLength(ctx context.Context) (int64, error) {
	n, err := r.redisClient.LLen(ctx, r.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return n, nil
}
