package jobs

import (
	"context"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
)

// RedisRepository is the work queue. Dequeued jobs sit on a processing list
// until they are acknowledged, requeued or dead-lettered.
type RedisRepository interface {
	Enqueue(ctx context.Context, job *models.TranscodeJob) error
	// Dequeue blocks for up to timeout and returns nil, nil when the queue
	// stayed empty.
	Dequeue(ctx context.Context, timeout time.Duration) (*models.TranscodeJob, error)
	Ack(ctx context.Context, job *models.TranscodeJob) error
	Requeue(ctx context.Context, job *models.TranscodeJob) error
	DeadLetter(ctx context.Context, job *models.TranscodeJob) error
	// Stalled returns processing entries whose owner should have finished
	// before cutoff, with Raw set for Reclaim.
	Stalled(ctx context.Context, cutoff time.Time) ([]*models.TranscodeJob, error)
	// Reclaim moves a stalled job back onto the queue, or onto the dead list
	// when dead is set. It reports false if the entry was already gone.
	Reclaim(ctx context.Context, job *models.TranscodeJob, dead bool) (bool, error)

	SaveJob(ctx context.Context, job *models.TranscodeJob) error
	GetJob(ctx context.Context, jobID string) (*models.TranscodeJob, error)
	UpdateProgress(ctx context.Context, jobID string, progress float64) error
	QueueLength(ctx context.Context) (int64, error)
}
