package jobs

import (
	"context"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/utils"
)

// Repository keeps the long-lived job history.
type Repository interface {
	CreateJob(ctx context.Context, job *models.TranscodeJob) error
	UpdateJob(ctx context.Context, job *models.TranscodeJob) error
	GetJob(ctx context.Context, jobID string) (*models.TranscodeJob, error)
	ListJobs(ctx context.Context, pq *utils.Pagination) (*models.JobList, error)
}
