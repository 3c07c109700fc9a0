package jobs

import (
	"context"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/utils"
)

type UseCase interface {
	Submit(ctx context.Context, input *models.SubmitInput) (*models.TranscodeJob, error)
	GetJob(ctx context.Context, jobID string) (*models.TranscodeJob, error)
	ListJobs(ctx context.Context, pq *utils.Pagination) (*models.JobList, error)
	OutputURL(ctx context.Context, job *models.TranscodeJob) (string, error)
}
