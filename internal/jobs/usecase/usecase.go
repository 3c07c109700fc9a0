package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/config"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/jobs"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/transcode"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/utils"
	"github.com/google/uuid"
)

const outputURLExpiry = time.Hour

type jobsUC struct {
	cfg       *config.Config
	jobRepo   jobs.Repository
	redisRepo jobs.RedisRepository
	awsRepo   jobs.AWSRepository
	logger    logger.Logger
}

// NewJobsUseCase wires the submission side of the queue. jobRepo and awsRepo
// may be nil when Postgres or S3 are not configured.
func NewJobsUseCase(
	cfg *config.Config,
	jobRepo jobs.Repository,
	redisRepo jobs.RedisRepository,
	awsRepo jobs.AWSRepository,
	log logger.Logger,
) jobs.UseCase {
	return &jobsUC{
		cfg:       cfg,
		jobRepo:   jobRepo,
		redisRepo: redisRepo,
		awsRepo:   awsRepo,
		logger:    log,
	}
}

func (u *jobsUC) Submit(ctx context.Context, input *models.SubmitInput) (*models.TranscodeJob, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: input is nil", jobs.ErrInvalidInput)
	}
	if err := utils.ValidateStruct(ctx, input); err != nil {
		u.logger.Errorf("Submit - ValidateStruct error: %v", err)
		return nil, fmt.Errorf("%w: %v", jobs.ErrInvalidInput, err)
	}

	output := input.OutputPath
	if output == "" {
		output = utils.DefaultOutputPath(input.InputPath)
	}
	for field, p := range map[string]string{
		"input_path":  input.InputPath,
		"output_path": output,
		"config_path": input.ConfigPath,
	} {
		if err := u.checkLocalPath(field, p); err != nil {
			u.logger.Warnf("Submit - rejected path: %v", err)
			return nil, err
		}
	}
	configPath := input.ConfigPath
	if configPath == "" {
		configPath = u.cfg.Worker.EncodingConfig
	}
	timeout := input.Timeout
	if timeout == 0 {
		timeout = int64(models.DefaultJobTimeout / time.Second)
	}

	job := &models.TranscodeJob{
		JobID:          uuid.New().String(),
		InputPath:      input.InputPath,
		OutputPath:     output,
		ConfigPath:     configPath,
		TimeoutSeconds: timeout,
		MaxAttempts:    u.cfg.Worker.MaxAttempts,
		Status:         models.JobStatusQueued,
		EnqueuedAt:     time.Now().UTC(),
	}
	if err := utils.ValidateStruct(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: %v", jobs.ErrInvalidInput, err)
	}

	if err := u.redisRepo.Enqueue(ctx, job); err != nil {
		u.logger.Errorf("Submit - Enqueue error: %v", err)
		return nil, err
	}
	if u.jobRepo != nil {
		if err := u.jobRepo.CreateJob(ctx, job); err != nil {
			u.logger.Warnf("Job %s queued but not recorded in history: %v", job.JobID, err)
		}
	}

	u.logger.Infof("Queued job %s: %s -> %s", job.JobID, job.InputPath, job.OutputPath)
	return job, nil
}

// checkLocalPath rejects a local path outside worker.allowedRoots. Object
// store paths and an empty allow list pass.
func (u *jobsUC) checkLocalPath(field, p string) error {
	roots := u.cfg.Worker.AllowedRoots
	if len(roots) == 0 || p == "" {
		return nil
	}
	if _, _, ok := transcode.ParseS3URI(p); ok {
		return nil
	}
	if !utils.WithinRoots(p, roots) {
		return fmt.Errorf("%w: %s %q is outside the allowed roots", jobs.ErrInvalidInput, field, p)
	}
	return nil
}

func (u *jobsUC) GetJob(ctx context.Context, jobID string) (*models.TranscodeJob, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("%w: job id %q", jobs.ErrInvalidInput, jobID)
	}
	job, err := u.redisRepo.GetJob(ctx, jobID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, jobs.ErrJobNotFound) || u.jobRepo == nil {
		return nil, err
	}
	return u.jobRepo.GetJob(ctx, jobID)
}

func (u *jobsUC) ListJobs(ctx context.Context, pq *utils.Pagination) (*models.JobList, error) {
	if u.jobRepo == nil {
		return nil, jobs.ErrHistoryDisabled
	}
	return u.jobRepo.ListJobs(ctx, pq)
}

// OutputURL returns a short-lived download link for a finished job whose
// output went to the object store.
func (u *jobsUC) OutputURL(ctx context.Context, job *models.TranscodeJob) (string, error) {
	bucket, key, ok := transcode.ParseS3URI(job.OutputPath)
	if !ok || u.awsRepo == nil {
		return "", jobs.ErrNotObjectOutput
	}
	if job.Status != models.JobStatusCompleted {
		return "", fmt.Errorf("job %s is %s", job.JobID, job.Status)
	}
	return u.awsRepo.PresignGet(ctx, bucket, key, outputURLExpiry)
}
