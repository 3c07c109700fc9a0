package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/jobs"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/utils"
	"github.com/jmoiron/sqlx"
)

type jobRepo struct {
	db *sqlx.DB
}

func NewJobRepo(db *sqlx.DB) jobs.Repository {
	return &jobRepo{
		db: db,
	}
}

func (r *jobRepo) CreateJob(ctx context.Context, job *models.TranscodeJob) error {
	if _, err := r.db.ExecContext(
		ctx,
		createJobQuery,
		job.JobID,
		job.InputPath,
		job.OutputPath,
		job.ConfigPath,
		job.TimeoutSeconds,
		job.Attempts,
		job.MaxAttempts,
		job.Status,
		job.Progress,
		job.Outcome,
		job.Error,
		job.EnqueuedAt,
		job.StartedAt,
		job.CompletedAt,
	); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *jobRepo) UpdateJob(ctx context.Context, job *models.TranscodeJob) error {
	res, err := r.db.ExecContext(
		ctx,
		updateJobQuery,
		job.Attempts,
		job.Status,
		job.Progress,
		job.Outcome,
		job.Error,
		job.StartedAt,
		job.CompletedAt,
		job.JobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

func (r *jobRepo) GetJob(ctx context.Context, jobID string) (*models.TranscodeJob, error) {
	job := &models.TranscodeJob{}
	if err := r.db.QueryRowxContext(ctx, getJobByIDQuery, jobID).StructScan(job); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by id: %w", err)
	}
	return job, nil
}

func (r *jobRepo) ListJobs(ctx context.Context, pq *utils.Pagination) (*models.JobList, error) {
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, getTotalJobsQuery); err != nil {
		return nil, fmt.Errorf("failed to get total jobs count: %w", err)
	}
	if totalCount == 0 {
		return &models.JobList{
			Jobs:     make([]*models.TranscodeJob, 0),
			Page:     pq.GetPage(),
			PageSize: pq.GetSize(),
		}, nil
	}

	rows, err := r.db.QueryxContext(
		ctx,
		fmt.Sprintf(getJobsQuery, pq.GetOrderBy()),
		pq.GetOffset(),
		pq.GetLimit(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	list := make([]*models.TranscodeJob, 0, pq.GetSize())
	for rows.Next() {
		var job models.TranscodeJob
		if err = rows.StructScan(&job); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		list = append(list, &job)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}
	return &models.JobList{
		Jobs:       list,
		TotalCount: totalCount,
		TotalPages: utils.GetTotalPages(totalCount, pq.GetSize()),
		Page:       pq.GetPage(),
		PageSize:   pq.GetSize(),
		HasMore:    utils.GetHasMore(pq.GetPage(), totalCount, pq.GetSize()),
	}, nil
}
