package repository

const (
	createJobQuery = `INSERT INTO transcode_jobs (job_id, input_path, output_path, config_path, timeout_seconds,
					attempts, max_attempts, status, progress, outcome, error, enqueued_at, started_at, completed_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	updateJobQuery = `UPDATE transcode_jobs
					SET attempts = $1, status = $2, progress = $3, outcome = $4, error = $5,
					    started_at = $6, completed_at = $7
					WHERE job_id = $8`
	getJobByIDQuery = `SELECT job_id, input_path, output_path, config_path, timeout_seconds, attempts, max_attempts,
					status, progress, outcome, error, enqueued_at, started_at, completed_at
					FROM transcode_jobs WHERE job_id = $1`
	getTotalJobsQuery = `SELECT COUNT(job_id) FROM transcode_jobs`
	// %s is the order column, checked against a fixed list by the pagination helper.
	getJobsQuery = `SELECT job_id, input_path, output_path, config_path, timeout_seconds, attempts, max_attempts,
					status, progress, outcome, error, enqueued_at, started_at, completed_at
					FROM transcode_jobs ORDER BY %s DESC OFFSET $1 LIMIT $2`
)
