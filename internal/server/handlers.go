package server

import (
	"net/http"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/jobs"
	jobsHttp "github.com/amankumarsingh77/av1-transcode-queue/internal/jobs/delivery/http"
	jobsRepository "github.com/amankumarsingh77/av1-transcode-queue/internal/jobs/repository"
	jobsUsecase "github.com/amankumarsingh77/av1-transcode-queue/internal/jobs/usecase"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/middleware"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/utils"
	"github.com/labstack/echo/v4"
)

func (s *Server) MapHandlers(e *echo.Echo) error {
	var jobRepo jobs.Repository
	if s.db != nil {
		jobRepo = jobsRepository.NewJobRepo(s.db)
	}
	var awsRepo jobs.AWSRepository
	if s.s3Client != nil && s.preSignClient != nil {
		awsRepo = jobsRepository.NewAwsRepository(s.s3Client, s.preSignClient)
	}
	redisRepo := jobsRepository.NewJobRedisRepo(s.redisClient, s.cfg.Redis.JobQueueKey)

	jobsUC := jobsUsecase.NewJobsUseCase(s.cfg, jobRepo, redisRepo, awsRepo, s.logger)
	jobHandlers := jobsHttp.NewJobHandler(jobsUC, s.logger)

	mw := middleware.NewMiddlewareManager(s.cfg, s.logger)

	v1 := e.Group("/api/v1")
	health := v1.Group("/health")
	jobGroup := v1.Group("/jobs")

	jobsHttp.MapJobRoutes(jobGroup, jobHandlers, mw)
	health.GET("", func(c echo.Context) error {
		s.logger.Debugf("Health check RequestID: %s", utils.GetRequestID(c))
		queued, err := redisRepo.QueueLength(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "redis unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "OK", "queued": queued})
	})
	return nil
}
