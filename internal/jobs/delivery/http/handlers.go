package http

import (
	"errors"
	"net/http"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/jobs"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/middleware"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/utils"
	"github.com/labstack/echo/v4"
)

type jobHandler struct {
	jobsUC jobs.UseCase
	logger logger.Logger
}

func NewJobHandler(jobsUC jobs.UseCase, log logger.Logger) jobs.Handler {
	return &jobHandler{
		jobsUC: jobsUC,
		logger: log,
	}
}

type jobResponse struct {
	*models.TranscodeJob
	DownloadURL string `json:"download_url,omitempty"`
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, jobs.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrHistoryDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (h *jobHandler) SubmitJob() echo.HandlerFunc {
	return func(c echo.Context) error {
		input := &models.SubmitInput{}
		if err := c.Bind(input); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
		}
		job, err := h.jobsUC.Submit(c.Request().Context(), input)
		if err != nil {
			h.logger.Errorf("SubmitJob RequestID: %s, ERROR: %v", utils.GetRequestID(c), err)
			return c.JSON(errorStatus(err), map[string]string{"error": err.Error()})
		}
		if client := middleware.ClientFromCtx(c); client != "" {
			h.logger.Infof("Job %s submitted by %s", job.JobID, client)
		}
		return c.JSON(http.StatusAccepted, job)
	}
}

func (h *jobHandler) GetJob() echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		job, err := h.jobsUC.GetJob(ctx, c.Param("job_id"))
		if err != nil {
			return c.JSON(errorStatus(err), map[string]string{"error": err.Error()})
		}

		res := jobResponse{TranscodeJob: job}
		if job.Status == models.JobStatusCompleted {
			url, err := h.jobsUC.OutputURL(ctx, job)
			switch {
			case err == nil:
				res.DownloadURL = url
			case !errors.Is(err, jobs.ErrNotObjectOutput):
				h.logger.Warnf("GetJob RequestID: %s, no download link for %s: %v", utils.GetRequestID(c), job.JobID, err)
			}
		}
		return c.JSON(http.StatusOK, res)
	}
}

func (h *jobHandler) ListJobs() echo.HandlerFunc {
	return func(c echo.Context) error {
		pagination, err := utils.GetPaginationFromCtx(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		list, err := h.jobsUC.ListJobs(c.Request().Context(), pagination)
		if err != nil {
			return c.JSON(errorStatus(err), map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, list)
	}
}
