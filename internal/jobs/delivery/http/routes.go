package http

import (
	"github.com/amankumarsingh77/av1-transcode-queue/internal/jobs"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/middleware"
	"github.com/labstack/echo/v4"
)

func MapJobRoutes(jobGroup *echo.Group, h jobs.Handler, mw *middleware.MiddlewareManager) {
	if mw.AuthEnabled() {
		jobGroup.Use(mw.AuthJWTMiddleware())
	}
	jobGroup.POST("", h.SubmitJob())
	jobGroup.GET("", h.ListJobs())
	jobGroup.GET("/:job_id", h.GetJob())
}
