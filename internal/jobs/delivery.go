package jobs

import "github.com/labstack/echo/v4"

type Handler interface {
	SubmitJob() echo.HandlerFunc
	GetJob() echo.HandlerFunc
	ListJobs() echo.HandlerFunc
}
