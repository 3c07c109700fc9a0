package middleware

import (
	"github.com/amankumarsingh77/av1-transcode-queue/internal/config"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
)

type MiddlewareManager struct {
	cfg    *config.Config
	logger logger.Logger
}

func NewMiddlewareManager(cfg *config.Config, logger logger.Logger) *MiddlewareManager {
	return &MiddlewareManager{cfg: cfg, logger: logger}
}

// AuthEnabled reports whether a signing secret is configured. Without one
// the API is open, which is how single-host deployments run it.
func (mw *MiddlewareManager) AuthEnabled() bool {
	return mw.cfg.Server.JwtSecretKey != ""
}
