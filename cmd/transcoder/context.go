package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/config"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/engine/ffmpeg"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/jobs"
	jobsRepository "github.com/amankumarsingh77/av1-transcode-queue/internal/jobs/repository"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/runner"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/transcode"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/workspace"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/db/aws"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/db/postgres"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jmoiron/sqlx"
)

// errReported marks a failure whose message was already printed.
var errReported = errors.New("reported")

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	logger     logger.Logger
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads the application config once. A missing file is not an
// error; the built-in defaults and environment apply instead.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := loadConfig(path)
		if err != nil {
			c.configErr = err
			return
		}
		appLogger := logger.NewApiLogger(cfg)
		appLogger.InitLogger()
		appLogger.Debugf("AppVersion: %s, LogLevel: %s, Mode: %s", cfg.Server.AppVersion, cfg.Logger.Level, cfg.Server.Mode)
		c.config = cfg
		c.logger = appLogger
	})
	return c.config, c.configErr
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	v, err := config.LoadConfig(path)
	if errors.Is(err, config.ErrConfigNotFound) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loadConfig: %w", err)
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		return nil, fmt.Errorf("parseConfig: %w", err)
	}
	return cfg, nil
}

func (c *commandContext) cfg() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) log() logger.Logger {
	if _, err := c.ensureConfig(); err != nil || c.logger == nil {
		return logger.NewNop()
	}
	return c.logger
}

// s3Clients connects to the object store when one is configured.
func (c *commandContext) s3Clients(ctx context.Context) (*s3.Client, *s3.PresignClient, error) {
	cfg := c.cfg()
	if cfg.S3.Endpoint == "" && cfg.S3.Region == "" {
		return nil, nil, nil
	}
	return aws.NewAWSClient(ctx, cfg.S3.Endpoint, cfg.S3.Region, cfg.S3.AccessKey, cfg.S3.SecretKey)
}

// objectStore is nil when no object store is configured, which limits jobs
// to local paths.
func (c *commandContext) objectStore(ctx context.Context) (jobs.AWSRepository, error) {
	client, presign, err := c.s3Clients(ctx)
	if err != nil || client == nil {
		return nil, err
	}
	return jobsRepository.NewAwsRepository(client, presign), nil
}

// historyDB connects to Postgres when a host is configured.
func (c *commandContext) historyDB() (*sqlx.DB, error) {
	cfg := c.cfg()
	if cfg.Postgres.Host == "" {
		return nil, nil
	}
	return postgres.NewPsqlDB(cfg)
}

func (c *commandContext) newEngine() *ffmpeg.Engine {
	cfg := c.cfg()
	return ffmpeg.New(cfg.Worker.FFmpegPath, cfg.Worker.FFprobePath, c.log())
}

func (c *commandContext) newOrchestrator(ctx context.Context, eng *ffmpeg.Engine) (*transcode.Orchestrator, error) {
	store, err := c.objectStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not connect to s3: %w", err)
	}
	var objectStore transcode.ObjectStore
	if store != nil {
		objectStore = store
	}
	log := c.log()
	var opts []runner.Option
	if ms := c.cfg().Worker.ProgressInterval; ms > 0 {
		opts = append(opts, runner.WithInterval(time.Duration(ms)*time.Millisecond))
	}
	return transcode.NewOrchestrator(eng, transcode.NewStager(objectStore, log), workspace.NewManager(log), log, opts...), nil
}
