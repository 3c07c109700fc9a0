package main

import (
	"errors"
	"fmt"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/server"
	clientRedis "github.com/amankumarsingh77/av1-transcode-queue/pkg/db/redis"
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job submission API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.cfg()
			if cfg.Server.JwtSecretKey == "" {
				return errors.New("server.jwtSecretKey must be set to serve the jobs API")
			}
			log := ctx.log()
			log.Infof("AppVersion: %s, LogLevel: %s, Mode: %s", cfg.Server.AppVersion, cfg.Logger.Level, cfg.Server.Mode)

			redisClient, err := clientRedis.NewRedisClient(cfg)
			if err != nil {
				return fmt.Errorf("could not connect to redis: %w", err)
			}
			defer redisClient.Close()
			log.Infof("redis connected")

			db, err := ctx.historyDB()
			if err != nil {
				log.Warnf("could not connect to db, job history disabled: %v", err)
			} else if db != nil {
				defer db.Close()
				log.Infof("db connected, status: %#v", db.Stats())
			}

			s3Client, presignClient, err := ctx.s3Clients(cmd.Context())
			if err != nil {
				log.Warnf("could not connect to s3, download links disabled: %v", err)
			}

			return server.NewServer(cfg, db, redisClient, s3Client, presignClient, log).Run()
		},
	}
}
