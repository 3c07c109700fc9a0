package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	jobsRepository "github.com/amankumarsingh77/av1-transcode-queue/internal/jobs/repository"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/worker"
	clientRedis "github.com/amankumarsingh77/av1-transcode-queue/pkg/db/redis"
	"github.com/spf13/cobra"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Pull jobs off the queue and encode them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.cfg()
			log := ctx.log()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			redisClient, err := clientRedis.NewRedisClient(cfg)
			if err != nil {
				return fmt.Errorf("could not connect to redis: %w", err)
			}
			defer redisClient.Close()
			log.Infof("redis connected")

			var opts []worker.Option
			db, err := ctx.historyDB()
			if err != nil {
				log.Warnf("could not connect to db, job history disabled: %v", err)
			} else if db != nil {
				defer db.Close()
				log.Infof("db connected, status: %#v", db.Stats())
				opts = append(opts, worker.WithHistory(jobsRepository.NewJobRepo(db)))
			}

			eng := ctx.newEngine()
			if err := eng.Init(); err != nil {
				return err
			}
			defer eng.Shutdown()

			orch, err := ctx.newOrchestrator(runCtx, eng)
			if err != nil {
				return err
			}
			queue := jobsRepository.NewJobRedisRepo(redisClient, cfg.Redis.JobQueueKey)
			return worker.NewWorker(cfg, log, queue, orch, opts...).Run(runCtx)
		},
	}
}
