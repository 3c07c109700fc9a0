package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/jobs"
	jobsRepository "github.com/amankumarsingh77/av1-transcode-queue/internal/jobs/repository"
	jobsUsecase "github.com/amankumarsingh77/av1-transcode-queue/internal/jobs/usecase"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/transcode"
	clientRedis "github.com/amankumarsingh77/av1-transcode-queue/pkg/db/redis"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/utils"
	"github.com/spf13/cobra"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		item     string
		output   string
		encoding string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a file for encoding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := resolveInput(item)
			if err != nil {
				return err
			}
			if output == "" {
				output = utils.DefaultOutputPath(input)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Would encode file %s to %s\n", input, output)

			cfg := ctx.cfg()
			log := ctx.log()
			redisClient, err := clientRedis.NewRedisClient(cfg)
			if err != nil {
				return fmt.Errorf("could not connect to redis: %w", err)
			}
			defer redisClient.Close()

			var history jobs.Repository
			db, err := ctx.historyDB()
			if err != nil {
				log.Warnf("could not connect to db, job history disabled: %v", err)
			} else if db != nil {
				defer db.Close()
				history = jobsRepository.NewJobRepo(db)
			}

			uc := jobsUsecase.NewJobsUseCase(cfg, history, jobsRepository.NewJobRedisRepo(redisClient, cfg.Redis.JobQueueKey), nil, log)
			job, err := uc.Submit(cmd.Context(), &models.SubmitInput{
				InputPath:  input,
				OutputPath: output,
				ConfigPath: encoding,
				Timeout:    int64(timeout / time.Second),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s\n", job.JobID)
			return nil
		},
	}

	cmd.Flags().StringVar(&item, "item", "", "File to encode (local path or s3://bucket/key)")
	cmd.Flags().StringVar(&output, "output", "", "Output path (default: input with .av1 before the extension)")
	cmd.Flags().StringVar(&encoding, "config", "", "Encoding configuration JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", models.DefaultJobTimeout, "Maximum run time of the encode")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

// resolveInput makes local inputs absolute and checks they are regular
// files. Object store paths are passed through.
func resolveInput(p string) (string, error) {
	if _, _, ok := transcode.ParseS3URI(p); ok {
		return p, nil
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file does not exist: %s", absPath)
		}
		return "", fmt.Errorf("inspect file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a file", absPath)
	}
	return absPath, nil
}
