package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/progress"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/runner"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/transcode"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var encoding string

	cmd := &cobra.Command{
		Use:   "run <input> [output]",
		Short: "Encode one file in the foreground, without the queue",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := resolveInput(args[0])
			if err != nil {
				return err
			}
			output := utils.DefaultOutputPath(input)
			if len(args) == 2 {
				output = args[1]
			}
			if encoding == "" {
				encoding = ctx.cfg().Worker.EncodingConfig
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng := ctx.newEngine()
			if err := eng.Init(); err != nil {
				return err
			}
			defer eng.Shutdown()

			orch, err := ctx.newOrchestrator(runCtx, eng)
			if err != nil {
				return err
			}
			job := &models.TranscodeJob{
				JobID:      uuid.New().String(),
				InputPath:  input,
				OutputPath: output,
				ConfigPath: encoding,
				Status:     models.JobStatusProcessing,
			}
			rep := orch.Run(runCtx, "", job, runner.WithRenderer(progress.NewLineRenderer(cmd.ErrOrStderr())))
			fmt.Fprintln(cmd.OutOrStdout(), rep.StatusLine())
			if rep.Outcome != transcode.OutcomeSuccess {
				return errReported
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&encoding, "config", "", "Encoding configuration JSON")
	return cmd
}
