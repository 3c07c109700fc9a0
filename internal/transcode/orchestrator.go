// Package transcode runs one job end to end: config, workspace, staging,
// graph build and run, and the cleanup that follows every outcome.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/config"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/engine"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/failure"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/pipeline"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/runner"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/workspace"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
)

type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeBuildFailure     Outcome = "build_failure"
	OutcomeRuntimeFailure   Outcome = "runtime_failure"
	OutcomeInterrupted      Outcome = "interrupted"
	OutcomeStagingFailure   Outcome = "staging_failure"
	OutcomeConfigFailure    Outcome = "config_failure"
	OutcomeWorkspaceFailure Outcome = "workspace_failure"
)

type Report struct {
	Outcome Outcome
	Output  string
	Elapsed time.Duration
	Err     error
}

// StatusLine is the one-line summary printed when a job ends.
func (r Report) StatusLine() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return fmt.Sprintf("Done! Total time: %.2f seconds.", r.Elapsed.Seconds())
	case OutcomeInterrupted:
		return "Interrupted by user."
	default:
		msg, debug := fmt.Sprint(r.Err), ""
		var fe *failure.Error
		if errors.As(r.Err, &fe) {
			debug = fe.Detail
		}
		return fmt.Sprintf("Error: %s\nDebug: %s", msg, debug)
	}
}

func outcomeFor(err error) Outcome {
	switch failure.KindOf(err) {
	case failure.KindConfig:
		return OutcomeConfigFailure
	case failure.KindWorkspace:
		return OutcomeWorkspaceFailure
	case failure.KindBuild:
		return OutcomeBuildFailure
	case failure.KindStaging:
		return OutcomeStagingFailure
	default:
		return OutcomeRuntimeFailure
	}
}

type Orchestrator struct {
	builder    *pipeline.Builder
	stager     *Stager
	workspace  *workspace.Manager
	logger     logger.Logger
	runnerOpts []runner.Option
}

func NewOrchestrator(e engine.Engine, stager *Stager, ws *workspace.Manager, log logger.Logger, opts ...runner.Option) *Orchestrator {
	return &Orchestrator{
		builder:    pipeline.NewBuilder(e, log),
		stager:     stager,
		workspace:  ws,
		logger:     log,
		runnerOpts: opts,
	}
}

// Run executes job in a workspace of its own under the configured workdir,
// named after the job id, or after slot when the job has no usable id. Extra
// runner options apply to this job only. Every failure is returned as a Report; Run
// does not panic on bad input.
func (o *Orchestrator) Run(ctx context.Context, slot string, job *models.TranscodeJob, opts ...runner.Option) Report {
	start := time.Now()
	finish := func(outcome Outcome, err error) Report {
		return Report{Outcome: outcome, Output: job.OutputPath, Elapsed: time.Since(start), Err: err}
	}

	cfg, err := config.ResolveEncoding(job.ConfigPath)
	if err != nil {
		return finish(OutcomeConfigFailure, err)
	}

	key, perJob := slot, workspace.ValidKey(job.JobID)
	if perJob {
		key = job.JobID
	}
	root := workspace.JobRoot(cfg.Workdir(), key)
	unlock, err := o.workspace.Lock(root)
	if err != nil {
		return finish(OutcomeWorkspaceFailure, err)
	}
	defer unlock()

	paths, err := o.workspace.Prepare(root)
	if err != nil {
		return finish(OutcomeWorkspaceFailure, err)
	}
	defer func() {
		o.logger.Infof("Cleaning up %s", root)
		if err := o.workspace.Cleanup(root); err != nil {
			o.logger.Warnf("Cleanup of %s incomplete: %v", root, err)
			return
		}
		if perJob {
			if err := o.workspace.Retire(root); err != nil {
				o.logger.Warnf("Failed to remove workspace %s: %v", root, err)
			}
		}
	}()

	localIn, err := o.stager.StageIn(ctx, job.InputPath, paths.In)
	if err != nil {
		return finish(stagingOutcome(ctx, err))
	}
	localOut := filepath.Join(paths.Out, BaseName(job.OutputPath))

	graph, err := o.builder.Build(cfg, localIn, localOut)
	if err != nil {
		return finish(outcomeFor(err), err)
	}

	r := runner.New(o.logger, append(append([]runner.Option(nil), o.runnerOpts...), opts...)...)
	res, err := r.Run(ctx, graph)
	switch res.State {
	case runner.StateDone:
	case runner.StateInterrupted:
		return finish(OutcomeInterrupted, nil)
	default:
		if err == nil {
			err = failure.Runtime("run", fmt.Errorf("graph ended in state %s", res.State), "")
		}
		return finish(OutcomeRuntimeFailure, err)
	}

	if err := o.stager.StageOut(ctx, localOut, job.OutputPath); err != nil {
		return finish(stagingOutcome(ctx, err))
	}
	return finish(OutcomeSuccess, nil)
}

// stagingOutcome reports a copy cut short by cancellation as an interrupt.
func stagingOutcome(ctx context.Context, err error) (Outcome, error) {
	if ctx.Err() != nil {
		return OutcomeInterrupted, nil
	}
	return OutcomeStagingFailure, err
}
