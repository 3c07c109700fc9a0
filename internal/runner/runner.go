// Package runner drives one graph from start to teardown. A message
// goroutine waits for the terminal event while a progress goroutine polls the
// graph; whichever finishes first cancels the other.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/engine"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/failure"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/progress"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
	"golang.org/x/sync/errgroup"
)

type State int

const (
	StateBuilt State = iota
	StatePlaying
	StateDone
	StateFailed
	StateInterrupted
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StatePlaying:
		return "playing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateInterrupted:
		return "interrupted"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// Result describes how a run ended. State is one of StateDone, StateFailed
// or StateInterrupted.
type Result struct {
	State   State
	Elapsed time.Duration
	Err     error
}

type Runner struct {
	logger   logger.Logger
	interval time.Duration
	renderer progress.Renderer
	reporter progress.Reporter
	observer func(State)
}

type Option func(*Runner)

func WithInterval(d time.Duration) Option {
	return func(r *Runner) { r.interval = d }
}

func WithRenderer(rd progress.Renderer) Option {
	return func(r *Runner) { r.renderer = rd }
}

func WithReporter(rep progress.Reporter) Option {
	return func(r *Runner) { r.reporter = rep }
}

// WithObserver registers fn to see every state the runner enters.
func WithObserver(fn func(State)) Option {
	return func(r *Runner) { r.observer = fn }
}

func New(log logger.Logger, opts ...Option) *Runner {
	r := &Runner{logger: log, interval: progress.DefaultInterval}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) enter(s State) {
	r.logger.Debugf("Runner state: %s", s)
	if r.observer != nil {
		r.observer(s)
	}
}

// Run plays g until it finishes, fails or ctx is cancelled. It returns only
// after the graph is stopped and the progress goroutine has exited, and it
// always releases g, including when it panics.
func (r *Runner) Run(ctx context.Context, g engine.Graph) (res Result, err error) {
	r.enter(StateBuilt)
	defer func() {
		if relErr := g.Release(); relErr != nil {
			r.logger.Warnf("Failed to release graph: %v", relErr)
		}
		r.enter(StateTornDown)
	}()

	start := time.Now()
	if err := g.Play(); err != nil {
		_ = g.Stop()
		res = Result{State: StateFailed, Elapsed: time.Since(start), Err: failure.Runtime("play", err, "")}
		r.enter(StateFailed)
		return res, res.Err
	}
	r.enter(StatePlaying)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	grp, gctx := errgroup.WithContext(runCtx)

	var opts []progress.Option
	if r.renderer != nil {
		opts = append(opts, progress.WithRenderer(r.renderer))
	}
	if r.reporter != nil {
		opts = append(opts, progress.WithReporter(r.reporter))
	}
	monitor := progress.NewMonitor(g, r.interval, opts...)
	grp.Go(func() error {
		return monitor.Run(gctx)
	})

	grp.Go(func() error {
		defer cancel()
		res = r.dispatch(gctx, g)
		return nil
	})
	_ = grp.Wait()

	if stopErr := g.Stop(); stopErr != nil {
		r.logger.Warnf("Failed to stop graph: %v", stopErr)
	}
	if r.renderer != nil {
		r.renderer.Finish()
	}
	res.Elapsed = time.Since(start)
	r.enter(res.State)

	switch res.State {
	case StateDone:
		r.logger.Infof("Done! Total time: %.2f seconds.", res.Elapsed.Seconds())
	case StateFailed:
		r.logger.Errorf("Encode failed after %.2f seconds: %v", res.Elapsed.Seconds(), res.Err)
	case StateInterrupted:
		r.logger.Warnf("Interrupted after %.2f seconds", res.Elapsed.Seconds())
	}
	return res, res.Err
}

// dispatch waits for the first terminal event on the graph's bus.
func (r *Runner) dispatch(ctx context.Context, g engine.Graph) Result {
	msgs := g.Messages()
	for {
		select {
		case <-ctx.Done():
			return Result{State: StateInterrupted}
		case msg := <-msgs:
			switch msg.Type {
			case engine.MessageEOS:
				return Result{State: StateDone}
			case engine.MessageError:
				err := msg.Err
				if err == nil {
					err = errors.New("engine reported an error")
				}
				return Result{State: StateFailed, Err: failure.Runtime(msg.Source, err, msg.Debug)}
			case engine.MessageWarning:
				r.logger.Warnf("Engine warning from %s: %v %s", msg.Source, msg.Err, msg.Debug)
			}
		}
	}
}
