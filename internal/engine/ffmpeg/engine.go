// Package ffmpeg implements the media engine on top of the ffmpeg and
// ffprobe binaries. Stages are collected into a graph and compiled into one
// ffmpeg invocation when the graph starts playing.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/engine"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
)

type prober func(ctx context.Context, path string) (*ProbeResult, error)

type Engine struct {
	ffmpegPath  string
	ffprobePath string
	logger      logger.Logger

	mu          sync.Mutex
	initialized bool
	ffmpeg      string
	probe       prober
}

func New(ffmpegPath, ffprobePath string, logger logger.Logger) *Engine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Engine{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

// Init resolves both binaries. Repeated calls are no-ops.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	ffmpeg, err := exec.LookPath(e.ffmpegPath)
	if err != nil {
		return fmt.Errorf("locate ffmpeg: %w", err)
	}
	ffprobe, err := exec.LookPath(e.ffprobePath)
	if err != nil {
		return fmt.Errorf("locate ffprobe: %w", err)
	}
	e.ffmpeg = ffmpeg
	if e.probe == nil {
		e.probe = func(ctx context.Context, path string) (*ProbeResult, error) {
			return runProbe(ctx, ffprobe, path)
		}
	}
	e.initialized = true
	e.logger.Debugf("Media engine ready: ffmpeg=%s ffprobe=%s", ffmpeg, ffprobe)
	return nil
}

func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = false
	return nil
}

func (e *Engine) MakeStage(kind, name string) (engine.Stage, error) {
	e.mu.Lock()
	ready := e.initialized
	e.mu.Unlock()
	if !ready {
		return nil, engine.ErrNotInitialized
	}
	spec, ok := catalogue[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrNoSuchStage, kind)
	}
	return newStage(kind, name, spec), nil
}

func (e *Engine) NewGraph(name string) engine.Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return newGraph(name, e.ffmpeg, e.probe, e.logger)
}
