// Package pipeline assembles the encode graph from an encoding config. The
// builder links everything it can up front and leaves the demultiplexer
// outputs to the Router, which wires them once stream types are known.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/engine"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/failure"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
)

const (
	StageSource        = "src"
	StageDecoder       = "decoder"
	StageVideoQueue    = "video_queue"
	StageVideoConvert  = "video_convert"
	StageVideoCaps     = "video_caps"
	StageVideoEncoder  = "video_encoder"
	StageAudioQueue    = "audio_queue"
	StageAudioConvert  = "audio_convert"
	StageAudioResample = "audio_resample"
	StageAudioEncoder  = "audio_encoder"
	StageMuxer         = "muxer"
	StageSink          = "sink"
)

// Graph is an assembled, not yet playing, encode graph.
type Graph struct {
	engine.Graph
	Router *Router
	Input  string
	Output string

	stages map[string]engine.Stage
}

func (g *Graph) Stage(name string) engine.Stage {
	return g.stages[name]
}

type Builder struct {
	engine engine.Engine
	logger logger.Logger
}

func NewBuilder(e engine.Engine, logger logger.Logger) *Builder {
	return &Builder{engine: e, logger: logger}
}

type stageDef struct {
	name string
	kind string
}

func topology(cfg *models.EncodingConfig) []stageDef {
	return []stageDef{
		{StageSource, "filesrc"},
		{StageDecoder, "decodebin"},
		{StageVideoQueue, "queue"},
		{StageVideoConvert, "videoconvert"},
		{StageVideoCaps, "capsfilter"},
		{StageVideoEncoder, cfg.VideoEncoderName()},
		{StageAudioQueue, "queue"},
		{StageAudioConvert, "audioconvert"},
		{StageAudioResample, "audioresample"},
		{StageAudioEncoder, cfg.AudioEncoderName()},
		{StageMuxer, "mp4mux"},
		{StageSink, "filesink"},
	}
}

var staticLinks = [][2]string{
	{StageSource, StageDecoder},
	{StageVideoQueue, StageVideoConvert},
	{StageVideoConvert, StageVideoCaps},
	{StageVideoCaps, StageVideoEncoder},
	{StageVideoEncoder, StageMuxer},
	{StageAudioQueue, StageAudioConvert},
	{StageAudioConvert, StageAudioResample},
	{StageAudioResample, StageAudioEncoder},
	{StageAudioEncoder, StageMuxer},
	{StageMuxer, StageSink},
}

// Build instantiates every stage before touching any of them, so a missing
// encoder is reported together with anything else that is missing and no
// half-built graph is left behind.
func (b *Builder) Build(cfg *models.EncodingConfig, input, output string) (*Graph, error) {
	defs := topology(cfg)
	stages := make(map[string]engine.Stage, len(defs))
	ordered := make([]engine.Stage, 0, len(defs))
	var missing []string
	for _, def := range defs {
		st, err := b.engine.MakeStage(def.kind, def.name)
		if err != nil {
			b.logger.Errorf("Failed to create stage %s (%s): %v", def.name, def.kind, err)
			missing = append(missing, fmt.Sprintf("%s (%s)", def.name, def.kind))
			continue
		}
		stages[def.name] = st
		ordered = append(ordered, st)
	}
	if len(missing) > 0 {
		return nil, failure.Build("instantiate", fmt.Errorf("could not create stages: %s", strings.Join(missing, ", ")))
	}

	handle := b.engine.NewGraph("encode")
	g := &Graph{Graph: handle, Input: input, Output: output, stages: stages}
	if err := b.assemble(g, cfg, ordered); err != nil {
		if relErr := handle.Release(); relErr != nil {
			b.logger.Warnf("Failed to release partial graph: %v", relErr)
		}
		return nil, err
	}
	return g, nil
}

func (b *Builder) assemble(g *Graph, cfg *models.EncodingConfig, ordered []engine.Stage) error {
	if err := g.Add(ordered...); err != nil {
		return failure.Build("add", err)
	}

	set := func(stage, prop string, value interface{}) error {
		if err := g.stages[stage].SetProperty(prop, value); err != nil {
			return failure.Build("configure", fmt.Errorf("%s.%s: %w", stage, prop, err))
		}
		return nil
	}
	if err := set(StageSource, "location", g.Input); err != nil {
		return err
	}
	if err := set(StageSink, "location", g.Output); err != nil {
		return err
	}
	if err := set(StageMuxer, "faststart", true); err != nil {
		return err
	}
	if err := set(StageVideoCaps, "caps", cfg.VideoCaps()); err != nil {
		return err
	}
	for _, enc := range []struct {
		stage string
		props map[string]interface{}
	}{
		{StageVideoEncoder, cfg.VideoEncoder.Properties},
		{StageAudioEncoder, cfg.AudioEncoder.Properties},
	} {
		keys, orig := normalizedKeys(enc.props)
		for _, k := range keys {
			if err := set(enc.stage, k, enc.props[orig[k]]); err != nil {
				return err
			}
		}
	}

	for _, l := range staticLinks {
		if err := g.stages[l[0]].Link(g.stages[l[1]]); err != nil {
			return failure.Build("link", fmt.Errorf("%s -> %s: %w", l[0], l[1], err))
		}
	}

	g.Router = NewRouter(b.logger, map[Branch]engine.Pad{
		BranchVideo: g.stages[StageVideoQueue].SinkPad(),
		BranchAudio: g.stages[StageAudioQueue].SinkPad(),
	})
	g.stages[StageDecoder].OnPadAdded(g.Router.HandlePad)
	b.logger.Debugf("Built graph %s -> %s (video %s, audio %s)", g.Input, g.Output, cfg.VideoEncoderName(), cfg.AudioEncoderName())
	return nil
}
