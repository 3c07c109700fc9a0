package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/engine"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
)

const (
	stopGrace   = 5 * time.Second
	stderrTail  = 4096
	maxChainLen = 32
)

var errNoLinkedStreams = errors.New("no input stream was linked to an output branch")

type graph struct {
	name     string
	ffmpeg   string
	probe    prober
	logger   logger.Logger
	messages chan engine.Message
	finished chan struct{}

	position    atomic.Int64
	hasPosition atomic.Bool
	duration    atomic.Int64

	mu       sync.Mutex
	stages   []*stage
	cancel   context.CancelFunc
	started  bool
	released bool
}

func newGraph(name, ffmpeg string, probe prober, logger logger.Logger) *graph {
	return &graph{
		name:     name,
		ffmpeg:   ffmpeg,
		probe:    probe,
		logger:   logger,
		messages: make(chan engine.Message, 4),
		finished: make(chan struct{}),
	}
}

func (g *graph) Add(stages ...engine.Stage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return engine.ErrAlreadyReleased
	}
	for _, st := range stages {
		s, ok := st.(*stage)
		if !ok || s == nil {
			return fmt.Errorf("graph %s: foreign stage", g.name)
		}
		g.stages = append(g.stages, s)
	}
	return nil
}

func (g *graph) Play() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return engine.ErrAlreadyReleased
	}
	if g.started {
		return fmt.Errorf("graph %s: already playing", g.name)
	}
	if g.ffmpeg == "" || g.probe == nil {
		return engine.ErrNotInitialized
	}
	src, err := g.source()
	if err != nil {
		return err
	}
	demux := src.next()
	if demux == nil || demux.spec.role != roleDemux {
		return fmt.Errorf("graph %s: source %s must feed a demultiplexer", g.name, src.name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.started = true
	go g.run(ctx, src.location, demux)
	return nil
}

func (g *graph) run(ctx context.Context, input string, demux *stage) {
	defer close(g.finished)

	res, err := g.probe(ctx, input)
	if err != nil {
		if ctx.Err() == nil {
			g.post(ctx, engine.Message{Type: engine.MessageError, Source: demux.name, Err: err})
		}
		return
	}
	g.duration.Store(int64(res.Duration))
	for _, st := range res.Streams {
		demux.announce(st.Index, st.Caps)
	}

	args, err := g.compile()
	if err != nil {
		g.post(ctx, engine.Message{Type: engine.MessageError, Source: g.name, Err: err})
		return
	}
	g.logger.Debugf("Graph %s: %s %s", g.name, g.ffmpeg, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, g.ffmpeg, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = stopGrace
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		g.post(ctx, engine.Message{Type: engine.MessageError, Source: g.name, Err: err})
		return
	}
	if err := cmd.Start(); err != nil {
		g.post(ctx, engine.Message{Type: engine.MessageError, Source: g.name, Err: fmt.Errorf("start ffmpeg: %w", err)})
		return
	}

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		if pos, ok := parseProgressLine(sc.Text()); ok {
			g.position.Store(int64(pos))
			g.hasPosition.Store(true)
		}
	}
	err = cmd.Wait()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		g.post(ctx, engine.Message{
			Type:   engine.MessageError,
			Source: g.name,
			Err:    fmt.Errorf("ffmpeg: %w", err),
			Debug:  stderr.String(),
		})
		return
	}
	g.post(ctx, engine.Message{Type: engine.MessageEOS, Source: g.name})
}

func (g *graph) post(ctx context.Context, msg engine.Message) {
	select {
	case g.messages <- msg:
	case <-ctx.Done():
	}
}

func (g *graph) source() (*stage, error) {
	var src *stage
	for _, s := range g.stages {
		if s.spec.role != roleSource {
			continue
		}
		if src != nil {
			return nil, fmt.Errorf("graph %s: more than one source", g.name)
		}
		src = s
	}
	if src == nil {
		return nil, fmt.Errorf("graph %s: no source stage", g.name)
	}
	if src.location == "" {
		return nil, fmt.Errorf("graph %s: source %s has no location", g.name, src.name)
	}
	return src, nil
}

// compile turns the linked stages into ffmpeg arguments. Only demultiplexer
// pads that were linked become output streams.
func (g *graph) compile() ([]string, error) {
	g.mu.Lock()
	src, err := g.source()
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	demux := src.next()
	if demux == nil || demux.spec.role != roleDemux {
		return nil, fmt.Errorf("graph %s: source %s must feed a demultiplexer", g.name, src.name)
	}
	pads := demux.linkedPads()
	if len(pads) == 0 {
		return nil, errNoLinkedStreams
	}

	args := []string{
		"-hide_banner", "-nostdin", "-nostats",
		"-loglevel", "error",
		"-y",
		"-progress", "pipe:1",
		"-i", src.location,
	}
	var mux *stage
	for out, p := range pads {
		branch, end, err := branchArgs(p, strconv.Itoa(out))
		if err != nil {
			return nil, err
		}
		if mux != nil && end != mux {
			return nil, fmt.Errorf("graph %s: branches end in different muxers", g.name)
		}
		mux = end
		args = append(args, "-map", fmt.Sprintf("0:%d", p.stream))
		args = append(args, branch...)
	}

	sink := mux.next()
	if sink == nil || sink.spec.role != roleSink || sink.location == "" {
		return nil, fmt.Errorf("graph %s: muxer %s must feed a sink with a location", g.name, mux.name)
	}
	args = append(args, "-f", mux.spec.format)
	if mux.faststart {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, sink.location), nil
}

// branchArgs walks the chain fed by p up to the muxer and returns the
// per-stream options for output stream out.
func branchArgs(p *pad, out string) ([]string, *stage, error) {
	peer := p.linkedTo()
	if peer == nil || peer.owner == nil {
		return nil, nil, fmt.Errorf("pad %s is not linked", p.name)
	}
	media, _, _ := strings.Cut(p.caps, "/")

	var enc, filter *stage
	cur := peer.owner
	for i := 0; cur != nil && cur.spec.role != roleMuxer; i++ {
		if i == maxChainLen {
			return nil, nil, fmt.Errorf("branch from %s does not terminate", p.name)
		}
		switch cur.spec.role {
		case roleEncoder:
			if enc != nil {
				return nil, nil, fmt.Errorf("branch from %s has two encoders", p.name)
			}
			if cur.spec.media != media {
				return nil, nil, fmt.Errorf("%s encoder %s cannot take %s input", cur.spec.media, cur.name, p.caps)
			}
			enc = cur
		case roleCapsFilter:
			filter = cur
		case roleSource, roleDemux, roleSink:
			return nil, nil, fmt.Errorf("branch from %s runs into %s", p.name, cur.name)
		}
		cur = cur.next()
	}
	if cur == nil {
		return nil, nil, fmt.Errorf("branch from %s does not reach a muxer", p.name)
	}

	var args []string
	if enc == nil {
		args = append(args, "-c:"+out, "copy")
		return args, cur, nil
	}
	args = append(args, "-c:"+out, enc.spec.codec)
	args = append(args, specify(enc.optionArgs(), out)...)
	if filter != nil && filter.caps != nil {
		args = append(args, specify(filter.caps.args(), out)...)
	}
	return args, cur, nil
}

// specify appends the output stream specifier to every flag in a flag/value
// list.
func specify(flagValues []string, out string) []string {
	res := make([]string, len(flagValues))
	for i, v := range flagValues {
		if i%2 == 0 {
			v += ":" + out
		}
		res[i] = v
	}
	return res
}

func (g *graph) Stop() error {
	g.mu.Lock()
	cancel := g.cancel
	started := g.started
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if started {
		<-g.finished
	}
	return nil
}

func (g *graph) Release() error {
	if err := g.Stop(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = true
	g.stages = nil
	return nil
}

func (g *graph) QueryPosition() (time.Duration, bool) {
	if !g.hasPosition.Load() {
		return 0, false
	}
	return time.Duration(g.position.Load()), true
}

func (g *graph) QueryDuration() (time.Duration, bool) {
	d := time.Duration(g.duration.Load())
	return d, d > 0
}

func (g *graph) Messages() <-chan engine.Message {
	return g.messages
}
