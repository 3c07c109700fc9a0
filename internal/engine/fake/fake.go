// Package fake is a scripted in-memory engine for tests. Demultiplexers
// announce the configured streams when the graph starts playing, then the
// scripted messages are posted in order.
package fake

import (
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/engine"
)

const demuxKind = "decodebin"

type Engine struct {
	// Unavailable lists stage kinds MakeStage refuses to create.
	Unavailable map[string]bool
	// RejectProperties lists property names SetProperty refuses.
	RejectProperties map[string]bool
	// Streams are the caps every demultiplexer announces on Play.
	Streams []string
	// Script is posted after the announcements, MessageDelay apart.
	Script       []engine.Message
	MessageDelay time.Duration
	PlayErr      error

	Duration         time.Duration
	DurationFailures int
	Positions        []time.Duration

	mu        sync.Mutex
	graphs    []*Graph
	inits     int
	shutdowns int
}

func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inits++
	return nil
}

func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdowns++
	return nil
}

func (e *Engine) Inits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inits
}

func (e *Engine) MakeStage(kind, name string) (engine.Stage, error) {
	if e.Unavailable[kind] {
		return nil, fmt.Errorf("%w: %s", engine.ErrNoSuchStage, kind)
	}
	s := &Stage{engine: e, kind: kind, name: name, props: map[string]interface{}{}}
	if kind != "filesrc" {
		s.sink = &Pad{name: "sink", owner: s}
	}
	return s, nil
}

func (e *Engine) NewGraph(name string) engine.Graph {
	g := &Graph{
		engine:   e,
		name:     name,
		messages: make(chan engine.Message, 16),
		done:     make(chan struct{}),
	}
	e.mu.Lock()
	e.graphs = append(e.graphs, g)
	e.mu.Unlock()
	return g
}

// Graphs returns every graph created so far.
func (e *Engine) Graphs() []*Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Graph(nil), e.graphs...)
}

type Pad struct {
	name  string
	caps  string
	owner *Stage

	mu   sync.Mutex
	peer *Pad
}

func (p *Pad) Name() string { return p.name }
func (p *Pad) Caps() string { return p.caps }

func (p *Pad) IsLinked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer != nil
}

func (p *Pad) Peer() *Pad {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

func (p *Pad) Owner() *Stage { return p.owner }

func (p *Pad) Link(sink engine.Pad) error {
	other, ok := sink.(*Pad)
	if !ok {
		return engine.ErrNotLinkable
	}
	if p.IsLinked() || other.IsLinked() {
		return engine.ErrAlreadyLinked
	}
	p.mu.Lock()
	p.peer = other
	p.mu.Unlock()
	other.mu.Lock()
	other.peer = p
	other.mu.Unlock()
	return nil
}

type Stage struct {
	engine *Engine
	kind   string
	name   string
	sink   *Pad

	mu         sync.Mutex
	props      map[string]interface{}
	downstream []*Stage
	upstream   []*Stage
	handlers   []func(engine.Pad)
	srcPads    []*Pad
}

func (s *Stage) Name() string { return s.name }
func (s *Stage) Kind() string { return s.kind }

func (s *Stage) SinkPad() engine.Pad {
	if s.sink == nil {
		return nil
	}
	return s.sink
}

func (s *Stage) SetProperty(name string, value interface{}) error {
	if s.engine.RejectProperties[name] {
		return fmt.Errorf("%w: %s.%s", engine.ErrNoSuchProperty, s.kind, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[name] = value
	return nil
}

func (s *Stage) Property(name string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.props[name]
	return v, ok
}

func (s *Stage) Link(dst engine.Stage) error {
	d, ok := dst.(*Stage)
	if !ok || s.kind == demuxKind || d.sink == nil {
		return fmt.Errorf("%w: %s -> %s", engine.ErrNotLinkable, s.name, dst.Name())
	}
	s.mu.Lock()
	s.downstream = append(s.downstream, d)
	s.mu.Unlock()
	d.mu.Lock()
	d.upstream = append(d.upstream, s)
	d.mu.Unlock()
	return nil
}

func (s *Stage) Downstream() []*Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stage(nil), s.downstream...)
}

func (s *Stage) Upstream() []*Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stage(nil), s.upstream...)
}

// SrcPads returns the pads the stage announced while playing.
func (s *Stage) SrcPads() []*Pad {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Pad(nil), s.srcPads...)
}

func (s *Stage) OnPadAdded(fn func(engine.Pad)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

func (s *Stage) announce(caps string) {
	s.mu.Lock()
	pad := &Pad{name: fmt.Sprintf("src_%d", len(s.srcPads)), caps: caps, owner: s}
	s.srcPads = append(s.srcPads, pad)
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(pad)
	}
}

type Graph struct {
	engine   *Engine
	name     string
	messages chan engine.Message
	done     chan struct{}

	mu            sync.Mutex
	stages        []*Stage
	played        bool
	playing       bool
	stopped       bool
	released      bool
	stopCalls     int
	posQueries    int
	durQueries    int
	posterRunning sync.WaitGroup
}

func (g *Graph) Add(stages ...engine.Stage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, st := range stages {
		s, ok := st.(*Stage)
		if !ok {
			return fmt.Errorf("foreign stage %s", st.Name())
		}
		g.stages = append(g.stages, s)
	}
	return nil
}

func (g *Graph) Stage(name string) *Stage {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.stages {
		if s.name == name {
			return s
		}
	}
	return nil
}

func (g *Graph) Play() error {
	if g.engine.PlayErr != nil {
		return g.engine.PlayErr
	}
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return engine.ErrAlreadyReleased
	}
	g.played = true
	g.playing = true
	stages := append([]*Stage(nil), g.stages...)
	g.mu.Unlock()

	for _, s := range stages {
		if s.kind != demuxKind {
			continue
		}
		for _, caps := range g.engine.Streams {
			s.announce(caps)
		}
	}

	g.posterRunning.Add(1)
	go g.post(g.engine.Script)
	return nil
}

func (g *Graph) post(script []engine.Message) {
	defer g.posterRunning.Done()
	for _, msg := range script {
		if g.engine.MessageDelay > 0 {
			select {
			case <-time.After(g.engine.MessageDelay):
			case <-g.done:
				return
			}
		}
		if msg.Type == engine.MessageEOS {
			g.writeOutput()
		}
		select {
		case g.messages <- msg:
		case <-g.done:
			return
		}
	}
}

// Post delivers msg as if the engine had produced it.
func (g *Graph) Post(msg engine.Message) {
	if msg.Type == engine.MessageEOS {
		g.writeOutput()
	}
	g.messages <- msg
}

// writeOutput makes the sink produce a file, as a finished encode would.
func (g *Graph) writeOutput() {
	sink := g.Stage("sink")
	if sink == nil {
		return
	}
	if loc, ok := sink.Property("location"); ok {
		_ = os.WriteFile(fmt.Sprint(loc), []byte("encoded"), 0o644)
	}
}

func (g *Graph) Stop() error {
	g.mu.Lock()
	g.stopCalls++
	already := g.stopped
	g.stopped = true
	g.playing = false
	g.mu.Unlock()
	if !already {
		close(g.done)
	}
	g.posterRunning.Wait()
	return nil
}

func (g *Graph) Release() error {
	if err := g.Stop(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = true
	return nil
}

func (g *Graph) QueryPosition() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.engine.Positions) == 0 {
		return 0, false
	}
	i := g.posQueries
	if i >= len(g.engine.Positions) {
		i = len(g.engine.Positions) - 1
	}
	g.posQueries++
	return g.engine.Positions[i], true
}

func (g *Graph) QueryDuration() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.durQueries++
	if g.durQueries <= g.engine.DurationFailures || g.engine.Duration <= 0 {
		return 0, false
	}
	return g.engine.Duration, true
}

func (g *Graph) Messages() <-chan engine.Message {
	return g.messages
}

func (g *Graph) Played() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.played
}

func (g *Graph) StopCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopCalls
}

func (g *Graph) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

func (g *Graph) Released() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}
