package ffmpeg

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/engine"
)

type pad struct {
	name  string
	caps  string
	owner *stage
	// stream is the input stream index for demultiplexer pads.
	stream int

	mu   sync.Mutex
	peer *pad
}

func (p *pad) Name() string { return p.name }
func (p *pad) Caps() string { return p.caps }

func (p *pad) IsLinked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer != nil
}

func (p *pad) linkedTo() *pad {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

func (p *pad) Link(sink engine.Pad) error {
	other, ok := sink.(*pad)
	if !ok || other == nil {
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

type stage struct {
	name string
	kind string
	spec stageSpec
	sink *pad

	mu         sync.Mutex
	options    map[string]string
	location   string
	faststart  bool
	caps       *rawCaps
	downstream *stage
	upstreams  []*stage
	srcPads    []*pad
	handlers   []func(engine.Pad)
}

func newStage(kind, name string, spec stageSpec) *stage {
	s := &stage{name: name, kind: kind, spec: spec, options: map[string]string{}}
	if spec.role != roleSource {
		s.sink = &pad{name: "sink", owner: s}
	}
	return s
}

func (s *stage) Name() string { return s.name }
func (s *stage) Kind() string { return s.kind }

func (s *stage) SinkPad() engine.Pad {
	if s.sink == nil {
		return nil
	}
	return s.sink
}

func (s *stage) SetProperty(name string, value interface{}) error {
	key := normalizeProperty(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case key == "location" && (s.spec.role == roleSource || s.spec.role == roleSink):
		loc, err := stringArg(value)
		if err != nil || loc == "" {
			return fmt.Errorf("%s.location: empty path", s.name)
		}
		s.location = loc
		return nil
	case key == "faststart" && s.spec.role == roleMuxer:
		b, err := toBool(value)
		if err != nil {
			return fmt.Errorf("%s.faststart: %w", s.name, err)
		}
		s.faststart = b
		return nil
	case key == "caps" && s.spec.role == roleCapsFilter:
		str, _ := stringArg(value)
		c, err := parseCaps(str)
		if err != nil {
			return fmt.Errorf("%s.caps: %w", s.name, err)
		}
		s.caps = &c
		return nil
	}

	opt, ok := s.spec.options[key]
	if !ok {
		return fmt.Errorf("%w: %s.%s", engine.ErrNoSuchProperty, s.kind, name)
	}
	if opt.ignored {
		return nil
	}
	v, err := opt.convert(value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", s.name, name, err)
	}
	s.options[key] = v
	return nil
}

// Link connects s to dst statically. Demultiplexers expose their outputs only
// at runtime and must be linked through OnPadAdded instead.
func (s *stage) Link(dst engine.Stage) error {
	d, ok := dst.(*stage)
	if !ok || d == nil {
		return fmt.Errorf("%w: %s -> foreign stage", engine.ErrNotLinkable, s.name)
	}
	if s.spec.role == roleDemux || s.spec.role == roleSink || d.spec.role == roleSource {
		return fmt.Errorf("%w: %s -> %s", engine.ErrNotLinkable, s.name, d.name)
	}
	s.mu.Lock()
	if s.downstream != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", engine.ErrAlreadyLinked, s.name)
	}
	s.downstream = d
	s.mu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.spec.role != roleMuxer && len(d.upstreams) > 0 {
		return fmt.Errorf("%w: %s", engine.ErrAlreadyLinked, d.name)
	}
	d.upstreams = append(d.upstreams, s)
	return nil
}

func (s *stage) OnPadAdded(fn func(engine.Pad)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// announce creates a runtime output pad for one input stream and hands it to
// the registered handlers.
func (s *stage) announce(index int, caps string) {
	s.mu.Lock()
	p := &pad{name: fmt.Sprintf("src_%d", index), caps: caps, owner: s, stream: index}
	s.srcPads = append(s.srcPads, p)
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(p)
	}
}

func (s *stage) next() *stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downstream
}

func (s *stage) linkedPads() []*pad {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*pad
	for _, p := range s.srcPads {
		if p.IsLinked() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].stream < out[j].stream })
	return out
}

// optionArgs renders the stage options in a stable order.
func (s *stage) optionArgs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.options))
	for k := range s.options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, s.spec.options[k].flag, s.options[k])
	}
	return args
}
