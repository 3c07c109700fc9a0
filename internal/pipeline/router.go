package pipeline

import (
	"sort"
	"strings"
	"sync"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/engine"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
)

type Branch string

const (
	BranchVideo Branch = "video"
	BranchAudio Branch = "audio"
)

// BranchFor maps a stream's media type onto the branch that encodes it.
func BranchFor(caps string) (Branch, bool) {
	switch {
	case strings.HasPrefix(caps, "video/"):
		return BranchVideo, true
	case strings.HasPrefix(caps, "audio/"):
		return BranchAudio, true
	default:
		return "", false
	}
}

// Router completes the demultiplexer links once stream types are known.
// Each branch is linked at most once; later streams of the same type and
// streams of any other type are dropped.
type Router struct {
	logger  logger.Logger
	targets map[Branch]engine.Pad

	mu     sync.Mutex
	linked map[Branch]string
}

func NewRouter(log logger.Logger, targets map[Branch]engine.Pad) *Router {
	return &Router{logger: log, targets: targets, linked: make(map[Branch]string)}
}

// HandlePad is registered with the demultiplexer and runs on the engine's
// goroutine for every announced stream.
func (r *Router) HandlePad(src engine.Pad) {
	caps := src.Caps()
	branch, ok := BranchFor(caps)
	if !ok {
		r.logger.Debugf("Dropping stream %s (%s): no branch", src.Name(), caps)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, done := r.linked[branch]; done {
		r.logger.Debugf("Dropping stream %s (%s): %s branch already fed by %s", src.Name(), caps, branch, prev)
		return
	}
	target, ok := r.targets[branch]
	if !ok || target == nil {
		r.logger.Debugf("Dropping stream %s (%s): %s branch not present", src.Name(), caps, branch)
		return
	}
	if target.IsLinked() {
		r.logger.Debugf("Dropping stream %s (%s): %s branch input already linked", src.Name(), caps, branch)
		return
	}
	if err := src.Link(target); err != nil {
		r.logger.Warnf("Failed to link stream %s (%s) to %s branch: %v", src.Name(), caps, branch, err)
		return
	}
	r.linked[branch] = src.Name()
	r.logger.Infof("Linked stream %s (%s) to %s branch", src.Name(), caps, branch)
}

func (r *Router) Linked(b Branch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.linked[b]
	return ok
}

// Branches returns the branches linked so far.
func (r *Router) Branches() []Branch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Branch, 0, len(r.linked))
	for b := range r.linked {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
