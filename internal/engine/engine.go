// Package engine is the capability contract the orchestrator needs from a
// media engine: named stages with settable properties, a demultiplexer that
// announces streams as it discovers them, position/duration queries and an
// asynchronous message channel.
package engine

import (
	"errors"
	"time"
)

var (
	ErrNoSuchStage     = errors.New("no such stage")
	ErrNoSuchProperty  = errors.New("no such property")
	ErrAlreadyLinked   = errors.New("pad already linked")
	ErrNotLinkable     = errors.New("stages cannot be linked")
	ErrNotInitialized  = errors.New("engine not initialized")
	ErrAlreadyReleased = errors.New("graph already released")
)

type MessageType int

const (
	MessageEOS MessageType = iota + 1
	MessageError
	MessageWarning
)

func (t MessageType) String() string {
	switch t {
	case MessageEOS:
		return "eos"
	case MessageError:
		return "error"
	case MessageWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Message is posted by a running graph. Err and Debug are set for errors
// and warnings.
type Message struct {
	Type   MessageType
	Source string
	Err    error
	Debug  string
}

// Pad is a stream endpoint on a stage.
type Pad interface {
	Name() string
	// Caps is the negotiated media type, e.g. "video/x-h264".
	Caps() string
	IsLinked() bool
	Link(sink Pad) error
}

type Stage interface {
	Name() string
	Kind() string
	SetProperty(name string, value interface{}) error
	// Link statically connects this stage's output to dst's input.
	Link(dst Stage) error
	// SinkPad is the static input pad, nil for sources.
	SinkPad() Pad
	// OnPadAdded registers fn to run for every output pad the stage
	// creates at run time. Only demultiplexers ever call it.
	OnPadAdded(fn func(src Pad))
}

type Graph interface {
	Add(stages ...Stage) error
	// Play starts execution and returns without waiting for it to finish.
	Play() error
	// Stop halts execution and blocks until the graph is stopped. It is
	// safe to call more than once.
	Stop() error
	// Release frees every stage resource. The graph is unusable afterwards.
	Release() error
	QueryPosition() (time.Duration, bool)
	QueryDuration() (time.Duration, bool)
	Messages() <-chan Message
}

// Engine holds process-wide state. Init and Shutdown are called once per
// process, never per job.
type Engine interface {
	Init() error
	Shutdown() error
	MakeStage(kind, name string) (Stage, error)
	NewGraph(name string) Graph
}
