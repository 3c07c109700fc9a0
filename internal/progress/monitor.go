// Package progress polls a playing graph for its position and turns it into
// a ratio, elapsed time and ETA.
package progress

import (
	"context"
	"math"
	"time"
)

const DefaultInterval = 500 * time.Millisecond

// Querier is the part of a graph the monitor reads. Either query may fail
// while the graph is still negotiating.
type Querier interface {
	QueryPosition() (time.Duration, bool)
	QueryDuration() (time.Duration, bool)
}

type Snapshot struct {
	Position time.Duration
	Duration time.Duration
	Elapsed  time.Duration
	Ratio    float64
	// ETA is only meaningful when ETAKnown is set.
	ETA      time.Duration
	ETAKnown bool
}

// Percent is the ratio as a percentage.
func (s Snapshot) Percent() float64 {
	return s.Ratio * 100
}

type Renderer interface {
	Render(Snapshot)
	// Finish ends the current progress line.
	Finish()
}

// Reporter receives the ratio each time it crosses a whole percent.
type Reporter func(ratio float64)

// State is the monitor's memory between ticks.
type State struct {
	Duration      time.Duration
	DurationKnown bool
	Position      time.Duration
	Ratio         float64
	Start         time.Time
}

type Monitor struct {
	querier  Querier
	interval time.Duration
	renderer Renderer
	reporter Reporter
	now      func() time.Time

	state       State
	lastPercent int
}

type Option func(*Monitor)

func WithRenderer(r Renderer) Option {
	return func(m *Monitor) { m.renderer = r }
}

func WithReporter(r Reporter) Option {
	return func(m *Monitor) { m.reporter = r }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(q Querier, interval time.Duration, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{querier: q, interval: interval, now: time.Now, lastPercent: -1}
	for _, opt := range opts {
		opt(m)
	}
	m.state.Start = m.now()
	return m
}

// Run polls until ctx is cancelled. It never returns an error; a failed
// query only skips the tick.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		// A tick and the cancellation may be ready together.
		if ctx.Err() != nil {
			return nil
		}
		snap, ok := m.Poll()
		if !ok {
			continue
		}
		if m.renderer != nil {
			m.renderer.Render(snap)
		}
		if m.reporter != nil {
			if pct := int(math.Floor(snap.Percent())); pct > m.lastPercent {
				m.lastPercent = pct
				m.reporter(snap.Ratio)
			}
		}
	}
}

// Poll performs one tick. ok is false when the duration is still unknown
// or the position query failed.
func (m *Monitor) Poll() (Snapshot, bool) {
	if !m.state.DurationKnown {
		d, ok := m.querier.QueryDuration()
		if !ok || d <= 0 {
			return Snapshot{}, false
		}
		m.state.Duration = d
		m.state.DurationKnown = true
	}
	pos, ok := m.querier.QueryPosition()
	if !ok {
		return Snapshot{}, false
	}

	ratio := float64(pos) / float64(m.state.Duration)
	switch {
	case ratio > 1:
		ratio = 1
	case ratio < 0:
		ratio = 0
	}
	if ratio < m.state.Ratio {
		ratio = m.state.Ratio
	}
	m.state.Position = pos
	m.state.Ratio = ratio

	elapsed := m.now().Sub(m.state.Start)
	snap := Snapshot{
		Position: pos,
		Duration: m.state.Duration,
		Elapsed:  elapsed,
		Ratio:    ratio,
	}
	if ratio > 0 {
		snap.ETA = time.Duration(float64(elapsed)/ratio) - elapsed
		snap.ETAKnown = true
	}
	return snap, true
}

func (m *Monitor) State() State {
	return m.state
}
