package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/MrWong99/mindscope/internal/observe"
)

// DefaultRenderInterval is the render tick period.
const DefaultRenderInterval = 50 * time.Millisecond

// Presenter receives every published frame. Present is called from the
// render goroutine and must not block.
type Presenter interface {
	Present(Frame)
}

// PresenterFunc adapts a function to [Presenter].
type PresenterFunc func(Frame)

// Present implements [Presenter].
func (f PresenterFunc) Present(fr Frame) { f(fr) }

// Scheduler is the fixed-interval render loop. Each tick it renders the
// active session, or publishes an idle frame when the connection state
// changed since the last idle frame, and hands the result to every
// presenter. A session that has not delivered samples yet is skipped.
type Scheduler struct {
	manager    *Manager
	interval   atomic.Int64
	reset      chan time.Duration
	presenters []Presenter
	metrics    *observe.Metrics

	// lastIdle is the status of the last idle frame published; nil after a
	// live frame.
	lastIdle *Status
}

// NewScheduler returns a scheduler for m ticking every interval (or
// [DefaultRenderInterval]). metrics may be nil.
func NewScheduler(m *Manager, interval time.Duration, metrics *observe.Metrics, presenters ...Presenter) *Scheduler {
	if interval <= 0 {
		interval = DefaultRenderInterval
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Scheduler{
		manager:    m,
		reset:      make(chan time.Duration, 1),
		presenters: presenters,
		metrics:    metrics,
	}
	s.interval.Store(int64(interval))
	return s
}

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration { return time.Duration(s.interval.Load()) }

// SetInterval changes the tick period of a running scheduler. Non-positive
// values are ignored. Safe to call from any goroutine.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 || time.Duration(s.interval.Swap(int64(d))) == d {
		return
	}
	// Keep only the newest pending change.
	select {
	case <-s.reset:
	default:
	}
	select {
	case s.reset <- d:
	default:
	}
}

// Run ticks until ctx is cancelled. It always returns nil; a failing tick
// is logged and the next one proceeds.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval())
	defer t.Stop()
	slog.Info("render scheduler started", "interval", s.Interval())
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-s.reset:
			t.Reset(d)
			slog.Info("render interval changed", "interval", d)
		case now := <-t.C:
			s.Tick(now)
		}
	}
}

// Tick performs one render step at now. It is called by Run and may be
// called directly in tests; it must not be called concurrently with Run.
func (s *Scheduler) Tick(now time.Time) {
	ctx := context.Background()
	began := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordTick(ctx, "error")
			slog.Error("render tick panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	sess := s.manager.Active()
	if sess == nil {
		st := s.manager.Status()
		if s.lastIdle != nil && *s.lastIdle == st {
			s.metrics.RecordTick(ctx, "idle")
			return
		}
		s.lastIdle = &st
		s.publish(IdleFrame(now, st))
		s.metrics.RecordTick(ctx, "idle")
		return
	}
	s.lastIdle = nil

	samples, inference := sess.QueueDepth()
	s.metrics.RecordQueueDepth(ctx, "samples", samples)
	s.metrics.RecordQueueDepth(ctx, "inference", inference)

	frame, err := sess.Render(now)
	if errors.Is(err, ErrNotReady) {
		s.metrics.RecordTick(ctx, "waiting")
		return
	}
	if errors.Is(err, ErrProducerUnavailable) {
		s.manager.Fail(sess, err)
	}
	if !frame.Live() && err == nil {
		// Stopped between Active and Render; the next tick publishes the
		// idle state.
		s.metrics.RecordTick(ctx, "idle")
		return
	}
	s.publish(frame)
	s.metrics.RecordTick(ctx, "frame")
	s.metrics.RenderDuration.Record(ctx, time.Since(began).Seconds())
}

func (s *Scheduler) publish(f Frame) {
	for _, p := range s.presenters {
		p.Present(f)
	}
}
