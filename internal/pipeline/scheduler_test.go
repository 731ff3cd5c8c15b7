package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mindscope/internal/pipeline"
)

// collector is a Presenter that records every frame.
type collector struct {
	mu     sync.Mutex
	frames []pipeline.Frame
}

func (c *collector) Present(f pipeline.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *collector) all() []pipeline.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]pipeline.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func TestScheduler_IdleFramePublishedOncePerState(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	col := &collector{}
	s := pipeline.NewScheduler(m, 0, nil, col)
	if s.Interval() != pipeline.DefaultRenderInterval {
		t.Errorf("Interval() = %v, want %v", s.Interval(), pipeline.DefaultRenderInterval)
	}

	now := time.Now()
	for i := range 3 {
		s.Tick(now.Add(time.Duration(i) * 50 * time.Millisecond))
	}
	frames := col.all()
	if len(frames) != 1 {
		t.Fatalf("published %d frames while idle, want 1", len(frames))
	}
	if frames[0].Status.State != pipeline.StateDisconnected {
		t.Errorf("idle frame state = %q, want disconnected", frames[0].Status.State)
	}
	if frames[0].Classification.Label != pipeline.PendingLabel {
		t.Errorf("idle frame label = %d, want pending", frames[0].Classification.Label)
	}
}

func TestScheduler_LiveFrames(t *testing.T) {
	t.Parallel()

	m, drv := newTestManager(t)
	col := &collector{}
	s := pipeline.NewScheduler(m, 50*time.Millisecond, nil, col)

	if _, err := m.Connect(context.Background(), "localhost", 8888); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	feed(t, drv.LastDevice(), ramp(8, 10, 250, 0))

	now := time.Now()
	s.Tick(now)
	feed(t, drv.LastDevice(), ramp(8, 10, 250, 10))
	s.Tick(now.Add(50 * time.Millisecond))

	frames := col.all()
	if len(frames) != 2 {
		t.Fatalf("published %d frames, want 2", len(frames))
	}
	if !frames[0].Live() || frames[0].Seq != 1 || frames[1].Seq != 2 {
		t.Errorf("frames = %+v %+v, want live with seq 1 and 2", frames[0].Status, frames[1].Status)
	}
	if len(frames[1].Time) != 20 {
		t.Errorf("second frame has %d samples, want 20", len(frames[1].Time))
	}

	// Disconnecting publishes exactly one idle frame.
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	s.Tick(now.Add(100 * time.Millisecond))
	s.Tick(now.Add(150 * time.Millisecond))
	frames = col.all()
	if len(frames) != 3 || frames[2].Live() {
		t.Errorf("after disconnect got %d frames, want one extra idle frame", len(frames))
	}
}

func TestScheduler_NothingPresentedBeforeFirstBatch(t *testing.T) {
	t.Parallel()

	m, drv := newTestManager(t)
	if _, err := m.Connect(context.Background(), "localhost", 8888); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	col := &collector{}
	s := pipeline.NewScheduler(m, 50*time.Millisecond, nil, col)

	now := time.Now()
	for i := range 3 {
		s.Tick(now.Add(time.Duration(i) * 50 * time.Millisecond))
	}
	if n := len(col.all()); n != 0 {
		t.Fatalf("presented %d frames before the first batch, want none", n)
	}

	feed(t, drv.LastDevice(), ramp(8, 10, 250, 0))
	s.Tick(now.Add(150 * time.Millisecond))
	frames := col.all()
	if len(frames) != 1 || !frames[0].Live() || frames[0].Seq != 1 {
		t.Fatalf("after first batch got %d frames, want one live frame with Seq 1", len(frames))
	}
	if len(frames[0].Time) != 10 {
		t.Errorf("first frame has %d samples, want 10", len(frames[0].Time))
	}
}

func TestScheduler_ProducerFailureEndsSession(t *testing.T) {
	t.Parallel()

	m, drv := newTestManager(t)
	col := &collector{}
	s := pipeline.NewScheduler(m, 50*time.Millisecond, nil, col)

	sess, err := m.Connect(context.Background(), "localhost", 8888)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	dev := drv.LastDevice()
	dev.SamplesErr = errors.New("link lost")
	close(dev.Samples)
	waitFor(t, "producer failure", func() bool { return sess.Err() != nil })

	now := time.Now()
	s.Tick(now)
	if m.Active() != nil {
		t.Fatal("session still active after a producer failure tick")
	}
	s.Tick(now.Add(50 * time.Millisecond))

	frames := col.all()
	if len(frames) != 2 {
		t.Fatalf("published %d frames, want 2", len(frames))
	}
	for i, f := range frames {
		if f.Status.State != pipeline.StateFailed || f.Status.LastError == "" {
			t.Errorf("frame %d status = %+v, want failed with error", i, f.Status)
		}
	}
	waitFor(t, "device close", func() bool { return dev.CloseCount() == 1 })
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	m, drv := newTestManager(t)
	calls := 0
	panicky := pipeline.PresenterFunc(func(pipeline.Frame) {
		calls++
		if calls == 1 {
			panic("presenter exploded")
		}
	})
	s := pipeline.NewScheduler(m, 50*time.Millisecond, nil, panicky)

	s.Tick(time.Now())
	if _, err := m.Connect(context.Background(), "localhost", 8888); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	feed(t, drv.LastDevice(), ramp(8, 10, 250, 0))
	s.Tick(time.Now())
	if calls != 2 {
		t.Errorf("presenter called %d times, want 2", calls)
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	col := &collector{}
	s := pipeline.NewScheduler(m, 5*time.Millisecond, nil, col)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "first frame", func() bool { return len(col.all()) > 0 })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestScheduler_SetIntervalWhileRunning(t *testing.T) {
	t.Parallel()

	m, drv := newTestManager(t)
	if _, err := m.Connect(context.Background(), "127.0.0.1", 8888); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	feed(t, drv.LastDevice(), ramp(8, 10, 250, 0))
	col := &collector{}
	s := pipeline.NewScheduler(m, time.Hour, nil, col)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.SetInterval(0) // ignored
	if s.Interval() != time.Hour {
		t.Fatalf("Interval() = %v after SetInterval(0), want 1h", s.Interval())
	}
	s.SetInterval(5 * time.Millisecond)
	if s.Interval() != 5*time.Millisecond {
		t.Errorf("Interval() = %v, want 5ms", s.Interval())
	}
	waitFor(t, "frames at the new interval", func() bool { return len(col.all()) >= 3 })
}
