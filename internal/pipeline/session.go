package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mindscope/internal/observe"
	"github.com/MrWong99/mindscope/pkg/signal"
)

// Pipeline defaults.
const (
	DefaultSampleQueue      = 256
	DefaultInferenceQueue   = 64
	DefaultStopTimeout      = 2 * time.Second
	DefaultReferenceChannel = 0
)

// rateWindow is the span over which the data and frame rates are measured.
const rateWindow = 2 * time.Second

// Recorder receives every accepted batch and probability vector of a
// session. Implementations must not block; the render goroutine calls them
// while holding the session lock.
type Recorder interface {
	// RecordBatch is called with the session time, in seconds, of the
	// batch's first sample.
	RecordBatch(sessionID string, start float64, batch signal.Batch)

	// RecordClassification is called after each accepted vector.
	RecordClassification(sessionID string, at time.Time, c Classification)
}

// SessionOptions are the tunables shared by every session a [Manager] opens.
// Zero fields take their defaults.
type SessionOptions struct {
	BufferCapacity   int
	SampleQueue      int
	InferenceQueue   int
	StopTimeout      time.Duration
	SpectralWindow   int
	ReferenceChannel int
	MaxFreq          float64
	Epsilon          float64
	Policy           ClassPolicy

	// Recorder is optional.
	Recorder Recorder

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.BufferCapacity < 1 {
		o.BufferCapacity = DefaultCapacity
	}
	if o.SampleQueue < 1 {
		o.SampleQueue = DefaultSampleQueue
	}
	if o.InferenceQueue < 1 {
		o.InferenceQueue = DefaultInferenceQueue
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if len(o.Policy.Labels) == 0 {
		o.Policy = DefaultClassPolicy()
	}
	if o.Metrics == nil {
		o.Metrics = observe.DefaultMetrics()
	}
	return o
}

// Session is one connect-to-disconnect lifetime: the device, its two
// producer goroutines, the queues they feed and the state the render
// goroutine builds from them.
//
// A Session is live from [Session.Start] until [Session.Stop]. Render holds
// the session lock for the whole drain-and-snapshot step and Stop flips the
// live flag under the same lock, so a render observes either the full live
// state or an idle frame, never a half torn-down session.
type Session struct {
	id        string
	endpoint  signal.Endpoint
	info      signal.StreamInfo
	startedAt time.Time
	dev       signal.Device
	opts      SessionOptions
	log       *slog.Logger

	samples    *Queue[signal.Batch]
	inference  *Queue[signal.Probabilities]
	buffers    *Buffers
	classifier *Classifier
	estimator  *Estimator

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	live      bool
	started   bool
	seq       uint64
	batches   int64
	malformed int64
	dataRate  *rateMeter
	frameRate *rateMeter

	failMu  sync.Mutex
	failErr error

	stopOnce sync.Once
	stopErr  error
}

// NewSession prepares a session around an opened device. The channel count
// and class count come from dev.Info(); a class count that disagrees with
// the policy labels, or a reference channel outside the device layout, is
// an error.
func NewSession(id string, ep signal.Endpoint, dev signal.Device, opts SessionOptions) (*Session, error) {
	opts = opts.withDefaults()
	info := dev.Info()
	if info.Channels < 1 {
		return nil, fmt.Errorf("pipeline: device reports %d channels", info.Channels)
	}
	if opts.ReferenceChannel < 0 || opts.ReferenceChannel >= info.Channels {
		return nil, fmt.Errorf("pipeline: reference channel %d out of range [0,%d)", opts.ReferenceChannel, info.Channels)
	}
	if info.Classes != 0 && info.Classes != len(opts.Policy.Labels) {
		return nil, fmt.Errorf("pipeline: device reports %d classes, %d labels configured", info.Classes, len(opts.Policy.Labels))
	}

	return &Session{
		id:         id,
		endpoint:   ep,
		info:       info,
		dev:        dev,
		opts:       opts,
		log:        slog.With(observe.SessionKey, id),
		samples:    NewQueue[signal.Batch](opts.SampleQueue),
		inference:  NewQueue[signal.Probabilities](opts.InferenceQueue),
		buffers:    NewBuffers(info.Channels, opts.BufferCapacity),
		classifier: NewClassifier(opts.Policy),
		estimator:  NewEstimator(opts.SpectralWindow, opts.MaxFreq, opts.Epsilon),
		done:       make(chan struct{}),
		dataRate:   newRateMeter(rateWindow, 64),
		frameRate:  newRateMeter(rateWindow, 64),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Endpoint returns the acquisition endpoint.
func (s *Session) Endpoint() signal.Endpoint { return s.endpoint }

// Info returns the device stream layout.
func (s *Session) Info() signal.StreamInfo { return s.info }

// StartedAt returns the time Start was called.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Done is closed once both producers have returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Live reports whether the session is accepting and rendering data.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Err returns the producer failure that ended the session, or nil.
func (s *Session) Err() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failErr
}

// Start launches the sample and inference producers. It returns
// immediately; producers run until Stop or until one of them fails.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSessionStopped
	}
	s.started = true
	s.live = true
	s.startedAt = time.Now().UTC()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.dev.StreamSamples(gctx, func(b signal.Batch) error {
			return s.samples.Push(gctx, b)
		})
		return s.producerDone(gctx, "samples", err)
	})
	g.Go(func() error {
		err := s.dev.StreamInference(gctx, func(p signal.Probabilities) error {
			return s.inference.Push(gctx, p)
		})
		return s.producerDone(gctx, "inference", err)
	})
	go func() {
		_ = g.Wait()
		close(s.done)
	}()

	s.opts.Metrics.ActiveSessions.Add(context.Background(), 1)
	s.log.Info("session started",
		"endpoint", s.endpoint.String(),
		"channels", s.info.Channels,
		"sample_rate", s.info.SampleRate,
		"classes", s.info.Classes,
	)
	return nil
}

// producerDone classifies a producer's exit. Exits caused by Stop, or by
// the sibling producer failing first, are clean; anything else is a
// producer failure, recorded for the render goroutine to pick up. The
// returned error cancels the sibling producer.
func (s *Session) producerDone(ctx context.Context, source string, err error) error {
	if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
		return nil
	}
	if err == nil {
		err = errors.New("stream ended")
	}
	failure := fmt.Errorf("%w: %s source: %w", ErrProducerUnavailable, source, err)

	s.failMu.Lock()
	if s.failErr == nil {
		s.failErr = failure
	}
	s.failMu.Unlock()

	s.opts.Metrics.RecordProducerFailure(context.Background(), source)
	s.log.Error("producer failed", "source", source, "err", err)
	return failure
}

// Render drains both queues, applies their contents in arrival order and
// builds a frame from the resulting state. It never blocks on producers.
//
// A non-live session yields an idle frame. Before the first batch is
// accepted Render returns [ErrNotReady] and no frame. Otherwise the returned
// error is non-nil only when a producer has failed; the frame is still valid
// in that case.
func (s *Session) Render(now time.Time) (Frame, error) {
	ctx := context.Background()

	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return IdleFrame(now, Status{State: StateDisconnected}), nil
	}

	for _, b := range s.samples.Drain(s.samples.Cap()) {
		start, err := s.buffers.appendAt(b)
		if err != nil {
			s.malformed++
			s.opts.Metrics.MalformedBatches.Add(ctx, 1)
			s.log.Warn("batch rejected", "seq", b.Seq, "err", err)
			continue
		}
		s.batches++
		s.opts.Metrics.RecordBatch(ctx, b.Len())
		if s.opts.Recorder != nil {
			s.opts.Recorder.RecordBatch(s.id, start, b)
		}
	}
	for _, p := range s.inference.Drain(s.inference.Cap()) {
		if err := s.classifier.Update(p); err != nil {
			s.opts.Metrics.RecordInference(ctx, "rejected")
			s.log.Warn("probability vector rejected", "err", err)
			continue
		}
		s.opts.Metrics.RecordInference(ctx, "ok")
		if s.opts.Recorder != nil {
			s.opts.Recorder.RecordClassification(s.id, now, s.classifier.State())
		}
	}

	if s.batches == 0 {
		// Queued vectors above are applied; the classification is kept for
		// the first frame with data.
		st := s.status()
		s.mu.Unlock()
		if err := s.Err(); err != nil {
			st.State = StateFailed
			st.LastError = err.Error()
			return IdleFrame(now, st), err
		}
		return Frame{}, ErrNotReady
	}

	snap := s.buffers.Snapshot()
	ref, rate, ready := s.buffers.Reference(s.opts.ReferenceChannel, s.estimator.Window)
	s.seq++
	s.dataRate.observe(now, snap.Samples)
	s.frameRate.observe(now, int64(s.seq))

	frame := Frame{
		SessionID:      s.id,
		Seq:            s.seq,
		RenderedAt:     now,
		Status:         s.status(),
		Time:           snap.Time,
		Channels:       snap.Channels,
		Classification: s.classifier.State(),
		Stats: Stats{
			BatchesReceived:  s.batches,
			SamplesReceived:  snap.Samples,
			MalformedBatches: s.malformed,
			DataRateHz:       s.dataRate.rate(),
			NominalRateHz:    s.info.SampleRate,
			RenderFPS:        s.frameRate.rate(),
		},
	}
	s.mu.Unlock()

	if ready {
		began := time.Now()
		if spec, ok := s.estimator.Estimate(ref, rate); ok {
			frame.Spectrum = &spec
		}
		s.opts.Metrics.SpectrumDuration.Record(ctx, time.Since(began).Seconds())
	}

	if err := s.Err(); err != nil {
		frame.Status.State = StateFailed
		frame.Status.LastError = err.Error()
		return frame, err
	}
	return frame, nil
}

// QueueDepth returns the pending sample batches and probability vectors.
func (s *Session) QueueDepth() (samples, inference int) {
	return s.samples.Len(), s.inference.Len()
}

// status must be called with s.mu held.
func (s *Session) status() Status {
	return Status{
		State:     StateConnected,
		SessionID: s.id,
		Endpoint:  s.endpoint.String(),
		StartedAt: s.startedAt,
		Info:      s.info,
	}
}

// Stop ends the session. It is idempotent: later calls return the result
// of the first.
//
// Stop marks the session not live, closes both queues, cancels the
// producers and waits for them, bounded by the configured stop timeout and
// ctx. If they do not quiesce in time the device is force-closed and the
// returned error wraps [ErrTeardownTimeout]. Buffers and classification
// are cleared in every case.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { s.stopErr = s.stop(ctx) })
	return s.stopErr
}

func (s *Session) stop(ctx context.Context) error {
	s.mu.Lock()
	wasLive := s.live
	started := s.started
	s.live = false
	s.started = true
	s.mu.Unlock()

	s.samples.Close()
	s.inference.Close()

	var err error
	if started {
		s.cancel()

		timer := time.NewTimer(s.opts.StopTimeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			err = fmt.Errorf("%w: producers still running after %s", ErrTeardownTimeout, s.opts.StopTimeout)
		case <-ctx.Done():
			err = fmt.Errorf("%w: %w", ErrTeardownTimeout, ctx.Err())
		}
	}
	if err != nil {
		s.opts.Metrics.TeardownTimeouts.Add(context.Background(), 1)
		s.log.Warn("producers did not stop in time, forcing device close", "err", err)
	}
	if cerr := s.dev.Close(); cerr != nil {
		s.log.Warn("device close error", "err", cerr)
	}

	s.mu.Lock()
	s.buffers.Reset()
	s.classifier.Reset()
	s.dataRate.reset()
	s.frameRate.reset()
	batches, malformed := s.batches, s.malformed
	s.mu.Unlock()

	if wasLive {
		s.opts.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
	s.log.Info("session stopped", "batches", batches, "malformed", malformed)
	return err
}
