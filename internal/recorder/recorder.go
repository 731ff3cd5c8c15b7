// Package recorder persists sample batches and classifications of live
// sessions to an external store.
//
// A [Sink] implements pipeline.Recorder. It is called from the render
// goroutine, so it only copies rows into a bounded in-memory queue and
// never blocks; a background loop flushes the queue through a [Writer].
// Recording is best effort: rows beyond the queue bound are dropped and a
// failed flush discards its rows. Both are counted in metrics.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mindscope/internal/observe"
	"github.com/MrWong99/mindscope/internal/pipeline"
	"github.com/MrWong99/mindscope/internal/resilience"
	"github.com/MrWong99/mindscope/pkg/signal"
)

// SampleRow is one channel value of one sample.
type SampleRow struct {
	SessionID string
	// TS is the time-axis value of the sample in seconds since session start.
	TS      float64
	Channel uint16
	Value   float64
}

// ClassificationRow is one classification update.
type ClassificationRow struct {
	SessionID     string
	ReceivedAt    time.Time
	Label         string
	Confidence    float64
	Probabilities []float64
}

// Writer stores rows. Implementations need not be safe for concurrent use;
// the sink calls them from its flush loop only.
type Writer interface {
	WriteSamples(ctx context.Context, rows []SampleRow) error
	WriteClassifications(ctx context.Context, rows []ClassificationRow) error
}

// Config tunes a [Sink].
type Config struct {
	// FlushInterval is the longest a row waits before being written.
	// Defaults to 1s.
	FlushInterval time.Duration

	// BatchRows triggers an early flush once this many sample rows are
	// pending. Defaults to 5000.
	BatchRows int

	// QueueRows bounds the pending rows; beyond it new rows are dropped.
	// Defaults to 50000.
	QueueRows int

	// Breaker guards the writer. Defaults to a breaker named "recorder".
	Breaker *resilience.CircuitBreaker

	// Metrics records row outcomes. Defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Sink queues rows for a [Writer]. Call [Sink.Start] to begin flushing
// and [Sink.Close] to flush the remainder and stop.
type Sink struct {
	w       Writer
	cfg     Config
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics

	mu      sync.Mutex
	samples []SampleRow
	classes []ClassificationRow
	dropped int

	wake      chan struct{}
	stop      chan struct{}
	loopDone  chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

var _ pipeline.Recorder = (*Sink)(nil)

// NewSink returns a sink writing through w.
func NewSink(w Writer, cfg Config) *Sink {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.BatchRows <= 0 {
		cfg.BatchRows = 5000
	}
	if cfg.QueueRows <= 0 {
		cfg.QueueRows = 50000
	}
	cfg.BatchRows = min(cfg.BatchRows, cfg.QueueRows)
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "recorder"})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Sink{
		w:        w,
		cfg:      cfg,
		breaker:  cfg.Breaker,
		metrics:  cfg.Metrics,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// RecordBatch implements pipeline.Recorder. Sample i of the batch is
// stamped start + i/rate, matching the display time axis.
func (s *Sink) RecordBatch(sessionID string, start float64, batch signal.Batch) {
	n := batch.Len()
	rows := n * len(batch.Channels)
	if rows == 0 {
		return
	}

	s.mu.Lock()
	if !s.reserve(rows) {
		s.mu.Unlock()
		return
	}
	for i := range n {
		ts := start + float64(i)/batch.SampleRate
		for ch, samples := range batch.Channels {
			s.samples = append(s.samples, SampleRow{
				SessionID: sessionID,
				TS:        ts,
				Channel:   uint16(ch),
				Value:     samples[i],
			})
		}
	}
	full := len(s.samples) >= s.cfg.BatchRows
	s.mu.Unlock()

	if full {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// RecordClassification implements pipeline.Recorder.
func (s *Sink) RecordClassification(sessionID string, at time.Time, c pipeline.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reserve(1) {
		return
	}
	s.classes = append(s.classes, ClassificationRow{
		SessionID:     sessionID,
		ReceivedAt:    at,
		Label:         c.Name,
		Confidence:    c.Confidence,
		Probabilities: append([]float64(nil), c.Probabilities...),
	})
}

// reserve reports whether rows more rows fit in the queue and counts them
// as dropped otherwise. Must be called with s.mu held.
func (s *Sink) reserve(rows int) bool {
	if len(s.samples)+len(s.classes)+rows <= s.cfg.QueueRows {
		return true
	}
	if s.dropped == 0 {
		slog.Warn("recorder queue full, dropping rows", "queue_rows", s.cfg.QueueRows)
	}
	s.dropped += rows
	s.metrics.RecordRecorderRows(context.Background(), "dropped", rows)
	return false
}

// Pending returns the number of queued rows.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples) + len(s.classes)
}

// Start launches the flush loop. Calling it again has no effect.
func (s *Sink) Start() {
	s.startOnce.Do(func() {
		go s.loop()
	})
}

func (s *Sink) loop() {
	defer close(s.loopDone)
	t := time.NewTicker(s.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
		case <-s.wake:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.FlushInterval+5*time.Second)
		s.Flush(ctx)
		cancel()
	}
}

// Flush writes every queued row now. It returns the first write error.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	samples, classes := s.samples, s.classes
	s.samples, s.classes = nil, nil
	if s.dropped > 0 {
		slog.Warn("recorder dropped rows since last flush", "rows", s.dropped)
		s.dropped = 0
	}
	s.mu.Unlock()

	err1 := s.write(ctx, "samples", len(samples), func(ctx context.Context) error {
		return s.w.WriteSamples(ctx, samples)
	})
	err2 := s.write(ctx, "classifications", len(classes), func(ctx context.Context) error {
		return s.w.WriteClassifications(ctx, classes)
	})
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Sink) write(ctx context.Context, table string, n int, fn func(context.Context) error) error {
	if n == 0 {
		return nil
	}
	err := s.breaker.Execute(ctx, fn)
	switch {
	case err == nil:
		s.metrics.RecordRecorderRows(ctx, "written", n)
	case errors.Is(err, resilience.ErrCircuitOpen):
		s.metrics.RecordRecorderRows(ctx, "failed", n)
		slog.Debug("recorder unavailable, discarding rows", "table", table, "rows", n)
	default:
		s.metrics.RecordRecorderRows(ctx, "failed", n)
		slog.Warn("recorder write failed", "table", table, "rows", n, "err", err)
	}
	return err
}

// Close stops the flush loop and writes the remaining rows, giving up when
// ctx ends. It is safe to call more than once.
func (s *Sink) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		// A sink that was never started has no loop to wait for.
		s.startOnce.Do(func() { close(s.loopDone) })
		select {
		case <-s.loopDone:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		err = s.Flush(ctx)
	})
	return err
}
