package pipeline

import (
	"fmt"
	"sync"

	"github.com/MrWong99/mindscope/pkg/signal"
)

// DefaultCapacity is the number of samples kept per channel.
const DefaultCapacity = 1000

// Buffers holds one sliding window per signal channel plus a parallel time
// axis shared by all channels. Every operation holds a single lock, so a
// reader never observes channels of unequal length or a time axis out of
// step with them.
//
// All methods are safe for concurrent use.
type Buffers struct {
	mu       sync.RWMutex
	channels []*Ring
	time     *Ring

	// Time axis clock: the timestamp of sample n since the last rate change
	// is origin + n/rate. Deriving it from a counter instead of summing
	// 1/rate keeps the step exact over long sessions.
	origin float64
	rate   float64
	n      int64

	samples int64 // total samples accepted since the last Reset
}

// Snapshot is a consistent copy of [Buffers] at one instant. Time and every
// entry of Channels have the same length.
type Snapshot struct {
	Time     []float64
	Channels [][]float64

	// Samples is the total number of samples accepted, including evicted ones.
	Samples int64
}

// NewBuffers returns empty buffers for channels channels of the given
// capacity. It panics if either is < 1.
func NewBuffers(channels, capacity int) *Buffers {
	if channels < 1 {
		panic("pipeline: buffers need at least one channel")
	}
	b := &Buffers{
		channels: make([]*Ring, channels),
		time:     NewRing(capacity),
	}
	for i := range b.channels {
		b.channels[i] = NewRing(capacity)
	}
	return b
}

// Channels returns the number of signal channels.
func (b *Buffers) Channels() int { return len(b.channels) }

// Capacity returns the per-channel capacity.
func (b *Buffers) Capacity() int { return b.time.Cap() }

// Append validates batch and appends it sample by sample: one value to every
// channel and one timestamp to the time axis per sample index. A batch that
// fails validation is rejected whole with an error wrapping
// [signal.ErrMalformedBatch] and the buffers are left untouched.
func (b *Buffers) Append(batch signal.Batch) error {
	_, err := b.appendAt(batch)
	return err
}

// appendAt is Append that also returns the timestamp of the batch's first
// sample.
func (b *Buffers) appendAt(batch signal.Batch) (float64, error) {
	if err := batch.Validate(len(b.channels)); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if batch.SampleRate != b.rate {
		if b.rate > 0 {
			b.origin += float64(b.n) / b.rate
		}
		b.rate = batch.SampleRate
		b.n = 0
	}

	start := b.origin + float64(b.n)/b.rate
	size := batch.Len()
	for i := 0; i < size; i++ {
		b.time.Push(b.origin + float64(b.n)/b.rate)
		b.n++
		for ch, r := range b.channels {
			r.Push(batch.Channels[ch][i])
		}
	}
	b.samples += int64(size)
	return start, nil
}

// Len returns the number of samples currently held per channel.
func (b *Buffers) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.time.Len()
}

// Snapshot returns a consistent copy of the time axis and all channels.
func (b *Buffers) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Snapshot{
		Time:     b.time.Values(),
		Channels: make([][]float64, len(b.channels)),
		Samples:  b.samples,
	}
	for i, r := range b.channels {
		s.Channels[i] = r.Values()
	}
	return s
}

// Reference returns a copy of the newest n values of channel ch together
// with the sample rate they were acquired at. ok is false when fewer than n
// values are buffered.
func (b *Buffers) Reference(ch, n int) (values []float64, rate float64, ok bool) {
	if ch < 0 || ch >= len(b.channels) {
		panic(fmt.Sprintf("pipeline: reference channel %d out of range [0,%d)", ch, len(b.channels)))
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	r := b.channels[ch]
	if r.Len() < n {
		return nil, b.rate, false
	}
	return r.Last(n), b.rate, true
}

// Reset discards all samples and restarts the time axis at zero.
func (b *Buffers) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.channels {
		r.Reset()
	}
	b.time.Reset()
	b.origin, b.rate, b.n, b.samples = 0, 0, 0, 0
}
