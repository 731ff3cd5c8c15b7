// Package simulated provides a [signal.Driver] that synthesises EEG-like
// multi-channel data and a bursty inference stream. It stands in
// for a real headset during development and demos.
//
// Each channel carries an alpha component (10 Hz + 0.5 Hz per channel
// index), a beta component (20 Hz + 1 Hz per channel index) and Gaussian
// noise. The inference stream favours one class and moves on to the next
// every SwitchEvery vectors.
package simulated

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/mindscope/pkg/signal"
)

// Compile-time interface assertions.
var (
	_ signal.Driver = (*Driver)(nil)
	_ signal.Device = (*Device)(nil)
)

const (
	defaultChannels          = 8
	defaultSampleRate        = 250.0
	defaultBatchSize         = 10
	defaultInferenceInterval = 100 * time.Millisecond
	defaultSwitchEvery       = 150

	alphaAmplitude = 20.0
	betaAmplitude  = 10.0
	noiseAmplitude = 5.0
)

// Option configures a [Driver].
type Option func(*Driver)

// WithChannels sets the number of simulated channels.
func WithChannels(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.info.Channels = n
		}
	}
}

// WithSampleRate sets the nominal sample rate in Hz.
func WithSampleRate(hz float64) Option {
	return func(d *Driver) {
		if hz > 0 {
			d.info.SampleRate = hz
		}
	}
}

// WithBatchSize sets the number of samples per channel per batch.
func WithBatchSize(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.info.BatchSize = n
		}
	}
}

// WithInferenceInterval sets the mean spacing between probability vectors.
// Each interval is jittered by up to ±25%.
func WithInferenceInterval(iv time.Duration) Option {
	return func(d *Driver) {
		if iv > 0 {
			d.inferenceInterval = iv
		}
	}
}

// WithClasses sets the length of the probability vectors.
func WithClasses(n int) Option {
	return func(d *Driver) {
		if n > 1 {
			d.info.Classes = n
		}
	}
}

// WithSwitchEvery sets how many vectors are emitted before the dominant
// class flips.
func WithSwitchEvery(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.switchEvery = n
		}
	}
}

// Driver opens simulated devices. The endpoint is recorded but otherwise
// ignored.
type Driver struct {
	info              signal.StreamInfo
	inferenceInterval time.Duration
	switchEvery       int
}

// New returns a simulated driver with the reference layout (8 channels,
// 250 Hz, batches of 10, two classes) modified by opts.
func New(opts ...Option) *Driver {
	d := &Driver{
		info: signal.StreamInfo{
			Channels:   defaultChannels,
			SampleRate: defaultSampleRate,
			BatchSize:  defaultBatchSize,
			Classes:    2,
		},
		inferenceInterval: defaultInferenceInterval,
		switchEvery:       defaultSwitchEvery,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements [signal.Driver].
func (d *Driver) Open(_ context.Context, ep signal.Endpoint) (signal.Device, error) {
	return &Device{
		endpoint:          ep,
		info:              d.info,
		inferenceInterval: d.inferenceInterval,
		switchEvery:       d.switchEvery,
		done:              make(chan struct{}),
	}, nil
}

// Device is an open simulated device.
type Device struct {
	endpoint          signal.Endpoint
	info              signal.StreamInfo
	inferenceInterval time.Duration
	switchEvery       int

	closeOnce sync.Once
	done      chan struct{}
}

// Info implements [signal.Device].
func (d *Device) Info() signal.StreamInfo { return d.info }

// Endpoint returns the endpoint the device was opened for.
func (d *Device) Endpoint() signal.Endpoint { return d.endpoint }

// Close implements [signal.Device].
func (d *Device) Close() error {
	d.closeOnce.Do(func() { close(d.done) })
	return nil
}

// StreamSamples implements [signal.Device]. One batch is emitted every
// BatchSize/SampleRate seconds.
func (d *Device) StreamSamples(ctx context.Context, emit signal.Emitter[signal.Batch]) error {
	period := time.Duration(float64(d.info.BatchSize) / d.info.SampleRate * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var n int // samples generated so far
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			return nil
		case <-ticker.C:
		}

		seq++
		b := Generate(d.info.Channels, d.info.BatchSize, d.info.SampleRate, n)
		b.Seq = seq
		n += d.info.BatchSize
		if err := emit(b); err != nil {
			return err
		}
	}
}

// StreamInference implements [signal.Device].
func (d *Device) StreamInference(ctx context.Context, emit signal.Emitter[signal.Probabilities]) error {
	timer := time.NewTimer(jitter(d.inferenceInterval))
	defer timer.Stop()

	var count int
	class := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			return nil
		case <-timer.C:
		}

		count++
		if count%d.switchEvery == 0 {
			class = (class + 1) % d.info.Classes
		}
		if err := emit(Vector(class, d.info.Classes)); err != nil {
			return err
		}
		timer.Reset(jitter(d.inferenceInterval))
	}
}

// Generate synthesises one batch of size samples per channel, starting at
// sample index offset (so consecutive batches form a continuous waveform).
func Generate(channels, size int, rate float64, offset int) signal.Batch {
	data := make([][]float64, channels)
	for ch := range data {
		alpha := 10 + 0.5*float64(ch)
		beta := 20 + float64(ch)
		row := make([]float64, size)
		for i := range row {
			t := float64(offset+i) / rate
			row[i] = alphaAmplitude*math.Sin(2*math.Pi*alpha*t) +
				betaAmplitude*math.Sin(2*math.Pi*beta*t) +
				noiseAmplitude*rand.NormFloat64()
		}
		data[ch] = row
	}
	return signal.Batch{Channels: data, SampleRate: rate}
}

// Vector returns a noisy probability vector of length classes favouring
// class. The result is not normalised and may fall outside [0, 1].
func Vector(class, classes int) signal.Probabilities {
	p := make(signal.Probabilities, classes)
	for i := range p {
		if i == class {
			p[i] = 0.7 + 0.1*rand.NormFloat64()
		} else {
			p[i] = 0.3/float64(classes-1) + 0.1*rand.NormFloat64()
		}
	}
	return p
}

// jitter returns d scaled by a random factor in [0.75, 1.25).
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.75 + 0.5*rand.Float64()))
}
