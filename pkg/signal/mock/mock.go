// Package mock provides in-memory implementations of [signal.Driver] and
// [signal.Device] for use in unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert on them, and expose fields that control their behaviour.
//
// Typical usage:
//
//	dev := mock.NewDevice(signal.StreamInfo{Channels: 8, SampleRate: 250, BatchSize: 10, Classes: 2})
//	drv := &mock.Driver{OpenResult: dev}
//	// ... start a session against drv, then feed it:
//	dev.Samples <- batch
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mindscope/pkg/signal"
)

// ─── Driver ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Driver.Open] invocation.
type OpenCall struct {
	Endpoint signal.Endpoint
}

// Driver is a mock implementation of [signal.Driver].
type Driver struct {
	mu sync.Mutex

	// OpenResult is returned by Open. When nil, Open returns a fresh
	// [Device] with OpenInfo on every call.
	OpenResult *Device

	// OpenInfo is the stream layout used for devices created on demand.
	OpenInfo signal.StreamInfo

	// OpenError, when non-nil, is returned by Open.
	OpenError error

	// OpenCalls records every call to Open.
	OpenCalls []OpenCall

	// Devices lists every device returned by Open, in order.
	Devices []*Device
}

// Open implements [signal.Driver].
func (d *Driver) Open(_ context.Context, ep signal.Endpoint) (signal.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Endpoint: ep})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	dev := d.OpenResult
	if dev == nil {
		dev = NewDevice(d.OpenInfo)
	}
	d.Devices = append(d.Devices, dev)
	return dev, nil
}

// Calls returns a copy of the recorded Open calls.
func (d *Driver) Calls() []OpenCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]OpenCall, len(d.OpenCalls))
	copy(out, d.OpenCalls)
	return out
}

// LastDevice returns the most recently opened device, or nil.
func (d *Driver) LastDevice() *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Devices) == 0 {
		return nil
	}
	return d.Devices[len(d.Devices)-1]
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [signal.Device]. Tests push values into
// Samples and Inference; the Stream methods forward them through the emitter
// in order.
type Device struct {
	// Samples feeds StreamSamples. Closing it ends the stream with SamplesErr.
	Samples chan signal.Batch

	// Inference feeds StreamInference. Closing it ends the stream with
	// InferenceErr.
	Inference chan signal.Probabilities

	// SamplesErr is returned by StreamSamples after Samples is closed.
	SamplesErr error

	// InferenceErr is returned by StreamInference after Inference is closed.
	InferenceErr error

	// IgnoreCancel makes both Stream methods ignore context cancellation and
	// return only once Close is called. Used to exercise teardown timeouts.
	IgnoreCancel bool

	info signal.StreamInfo

	mu         sync.Mutex
	closeCount int
	closeOnce  sync.Once
	done       chan struct{}
	emitted    int
}

// NewDevice returns a device with buffered feed channels.
func NewDevice(info signal.StreamInfo) *Device {
	return &Device{
		Samples:   make(chan signal.Batch, 64),
		Inference: make(chan signal.Probabilities, 64),
		info:      info,
		done:      make(chan struct{}),
	}
}

// Info implements [signal.Device].
func (d *Device) Info() signal.StreamInfo { return d.info }

// StreamSamples implements [signal.Device].
func (d *Device) StreamSamples(ctx context.Context, emit signal.Emitter[signal.Batch]) error {
	return stream(ctx, d, d.Samples, emit, func() error { return d.SamplesErr })
}

// StreamInference implements [signal.Device].
func (d *Device) StreamInference(ctx context.Context, emit signal.Emitter[signal.Probabilities]) error {
	return stream(ctx, d, d.Inference, emit, func() error { return d.InferenceErr })
}

// Close implements [signal.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	d.closeCount++
	d.mu.Unlock()
	d.closeOnce.Do(func() { close(d.done) })
	return nil
}

// CloseCount returns how many times Close was called.
func (d *Device) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeCount
}

// Emitted returns how many values were successfully handed to an emitter.
func (d *Device) Emitted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emitted
}

func stream[T any](ctx context.Context, d *Device, feed <-chan T, emit signal.Emitter[T], final func() error) error {
	ctxDone := ctx.Done()
	if d.IgnoreCancel {
		ctxDone = nil
	}
	for {
		select {
		case <-ctxDone:
			return ctx.Err()
		case <-d.done:
			return nil
		case v, ok := <-feed:
			if !ok {
				return final()
			}
			if err := emit(v); err != nil {
				return err
			}
			d.mu.Lock()
			d.emitted++
			d.mu.Unlock()
		}
	}
}
