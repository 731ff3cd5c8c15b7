// Package signal defines the boundary types and interfaces between mindscope
// and acquisition hardware.
//
// The two primary abstractions are:
//
//   - [Driver] opens an acquisition endpoint and returns a [Device].
//   - [Device] is an open device exposing a sample stream and an inference
//     stream, each driven on the caller's goroutine until cancelled.
//
// Implementations live in adapter packages (signal/simulated, signal/mqtt).
// This package lives under pkg/ because third-party device adapters are
// expected to implement [Driver] and [Device].
package signal

import (
	"context"
)

// Emitter hands one value from a producer to the session. It may block while
// the session applies backpressure and returns a non-nil error once the
// session no longer accepts data, at which point the producer must return.
type Emitter[T any] func(T) error

// Device is an open acquisition endpoint.
//
// StreamSamples and StreamInference each block until ctx is cancelled, the
// emitter returns an error, or the producer fails. A return caused by
// cancellation yields nil or ctx.Err(); any other error means the producer
// is gone for the rest of the session.
//
// Values must be emitted in production order. Implementations must be safe
// for the two Stream methods to run concurrently.
type Device interface {
	// Info returns the fixed stream layout for this device.
	Info() StreamInfo

	// StreamSamples delivers sample batches through emit.
	StreamSamples(ctx context.Context, emit Emitter[Batch]) error

	// StreamInference delivers probability vectors through emit.
	StreamInference(ctx context.Context, emit Emitter[Probabilities]) error

	// Close releases the device. It unblocks any running Stream call and is
	// safe to call more than once.
	Close() error
}

// Driver opens devices. Implementations must be safe for concurrent use.
type Driver interface {
	// Open connects to the device at ep. The supplied ctx bounds the
	// connection attempt only.
	Open(ctx context.Context, ep Endpoint) (Device, error)
}
