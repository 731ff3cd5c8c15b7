package signal

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformedBatch is returned when a [Batch] does not match the session's
// channel layout or carries non-finite readings. A malformed batch is
// rejected as a whole; no partial sample of it is ever buffered.
var ErrMalformedBatch = errors.New("signal: malformed batch")

// ErrMalformedProbabilities is returned when a [Probabilities] vector has the
// wrong length or carries non-finite values.
var ErrMalformedProbabilities = errors.New("signal: malformed probability vector")

// ErrInvalidEndpoint is returned by [Endpoint.Validate].
var ErrInvalidEndpoint = errors.New("signal: invalid endpoint")

// Batch is a group of same-instant-aligned multi-channel samples delivered
// together by a sample source. Batches are the atomic unit of acquisition
// transport: every channel sub-slice has the same length and sample i of
// every channel was taken at the same instant.
type Batch struct {
	// Channels holds one sub-slice per signal channel, all of equal length.
	Channels [][]float64

	// SampleRate is the nominal rate in Hz used to derive the batch.
	SampleRate float64

	// Seq is the producer-assigned sequence number. Zero when the producer
	// does not number its batches.
	Seq uint64
}

// Len returns the number of samples per channel (the batch size).
func (b Batch) Len() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Validate reports whether b is well formed for a stream with the given
// number of channels. All failures wrap [ErrMalformedBatch].
func (b Batch) Validate(channels int) error {
	if len(b.Channels) != channels {
		return fmt.Errorf("%w: got %d channels, want %d", ErrMalformedBatch, len(b.Channels), channels)
	}
	if !(b.SampleRate > 0) || math.IsInf(b.SampleRate, 0) {
		return fmt.Errorf("%w: sample rate %v", ErrMalformedBatch, b.SampleRate)
	}
	n := b.Len()
	if n == 0 {
		return fmt.Errorf("%w: empty batch", ErrMalformedBatch)
	}
	for ch, samples := range b.Channels {
		if len(samples) != n {
			return fmt.Errorf("%w: channel %d has %d samples, want %d", ErrMalformedBatch, ch, len(samples), n)
		}
		for i, v := range samples {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: channel %d sample %d is %v", ErrMalformedBatch, ch, i, v)
			}
		}
	}
	return nil
}

// Probabilities is a class-probability vector as produced by an inference
// source, one entry per class. Values need not be normalised.
type Probabilities []float64

// Validate reports whether p has the expected number of classes and only
// finite entries. Failures wrap [ErrMalformedProbabilities].
func (p Probabilities) Validate(classes int) error {
	if len(p) != classes {
		return fmt.Errorf("%w: got %d classes, want %d", ErrMalformedProbabilities, len(p), classes)
	}
	for i, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: class %d is %v", ErrMalformedProbabilities, i, v)
		}
	}
	return nil
}

// StreamInfo describes the fixed layout of a device's streams for the
// lifetime of one session.
type StreamInfo struct {
	// Channels is the number of signal channels per batch (8 for the
	// reference headset).
	Channels int `json:"channels"`

	// SampleRate is the nominal acquisition rate in Hz.
	SampleRate float64 `json:"sample_rate"`

	// BatchSize is the nominal number of samples per channel per batch.
	BatchSize int `json:"batch_size"`

	// Classes is the length of every probability vector.
	Classes int `json:"classes"`
}

// Endpoint addresses an acquisition device.
type Endpoint struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// Validate reports whether e names a usable host and TCP port. Failures wrap
// [ErrInvalidEndpoint].
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidEndpoint)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range [1,65535]", ErrInvalidEndpoint, e.Port)
	}
	return nil
}

// String returns "address:port".
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}
