package pipeline

import (
	"time"

	"github.com/MrWong99/mindscope/pkg/signal"
)

// State is the connection state shown on the status panel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// Status describes the acquisition connection.
type Status struct {
	State     State             `json:"state"`
	SessionID string            `json:"session_id,omitempty"`
	Endpoint  string            `json:"endpoint,omitempty"`
	StartedAt time.Time         `json:"started_at,omitzero"`
	Info      signal.StreamInfo `json:"info,omitzero"`

	// LastError is the error that ended the previous session, if any.
	LastError string `json:"last_error,omitempty"`
}

// Stats are the counters shown alongside the plots.
type Stats struct {
	BatchesReceived  int64 `json:"batches_received"`
	SamplesReceived  int64 `json:"samples_received"`
	MalformedBatches int64 `json:"malformed_batches"`

	// DataRateHz is the measured producer rate in samples per second.
	DataRateHz float64 `json:"data_rate_hz"`

	// NominalRateHz is the rate the device reports.
	NominalRateHz float64 `json:"nominal_rate_hz"`

	// RenderFPS is the measured frame rate.
	RenderFPS float64 `json:"render_fps"`
}

// Frame is everything the presentation boundary needs for one redraw.
// A frame owns its slices; presenters may keep it.
type Frame struct {
	SessionID  string    `json:"session_id,omitempty"`
	Seq        uint64    `json:"seq"`
	RenderedAt time.Time `json:"rendered_at"`
	Status     Status    `json:"status"`

	// Time and every entry of Channels have the same length.
	Time     []float64   `json:"time"`
	Channels [][]float64 `json:"channels"`

	// Spectrum is nil until the reference channel holds a full window.
	Spectrum *Spectrum `json:"spectrum"`

	Classification Classification `json:"classification"`
	Stats          Stats          `json:"stats"`
}

// Live reports whether the frame carries session data.
func (f Frame) Live() bool { return f.Status.State == StateConnected }

// IdleFrame returns the frame published while no session is live.
func IdleFrame(now time.Time, st Status) Frame {
	return Frame{
		RenderedAt: now,
		Status:     st,
		Time:       []float64{},
		Channels:   [][]float64{},
		Classification: Classification{
			Label:         PendingLabel,
			Name:          "pending",
			Probabilities: []float64{},
			Raw:           []float64{},
		},
	}
}
