package pipeline

import "errors"

var (
	// ErrProducerUnavailable reports that a sample or inference source failed
	// to start or died mid-session. It terminates the session, never the
	// render loop.
	ErrProducerUnavailable = errors.New("pipeline: producer unavailable")

	// ErrTeardownTimeout reports that a producer did not quiesce within the
	// stop window and the device was force-closed.
	ErrTeardownTimeout = errors.New("pipeline: teardown timeout")

	// ErrAlreadyConnected is returned by [Manager.Connect] while a session
	// is live.
	ErrAlreadyConnected = errors.New("pipeline: already connected")

	// ErrNotReady is returned by [Session.Render] while no sample batch has
	// been accepted yet. There is nothing to draw; the tick is skipped.
	ErrNotReady = errors.New("pipeline: no samples yet")

	// ErrSessionStopped is returned by [Session.Start] on a stopped session.
	ErrSessionStopped = errors.New("pipeline: session stopped")
)
