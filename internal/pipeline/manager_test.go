package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/mindscope/internal/pipeline"
	"github.com/MrWong99/mindscope/pkg/signal"
	"github.com/MrWong99/mindscope/pkg/signal/mock"
)

func newTestManager(t *testing.T) (*pipeline.Manager, *mock.Driver) {
	t.Helper()
	drv := &mock.Driver{OpenInfo: testInfo}
	m := pipeline.NewManager(pipeline.ManagerConfig{
		Driver:  drv,
		Options: pipeline.SessionOptions{StopTimeout: 200 * time.Millisecond},
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, drv
}

func TestManager_ConnectAndStatus(t *testing.T) {
	t.Parallel()

	m, drv := newTestManager(t)
	if st := m.Status(); st.State != pipeline.StateDisconnected {
		t.Errorf("initial state = %q, want disconnected", st.State)
	}

	sess, err := m.Connect(context.Background(), "192.168.1.100", 8888)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if m.Active() != sess {
		t.Error("Active() is not the connected session")
	}
	calls := drv.Calls()
	if len(calls) != 1 || calls[0].Endpoint != (signal.Endpoint{Address: "192.168.1.100", Port: 8888}) {
		t.Errorf("Open calls = %+v", calls)
	}

	st := m.Status()
	if st.State != pipeline.StateConnected || st.SessionID != sess.ID() || st.Endpoint != "192.168.1.100:8888" {
		t.Errorf("Status() = %+v", st)
	}
	if st.Info != testInfo {
		t.Errorf("Status().Info = %+v, want %+v", st.Info, testInfo)
	}
}

func TestManager_ConnectWhileConnected(t *testing.T) {
	t.Parallel()

	m, drv := newTestManager(t)
	first, err := m.Connect(context.Background(), "localhost", 8888)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := m.Connect(context.Background(), "localhost", 8888); !errors.Is(err, pipeline.ErrAlreadyConnected) {
		t.Fatalf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
	if m.Active() != first {
		t.Error("second Connect replaced the live session")
	}
	if len(drv.Calls()) != 1 {
		t.Errorf("Open called %d times, want 1", len(drv.Calls()))
	}
}

func TestManager_DisconnectIdleIsNoop(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	for range 2 {
		if err := m.Disconnect(context.Background()); err != nil {
			t.Errorf("Disconnect() while idle error: %v", err)
		}
	}
}

func TestManager_DisconnectThenReconnect(t *testing.T) {
	t.Parallel()

	m, drv := newTestManager(t)
	first, err := m.Connect(context.Background(), "localhost", 8888)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	feed(t, drv.LastDevice(), ramp(8, 10, 250, 0))
	if _, err := first.Render(time.Now()); err != nil {
		t.Fatalf("Render() error: %v", err)
	}

	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("second Disconnect() error: %v", err)
	}
	if m.Active() != nil {
		t.Fatal("Active() non-nil after Disconnect")
	}
	if drv.Devices[0].CloseCount() != 1 {
		t.Errorf("first device closed %d times, want 1", drv.Devices[0].CloseCount())
	}

	second, err := m.Connect(context.Background(), "localhost", 8888)
	if err != nil {
		t.Fatalf("reconnect error: %v", err)
	}
	if second.ID() == first.ID() {
		t.Error("reconnect reused the session ID")
	}
	frame, _ := second.Render(time.Now())
	if len(frame.Time) != 0 || frame.Stats.SamplesReceived != 0 {
		t.Errorf("new session starts with %d samples, want fresh buffers", len(frame.Time))
	}
}

func TestManager_ConnectErrors(t *testing.T) {
	t.Parallel()

	t.Run("invalid endpoint", func(t *testing.T) {
		t.Parallel()
		m, drv := newTestManager(t)
		if _, err := m.Connect(context.Background(), "", 8888); !errors.Is(err, signal.ErrInvalidEndpoint) {
			t.Errorf("Connect() error = %v, want ErrInvalidEndpoint", err)
		}
		if len(drv.Calls()) != 0 {
			t.Error("driver opened for an invalid endpoint")
		}
	})

	t.Run("open failure", func(t *testing.T) {
		t.Parallel()
		m, drv := newTestManager(t)
		drv.OpenError = errors.New("connection refused")
		_, err := m.Connect(context.Background(), "localhost", 8888)
		if !errors.Is(err, pipeline.ErrProducerUnavailable) {
			t.Fatalf("Connect() error = %v, want ErrProducerUnavailable", err)
		}
		st := m.Status()
		if st.State != pipeline.StateFailed || st.LastError == "" {
			t.Errorf("Status() = %+v, want failed with error", st)
		}
		if m.Active() != nil {
			t.Error("Active() non-nil after failed Connect")
		}
	})
}

// TestManager_ConnectSpanStatus installs a global tracer provider and so
// does not run in parallel.
func TestManager_ConnectSpanStatus(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	tests := []struct {
		name    string
		setup   func(t *testing.T, m *pipeline.Manager, drv *mock.Driver)
		address string
		wantErr bool
	}{
		{name: "connected", address: "localhost"},
		{name: "invalid endpoint", address: "", wantErr: true},
		{
			name:    "open failure",
			setup:   func(_ *testing.T, _ *pipeline.Manager, drv *mock.Driver) { drv.OpenError = errors.New("connection refused") },
			address: "localhost",
			wantErr: true,
		},
		{
			name:    "session rejected",
			setup:   func(_ *testing.T, _ *pipeline.Manager, drv *mock.Driver) { drv.OpenInfo.Channels = 0 },
			address: "localhost",
			wantErr: true,
		},
		{
			name: "already connected",
			setup: func(t *testing.T, m *pipeline.Manager, _ *mock.Driver) {
				if _, err := m.Connect(context.Background(), "localhost", 8888); err != nil {
					t.Fatalf("first Connect() error: %v", err)
				}
			},
			address: "localhost",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, drv := newTestManager(t)
			if tt.setup != nil {
				tt.setup(t, m, drv)
			}
			exp.Reset()

			_, err := m.Connect(context.Background(), tt.address, 8888)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Connect() error = %v, wantErr %v", err, tt.wantErr)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 || spans[0].Name != "pipeline.Connect" {
				t.Fatalf("spans = %v, want one pipeline.Connect span", spans.Snapshots())
			}
			span := spans[0]
			if !tt.wantErr {
				if span.Status.Code == codes.Error {
					t.Errorf("span status = %v on success", span.Status)
				}
				return
			}
			if span.Status.Code != codes.Error || span.Status.Description != err.Error() {
				t.Errorf("span status = %+v, want Error %q", span.Status, err.Error())
			}
			var recorded bool
			for _, ev := range span.Events {
				if ev.Name == "exception" {
					recorded = true
				}
			}
			if !recorded {
				t.Error("error not recorded as a span event")
			}
		})
	}
}

func TestManager_Fail(t *testing.T) {
	t.Parallel()

	m, drv := newTestManager(t)
	sess, err := m.Connect(context.Background(), "localhost", 8888)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	cause := errors.New("producer died")
	m.Fail(sess, cause)
	m.Fail(sess, cause)

	if m.Active() != nil {
		t.Fatal("Active() non-nil after Fail")
	}
	st := m.Status()
	if st.State != pipeline.StateFailed || st.LastError != "producer died" {
		t.Errorf("Status() = %+v, want failed: producer died", st)
	}
	dev := drv.LastDevice()
	waitFor(t, "background teardown", func() bool { return dev.CloseCount() == 1 })

	if _, err := m.Connect(context.Background(), "localhost", 8888); err != nil {
		t.Fatalf("Connect() after Fail error: %v", err)
	}
	if st := m.Status(); st.State != pipeline.StateConnected || st.LastError != "" {
		t.Errorf("Status() after reconnect = %+v", st)
	}
}

func TestManager_CustomSessionID(t *testing.T) {
	t.Parallel()

	m := pipeline.NewManager(pipeline.ManagerConfig{
		Driver: &mock.Driver{OpenInfo: testInfo},
		NewID:  func() string { return "fixed-id" },
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	sess, err := m.Connect(context.Background(), "localhost", 8888)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if sess.ID() != "fixed-id" {
		t.Errorf("ID() = %q, want fixed-id", sess.ID())
	}
}

func TestManager_DisconnectDuringRender(t *testing.T) {
	t.Parallel()

	for range 20 {
		m, drv := newTestManager(t)
		sess, err := m.Connect(context.Background(), "localhost", 8888)
		if err != nil {
			t.Fatalf("Connect() error: %v", err)
		}
		dev := drv.LastDevice()
		for k := range 5 {
			dev.Samples <- ramp(8, 10, 250, float64(k*10))
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 50 {
				frame, _ := sess.Render(time.Now())
				if frame.Live() {
					for c, ch := range frame.Channels {
						if len(ch) != len(frame.Time) {
							t.Errorf("torn frame: channel %d has %d samples, time axis %d", c, len(ch), len(frame.Time))
						}
					}
				} else if len(frame.Time) != 0 || len(frame.Channels) != 0 {
					t.Errorf("idle frame carries %d samples", len(frame.Time))
				}
			}
		}()
		go func() {
			defer wg.Done()
			if err := m.Disconnect(context.Background()); err != nil {
				t.Errorf("Disconnect() error: %v", err)
			}
		}()
		wg.Wait()
	}
}
