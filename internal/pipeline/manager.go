package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/mindscope/internal/observe"
	"github.com/MrWong99/mindscope/pkg/signal"
)

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	// Driver opens acquisition devices.
	Driver signal.Driver

	// Options configures every session the manager opens.
	Options SessionOptions

	// NewID generates session identifiers. Defaults to random UUIDs.
	NewID func() string
}

// Manager owns the single active [Session] and the control surface around
// it. Only one session can be live at a time.
//
// Control operations (Connect, Disconnect and background teardown after a
// failure) are serialised by one lock; Active and Status use a separate,
// briefly held lock so the render goroutine never waits on a slow connect.
// All exported methods are safe for concurrent use.
type Manager struct {
	driver signal.Driver
	opts   SessionOptions
	newID  func() string

	ctl sync.Mutex

	mu      sync.Mutex
	active  *Session
	lastErr error
	failed  bool

	bg sync.WaitGroup
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Manager{
		driver: cfg.Driver,
		opts:   cfg.Options.withDefaults(),
		newID:  cfg.NewID,
	}
}

// Connect opens the device at address:port and starts a new session with
// fresh buffers. It returns [ErrAlreadyConnected] while a session is live;
// a live session is never restarted implicitly.
func (m *Manager) Connect(ctx context.Context, address string, port int) (sess *Session, err error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.Connect")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	m.ctl.Lock()
	defer m.ctl.Unlock()

	if cur := m.Active(); cur != nil {
		return nil, fmt.Errorf("%w (session %s)", ErrAlreadyConnected, cur.ID())
	}

	ep := signal.Endpoint{Address: address, Port: port}
	span.SetAttributes(attribute.String("endpoint", ep.String()))
	if err := ep.Validate(); err != nil {
		return nil, err
	}

	dev, err := m.driver.Open(ctx, ep)
	if err != nil {
		err = fmt.Errorf("%w: open %s: %w", ErrProducerUnavailable, ep, err)
		m.setFailure(err)
		return nil, err
	}

	sess, err = NewSession(m.newID(), ep, dev, m.opts)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	if err := sess.Start(); err != nil {
		_ = dev.Close()
		return nil, err
	}
	span.SetAttributes(observe.SessionAttr(sess.ID()))
	observe.Logger(ctx).Info("session connected",
		observe.SessionKey, sess.ID(),
		"endpoint", ep.String(),
	)

	m.mu.Lock()
	m.active = sess
	m.lastErr = nil
	m.failed = false
	m.mu.Unlock()
	return sess, nil
}

// Disconnect stops the active session. With no active session it is a
// no-op returning nil. A teardown timeout is returned (wrapping
// [ErrTeardownTimeout]) but the session is detached regardless.
func (m *Manager) Disconnect(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "pipeline.Disconnect")
	defer span.End()

	m.ctl.Lock()
	defer m.ctl.Unlock()

	m.mu.Lock()
	sess := m.active
	m.active = nil
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	span.SetAttributes(observe.SessionAttr(sess.ID()))
	observe.Logger(ctx).Info("disconnecting", observe.SessionKey, sess.ID(), "uptime", uptime(sess))

	if err := sess.Stop(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("disconnect session %s: %w", sess.ID(), err)
	}
	return nil
}

// Fail detaches sess after a producer failure and tears it down in the
// background. It is a no-op when sess is no longer the active session, so
// repeated reports of the same failure are harmless.
func (m *Manager) Fail(sess *Session, cause error) {
	m.mu.Lock()
	if m.active != sess || sess == nil {
		m.mu.Unlock()
		return
	}
	m.active = nil
	m.lastErr = cause
	m.failed = true
	m.mu.Unlock()

	slog.Warn("session failed, tearing down",
		observe.SessionKey, sess.ID(),
		"err", cause,
	)

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		m.ctl.Lock()
		defer m.ctl.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 2*m.opts.StopTimeout)
		defer cancel()
		if err := sess.Stop(ctx); err != nil {
			slog.Warn("teardown after failure", observe.SessionKey, sess.ID(), "err", err)
		}
	}()
}

// Active returns the live session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Status returns the connection state for the status panel.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var st Status
	switch {
	case m.active != nil:
		st = Status{
			State:     StateConnected,
			SessionID: m.active.ID(),
			Endpoint:  m.active.Endpoint().String(),
			StartedAt: m.active.StartedAt(),
			Info:      m.active.Info(),
		}
	case m.failed:
		st.State = StateFailed
	default:
		st.State = StateDisconnected
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Close disconnects the active session and waits for background teardowns
// to finish or ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	err := m.Disconnect(ctx)

	done := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (m *Manager) setFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
	m.failed = true
}

func uptime(s *Session) time.Duration {
	return time.Since(s.StartedAt()).Round(time.Millisecond)
}
