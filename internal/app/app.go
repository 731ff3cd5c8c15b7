// Package app wires the mindscope subsystems into a running server.
//
// The App owns the full lifecycle: New builds the driver, the optional
// recorder, the session manager, the render scheduler and the HTTP
// surface; Run serves until its context ends; Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithDriver,
// WithRecorderWriter). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mindscope/internal/config"
	"github.com/MrWong99/mindscope/internal/dashboard"
	"github.com/MrWong99/mindscope/internal/health"
	"github.com/MrWong99/mindscope/internal/observe"
	"github.com/MrWong99/mindscope/internal/pipeline"
	"github.com/MrWong99/mindscope/internal/recorder"
	"github.com/MrWong99/mindscope/internal/resilience"
	"github.com/MrWong99/mindscope/pkg/signal"
)

// serverShutdownTimeout bounds the graceful HTTP shutdown at the end of Run.
const serverShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg            *config.Config
	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler

	driver    signal.Driver
	writer    recorder.Writer
	sink      *recorder.Sink
	manager   *pipeline.Manager
	hub       *dashboard.Hub
	scheduler *pipeline.Scheduler
	handler   http.Handler

	// closers are called in order during Shutdown, after the sink flushed.
	closers []func() error

	addrMu sync.Mutex
	addr   net.Addr

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDriver injects an acquisition driver instead of creating the one
// named by acquisition.driver.
func WithDriver(d signal.Driver) Option {
	return func(a *App) { a.driver = d }
}

// WithRecorderWriter injects the recording writer instead of connecting to
// ClickHouse. It only takes effect when recorder.enabled is set.
func WithRecorderWriter(w recorder.Writer) Option {
	return func(a *App) { a.writer = w }
}

// WithLevelVar hands New the level variable of the process logger so
// config reloads can change verbosity.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics injects the metrics instance. Defaults to
// observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It does not open
// the acquisition device; see [App.ConnectDefault] and the /api/connect
// endpoint.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(cfg.Server.LogLevel.Level())
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Acquisition driver ────────────────────────────────────────────
	if err := a.initDriver(); err != nil {
		return nil, fmt.Errorf("app: init driver: %w", err)
	}

	// ── 2. Recorder ──────────────────────────────────────────────────────
	checkers := a.initRecorder(ctx)

	// ── 3. Session manager + render scheduler ────────────────────────────
	sessOpts := cfg.SessionOptions()
	sessOpts.Metrics = a.metrics
	if a.sink != nil {
		sessOpts.Recorder = a.sink
	}
	a.manager = pipeline.NewManager(pipeline.ManagerConfig{
		Driver:  a.driver,
		Options: sessOpts,
	})
	a.hub = dashboard.NewHub(0)
	a.scheduler = pipeline.NewScheduler(a.manager, cfg.Render.Interval, a.metrics, a.hub)

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	mux := http.NewServeMux()
	checkers = append([]health.Checker{sessionChecker(a.manager)}, checkers...)
	health.New(checkers...).Register(mux)
	dashboard.NewServer(dashboard.Config{
		Hub:        a.hub,
		Controller: a.manager,
		DefaultEndpoint: signal.Endpoint{
			Address: cfg.Acquisition.Address,
			Port:    cfg.Acquisition.Port,
		},
		ChannelNames: cfg.Acquisition.ChannelNames,
		Labels:       cfg.Classification.Labels,
	}).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initDriver() error {
	if a.driver != nil {
		return nil
	}
	reg := config.NewRegistry()
	RegisterBuiltinDrivers(reg, len(a.cfg.Classification.Labels))
	drv, err := reg.CreateDriver(a.cfg.Acquisition)
	if err != nil {
		return err
	}
	a.driver = drv
	slog.Info("acquisition driver ready", "driver", a.cfg.Acquisition.Driver)
	return nil
}

// initRecorder sets up the recording sink when enabled. An unreachable
// database disables recording instead of failing startup. It returns the
// readiness checkers of the recorder.
func (a *App) initRecorder(ctx context.Context) []health.Checker {
	rc := a.cfg.Recorder
	if !rc.Enabled {
		return nil
	}
	if a.writer == nil {
		ch, err := recorder.OpenClickHouse(ctx, recorder.ClickHouseConfig{
			Addr:     rc.Addr,
			Database: rc.Database,
			Username: rc.Username,
			Password: rc.Password,
		})
		if err != nil {
			slog.Error("recorder disabled: clickhouse unavailable", "err", err)
			return nil
		}
		a.writer = ch
		a.closers = append(a.closers, ch.Close)
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "recorder",
		OnStateChange: func(_, to resilience.State) {
			if to == resilience.StateOpen {
				slog.Warn("recorder unavailable, rows will be discarded until it recovers")
			}
		},
	})
	a.sink = recorder.NewSink(a.writer, recorder.Config{
		FlushInterval: rc.FlushInterval,
		BatchRows:     rc.BatchRows,
		QueueRows:     rc.QueueRows,
		Breaker:       breaker,
		Metrics:       a.metrics,
	})

	var checkers []health.Checker
	if p, ok := a.writer.(health.Pinger); ok {
		checkers = append(checkers, health.PingChecker("recorder", p))
	}
	return checkers
}

// sessionChecker fails readiness when the last session died with a
// producer error and nothing is live.
func sessionChecker(m *pipeline.Manager) health.Checker {
	return health.Checker{
		Name: "session",
		Check: func(context.Context) error {
			st := m.Status()
			if st.State == pipeline.StateFailed {
				return fmt.Errorf("acquisition failed: %s", st.LastError)
			}
			return nil
		},
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Manager returns the session manager.
func (a *App) Manager() *pipeline.Manager { return a.manager }

// Scheduler returns the render scheduler.
func (a *App) Scheduler() *pipeline.Scheduler { return a.scheduler }

// Hub returns the frame hub.
func (a *App) Hub() *dashboard.Hub { return a.hub }

// Recording reports whether the recording sink is active.
func (a *App) Recording() bool { return a.sink != nil }

// Addr returns the address the HTTP server listens on, or nil before Run.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ConnectDefault connects to the endpoint configured under acquisition.
func (a *App) ConnectDefault(ctx context.Context) error {
	_, err := a.manager.Connect(ctx, a.cfg.Acquisition.Address, a.cfg.Acquisition.Port)
	return err
}

// Reload applies the hot-reloadable parts of a changed configuration. It
// matches the config.Watcher callback signature.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RenderIntervalChanged {
		a.scheduler.SetInterval(d.NewRenderInterval)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the render loop, the recorder and the HTTP server and blocks
// until ctx is cancelled or the server fails. The HTTP server is shut down
// gracefully before Run returns.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if a.sink != nil {
		a.sink.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		return nil
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown disconnects the active session, flushes the recorder and closes
// external connections, in that order. It respects ctx and is safe to call
// more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		if err := a.manager.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
		if a.sink != nil {
			if err := a.sink.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush recorder: %w", err))
			}
		}
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		if c, ok := a.driver.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close driver: %w", err))
			}
		}
		a.stopErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return a.stopErr
}
