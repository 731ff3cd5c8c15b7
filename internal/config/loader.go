package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables overlaid on the file configuration. Secrets belong
// here or in a .env file rather than in the YAML.
const (
	EnvListenAddr         = "MINDSCOPE_LISTEN_ADDR"
	EnvLogLevel           = "MINDSCOPE_LOG_LEVEL"
	EnvMQTTPassword       = "MINDSCOPE_MQTT_PASSWORD"
	EnvClickHousePassword = "MINDSCOPE_CLICKHOUSE_PASSWORD"
)

// ValidDriverNames lists the acquisition drivers built into mindscope.
// Used by [Validate] to warn about unrecognised driver names.
var ValidDriverNames = []string{"simulated", "mqtt"}

// LoadDotEnv loads variables from the given .env files (default ".env")
// into the process environment. Variables already set are not overridden
// and a missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("config: load env files: %w", err)
	}
	return nil
}

// Load reads the YAML configuration file at path, applies defaults and the
// MINDSCOPE_* environment overlay, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := parse(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, nil)
}

// Default returns the configuration used when no file is given: the
// simulated driver with every setting at its default.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func parse(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays MINDSCOPE_* variables found through lookup onto cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		cfg.Server.ListenAddr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v, ok := lookup(EnvMQTTPassword); ok {
		cfg.Acquisition.MQTT.Password = v
	}
	if v, ok := lookup(EnvClickHousePassword); ok {
		cfg.Recorder.Password = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Acquisition
	a := cfg.Acquisition
	if a.Driver == "" {
		errs = append(errs, errors.New("acquisition.driver is required"))
	}
	validateDriverName(a.Driver)
	if a.Port < 0 || a.Port > 65535 {
		errs = append(errs, fmt.Errorf("acquisition.port %d is out of range [1, 65535]", a.Port))
	}
	if a.Channels < 1 {
		errs = append(errs, fmt.Errorf("acquisition.channels must be at least 1, got %d", a.Channels))
	}
	if !(a.SampleRate > 0) || math.IsInf(a.SampleRate, 0) {
		errs = append(errs, fmt.Errorf("acquisition.sample_rate must be a positive number, got %v", a.SampleRate))
	}
	if a.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("acquisition.batch_size must be at least 1, got %d", a.BatchSize))
	}
	if len(a.ChannelNames) != 0 && len(a.ChannelNames) != a.Channels {
		errs = append(errs, fmt.Errorf("acquisition.channel_names has %d entries, want %d (one per channel)", len(a.ChannelNames), a.Channels))
	}
	if a.Simulated.InferenceInterval < 0 || a.Simulated.SwitchEvery < 0 {
		errs = append(errs, errors.New("acquisition.simulated values must not be negative"))
	}
	if a.Driver == "mqtt" {
		if a.MQTT.SamplesTopic == "" || a.MQTT.InferenceTopic == "" {
			errs = append(errs, errors.New("acquisition.mqtt.samples_topic and inference_topic are required for the mqtt driver"))
		}
		if a.MQTT.SamplesTopic != "" && a.MQTT.SamplesTopic == a.MQTT.InferenceTopic {
			errs = append(errs, errors.New("acquisition.mqtt.samples_topic and inference_topic must differ"))
		}
	}

	// Pipeline
	p := cfg.Pipeline
	if p.BufferCapacity < 1 {
		errs = append(errs, fmt.Errorf("pipeline.buffer_capacity must be at least 1, got %d", p.BufferCapacity))
	}
	if p.SampleQueue < 1 || p.InferenceQueue < 1 {
		errs = append(errs, errors.New("pipeline.sample_queue and pipeline.inference_queue must be at least 1"))
	}
	if p.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.stop_timeout must be positive, got %s", p.StopTimeout))
	}

	// Spectral
	s := cfg.Spectral
	if s.Window < 2 {
		errs = append(errs, fmt.Errorf("spectral.window must be at least 2, got %d", s.Window))
	} else if s.Window > p.BufferCapacity {
		errs = append(errs, fmt.Errorf("spectral.window %d exceeds pipeline.buffer_capacity %d; the spectrum would never be ready", s.Window, p.BufferCapacity))
	}
	if s.ReferenceChannel < 0 || (a.Channels > 0 && s.ReferenceChannel >= a.Channels) {
		errs = append(errs, fmt.Errorf("spectral.reference_channel %d is out of range [0, %d)", s.ReferenceChannel, a.Channels))
	}
	if !(s.MaxFreq > 0) {
		errs = append(errs, fmt.Errorf("spectral.max_freq must be positive, got %v", s.MaxFreq))
	} else if a.SampleRate > 0 && s.MaxFreq > a.SampleRate/2 {
		slog.Warn("spectral.max_freq is above the Nyquist frequency; the plot will end at Nyquist",
			"max_freq", s.MaxFreq,
			"nyquist", a.SampleRate/2,
		)
	}
	if !(s.Epsilon > 0) {
		errs = append(errs, fmt.Errorf("spectral.epsilon must be positive, got %v", s.Epsilon))
	}

	// Classification
	c := cfg.Classification
	if c.Low < 0 || c.High > 1 || c.Low >= c.High {
		errs = append(errs, fmt.Errorf("classification bounds [%v, %v] are invalid; need 0 <= low < high <= 1", c.Low, c.High))
	}
	if !c.TieBreak.IsValid() {
		errs = append(errs, fmt.Errorf("classification.tie_break %q is invalid; valid values: lowest, highest", c.TieBreak))
	}
	if len(c.Labels) < 2 {
		errs = append(errs, fmt.Errorf("classification.labels needs at least 2 classes, got %d", len(c.Labels)))
	}
	seen := make(map[string]int, len(c.Labels))
	for i, l := range c.Labels {
		if l == "" {
			errs = append(errs, fmt.Errorf("classification.labels[%d] is empty", i))
			continue
		}
		if prev, ok := seen[l]; ok {
			errs = append(errs, fmt.Errorf("classification.labels[%d] %q is a duplicate of labels[%d]", i, l, prev))
		}
		seen[l] = i
	}
	if len(c.Labels) > 0 && c.Low*float64(len(c.Labels)) > 1 {
		errs = append(errs, fmt.Errorf("classification.low %v is too large for %d classes", c.Low, len(c.Labels)))
	}

	// Render
	if cfg.Render.Interval <= 0 {
		errs = append(errs, fmt.Errorf("render.interval must be positive, got %s", cfg.Render.Interval))
	} else if cfg.Render.Interval > time.Second {
		slog.Warn("render.interval above 1s; the display will look frozen", "interval", cfg.Render.Interval)
	}

	// Recorder
	r := cfg.Recorder
	if r.Enabled {
		if r.Addr == "" {
			errs = append(errs, errors.New("recorder.addr is required when the recorder is enabled"))
		}
		if r.Database == "" {
			errs = append(errs, errors.New("recorder.database is required when the recorder is enabled"))
		}
		if r.FlushInterval <= 0 {
			errs = append(errs, fmt.Errorf("recorder.flush_interval must be positive, got %s", r.FlushInterval))
		}
		if r.BatchRows < 1 || r.QueueRows < r.BatchRows {
			errs = append(errs, fmt.Errorf("recorder.batch_rows (%d) must be at least 1 and not exceed recorder.queue_rows (%d)", r.BatchRows, r.QueueRows))
		}
	}

	return errors.Join(errs...)
}

// validateDriverName logs a warning if name is non-empty and not one of
// [ValidDriverNames].
func validateDriverName(name string) {
	if name == "" || slices.Contains(ValidDriverNames, name) {
		return
	}
	slog.Warn("unknown acquisition driver; it must be registered before connect",
		"name", name,
		"known", ValidDriverNames,
	)
}
