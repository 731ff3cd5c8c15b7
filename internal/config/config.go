// Package config provides the configuration schema, loader, and driver
// registry for the mindscope EEG monitor.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/mindscope/internal/pipeline"
)

// LogLevel controls log verbosity for the mindscope server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure for mindscope.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Acquisition    AcquisitionConfig    `yaml:"acquisition"`
	Pipeline       PipelineConfig       `yaml:"pipeline"`
	Spectral       SpectralConfig       `yaml:"spectral"`
	Classification ClassificationConfig `yaml:"classification"`
	Render         RenderConfig         `yaml:"render"`
	Recorder       RecorderConfig       `yaml:"recorder"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AcquisitionConfig selects the device driver and the stream layout it is
// expected to deliver.
type AcquisitionConfig struct {
	// Driver selects the registered driver implementation ("simulated", "mqtt").
	Driver string `yaml:"driver"`

	// Address and Port are the default endpoint used when a connect request
	// does not name one, and by --connect at startup.
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	// Channels is the number of EEG channels per batch.
	Channels int `yaml:"channels"`

	// SampleRate is the nominal acquisition rate in Hz.
	SampleRate float64 `yaml:"sample_rate"`

	// BatchSize is the nominal number of samples per channel per batch.
	BatchSize int `yaml:"batch_size"`

	// ChannelNames labels each channel on the dashboard. Empty or exactly
	// Channels entries.
	ChannelNames []string `yaml:"channel_names"`

	Simulated SimulatedConfig `yaml:"simulated"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// SimulatedConfig tunes the simulated driver.
type SimulatedConfig struct {
	// InferenceInterval is the mean gap between probability vectors.
	InferenceInterval time.Duration `yaml:"inference_interval"`

	// SwitchEvery flips the dominant class after this many vectors.
	SwitchEvery int `yaml:"switch_every"`
}

// MQTTConfig configures the MQTT driver. The broker address comes from the
// connect request.
type MQTTConfig struct {
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`

	// Password may be supplied through MINDSCOPE_MQTT_PASSWORD instead.
	Password string `yaml:"password"`

	SamplesTopic   string `yaml:"samples_topic"`
	InferenceTopic string `yaml:"inference_topic"`

	// ConnectTimeout bounds the broker handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// PipelineConfig sizes the buffers and queues of each session.
type PipelineConfig struct {
	// BufferCapacity is the number of samples kept per channel.
	BufferCapacity int `yaml:"buffer_capacity"`

	// SampleQueue and InferenceQueue bound the pending events between the
	// producers and the render loop.
	SampleQueue    int `yaml:"sample_queue"`
	InferenceQueue int `yaml:"inference_queue"`

	// StopTimeout bounds how long a disconnect waits for producers.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// SpectralConfig configures the spectral estimate.
type SpectralConfig struct {
	// Window is the number of samples analysed.
	Window int `yaml:"window"`

	// ReferenceChannel is the channel index analysed.
	ReferenceChannel int `yaml:"reference_channel"`

	// MaxFreq is the highest frequency kept, in Hz.
	MaxFreq float64 `yaml:"max_freq"`

	// Epsilon is added to magnitudes before taking the logarithm.
	Epsilon float64 `yaml:"epsilon"`
}

// ClassificationConfig controls post-processing of probability vectors.
type ClassificationConfig struct {
	// Low and High bound every probability before renormalisation.
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`

	// TieBreak picks the winner among exactly equal maxima.
	TieBreak pipeline.TieBreak `yaml:"tie_break"`

	// Labels names each class; its length fixes the vector length.
	Labels []string `yaml:"labels"`
}

// RenderConfig controls the render scheduler.
type RenderConfig struct {
	// Interval is the tick period. Hot-reloadable.
	Interval time.Duration `yaml:"interval"`
}

// RecorderConfig configures the optional ClickHouse recording sink.
type RecorderConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`

	// Password may be supplied through MINDSCOPE_CLICKHOUSE_PASSWORD instead.
	Password string `yaml:"password"`

	// FlushInterval is the longest a row waits before being written.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// BatchRows flushes early once this many sample rows are pending.
	BatchRows int `yaml:"batch_rows"`

	// QueueRows bounds the rows held in memory; beyond it rows are dropped.
	QueueRows int `yaml:"queue_rows"`
}

// ClassPolicy converts the classification settings to the pipeline policy.
func (c ClassificationConfig) ClassPolicy() pipeline.ClassPolicy {
	return pipeline.ClassPolicy{
		Low:      c.Low,
		High:     c.High,
		TieBreak: c.TieBreak,
		Labels:   c.Labels,
	}
}

// SessionOptions converts the pipeline, spectral and classification
// settings to the options every session is opened with.
func (c *Config) SessionOptions() pipeline.SessionOptions {
	return pipeline.SessionOptions{
		BufferCapacity:   c.Pipeline.BufferCapacity,
		SampleQueue:      c.Pipeline.SampleQueue,
		InferenceQueue:   c.Pipeline.InferenceQueue,
		StopTimeout:      c.Pipeline.StopTimeout,
		SpectralWindow:   c.Spectral.Window,
		ReferenceChannel: c.Spectral.ReferenceChannel,
		MaxFreq:          c.Spectral.MaxFreq,
		Epsilon:          c.Spectral.Epsilon,
		Policy:           c.Classification.ClassPolicy(),
	}
}
