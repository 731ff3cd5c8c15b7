package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/mindscope/internal/config"
	"github.com/MrWong99/mindscope/internal/pipeline"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO"} {
		if l.IsValid() {
			t.Errorf("%q should be invalid", l)
		}
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := config.Default()

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Acquisition.Driver != "simulated" {
		t.Errorf("driver: got %q, want simulated", cfg.Acquisition.Driver)
	}
	if cfg.Acquisition.Channels != 8 || cfg.Acquisition.SampleRate != 250 {
		t.Errorf("layout: got %d channels at %v Hz, want 8 at 250", cfg.Acquisition.Channels, cfg.Acquisition.SampleRate)
	}
	if len(cfg.Acquisition.ChannelNames) != 8 || cfg.Acquisition.ChannelNames[0] != "Fp1" {
		t.Errorf("channel_names: got %v", cfg.Acquisition.ChannelNames)
	}
	if cfg.Pipeline.BufferCapacity != pipeline.DefaultCapacity {
		t.Errorf("buffer_capacity: got %d, want %d", cfg.Pipeline.BufferCapacity, pipeline.DefaultCapacity)
	}
	if cfg.Spectral.Window != pipeline.DefaultSpectralWindow {
		t.Errorf("window: got %d, want %d", cfg.Spectral.Window, pipeline.DefaultSpectralWindow)
	}
	if cfg.Render.Interval != 50*time.Millisecond {
		t.Errorf("render.interval: got %s, want 50ms", cfg.Render.Interval)
	}
	if cfg.Recorder.Enabled {
		t.Error("recorder should be disabled by default")
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Acquisition: config.AcquisitionConfig{Channels: 4, SampleRate: 512},
		Classification: config.ClassificationConfig{
			Low: 0.05, High: 0.9, TieBreak: pipeline.TieBreakHighest,
			Labels: []string{"a", "b"},
		},
	}
	config.ApplyDefaults(cfg)

	if cfg.Acquisition.Channels != 4 || cfg.Acquisition.SampleRate != 512 {
		t.Errorf("explicit layout overwritten: %+v", cfg.Acquisition)
	}
	// Default names only fit the 8-channel layout.
	if len(cfg.Acquisition.ChannelNames) != 0 {
		t.Errorf("channel_names: got %v, want none for 4 channels", cfg.Acquisition.ChannelNames)
	}
	c := cfg.Classification
	if c.Low != 0.05 || c.High != 0.9 || c.TieBreak != pipeline.TieBreakHighest || len(c.Labels) != 2 {
		t.Errorf("explicit classification overwritten: %+v", c)
	}
}

func TestSessionOptions(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Pipeline.BufferCapacity = 2000
	cfg.Spectral.ReferenceChannel = 3
	cfg.Classification.TieBreak = pipeline.TieBreakHighest

	opts := cfg.SessionOptions()
	if opts.BufferCapacity != 2000 {
		t.Errorf("BufferCapacity: got %d, want 2000", opts.BufferCapacity)
	}
	if opts.ReferenceChannel != 3 {
		t.Errorf("ReferenceChannel: got %d, want 3", opts.ReferenceChannel)
	}
	if opts.SpectralWindow != cfg.Spectral.Window || opts.MaxFreq != cfg.Spectral.MaxFreq {
		t.Errorf("spectral settings not carried: %+v", opts)
	}
	if opts.Policy.TieBreak != pipeline.TieBreakHighest {
		t.Errorf("Policy.TieBreak: got %q, want highest", opts.Policy.TieBreak)
	}
	if len(opts.Policy.Labels) != len(cfg.Classification.Labels) {
		t.Errorf("Policy.Labels: got %v", opts.Policy.Labels)
	}
	if opts.StopTimeout != cfg.Pipeline.StopTimeout {
		t.Errorf("StopTimeout: got %s, want %s", opts.StopTimeout, cfg.Pipeline.StopTimeout)
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.Level(); got != tt.want {
			t.Errorf("%q.Level() = %v, want %v", tt.in, got, tt.want)
		}
	}
}
