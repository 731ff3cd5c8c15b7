package config

import (
	"time"

	"github.com/MrWong99/mindscope/internal/pipeline"
)

// Defaults for settings left empty in the YAML file.
const (
	DefaultListenAddr        = ":8080"
	DefaultDriver            = "simulated"
	DefaultAddress           = "127.0.0.1"
	DefaultPort              = 8888
	DefaultChannels          = 8
	DefaultSampleRate        = 250.0
	DefaultBatchSize         = 10
	DefaultInferenceInterval = 100 * time.Millisecond
	DefaultSwitchEvery       = 150
	DefaultMQTTClientID      = "mindscope"
	DefaultSamplesTopic      = "eeg/+/samples"
	DefaultInferenceTopic    = "eeg/+/inference"
	DefaultConnectTimeout    = 5 * time.Second
	DefaultRecorderAddr      = "localhost:9000"
	DefaultRecorderDatabase  = "eeg"
	DefaultRecorderUser      = "default"
	DefaultFlushInterval     = time.Second
	DefaultBatchRows         = 5000
	DefaultQueueRows         = 50000
)

// DefaultChannelNames are the 10-20 montage positions of the reference
// 8-channel headset.
var DefaultChannelNames = []string{"Fp1", "Fp2", "C3", "C4", "P3", "P4", "O1", "O2"}

// ApplyDefaults fills every zero-valued setting of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Acquisition
	if a.Driver == "" {
		a.Driver = DefaultDriver
	}
	if a.Address == "" {
		a.Address = DefaultAddress
	}
	if a.Port == 0 {
		a.Port = DefaultPort
	}
	if a.Channels == 0 {
		a.Channels = DefaultChannels
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.BatchSize == 0 {
		a.BatchSize = DefaultBatchSize
	}
	if len(a.ChannelNames) == 0 && a.Channels == len(DefaultChannelNames) {
		a.ChannelNames = append([]string(nil), DefaultChannelNames...)
	}
	if a.Simulated.InferenceInterval == 0 {
		a.Simulated.InferenceInterval = DefaultInferenceInterval
	}
	if a.Simulated.SwitchEvery == 0 {
		a.Simulated.SwitchEvery = DefaultSwitchEvery
	}
	if a.MQTT.ClientID == "" {
		a.MQTT.ClientID = DefaultMQTTClientID
	}
	if a.MQTT.SamplesTopic == "" {
		a.MQTT.SamplesTopic = DefaultSamplesTopic
	}
	if a.MQTT.InferenceTopic == "" {
		a.MQTT.InferenceTopic = DefaultInferenceTopic
	}
	if a.MQTT.ConnectTimeout == 0 {
		a.MQTT.ConnectTimeout = DefaultConnectTimeout
	}

	p := &cfg.Pipeline
	if p.BufferCapacity == 0 {
		p.BufferCapacity = pipeline.DefaultCapacity
	}
	if p.SampleQueue == 0 {
		p.SampleQueue = pipeline.DefaultSampleQueue
	}
	if p.InferenceQueue == 0 {
		p.InferenceQueue = pipeline.DefaultInferenceQueue
	}
	if p.StopTimeout == 0 {
		p.StopTimeout = pipeline.DefaultStopTimeout
	}

	s := &cfg.Spectral
	if s.Window == 0 {
		s.Window = pipeline.DefaultSpectralWindow
	}
	if s.MaxFreq == 0 {
		s.MaxFreq = pipeline.DefaultMaxFreq
	}
	if s.Epsilon == 0 {
		s.Epsilon = pipeline.DefaultEpsilon
	}

	c := &cfg.Classification
	def := pipeline.DefaultClassPolicy()
	if c.Low == 0 && c.High == 0 {
		c.Low, c.High = def.Low, def.High
	}
	if c.TieBreak == "" {
		c.TieBreak = def.TieBreak
	}
	if len(c.Labels) == 0 {
		c.Labels = def.Labels
	}

	if cfg.Render.Interval == 0 {
		cfg.Render.Interval = pipeline.DefaultRenderInterval
	}

	r := &cfg.Recorder
	if r.Addr == "" {
		r.Addr = DefaultRecorderAddr
	}
	if r.Database == "" {
		r.Database = DefaultRecorderDatabase
	}
	if r.Username == "" {
		r.Username = DefaultRecorderUser
	}
	if r.FlushInterval == 0 {
		r.FlushInterval = DefaultFlushInterval
	}
	if r.BatchRows == 0 {
		r.BatchRows = DefaultBatchRows
	}
	if r.QueueRows == 0 {
		r.QueueRows = DefaultQueueRows
	}
}
