package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Log level and render interval apply immediately; every other section
// only takes effect on restart and is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RenderIntervalChanged bool
	NewRenderInterval     time.Duration

	// RestartRequired names the top-level sections that changed but cannot
	// be hot-reloaded (e.g. "acquisition", "recorder").
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RenderIntervalChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Render.Interval != new.Render.Interval {
		d.RenderIntervalChanged = true
		d.NewRenderInterval = new.Render.Interval
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"acquisition", old.Acquisition, new.Acquisition},
		{"pipeline", old.Pipeline, new.Pipeline},
		{"spectral", old.Spectral, new.Spectral},
		{"classification", old.Classification, new.Classification},
		{"recorder", old.Recorder, new.Recorder},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
