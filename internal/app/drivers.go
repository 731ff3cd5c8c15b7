package app

import (
	"log/slog"

	"github.com/MrWong99/mindscope/internal/config"
	"github.com/MrWong99/mindscope/pkg/signal"
	"github.com/MrWong99/mindscope/pkg/signal/mqtt"
	"github.com/MrWong99/mindscope/pkg/signal/simulated"
)

// RegisterBuiltinDrivers wires the drivers that ship with mindscope into
// reg. classes is the configured number of classification labels; it
// fixes the expected probability vector length.
func RegisterBuiltinDrivers(reg *config.Registry, classes int) {
	reg.RegisterDriver("simulated", func(a config.AcquisitionConfig) (signal.Driver, error) {
		return simulated.New(
			simulated.WithChannels(a.Channels),
			simulated.WithSampleRate(a.SampleRate),
			simulated.WithBatchSize(a.BatchSize),
			simulated.WithClasses(classes),
			simulated.WithInferenceInterval(a.Simulated.InferenceInterval),
			simulated.WithSwitchEvery(a.Simulated.SwitchEvery),
		), nil
	})

	reg.RegisterDriver("mqtt", func(a config.AcquisitionConfig) (signal.Driver, error) {
		return mqtt.New(mqtt.Config{
			ClientID:       a.MQTT.ClientID,
			Username:       a.MQTT.Username,
			Password:       a.MQTT.Password,
			SamplesTopic:   a.MQTT.SamplesTopic,
			InferenceTopic: a.MQTT.InferenceTopic,
			ConnectTimeout: a.MQTT.ConnectTimeout,
			Info: signal.StreamInfo{
				Channels:   a.Channels,
				SampleRate: a.SampleRate,
				BatchSize:  a.BatchSize,
				Classes:    classes,
			},
		}), nil
	})

	for _, name := range reg.Drivers() {
		slog.Debug("registered acquisition driver", "name", name)
	}
}
