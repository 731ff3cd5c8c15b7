// Package mqtt provides a [signal.Driver] for acquisition devices that
// publish over MQTT, such as an ADS1299 front end bridged by an ESP32.
//
// The device publishes sample batches and inference vectors as JSON on two
// topics:
//
//	samples:   {"seq": 17, "sample_rate": 250, "channels": [[...], [...], ...]}
//	inference: {"probabilities": [0.72, 0.28]}
//
// The endpoint passed to [Driver.Open] addresses the broker. A lost broker
// connection ends both streams with an error; the session treats that as a
// dead producer.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/MrWong99/mindscope/pkg/signal"
)

// Compile-time interface assertions.
var (
	_ signal.Driver = (*Driver)(nil)
	_ signal.Device = (*Device)(nil)
)

// ErrConnectionLost is returned by the Stream methods when the broker
// connection drops mid-session.
var ErrConnectionLost = errors.New("mqtt: connection lost")

const (
	defaultClientID       = "mindscope"
	defaultSamplesTopic   = "eeg/+/samples"
	defaultInferenceTopic = "eeg/+/inference"
	defaultConnectTimeout = 5 * time.Second
	qos                   = 1
	disconnectQuiesceMs   = 250
)

// Config configures a [Driver].
type Config struct {
	// ClientID is the MQTT client identifier. Defaults to "mindscope".
	ClientID string

	// Username and Password authenticate against the broker when set.
	Username string
	Password string

	// SamplesTopic is the topic filter for sample batches.
	SamplesTopic string

	// InferenceTopic is the topic filter for probability vectors.
	InferenceTopic string

	// Info is the stream layout the device is expected to publish.
	Info signal.StreamInfo

	// ConnectTimeout bounds the initial broker connection. Defaults to 5s.
	ConnectTimeout time.Duration
}

// Driver opens MQTT-backed devices.
type Driver struct {
	cfg Config
}

// New returns a Driver for cfg with defaults applied.
func New(cfg Config) *Driver {
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	if cfg.SamplesTopic == "" {
		cfg.SamplesTopic = defaultSamplesTopic
	}
	if cfg.InferenceTopic == "" {
		cfg.InferenceTopic = defaultInferenceTopic
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &Driver{cfg: cfg}
}

// BrokerURL returns the broker URL for ep.
func BrokerURL(ep signal.Endpoint) string {
	return fmt.Sprintf("tcp://%s:%d", ep.Address, ep.Port)
}

// Open implements [signal.Driver]. It connects to the broker at ep.
func (d *Driver) Open(ctx context.Context, ep signal.Endpoint) (signal.Device, error) {
	dev := &Device{
		cfg:  d.cfg,
		lost: make(chan struct{}),
		done: make(chan struct{}),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(BrokerURL(ep))
	opts.SetClientID(d.cfg.ClientID)
	if d.cfg.Username != "" {
		opts.SetUsername(d.cfg.Username)
		opts.SetPassword(d.cfg.Password)
	}
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(d.cfg.ConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("mqtt: connection lost", "broker", BrokerURL(ep), "err", err)
		dev.markLost()
	})

	client := paho.NewClient(opts)
	token := client.Connect()

	timeout := d.cfg.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect %s: timed out after %s", BrokerURL(ep), timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", BrokerURL(ep), err)
	}

	dev.client = client
	slog.Info("mqtt: connected", "broker", BrokerURL(ep), "client_id", d.cfg.ClientID)
	return dev, nil
}

// Device is an open MQTT-backed device.
type Device struct {
	cfg    Config
	client paho.Client

	lostOnce  sync.Once
	lost      chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Info implements [signal.Device].
func (d *Device) Info() signal.StreamInfo { return d.cfg.Info }

// StreamSamples implements [signal.Device].
func (d *Device) StreamSamples(ctx context.Context, emit signal.Emitter[signal.Batch]) error {
	return subscribe(ctx, d, d.cfg.SamplesTopic, func(payload []byte) (signal.Batch, error) {
		return DecodeBatch(payload, d.cfg.Info.SampleRate)
	}, emit)
}

// StreamInference implements [signal.Device].
func (d *Device) StreamInference(ctx context.Context, emit signal.Emitter[signal.Probabilities]) error {
	return subscribe(ctx, d, d.cfg.InferenceTopic, DecodeProbabilities, emit)
}

// Close implements [signal.Device].
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		if d.client != nil {
			d.client.Disconnect(disconnectQuiesceMs)
		}
	})
	return nil
}

func (d *Device) markLost() {
	d.lostOnce.Do(func() { close(d.lost) })
}

// subscribe forwards decoded messages on topic through emit until the
// stream ends. Paho invokes handlers sequentially (ordered delivery), so a
// blocked emit applies backpressure to the broker connection instead of
// reordering or dropping messages.
func subscribe[T any](ctx context.Context, d *Device, topic string, decode func([]byte) (T, error), emit signal.Emitter[T]) error {
	var (
		stopOnce sync.Once
		stopErr  error
		stopped  = make(chan struct{})
	)

	handler := func(_ paho.Client, msg paho.Message) {
		select {
		case <-stopped:
			return
		default:
		}
		v, err := decode(msg.Payload())
		if err != nil {
			slog.Warn("mqtt: dropping undecodable message", "topic", msg.Topic(), "err", err)
			return
		}
		if err := emit(v); err != nil {
			stopOnce.Do(func() {
				stopErr = err
				close(stopped)
			})
		}
	}

	token := d.client.Subscribe(topic, qos, handler)
	if !token.WaitTimeout(d.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt: subscribe %q: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %q: %w", topic, err)
	}
	defer func() {
		if d.client.IsConnected() {
			d.client.Unsubscribe(topic).WaitTimeout(time.Second)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return nil
	case <-d.lost:
		return ErrConnectionLost
	case <-stopped:
		return stopErr
	}
}

type batchPayload struct {
	Seq        uint64      `json:"seq"`
	SampleRate float64     `json:"sample_rate"`
	Channels   [][]float64 `json:"channels"`
}

type inferencePayload struct {
	Probabilities []float64 `json:"probabilities"`
}

// DecodeBatch parses a JSON sample batch. When the payload omits the sample
// rate, defaultRate is used. Structural validation is left to the session.
func DecodeBatch(payload []byte, defaultRate float64) (signal.Batch, error) {
	var p batchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return signal.Batch{}, fmt.Errorf("mqtt: decode batch: %w", err)
	}
	rate := p.SampleRate
	if rate == 0 {
		rate = defaultRate
	}
	return signal.Batch{Channels: p.Channels, SampleRate: rate, Seq: p.Seq}, nil
}

// DecodeProbabilities parses a JSON inference message.
func DecodeProbabilities(payload []byte) (signal.Probabilities, error) {
	var p inferencePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("mqtt: decode probabilities: %w", err)
	}
	return signal.Probabilities(p.Probabilities), nil
}
