// Package mqttlink drives a fleet through an MQTT radio bridge. Every device
// has a command topic and a telemetry topic below a common prefix; the bridge
// forwards commands to the radio and publishes telemetry samples back.
package mqttlink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/swarmqa/endurance/internal/link"
	"github.com/swarmqa/endurance/internal/telemetry"
	"github.com/swarmqa/endurance/pkg/core"
)

// Config holds the broker settings.
type Config struct {
	Broker         string
	Port           int
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	CommandTimeout time.Duration
}

// Endpoint names one device on the bridge.
type Endpoint struct {
	Name string
	ID   core.DeviceID
}

// Fleet is a set of devices reached through the bridge.
type Fleet struct {
	client mqtt.Client
	cfg    Config
	logger *slog.Logger
	seq    atomic.Uint64

	devices []*Device

	mu        sync.RWMutex
	positions map[core.DeviceID]core.Position
	closed    bool
}

var _ link.Fleet = (*Fleet)(nil)

// Connect dials the broker and returns the fleet. It waits for the initial
// connection and respects ctx.
func Connect(ctx context.Context, cfg Config, endpoints []Endpoint, logger *slog.Logger) (*Fleet, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	// Wait in a ctx-aware loop.
	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			client.Disconnect(0)
			return nil, ctx.Err()
		default:
		}
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return NewFleet(client, cfg, endpoints, logger), nil
}

// NewFleet wraps an already connected client.
func NewFleet(client mqtt.Client, cfg Config, endpoints []Endpoint, logger *slog.Logger) *Fleet {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	f := &Fleet{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		positions: make(map[core.DeviceID]core.Position, len(endpoints)),
	}
	for _, ep := range endpoints {
		f.devices = append(f.devices, &Device{fleet: f, name: ep.Name, id: ep.ID})
	}
	return f
}

// Devices returns the fleet's devices.
func (f *Fleet) Devices() []link.Device {
	out := make([]link.Device, len(f.devices))
	for i, d := range f.devices {
		out[i] = d
	}
	return out
}

// EstimatePositions returns the last state estimate streamed by every device.
func (f *Fleet) EstimatePositions(context.Context) (map[core.DeviceID]core.Position, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, link.ErrNotConnected
	}

	out := make(map[core.DeviceID]core.Position, len(f.devices))
	for _, d := range f.devices {
		pos, ok := f.positions[d.id]
		if !ok {
			return nil, fmt.Errorf("no position estimate for %s", d.id)
		}
		out[d.id] = pos
	}
	return out, nil
}

// Close disconnects from the broker.
func (f *Fleet) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.client.Disconnect(250)
	f.logger.Info("mqtt disconnected")
	return nil
}

func (f *Fleet) isClosed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

func (f *Fleet) topic(name, kind string) string {
	return fmt.Sprintf("%s/%s/%s", f.cfg.TopicPrefix, name, kind)
}

func (f *Fleet) publish(d *Device, cmd Command) error {
	if f.isClosed() || !f.client.IsConnected() {
		return link.ErrNotConnected
	}

	cmd.Seq = f.seq.Add(1)
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	topic := f.topic(d.name, "cmd")
	token := f.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(f.cfg.CommandTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", cmd.Op, err)
	}

	f.logger.Debug("published command", "topic", topic, "op", cmd.Op, "seq", cmd.Seq)
	return nil
}

func (f *Fleet) updatePosition(id core.DeviceID, values map[string]float64) {
	x, okX := values[telemetry.VarX]
	y, okY := values[telemetry.VarY]
	z, okZ := values[telemetry.VarZ]
	if !okX || !okY || !okZ {
		return
	}
	f.mu.Lock()
	f.positions[id] = core.Position{X: x, Y: y, Z: z}
	f.mu.Unlock()
}

// Device is one vehicle behind the bridge.
type Device struct {
	fleet *Fleet
	name  string
	id    core.DeviceID
}

var (
	_ link.Device            = (*Device)(nil)
	_ link.ParamSetter       = (*Device)(nil)
	_ link.EstimatorResetter = (*Device)(nil)
)

// ID returns the device id.
func (d *Device) ID() core.DeviceID {
	return d.id
}

// Takeoff publishes a takeoff command.
func (d *Device) Takeoff(_ context.Context, height float64, duration time.Duration) error {
	return d.fleet.publish(d, Command{Op: OpTakeoff, Height: height, DurationMs: duration.Milliseconds()})
}

// GoTo publishes an absolute go-to command.
func (d *Device) GoTo(_ context.Context, x, y, z, yaw float64, duration time.Duration) error {
	return d.fleet.publish(d, Command{Op: OpGoTo, X: x, Y: y, Z: z, Yaw: yaw, DurationMs: duration.Milliseconds()})
}

// Land publishes a land command.
func (d *Device) Land(_ context.Context, height float64, duration time.Duration) error {
	return d.fleet.publish(d, Command{Op: OpLand, Height: height, DurationMs: duration.Milliseconds()})
}

// SetParam publishes a parameter write.
func (d *Device) SetParam(_ context.Context, name, value string) error {
	return d.fleet.publish(d, Command{Op: OpSetParam, Param: name, Value: value})
}

// ResetEstimator publishes an estimator reset.
func (d *Device) ResetEstimator(context.Context) error {
	return d.fleet.publish(d, Command{Op: OpResetEstimator})
}

// SubscribeTelemetry subscribes to the device's telemetry topic and asks the
// bridge to start a log block with variables at period.
func (d *Device) SubscribeTelemetry(variables []string, period time.Duration, cb link.TelemetryCallback) (func(), error) {
	f := d.fleet
	if f.isClosed() {
		return nil, link.ErrNotConnected
	}

	topic := f.topic(d.name, "telemetry")
	token := f.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var tm TelemetryMessage
		if err := json.Unmarshal(msg.Payload(), &tm); err != nil {
			f.logger.Warn("invalid telemetry payload", "topic", msg.Topic(), "error", err)
			return
		}
		f.updatePosition(d.id, tm.Values)
		cb(tm.Time(), tm.Values, d.id)
	})
	if !token.WaitTimeout(f.cfg.CommandTimeout) {
		return nil, fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	err := f.publish(d, Command{Op: OpLogStart, Variables: variables, PeriodMs: period.Milliseconds()})
	if err != nil {
		f.client.Unsubscribe(topic)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := f.publish(d, Command{Op: OpLogStop}); err != nil {
				f.logger.Debug("log stop not delivered", "device", d.id, "error", err)
			}
			f.client.Unsubscribe(topic).WaitTimeout(f.cfg.CommandTimeout)
		})
	}, nil
}
