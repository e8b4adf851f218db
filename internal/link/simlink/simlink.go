// Package simlink is an in-process fleet for dry runs and tests. Devices
// react to commands instantly and stream their state on a ticker.
package simlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/swarmqa/endurance/internal/link"
	"github.com/swarmqa/endurance/internal/telemetry"
	"github.com/swarmqa/endurance/pkg/core"
)

const maxVoltage = 4.2

// ErrInjected is returned by commands failed through FailCommands.
var ErrInjected = errors.New("injected command failure")

// Option configures a simulated fleet.
type Option func(*options)

type options struct {
	battery    float64
	drain      float64
	chargeRate float64
	logger     *slog.Logger
}

// WithBattery sets the starting voltage of every device.
func WithBattery(v float64) Option {
	return func(o *options) { o.battery = v }
}

// WithDrain sets the voltage lost per takeoff.
func WithDrain(v float64) Option {
	return func(o *options) { o.drain = v }
}

// WithChargeRate sets the voltage gained per telemetry tick on the charger.
func WithChargeRate(v float64) Option {
	return func(o *options) { o.chargeRate = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Counts tallies commands received by a device.
type Counts struct {
	Takeoff int
	GoTo    int
	Land    int
	Params  int
	Resets  int
}

// Total returns the number of motion commands.
func (c Counts) Total() int {
	return c.Takeoff + c.GoTo + c.Land
}

// Device is one simulated vehicle sitting on its charging pad.
type Device struct {
	id     core.DeviceID
	opts   *options
	closed func() bool

	mu        sync.RWMutex
	state     core.DeviceState
	pad       core.Position
	missPad   int
	failNext  int
	counts    Counts
	params    map[string]string
	streaming int
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

func (d *Device) command(fn func()) error {
	if d.closed() {
		return link.ErrNotConnected
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext > 0 {
		d.failNext--
		return fmt.Errorf("%s: %w", d.id, ErrInjected)
	}
	fn()
	return nil
}

// Takeoff lifts the device off its pad.
func (d *Device) Takeoff(_ context.Context, height float64, _ time.Duration) error {
	return d.command(func() {
		d.counts.Takeoff++
		if d.state.IsFlying || d.state.IsTumbled {
			return
		}
		d.state.IsFlying = true
		d.state.IsCharging = false
		d.state.Position.Z = height
		d.state.BatteryVoltage -= d.opts.drain
	})
}

// GoTo moves a flying device.
func (d *Device) GoTo(_ context.Context, x, y, z, _ float64, _ time.Duration) error {
	return d.command(func() {
		d.counts.GoTo++
		if !d.state.IsFlying {
			return
		}
		d.state.Position = core.Position{X: x, Y: y, Z: z}
	})
}

// Land puts a flying device down where it is. Landing over the pad starts
// charging unless a pad miss was injected.
func (d *Device) Land(_ context.Context, height float64, _ time.Duration) error {
	return d.command(func() {
		d.counts.Land++
		if !d.state.IsFlying {
			return
		}
		d.state.IsFlying = false
		d.state.Position.Z = height
		if d.missPad > 0 {
			d.missPad--
			return
		}
		d.state.IsCharging = d.state.Position.X == d.pad.X && d.state.Position.Y == d.pad.Y
	})
}

// SetParam stores a parameter value.
func (d *Device) SetParam(_ context.Context, name, value string) error {
	return d.command(func() {
		d.counts.Params++
		d.params[name] = value
	})
}

// ResetEstimator snaps the estimate back to the pad.
func (d *Device) ResetEstimator(context.Context) error {
	return d.command(func() {
		d.counts.Resets++
		if !d.state.IsFlying {
			d.state.Position = d.pad
		}
	})
}

// SubscribeTelemetry streams the device state every period until stopped.
// Samples carry only the requested variables.
func (d *Device) SubscribeTelemetry(variables []string, period time.Duration, cb link.TelemetryCallback) (func(), error) {
	if d.closed() {
		return nil, link.ErrNotConnected
	}
	if period <= 0 {
		return nil, fmt.Errorf("invalid telemetry period %s", period)
	}

	d.mu.Lock()
	d.streaming++
	d.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			d.mu.Lock()
			d.streaming--
			d.mu.Unlock()
		})
	}

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case ts := <-ticker.C:
				if d.closed() {
					return
				}
				all := telemetry.Encode(d.tick(ts))
				values := make(map[string]float64, len(variables))
				for _, name := range variables {
					if v, ok := all[name]; ok {
						values[name] = v
					}
				}
				cb(ts, values, d.id)
			}
		}
	}()

	return stop, nil
}

func (d *Device) tick(ts time.Time) core.DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.IsCharging && d.state.BatteryVoltage < maxVoltage {
		d.state.BatteryVoltage = min(maxVoltage, d.state.BatteryVoltage+d.opts.chargeRate)
	}
	d.state.Timestamp = ts
	return d.state
}

// State returns the current simulated state.
func (d *Device) State() core.DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Counts returns the commands received so far.
func (d *Device) Counts() Counts {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.counts
}

// Param returns a parameter previously written with SetParam.
func (d *Device) Param(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.params[name]
	return v, ok
}

// Tumble flips the device over.
func (d *Device) Tumble() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.IsTumbled = true
	d.state.IsFlying = false
}

// SetBattery overrides the voltage and charging flag.
func (d *Device) SetBattery(v float64, charging bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.BatteryVoltage = v
	d.state.IsCharging = charging
}

// MissPad makes the next n landings end off the charger.
func (d *Device) MissPad(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.missPad = n
}

// FailCommands makes the next n commands return ErrInjected.
func (d *Device) FailCommands(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

// Fleet is a set of simulated devices.
type Fleet struct {
	devices []*Device
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ link.Fleet = (*Fleet)(nil)

// New creates a fleet with one device per id. Device i sits on a pad at
// (i*0.5, 0, 0).
func New(ids []core.DeviceID, opts ...Option) *Fleet {
	o := &options{battery: 4.1, chargeRate: 0.01}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	f := &Fleet{logger: o.logger}
	for i, id := range ids {
		pad := core.Position{X: float64(i) * 0.5}
		f.devices = append(f.devices, &Device{
			id:     id,
			opts:   o,
			closed: f.isClosed,
			pad:    pad,
			params: make(map[string]string),
			state: core.DeviceState{
				Position:       pad,
				IsCharging:     true,
				BatteryVoltage: o.battery,
			},
		})
	}
	f.logger.Info("Simulated fleet created", "devices", len(ids))
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

// Device returns the simulated device with id.
func (f *Fleet) Device(id core.DeviceID) *Device {
	for _, d := range f.devices {
		if d.id == id {
			return d
		}
	}
	return nil
}

// EstimatePositions returns every device's current position.
func (f *Fleet) EstimatePositions(context.Context) (map[core.DeviceID]core.Position, error) {
	if f.isClosed() {
		return nil, link.ErrNotConnected
	}
	out := make(map[core.DeviceID]core.Position, len(f.devices))
	for _, d := range f.devices {
		out[d.id] = d.State().Position
	}
	return out, nil
}

// Close disconnects every device. Running telemetry streams stop at their
// next tick.
func (f *Fleet) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.logger.Info("Simulated fleet closed")
	return nil
}

func (f *Fleet) isClosed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

// Streaming returns the number of active telemetry subscriptions.
func (d *Device) Streaming() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.streaming
}
