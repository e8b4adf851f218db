package flight

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmqa/endurance/internal/link"
	"github.com/swarmqa/endurance/pkg/core"
)

type call struct {
	name string
	args []float64
}

type recordingDevice struct {
	mu       sync.Mutex
	calls    []call
	failures int
}

func (d *recordingDevice) ID() core.DeviceID { return "cf1" }

func (d *recordingDevice) record(name string, args ...float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call{name: name, args: args})
	if d.failures > 0 {
		d.failures--
		return errors.New("radio timeout")
	}
	return nil
}

func (d *recordingDevice) Takeoff(_ context.Context, h float64, dur time.Duration) error {
	return d.record("takeoff", h, dur.Seconds())
}

func (d *recordingDevice) GoTo(_ context.Context, x, y, z, yaw float64, dur time.Duration) error {
	return d.record("go_to", x, y, z, yaw, dur.Seconds())
}

func (d *recordingDevice) Land(_ context.Context, h float64, dur time.Duration) error {
	return d.record("land", h, dur.Seconds())
}

func (d *recordingDevice) SubscribeTelemetry([]string, time.Duration, link.TelemetryCallback) (func(), error) {
	return func() {}, nil
}

func (d *recordingDevice) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	for i, c := range d.calls {
		out[i] = c.name
	}
	return out
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.TakeoffSettle = 0
	cfg.ReturnSettle = 0
	cfg.LandSettle = 0
	return cfg
}

func TestTakeoff_SendsRedundantCommands(t *testing.T) {
	dev := &recordingDevice{}
	p := New(fastConfig(), nil)

	require.NoError(t, p.Takeoff(context.Background(), dev))

	assert.Equal(t, []string{"takeoff", "takeoff", "takeoff", "takeoff", "takeoff"}, dev.names())
	assert.Equal(t, []float64{0.6, 2}, dev.calls[0].args)
}

func TestReturnAndLand_Sequence(t *testing.T) {
	dev := &recordingDevice{}
	p := New(fastConfig(), nil)

	require.NoError(t, p.ReturnAndLand(context.Background(), dev, core.Position{X: 1.5, Y: -0.5, Z: 0.02}))

	names := dev.names()
	require.Len(t, names, 10)
	for i := 0; i < 5; i++ {
		assert.Equal(t, "go_to", names[i])
		assert.Equal(t, "land", names[5+i])
	}
	assert.Equal(t, []float64{1.5, -0.5, 0.1, 0, 5}, dev.calls[0].args, "return height replaces z")
	assert.Equal(t, []float64{0, 1}, dev.calls[5].args)
}

func TestRepeat_PartialFailureIsAbsorbed(t *testing.T) {
	dev := &recordingDevice{failures: 4}
	p := New(fastConfig(), nil)

	assert.NoError(t, p.Takeoff(context.Background(), dev))
}

func TestRepeat_AllSendsFail(t *testing.T) {
	dev := &recordingDevice{failures: 5}
	p := New(fastConfig(), nil)

	err := p.Takeoff(context.Background(), dev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "takeoff: all 5 sends failed")
}

func TestReturnAndLand_StopsAfterFailedGoTo(t *testing.T) {
	dev := &recordingDevice{failures: 5}
	p := New(fastConfig(), nil)

	require.Error(t, p.ReturnAndLand(context.Background(), dev, core.Position{}))
	assert.NotContains(t, dev.names(), "land")
}

func TestNew_RedundancyFloor(t *testing.T) {
	cfg := fastConfig()
	cfg.Redundancy = 0
	dev := &recordingDevice{}

	require.NoError(t, New(cfg, nil).Takeoff(context.Background(), dev))
	assert.Len(t, dev.names(), 1)
}

func TestTakeoff_SettleObservesContext(t *testing.T) {
	cfg := fastConfig()
	cfg.TakeoffSettle = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(cfg, nil).Takeoff(ctx, &recordingDevice{})
	assert.ErrorIs(t, err, context.Canceled)
}
