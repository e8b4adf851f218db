package mqttlink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmqa/endurance/internal/link"
	"github.com/swarmqa/endurance/internal/telemetry"
	"github.com/swarmqa/endurance/pkg/core"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

type published struct {
	topic string
	cmd   Command
}

// fakeClient records publishes and lets tests push telemetry to subscribers.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connected    bool
	published    []published
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	publishErr   error
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, handlers: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return &fakeToken{err: c.publishErr}
	}
	var cmd Command
	_ = json.Unmarshal(payload.([]byte), &cmd)
	c.published = append(c.published, published{topic: topic, cmd: cmd})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = cb
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
		c.unsubscribed = append(c.unsubscribed, t)
	}
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) deliver(topic string, msg TelemetryMessage) {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	data, _ := json.Marshal(msg)
	h(c, &fakeMessage{topic: topic, payload: data})
}

func (c *fakeClient) commands() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

var endpoints = []Endpoint{
	{Name: "cf1", ID: "radio://0/10/2M/E7E7E7E701"},
	{Name: "cf2", ID: "radio://0/20/2M/E7E7E7E702"},
}

func newTestFleet(client *fakeClient) *Fleet {
	return NewFleet(client, Config{TopicPrefix: "lab"}, endpoints, nil)
}

func TestDevice_Commands(t *testing.T) {
	client := newFakeClient()
	f := newTestFleet(client)
	dev := f.Devices()[1]
	ctx := context.Background()

	require.NoError(t, dev.Takeoff(ctx, 0.6, 2*time.Second))
	require.NoError(t, dev.GoTo(ctx, 1, -1, 0.1, 0, 5*time.Second))
	require.NoError(t, dev.Land(ctx, 0, time.Second))
	require.NoError(t, dev.(link.ParamSetter).SetParam(ctx, "commander.enHighLevel", "1"))
	require.NoError(t, dev.(link.EstimatorResetter).ResetEstimator(ctx))

	cmds := client.commands()
	require.Len(t, cmds, 5)
	for _, c := range cmds {
		assert.Equal(t, "lab/cf2/cmd", c.topic)
	}
	assert.Equal(t, Command{Op: OpTakeoff, Seq: 1, Height: 0.6, DurationMs: 2000}, cmds[0].cmd)
	assert.Equal(t, Command{Op: OpGoTo, Seq: 2, X: 1, Y: -1, Z: 0.1, DurationMs: 5000}, cmds[1].cmd)
	assert.Equal(t, Command{Op: OpLand, Seq: 3, DurationMs: 1000}, cmds[2].cmd)
	assert.Equal(t, Command{Op: OpSetParam, Seq: 4, Param: "commander.enHighLevel", Value: "1"}, cmds[3].cmd)
	assert.Equal(t, OpResetEstimator, cmds[4].cmd.Op)
}

func TestDevice_PublishError(t *testing.T) {
	client := newFakeClient()
	client.publishErr = errors.New("broker refused")
	f := newTestFleet(client)

	err := f.Devices()[0].Takeoff(context.Background(), 0.6, time.Second)
	assert.ErrorContains(t, err, "broker refused")
}

func TestDevice_NotConnected(t *testing.T) {
	client := newFakeClient()
	client.connected = false
	f := newTestFleet(client)

	err := f.Devices()[0].Land(context.Background(), 0, time.Second)
	assert.ErrorIs(t, err, link.ErrNotConnected)
}

func TestDevice_SubscribeTelemetry(t *testing.T) {
	client := newFakeClient()
	f := newTestFleet(client)
	dev := f.Devices()[0]

	var got []core.DeviceID
	var gotTime time.Time
	stop, err := dev.SubscribeTelemetry(telemetry.Variables, 500*time.Millisecond,
		func(ts time.Time, values map[string]float64, src core.DeviceID) {
			got = append(got, src)
			gotTime = ts
			assert.Equal(t, 3.95, values[telemetry.VarBattery])
		})
	require.NoError(t, err)

	cmds := client.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, OpLogStart, cmds[0].cmd.Op)
	assert.Equal(t, int64(500), cmds[0].cmd.PeriodMs)
	assert.Equal(t, telemetry.Variables, cmds[0].cmd.Variables)

	client.deliver("lab/cf1/telemetry", TelemetryMessage{
		Timestamp: 1700000000123,
		Values: map[string]float64{
			telemetry.VarX: 0.5, telemetry.VarY: 1.5, telemetry.VarZ: 0.02,
			telemetry.VarBattery: 3.95,
		},
	})

	assert.Equal(t, []core.DeviceID{"radio://0/10/2M/E7E7E7E701"}, got)
	assert.Equal(t, time.UnixMilli(1700000000123), gotTime)

	stop()
	stop()
	cmds = client.commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, OpLogStop, cmds[1].cmd.Op)
	assert.Equal(t, []string{"lab/cf1/telemetry"}, client.unsubscribed)
}

func TestDevice_InvalidTelemetryIgnored(t *testing.T) {
	client := newFakeClient()
	f := newTestFleet(client)

	calls := 0
	_, err := f.Devices()[0].SubscribeTelemetry(telemetry.Variables, time.Second,
		func(time.Time, map[string]float64, core.DeviceID) { calls++ })
	require.NoError(t, err)

	h := client.handlers["lab/cf1/telemetry"]
	h(client, &fakeMessage{topic: "lab/cf1/telemetry", payload: []byte("{not json")})
	assert.Zero(t, calls)
}

func TestFleet_EstimatePositions(t *testing.T) {
	client := newFakeClient()
	f := newTestFleet(client)
	noop := func(time.Time, map[string]float64, core.DeviceID) {}

	for _, d := range f.Devices() {
		_, err := d.SubscribeTelemetry(telemetry.Variables, time.Second, noop)
		require.NoError(t, err)
	}

	client.deliver("lab/cf1/telemetry", TelemetryMessage{Values: map[string]float64{
		telemetry.VarX: 1, telemetry.VarY: 2, telemetry.VarZ: 0,
	}})

	_, err := f.EstimatePositions(context.Background())
	assert.ErrorContains(t, err, "no position estimate for radio://0/20/2M/E7E7E7E702")

	client.deliver("lab/cf2/telemetry", TelemetryMessage{Values: map[string]float64{
		telemetry.VarX: -1, telemetry.VarY: 0.5, telemetry.VarZ: 0.01,
	}})

	pos, err := f.EstimatePositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.Position{X: 1, Y: 2}, pos["radio://0/10/2M/E7E7E7E701"])
	assert.Equal(t, core.Position{X: -1, Y: 0.5, Z: 0.01}, pos["radio://0/20/2M/E7E7E7E702"])
}

func TestFleet_Close(t *testing.T) {
	client := newFakeClient()
	f := newTestFleet(client)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	assert.True(t, client.disconnected)
	_, err := f.EstimatePositions(context.Background())
	assert.ErrorIs(t, err, link.ErrNotConnected)
	assert.ErrorIs(t, f.Devices()[0].Takeoff(context.Background(), 0.6, time.Second), link.ErrNotConnected)
}

func TestTelemetryMessage_TimeDefaultsToNow(t *testing.T) {
	before := time.Now()
	ts := TelemetryMessage{}.Time()
	assert.False(t, ts.Before(before))
}

func TestConnect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, Config{Broker: "127.0.0.1", Port: 1, ClientID: "test"}, endpoints, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
