package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmqa/endurance/internal/storage"
	"github.com/swarmqa/endurance/pkg/core"
	"github.com/swarmqa/endurance/pkg/streaming"
)

// Compile-time interface check.
var _ storage.Backend = (*Backend)(nil)

// testServer creates an httptest server that upgrades to WebSocket,
// records received messages, and sends acks for start_mission/end_mission.
func testServer(t *testing.T, ack bool) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.setSecret(r.URL.Query().Get("secret"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if ack && (env.Type == streaming.TypeStartMission || env.Type == streaming.TypeEndMission) {
				data, _ := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: env.Type})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))

	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	messages []streaming.Envelope
	secret   string
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) setSecret(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = s
}

func (m *messageLog) all() []streaming.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]streaming.Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStartAndEndMission(t *testing.T) {
	srv, ml := testServer(t, true)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "test"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	run := &core.MissionRun{ID: "r1", Site: "lab", Devices: []core.DeviceID{"d1"}}
	require.NoError(t, b.StartMission(run))
	require.NoError(t, b.EndMission(&core.Status{RunID: "r1", Outcome: core.OutcomeAborted, Reason: core.ReasonTumbled, Err: errors.New("d1 tumbled")}))

	msgs := ml.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, streaming.TypeStartMission, msgs[0].Type)
	assert.Equal(t, streaming.TypeEndMission, msgs[1].Type)

	var start streaming.StartMissionPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &start))
	assert.Equal(t, "r1", start.Run.ID)

	var end streaming.EndMissionPayload
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &end))
	assert.Equal(t, core.ReasonTumbled, end.Status.Reason)
	assert.Equal(t, "d1 tumbled", end.Error)

	ml.mu.Lock()
	assert.Equal(t, "test", ml.secret)
	ml.mu.Unlock()

	b.conn.mu.Lock()
	assert.Nil(t, b.conn.cachedStartMsg)
	b.conn.mu.Unlock()
}

func TestFireAndForgetMessages(t *testing.T) {
	srv, ml := testServer(t, true)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "s"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartMission(&core.MissionRun{ID: "r1"}))
	require.NoError(t, b.RecordState(&core.TelemetrySample{Device: "d1", State: core.DeviceState{BatteryVoltage: 3.9}}))
	require.NoError(t, b.RecordIteration(&core.IterationReport{RunID: "r1", Iteration: 1, Successful: true}))

	require.Eventually(t, func() bool { return len(ml.all()) == 3 }, 2*time.Second, 10*time.Millisecond)

	msgs := ml.all()
	assert.Equal(t, streaming.TypeDeviceState, msgs[1].Type)
	assert.Equal(t, streaming.TypeIteration, msgs[2].Type)

	var s core.TelemetrySample
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &s))
	assert.Equal(t, core.DeviceID("d1"), s.Device)
	assert.Equal(t, 3.9, s.State.BatteryVoltage)
}

func TestStartMission_AckTimeout(t *testing.T) {
	srv, _ := testServer(t, false)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), AckTimeout: 50 * time.Millisecond}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	err := b.StartMission(&core.MissionRun{ID: "r1"})
	assert.ErrorContains(t, err, "timeout waiting for ack")
}

func TestInit_DialFailure(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/api"}, nil)
	assert.Error(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestInit_InvalidURL(t *testing.T) {
	b := New(Config{URL: "://bad"}, nil)
	assert.ErrorContains(t, b.Init(), "invalid websocket URL")
}

func TestClose_Idempotent(t *testing.T) {
	srv, _ := testServer(t, true)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, b.Init())
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}

func TestReconnect_ReplaysStartMission(t *testing.T) {
	var mu sync.Mutex
	var conns []*ws.Conn
	var starts int

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if json.Unmarshal(msg, &env) == nil && env.Type == streaming.TypeStartMission {
				mu.Lock()
				starts++
				mu.Unlock()
				data, _ := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: env.Type})
				_ = c.WriteMessage(ws.TextMessage, data)
			}
		}
	}))
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), ReconnectBackoff: 10 * time.Millisecond}, nil)
	require.NoError(t, b.Init())
	defer b.Close()
	require.NoError(t, b.StartMission(&core.MissionRun{ID: "r1"}))

	// drop the server side of the first connection
	mu.Lock()
	_ = conns[0].Close()
	mu.Unlock()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return starts == 2 && len(conns) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
