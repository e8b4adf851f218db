package streaming

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swarmqa/endurance/pkg/core"
)

func TestEnvelopeKeepsRawPayload(t *testing.T) {
	payload, err := json.Marshal(StartMissionPayload{Run: &core.MissionRun{ID: "r1", Site: "lab"}})
	require.NoError(t, err)

	data, err := json.Marshal(Envelope{Type: TypeStartMission, Payload: payload})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"start_mission","payload":{"run":{"id":"r1","site":"lab","startTime":"0001-01-01T00:00:00Z","maxIterations":0,"devices":null}}}`, string(data))
}

func TestEndMissionPayloadOmitsStatusError(t *testing.T) {
	st := &core.Status{RunID: "r1", Outcome: core.OutcomeAborted, Reason: core.ReasonTumbled, Err: errors.New("boom")}
	data, err := json.Marshal(EndMissionPayload{Status: st, Error: st.Err.Error()})
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(data, &back))
	status := back["status"].(map[string]any)
	_, hasErr := status["Err"]
	assert.False(t, hasErr)
	assert.Equal(t, "boom", back["error"])
}

func TestAckMessage(t *testing.T) {
	var ack AckMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"ack","for":"end_mission"}`), &ack))
	assert.Equal(t, TypeAck, ack.Type)
	assert.Equal(t, TypeEndMission, ack.For)
}
