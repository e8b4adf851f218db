// Package streaming defines the wire format of the results stream.
package streaming

import (
	"encoding/json"

	"github.com/swarmqa/endurance/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartMission = "start_mission"
	TypeEndMission   = "end_mission"
	TypeDeviceState  = "device_state"
	TypeIteration    = "iteration"

	TypeAck = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartMissionPayload announces a run.
type StartMissionPayload struct {
	Run *core.MissionRun `json:"run"`
}

// EndMissionPayload carries the terminal status of a run.
type EndMissionPayload struct {
	Status *core.Status `json:"status"`
	Error  string       `json:"error,omitempty"`
}
