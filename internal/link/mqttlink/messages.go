package mqttlink

import "time"

// Command operations understood by the radio bridge.
const (
	OpTakeoff        = "takeoff"
	OpGoTo           = "go_to"
	OpLand           = "land"
	OpSetParam       = "set_param"
	OpResetEstimator = "reset_estimator"
	OpLogStart       = "log_start"
	OpLogStop        = "log_stop"
)

// Command is published to <prefix>/<device>/cmd.
type Command struct {
	Op         string   `json:"op"`
	Seq        uint64   `json:"seq"`
	Height     float64  `json:"height,omitempty"`
	X          float64  `json:"x,omitempty"`
	Y          float64  `json:"y,omitempty"`
	Z          float64  `json:"z,omitempty"`
	Yaw        float64  `json:"yaw,omitempty"`
	DurationMs int64    `json:"durationMs,omitempty"`
	Param      string   `json:"param,omitempty"`
	Value      string   `json:"value,omitempty"`
	Variables  []string `json:"variables,omitempty"`
	PeriodMs   int64    `json:"periodMs,omitempty"`
}

// TelemetryMessage is received on <prefix>/<device>/telemetry.
type TelemetryMessage struct {
	// Timestamp in milliseconds since the Unix epoch.
	Timestamp int64              `json:"ts"`
	Values    map[string]float64 `json:"values"`
}

// Time returns the sample time, or now when the bridge sent none.
func (m TelemetryMessage) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Now()
	}
	return time.UnixMilli(m.Timestamp)
}
