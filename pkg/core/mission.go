// pkg/core/mission.go
package core

import "time"

// MissionState is a state of the mission controller.
type MissionState string

const (
	StateIdle       MissionState = "idle"
	StateChargeWait MissionState = "charge_wait"
	StateFlying     MissionState = "flying"
	StateLanding    MissionState = "landing"
	StateAborted    MissionState = "aborted"
	StateCompleted  MissionState = "completed"
)

// Outcome is the terminal outcome of a mission.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
)

// Abort reasons reported in Status.Reason.
const (
	ReasonTumbled          = "tumbled"
	ReasonLandingExhausted = "landing exhausted"
	ReasonLandingFailed    = "landing failed"
	ReasonNoTelemetry      = "no telemetry"
	ReasonPrepareFailed    = "prepare failed"
	ReasonPositions        = "position estimate failed"
	ReasonCancelled        = "cancelled"
)

// MissionRun describes one endurance run.
type MissionRun struct {
	ID            string     `json:"id"`
	Site          string     `json:"site"`
	StartTime     time.Time  `json:"startTime"`
	MaxIterations int        `json:"maxIterations"`
	Devices       []DeviceID `json:"devices"`
}

// Status is the terminal status of a mission.
type Status struct {
	RunID      string    `json:"runId"`
	Outcome    Outcome   `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Iterations int       `json:"iterations"`
	EndTime    time.Time `json:"endTime"`
	Err        error     `json:"-"`
}

// Completed reports whether the mission used its whole iteration budget.
func (s Status) Completed() bool {
	return s.Outcome == OutcomeCompleted
}

// DeviceReport is one device's outcome within an iteration.
type DeviceReport struct {
	Device          DeviceID `json:"device"`
	Target          Position `json:"target"`
	Flying          bool     `json:"flying"`
	TakeoffError    string   `json:"takeoffError,omitempty"`
	AlreadyLanded   bool     `json:"alreadyLanded,omitempty"`
	Charging        bool     `json:"charging"`
	LandingAttempts int      `json:"landingAttempts"`
	LandingError    string   `json:"landingError,omitempty"`
}

// IterationReport is the progress record emitted after each flown iteration.
type IterationReport struct {
	RunID      string         `json:"runId"`
	Iteration  int            `json:"iteration"`
	StartTime  time.Time      `json:"startTime"`
	EndTime    time.Time      `json:"endTime"`
	Devices    []DeviceReport `json:"devices"`
	Successful bool           `json:"successful"`
}
