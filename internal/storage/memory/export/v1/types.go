// Package v1 contains the v1 export format for endurance run reports.
package v1

import (
	"time"

	"github.com/swarmqa/endurance/pkg/core"
)

// FormatVersion is written into every v1 report.
const FormatVersion = 1

// Report is the root JSON structure for v1 format
type Report struct {
	Version       int                    `json:"version"`
	RunID         string                 `json:"runId"`
	Site          string                 `json:"site"`
	StartTime     time.Time              `json:"startTime"`
	EndTime       time.Time              `json:"endTime"`
	Duration      float64                `json:"durationSeconds"`
	MaxIterations int                    `json:"maxIterations"`
	Outcome       string                 `json:"outcome"`
	Reason        string                 `json:"reason,omitempty"`
	Detail        string                 `json:"detail,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Iterations    int                    `json:"iterations"`
	Devices       []DeviceSummary        `json:"devices"`
	Reports       []core.IterationReport `json:"iterationReports"`
}

// DeviceSummary aggregates one device over the whole run
type DeviceSummary struct {
	Device          core.DeviceID `json:"device"`
	Samples         int           `json:"samples"`
	MinVoltage      float64       `json:"minVoltage"`
	MaxVoltage      float64       `json:"maxVoltage"`
	LastVoltage     float64       `json:"lastVoltage"`
	Flights         int           `json:"flights"`
	LandingAttempts int           `json:"landingAttempts"`
	FailedLandings  int           `json:"failedLandings"`
	Tumbled         bool          `json:"tumbled"`
}
