package convert

import (
	"encoding/json"

	"github.com/swarmqa/endurance/internal/model"
	"github.com/swarmqa/endurance/pkg/core"
)

// DeviceSampleToCore converts a GORM model.DeviceSample to a core.TelemetrySample
func DeviceSampleToCore(s model.DeviceSample) core.TelemetrySample {
	return core.TelemetrySample{
		Device: core.DeviceID(s.Device),
		Time:   s.Time,
		State: core.DeviceState{
			Position:       core.Position{X: s.X, Y: s.Y, Z: s.Z},
			IsFlying:       s.IsFlying,
			IsTumbled:      s.IsTumbled,
			IsCharging:     s.IsCharging,
			BatteryVoltage: s.BatteryVoltage,
			Timestamp:      s.Time,
		},
	}
}

// IterationToCore converts a GORM model.Iteration to a core.IterationReport.
// The run UUID is not stored on the row and is passed in.
func IterationToCore(it model.Iteration, runID string) (core.IterationReport, error) {
	report := core.IterationReport{
		RunID:      runID,
		Iteration:  it.Number,
		StartTime:  it.StartTime,
		EndTime:    it.EndTime,
		Successful: it.Successful,
	}
	if len(it.Devices) > 0 {
		if err := json.Unmarshal(it.Devices, &report.Devices); err != nil {
			return report, err
		}
	}
	return report, nil
}
