// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"

	"github.com/swarmqa/endurance/internal/model"
	"github.com/swarmqa/endurance/pkg/core"
	"gorm.io/datatypes"
)

// toJSON marshals v for a JSON column, falling back to an empty array.
func toJSON(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(data)
}

// CoreToRun converts a core.MissionRun to a GORM model.Run.
// core.MissionRun.ID maps to GORM Run.RunUUID.
func CoreToRun(r core.MissionRun) model.Run {
	return model.Run{
		RunUUID:       r.ID,
		Site:          r.Site,
		StartTime:     r.StartTime,
		MaxIterations: r.MaxIterations,
		Devices:       toJSON(r.Devices),
	}
}

// ApplyStatus copies a terminal status onto a run row.
func ApplyStatus(run *model.Run, s core.Status) {
	end := s.EndTime
	run.EndTime = &end
	run.Outcome = string(s.Outcome)
	run.Reason = s.Reason
	run.Detail = s.Detail
	run.Iterations = s.Iterations
}

// CoreToDeviceSample converts a core.TelemetrySample to a GORM model.DeviceSample.
func CoreToDeviceSample(s core.TelemetrySample) model.DeviceSample {
	return model.DeviceSample{
		Time:           s.Time,
		Device:         string(s.Device),
		X:              s.State.Position.X,
		Y:              s.State.Position.Y,
		Z:              s.State.Position.Z,
		IsFlying:       s.State.IsFlying,
		IsTumbled:      s.State.IsTumbled,
		IsCharging:     s.State.IsCharging,
		BatteryVoltage: s.State.BatteryVoltage,
	}
}

// CoreToIteration converts a core.IterationReport to a GORM model.Iteration.
func CoreToIteration(r core.IterationReport) model.Iteration {
	return model.Iteration{
		Number:     r.Iteration,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Successful: r.Successful,
		Devices:    toJSON(r.Devices),
	}
}
