package v1

import (
	"github.com/swarmqa/endurance/pkg/core"
)

// RunData contains all the data needed to build a report
type RunData struct {
	Run        *core.MissionRun
	Status     *core.Status
	Traces     map[core.DeviceID][]core.TelemetrySample
	Iterations []core.IterationReport
}

// Build creates a Report from the run data
func Build(data *RunData) Report {
	report := Report{
		Version: FormatVersion,
		Devices: make([]DeviceSummary, 0),
		Reports: make([]core.IterationReport, 0, len(data.Iterations)),
	}

	var devices []core.DeviceID
	if data.Run != nil {
		report.RunID = data.Run.ID
		report.Site = data.Run.Site
		report.StartTime = data.Run.StartTime
		report.MaxIterations = data.Run.MaxIterations
		devices = append(devices, data.Run.Devices...)
	}
	if data.Status != nil {
		report.EndTime = data.Status.EndTime
		report.Outcome = string(data.Status.Outcome)
		report.Reason = data.Status.Reason
		report.Detail = data.Status.Detail
		report.Iterations = data.Status.Iterations
		if data.Status.Err != nil {
			report.Error = data.Status.Err.Error()
		}
		if !report.StartTime.IsZero() && report.EndTime.After(report.StartTime) {
			report.Duration = report.EndTime.Sub(report.StartTime).Seconds()
		}
	}

	// devices that only appear in telemetry are still summarised
	known := make(map[core.DeviceID]bool, len(devices))
	for _, id := range devices {
		known[id] = true
	}
	for id := range data.Traces {
		if !known[id] {
			devices = append(devices, id)
			known[id] = true
		}
	}
	core.SortIDs(devices)

	index := make(map[core.DeviceID]int, len(devices))
	for _, id := range devices {
		index[id] = len(report.Devices)
		report.Devices = append(report.Devices, summarize(id, data.Traces[id]))
	}

	for _, it := range data.Iterations {
		report.Reports = append(report.Reports, it)
		for _, d := range it.Devices {
			i, ok := index[d.Device]
			if !ok {
				continue
			}
			sum := &report.Devices[i]
			if d.Flying {
				sum.Flights++
			}
			sum.LandingAttempts += d.LandingAttempts
			if d.LandingError != "" {
				sum.FailedLandings++
			}
		}
	}

	return report
}

func summarize(id core.DeviceID, trace []core.TelemetrySample) DeviceSummary {
	sum := DeviceSummary{Device: id, Samples: len(trace)}
	for i, s := range trace {
		v := s.State.BatteryVoltage
		if i == 0 || v < sum.MinVoltage {
			sum.MinVoltage = v
		}
		if i == 0 || v > sum.MaxVoltage {
			sum.MaxVoltage = v
		}
		sum.LastVoltage = v
		if s.State.IsTumbled {
			sum.Tumbled = true
		}
	}
	return sum
}
