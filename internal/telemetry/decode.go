package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/swarmqa/endurance/internal/util"
	"github.com/swarmqa/endurance/pkg/core"
)

// Telemetry variable names streamed from every device.
const (
	VarX       = "stateEstimate.x"
	VarY       = "stateEstimate.y"
	VarZ       = "stateEstimate.z"
	VarFlying  = "sys.isFlying"
	VarTumbled = "sys.isTumbled"
	VarPMState = "pm.state"
	VarBattery = "pm.vbat"
	pmCharging = 1
)

// Variables is the subscription list for the state log.
var Variables = []string{
	VarX,
	VarY,
	VarZ,
	VarFlying,
	VarTumbled,
	VarPMState,
	VarBattery,
}

// ErrMissingVariable is returned when a sample lacks a subscribed variable.
var ErrMissingVariable = errors.New("missing telemetry variable")

// Decode converts a raw variable map into a DeviceState.
func Decode(ts time.Time, values map[string]float64) (core.DeviceState, error) {
	for _, name := range Variables {
		if _, ok := values[name]; !ok {
			return core.DeviceState{}, fmt.Errorf("%w: %s", ErrMissingVariable, name)
		}
	}

	return core.DeviceState{
		Position: core.Position{
			X: values[VarX],
			Y: values[VarY],
			Z: values[VarZ],
		},
		IsTumbled:      util.BoolFromFloat(values[VarTumbled]),
		IsFlying:       util.BoolFromFloat(values[VarFlying]),
		IsCharging:     values[VarPMState] == pmCharging,
		BatteryVoltage: values[VarBattery],
		Timestamp:      ts,
	}, nil
}

// Encode is the inverse of Decode; transports and simulators use it to
// produce samples.
func Encode(state core.DeviceState) map[string]float64 {
	pm := 0.0
	if state.IsCharging {
		pm = pmCharging
	}
	return map[string]float64{
		VarX:       state.Position.X,
		VarY:       state.Position.Y,
		VarZ:       state.Position.Z,
		VarFlying:  boolToFloat(state.IsFlying),
		VarTumbled: boolToFloat(state.IsTumbled),
		VarPMState: pm,
		VarBattery: state.BatteryVoltage,
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
