// Package link defines what the controller needs from the radio side of the
// harness: per-device motion commands, telemetry subscriptions and position
// estimates. Transports live in subpackages.
package link

import (
	"context"
	"errors"
	"time"

	"github.com/swarmqa/endurance/pkg/core"
)

// ErrNotConnected is returned when a command is issued on a closed link.
var ErrNotConnected = errors.New("link not connected")

// TelemetryCallback receives one telemetry sample. It is invoked
// asynchronously from the transport's own goroutines.
type TelemetryCallback func(ts time.Time, values map[string]float64, source core.DeviceID)

// Device is one live, connected vehicle.
// Duplicate commands to a device that already reached the commanded state
// must be harmless.
type Device interface {
	ID() core.DeviceID
	Takeoff(ctx context.Context, height float64, duration time.Duration) error
	GoTo(ctx context.Context, x, y, z, yaw float64, duration time.Duration) error
	Land(ctx context.Context, height float64, duration time.Duration) error
	// SubscribeTelemetry starts streaming the named variables every period.
	// The returned function stops the subscription.
	SubscribeTelemetry(variables []string, period time.Duration, cb TelemetryCallback) (func(), error)
}

// ParamSetter is implemented by devices that accept parameter writes.
type ParamSetter interface {
	SetParam(ctx context.Context, name, value string) error
}

// EstimatorResetter is implemented by devices whose state estimator can be reset.
type EstimatorResetter interface {
	ResetEstimator(ctx context.Context) error
}

// Fleet is the set of connected devices for one mission.
type Fleet interface {
	Devices() []Device
	// EstimatePositions returns the current position estimate of every device.
	EstimatePositions(ctx context.Context) (map[core.DeviceID]core.Position, error)
	Close() error
}

// IDs returns the ids of devices in order.
func IDs(devices []Device) []core.DeviceID {
	ids := make([]core.DeviceID, len(devices))
	for i, d := range devices {
		ids[i] = d.ID()
	}
	return ids
}
