// pkg/core/device.go
package core

import (
	"sort"
	"time"
)

// DeviceID identifies one vehicle in a fleet. It is the device's radio link URI.
type DeviceID string

// Position is an estimated position in the fleet's local frame, in metres.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DeviceState is the most recent telemetry observed for a device.
// It is replaced wholesale on every sample.
type DeviceState struct {
	Position       Position  `json:"position"`
	IsTumbled      bool      `json:"isTumbled"`
	IsFlying       bool      `json:"isFlying"`
	IsCharging     bool      `json:"isCharging"`
	BatteryVoltage float64   `json:"batteryVoltage"`
	Timestamp      time.Time `json:"timestamp"`
}

// TelemetrySample is one decoded telemetry sample from a device.
type TelemetrySample struct {
	Device DeviceID    `json:"device"`
	Time   time.Time   `json:"time"`
	State  DeviceState `json:"state"`
}

// FleetSnapshot is a point-in-time copy of every known device's state.
// A snapshot is never written to after it is handed out.
type FleetSnapshot map[DeviceID]DeviceState

// IDs returns the devices in the snapshot in stable order.
func (s FleetSnapshot) IDs() []DeviceID {
	ids := make([]DeviceID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	SortIDs(ids)
	return ids
}

// Tumbled returns the devices reporting a tumble, in stable order.
func (s FleetSnapshot) Tumbled() []DeviceID {
	var out []DeviceID
	for _, id := range s.IDs() {
		if s[id].IsTumbled {
			out = append(out, id)
		}
	}
	return out
}

// Missing returns the ids from want that have no state in the snapshot.
func (s FleetSnapshot) Missing(want []DeviceID) []DeviceID {
	var out []DeviceID
	for _, id := range want {
		if _, ok := s[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// SortIDs sorts device ids in place.
func SortIDs(ids []DeviceID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
