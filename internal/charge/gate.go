// Package charge decides whether battery levels allow the fleet to fly.
//
// Each device carries a hysteresis flag. Once its voltage drops below the stop
// threshold the flag is set, and from then on the device only counts as ready
// when it is observed charging at or above the resume threshold.
package charge

import (
	"log/slog"
	"sync"

	"github.com/swarmqa/endurance/pkg/core"
)

// Default thresholds in volts.
const (
	DefaultStopVoltage   = 3.8
	DefaultResumeVoltage = 3.9
)

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Allowed bool
	// Waiting lists the devices holding the fleet on the ground.
	Waiting []core.DeviceID
}

// Gate is the hysteresis charge gate.
type Gate struct {
	stop   float64
	resume float64
	logger *slog.Logger

	mu      sync.Mutex
	flagged map[core.DeviceID]bool
}

// New creates a gate. A resume threshold below the stop threshold is raised
// to it, collapsing the band to a single threshold.
func New(stop, resume float64, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if resume < stop {
		resume = stop
	}
	return &Gate{
		stop:    stop,
		resume:  resume,
		logger:  logger,
		flagged: make(map[core.DeviceID]bool),
	}
}

// AllowedToFly reports whether no device in snap is below its applicable threshold.
func (g *Gate) AllowedToFly(snap core.FleetSnapshot) bool {
	return g.Evaluate(snap).Allowed
}

// Evaluate checks every device in snap, updating hysteresis flags.
func (g *Gate) Evaluate(snap core.FleetSnapshot) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := Decision{Allowed: true}

	for _, id := range snap.IDs() {
		state := snap[id]

		if g.flagged[id] {
			if state.IsCharging && state.BatteryVoltage >= g.resume {
				delete(g.flagged, id)
				g.logger.Info("battery recovered", "device", id, "vbat", state.BatteryVoltage)
				continue
			}
			d.Allowed = false
			d.Waiting = append(d.Waiting, id)
			g.logger.Info("waiting for charge", "device", id, "vbat", state.BatteryVoltage,
				"charging", state.IsCharging, "resume", g.resume)
			continue
		}

		if state.BatteryVoltage < g.stop {
			g.flagged[id] = true
			d.Allowed = false
			d.Waiting = append(d.Waiting, id)
			g.logger.Info("battery below limit", "device", id, "vbat", state.BatteryVoltage, "limit", g.stop)
			continue
		}

		g.logger.Debug("battery ok", "device", id, "vbat", state.BatteryVoltage)
	}

	return d
}

// Flagged reports whether id is held by the hysteresis flag.
func (g *Gate) Flagged(id core.DeviceID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flagged[id]
}
