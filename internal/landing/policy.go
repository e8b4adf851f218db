// Package landing brings a flying device back onto its charger, retrying the
// whole approach until charging is observed or the attempt budget is spent.
package landing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/swarmqa/endurance/internal/link"
	"github.com/swarmqa/endurance/internal/util"
	"github.com/swarmqa/endurance/pkg/core"
)

// DefaultAttempts is the number of return-and-land cycles before giving up.
const DefaultAttempts = 5

// ErrLandingExhausted matches every ExhaustedError.
var ErrLandingExhausted = errors.New("landing attempts exhausted")

// ExhaustedError is returned when charging was never observed.
type ExhaustedError struct {
	Device   core.DeviceID
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: charging not detected after %d landing attempts", e.Device, e.Attempts)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrLandingExhausted
}

// StateReader returns the latest known state of a device.
type StateReader interface {
	Latest(id core.DeviceID) (core.DeviceState, bool)
}

// Flight is the set of motion procedures the policy drives.
type Flight interface {
	Takeoff(ctx context.Context, dev link.Device) error
	ReturnAndLand(ctx context.Context, dev link.Device, target core.Position) error
}

// Config of the policy.
type Config struct {
	Attempts int
	// VerifyDelay is waited after landing before charging is checked.
	VerifyDelay time.Duration
}

// Result describes one LandAndCharge call.
type Result struct {
	Attempts      int
	AlreadyLanded bool
}

// Policy is the landing retry policy.
type Policy struct {
	cfg    Config
	flight Flight
	states StateReader
	logger *slog.Logger
}

// New creates a Policy.
func New(cfg Config, flight Flight, states StateReader, logger *slog.Logger) *Policy {
	if cfg.Attempts < 1 {
		cfg.Attempts = DefaultAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{cfg: cfg, flight: flight, states: states, logger: logger}
}

// LandAndCharge lands dev at target and verifies that it charges. A device
// whose latest telemetry reports it on the ground gets no commands at all.
// A device without telemetry is handled as flying.
func (p *Policy) LandAndCharge(ctx context.Context, dev link.Device, target core.Position) (Result, error) {
	id := dev.ID()

	if state, ok := p.states.Latest(id); ok && !state.IsFlying {
		p.logger.Debug("device not flying, skipping landing", "device", id)
		return Result{AlreadyLanded: true}, nil
	}

	var res Result
	for {
		res.Attempts++

		if err := p.flight.ReturnAndLand(ctx, dev, target); err != nil {
			if ctx.Err() != nil {
				return res, err
			}
			p.logger.Warn("return and land failed", "device", id, "attempt", res.Attempts, "error", err)
		}
		if err := util.Sleep(ctx, p.cfg.VerifyDelay); err != nil {
			return res, err
		}

		if state, ok := p.states.Latest(id); ok && state.IsCharging {
			p.logger.Info("charging", "device", id, "attempts", res.Attempts, "vbat", state.BatteryVoltage)
			return res, nil
		}

		if res.Attempts >= p.cfg.Attempts {
			p.logger.Error("landing attempts exhausted", "device", id, "attempts", res.Attempts)
			return res, &ExhaustedError{Device: id, Attempts: res.Attempts}
		}

		p.logger.Info("charging not detected, retrying", "device", id, "attempt", res.Attempts)

		if err := p.flight.Takeoff(ctx, dev); err != nil {
			if ctx.Err() != nil {
				return res, err
			}
			p.logger.Warn("retry takeoff failed", "device", id, "attempt", res.Attempts, "error", err)
		}
	}
}
