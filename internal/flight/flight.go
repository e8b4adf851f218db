// Package flight holds the motion procedures issued to a single device:
// takeoff and return-and-land. Every command is sent several times in a row
// because the radio link drops packets.
package flight

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

// Config holds heights, durations and settle times of the procedures.
type Config struct {
	Redundancy int

	TakeoffHeight   float64
	TakeoffDuration time.Duration
	TakeoffSettle   time.Duration

	ReturnHeight   float64
	ReturnDuration time.Duration
	ReturnSettle   time.Duration

	LandHeight   float64
	LandDuration time.Duration
	LandSettle   time.Duration
}

// DefaultConfig returns the procedure parameters used on the test bench.
func DefaultConfig() Config {
	return Config{
		Redundancy:      5,
		TakeoffHeight:   0.6,
		TakeoffDuration: 2 * time.Second,
		TakeoffSettle:   3 * time.Second,
		ReturnHeight:    0.1,
		ReturnDuration:  5 * time.Second,
		ReturnSettle:    6 * time.Second,
		LandHeight:      0,
		LandDuration:    time.Second,
		LandSettle:      1500 * time.Millisecond,
	}
}

// Procedures issues redundant motion commands to devices.
type Procedures struct {
	cfg    Config
	logger *slog.Logger
}

// New creates Procedures. A non-positive redundancy sends each command once.
func New(cfg Config, logger *slog.Logger) *Procedures {
	if cfg.Redundancy < 1 {
		cfg.Redundancy = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Procedures{cfg: cfg, logger: logger}
}

// Config returns the effective configuration.
func (p *Procedures) Config() Config {
	return p.cfg
}

// Takeoff commands dev to the takeoff height and waits for it to settle.
func (p *Procedures) Takeoff(ctx context.Context, dev link.Device) error {
	err := p.repeat(dev, "takeoff", func() error {
		return dev.Takeoff(ctx, p.cfg.TakeoffHeight, p.cfg.TakeoffDuration)
	})
	if err != nil {
		return err
	}
	return util.Sleep(ctx, p.cfg.TakeoffSettle)
}

// ReturnAndLand flies dev above target, lands it and waits for it to settle.
func (p *Procedures) ReturnAndLand(ctx context.Context, dev link.Device, target core.Position) error {
	err := p.repeat(dev, "go_to", func() error {
		return dev.GoTo(ctx, target.X, target.Y, p.cfg.ReturnHeight, 0, p.cfg.ReturnDuration)
	})
	if err != nil {
		return err
	}
	if err := util.Sleep(ctx, p.cfg.ReturnSettle); err != nil {
		return err
	}

	err = p.repeat(dev, "land", func() error {
		return dev.Land(ctx, p.cfg.LandHeight, p.cfg.LandDuration)
	})
	if err != nil {
		return err
	}
	return util.Sleep(ctx, p.cfg.LandSettle)
}

// repeat sends a command Redundancy times. It fails only when every send failed.
func (p *Procedures) repeat(dev link.Device, command string, send func() error) error {
	var errs []error
	for i := 0; i < p.cfg.Redundancy; i++ {
		if err := send(); err != nil {
			errs = append(errs, err)
		}
	}

	switch {
	case len(errs) == 0:
		return nil
	case len(errs) < p.cfg.Redundancy:
		p.logger.Debug("command partially failed", "device", dev.ID(), "command", command,
			"failed", len(errs), "sent", p.cfg.Redundancy, "error", errs[0])
		return nil
	default:
		return fmt.Errorf("%s: all %d sends failed: %w", command, p.cfg.Redundancy, errors.Join(errs...))
	}
}
