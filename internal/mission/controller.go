// Package mission runs the endurance control loop: safety check, charge gate,
// takeoff, land-and-charge, repeated for a bounded number of iterations.
package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmqa/endurance/internal/charge"
	"github.com/swarmqa/endurance/internal/dispatcher"
	"github.com/swarmqa/endurance/internal/landing"
	"github.com/swarmqa/endurance/internal/link"
	"github.com/swarmqa/endurance/internal/util"
	"github.com/swarmqa/endurance/pkg/core"
)

// Dispatch phase names.
const (
	PhasePrepare = "prepare"
	PhaseTakeoff = "takeoff"
	PhaseLanding = "landing"
)

// Parameter written to every device before the first iteration.
const (
	highLevelParam = "commander.enHighLevel"
	highLevelOn    = "1"
)

// Config holds the controller timings.
type Config struct {
	Site          string
	MaxIterations int

	ChargeBackoff       time.Duration
	InterIterationDelay time.Duration
	TakeoffSettle       time.Duration
	TelemetryTimeout    time.Duration
	TelemetryPoll       time.Duration
}

// DefaultConfig returns the timings of the bench harness.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       50,
		ChargeBackoff:       15 * time.Second,
		InterIterationDelay: 30 * time.Second,
		TakeoffSettle:       2 * time.Second,
		TelemetryTimeout:    10 * time.Second,
		TelemetryPoll:       100 * time.Millisecond,
	}
}

// StateSource is the read side of the telemetry store.
type StateSource interface {
	Snapshot() core.FleetSnapshot
	Latest(id core.DeviceID) (core.DeviceState, bool)
}

// Flight issues takeoff commands.
type Flight interface {
	Takeoff(ctx context.Context, dev link.Device) error
}

// Lander runs the landing retry policy for one device.
type Lander interface {
	LandAndCharge(ctx context.Context, dev link.Device, target core.Position) (landing.Result, error)
}

// Recorder persists mission results. Errors are logged and never end a mission.
type Recorder interface {
	StartMission(run *core.MissionRun) error
	RecordIteration(report *core.IterationReport) error
	EndMission(status *core.Status) error
}

// ProgressFunc is called after every flown iteration, also a failed one.
type ProgressFunc func(report *core.IterationReport)

// Deps are the collaborators of a Controller. Recorder, Progress, Context
// and Logger are optional.
type Deps struct {
	Fleet      link.Fleet
	States     StateSource
	Dispatcher *dispatcher.Dispatcher
	Gate       *charge.Gate
	Flight     Flight
	Landing    Lander

	Recorder Recorder
	Progress ProgressFunc
	Context  *Context
	Logger   *slog.Logger
}

// Controller is the mission state machine.
type Controller struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	mctx *Context
}

// NewController validates deps and creates a Controller.
func NewController(cfg Config, deps Deps) (*Controller, error) {
	switch {
	case deps.Fleet == nil:
		return nil, errors.New("mission: fleet is required")
	case deps.States == nil:
		return nil, errors.New("mission: state source is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("mission: dispatcher is required")
	case deps.Gate == nil:
		return nil, errors.New("mission: charge gate is required")
	case deps.Flight == nil:
		return nil, errors.New("mission: flight procedures are required")
	case deps.Landing == nil:
		return nil, errors.New("mission: landing policy is required")
	}
	if cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("mission: invalid iteration budget %d", cfg.MaxIterations)
	}
	if cfg.TelemetryPoll <= 0 {
		cfg.TelemetryPoll = DefaultConfig().TelemetryPoll
	}

	c := &Controller{cfg: cfg, deps: deps, log: deps.Logger, mctx: deps.Context}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.mctx == nil {
		c.mctx = NewContext()
	}
	return c, nil
}

// Context returns the mission context updated by the controller.
func (c *Controller) Context() *Context {
	return c.mctx
}

// Run executes the mission until the iteration budget is spent, an abort
// condition occurs or ctx is cancelled. Cancellation is observed while the
// controller waits; commands already dispatched run to completion, so a fleet
// that took off is always landed before Run returns.
func (c *Controller) Run(ctx context.Context) (status core.Status) {
	devices := c.deps.Fleet.Devices()
	run := &core.MissionRun{
		ID:            uuid.NewString(),
		Site:          c.cfg.Site,
		StartTime:     time.Now(),
		MaxIterations: c.cfg.MaxIterations,
		Devices:       link.IDs(devices),
	}
	c.mctx.SetRun(run)
	status.RunID = run.ID

	if c.deps.Recorder != nil {
		if err := c.deps.Recorder.StartMission(run); err != nil {
			c.log.Error("Failed to record mission start", "error", err)
		}
	}
	c.log.Info("Mission started", "run", run.ID, "site", run.Site,
		"devices", len(devices), "maxIterations", run.MaxIterations)

	defer func() {
		status.EndTime = time.Now()
		if status.Outcome == core.OutcomeCompleted {
			c.mctx.SetState(core.StateCompleted)
			c.log.Info("Mission completed", "iterations", status.Iterations)
		} else {
			c.mctx.SetState(core.StateAborted)
			c.log.Error("Mission aborted", "reason", status.Reason, "detail", status.Detail,
				"iterations", status.Iterations, "error", status.Err)
		}
		if c.deps.Recorder != nil {
			if err := c.deps.Recorder.EndMission(&status); err != nil {
				c.log.Error("Failed to record mission end", "error", err)
			}
		}
	}()

	abort := func(reason, detail string, err error) core.Status {
		status.Outcome = core.OutcomeAborted
		status.Reason = reason
		status.Detail = detail
		status.Err = err
		return status
	}
	cancelled := func(err error) core.Status {
		return abort(core.ReasonCancelled, "", err)
	}

	// Device commands never observe cancellation.
	opCtx := context.WithoutCancel(ctx)

	if err := c.prepare(opCtx, devices); err != nil {
		return abort(core.ReasonPrepareFailed, "", err)
	}

	ready, err := c.waitForTelemetry(ctx, run.Devices)
	if err != nil {
		return cancelled(err)
	}
	if !ready {
		missing := c.deps.States.Snapshot().Missing(run.Devices)
		return abort(core.ReasonNoTelemetry, joinIDs(missing), nil)
	}

	for status.Iterations < c.cfg.MaxIterations {
		c.mctx.SetState(core.StateIdle)
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		snap := c.deps.States.Snapshot()
		if tumbled := snap.Tumbled(); len(tumbled) > 0 {
			c.log.Error("Device tumbled", "devices", tumbled)
			return abort(core.ReasonTumbled, joinIDs(tumbled), nil)
		}

		if !c.deps.Gate.AllowedToFly(snap) {
			c.mctx.SetState(core.StateChargeWait)
			c.log.Info("Charge gate closed, backing off", "backoff", c.cfg.ChargeBackoff)
			if err := util.Sleep(ctx, c.cfg.ChargeBackoff); err != nil {
				return cancelled(err)
			}
			continue
		}

		n := status.Iterations + 1
		c.mctx.SetIteration(n)
		c.log.Info("Iteration started", "iteration", n)

		report, land, err := c.iterate(opCtx, run.ID, n, devices)
		if report != nil {
			c.publish(report)
		}
		if err != nil {
			if report == nil {
				var mp *MissingPositionsError
				if errors.As(err, &mp) {
					return abort(core.ReasonPositions, joinIDs(mp.Devices), err)
				}
				return abort(core.ReasonPositions, "", err)
			}
			if exhausted := exhaustedLanding(land); exhausted != nil {
				return abort(core.ReasonLandingExhausted, failedDevices(report), exhausted)
			}
			return abort(core.ReasonLandingFailed, failedDevices(report), err)
		}

		status.Iterations = n
		if status.Iterations >= c.cfg.MaxIterations {
			break
		}
		if err := util.Sleep(ctx, c.cfg.InterIterationDelay); err != nil {
			return cancelled(err)
		}
	}

	status.Outcome = core.OutcomeCompleted
	return status
}

// prepare enables the high level commander and resets the estimators.
func (c *Controller) prepare(ctx context.Context, devices []link.Device) error {
	_, err := c.deps.Dispatcher.RunForAll(ctx, PhasePrepare, devices, func(ctx context.Context, dev link.Device) error {
		if ps, ok := dev.(link.ParamSetter); ok {
			if err := ps.SetParam(ctx, highLevelParam, highLevelOn); err != nil {
				return fmt.Errorf("set %s: %w", highLevelParam, err)
			}
		}
		if er, ok := dev.(link.EstimatorResetter); ok {
			if err := er.ResetEstimator(ctx); err != nil {
				return fmt.Errorf("reset estimator: %w", err)
			}
		}
		return nil
	})
	return err
}

func (c *Controller) waitForTelemetry(ctx context.Context, ids []core.DeviceID) (bool, error) {
	return util.Poll(ctx, c.cfg.TelemetryPoll, c.cfg.TelemetryTimeout, func() bool {
		return len(c.deps.States.Snapshot().Missing(ids)) == 0
	})
}

// MissingPositionsError is returned when the position estimate does not
// cover every device of the fleet.
type MissingPositionsError struct {
	Devices []core.DeviceID
}

func (e *MissingPositionsError) Error() string {
	return "no position estimate for " + joinIDs(e.Devices)
}

// iterate flies one iteration. A nil report means nothing was commanded.
// The landing phase result is returned whenever a report is.
func (c *Controller) iterate(ctx context.Context, runID string, n int, devices []link.Device) (*core.IterationReport, *dispatcher.Result, error) {
	report := &core.IterationReport{RunID: runID, Iteration: n, StartTime: time.Now()}

	positions, err := c.deps.Fleet.EstimatePositions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("estimate positions: %w", err)
	}
	var missing []core.DeviceID
	for _, dev := range devices {
		if _, ok := positions[dev.ID()]; !ok {
			missing = append(missing, dev.ID())
		}
	}
	if len(missing) > 0 {
		return nil, nil, &MissingPositionsError{Devices: missing}
	}

	c.mctx.SetState(core.StateFlying)
	takeoff, err := c.deps.Dispatcher.RunForAll(ctx, PhaseTakeoff, devices, c.deps.Flight.Takeoff)
	if err != nil {
		c.log.Warn("Takeoff phase reported failures", "error", err)
	}

	// Settle on the command clock; the takeoff is already in flight.
	time.Sleep(c.cfg.TakeoffSettle)

	flying := c.deps.States.Snapshot()
	for _, dev := range devices {
		if !flying[dev.ID()].IsFlying {
			c.log.Warn("Device is not flying", "device", dev.ID())
		}
	}

	c.mctx.SetState(core.StateLanding)
	var (
		mu      sync.Mutex
		results = make(map[core.DeviceID]landing.Result, len(devices))
	)
	land, landErr := c.deps.Dispatcher.RunForAll(ctx, PhaseLanding, devices,
		dispatcher.WithArgs(positions, func(ctx context.Context, dev link.Device, target core.Position) error {
			res, err := c.deps.Landing.LandAndCharge(ctx, dev, target)
			mu.Lock()
			results[dev.ID()] = res
			mu.Unlock()
			return err
		}))

	for _, dev := range devices {
		id := dev.ID()
		latest, _ := c.deps.States.Latest(id)
		dr := core.DeviceReport{
			Device:          id,
			Target:          positions[id],
			Flying:          flying[id].IsFlying,
			AlreadyLanded:   results[id].AlreadyLanded,
			Charging:        latest.IsCharging,
			LandingAttempts: results[id].Attempts,
		}
		if err := takeoff.Errors[id]; err != nil {
			dr.TakeoffError = err.Error()
		}
		if err := land.Errors[id]; err != nil {
			dr.LandingError = err.Error()
		}
		report.Devices = append(report.Devices, dr)
	}
	report.EndTime = time.Now()
	report.Successful = landErr == nil

	return report, land, landErr
}

// exhaustedLanding returns the landing failure of the first device, in id
// order, whose retries were exhausted.
func exhaustedLanding(land *dispatcher.Result) error {
	if land == nil {
		return nil
	}
	ids := make([]core.DeviceID, 0, len(land.Errors))
	for id := range land.Errors {
		ids = append(ids, id)
	}
	core.SortIDs(ids)
	for _, id := range ids {
		if err := land.Errors[id]; errors.Is(err, landing.ErrLandingExhausted) {
			return &dispatcher.DeviceError{Device: id, Phase: land.Phase, Err: err}
		}
	}
	return nil
}

func (c *Controller) publish(report *core.IterationReport) {
	for _, dr := range report.Devices {
		c.log.Info("Device outcome", "iteration", report.Iteration, "device", dr.Device,
			"flying", dr.Flying, "charging", dr.Charging, "attempts", dr.LandingAttempts,
			"alreadyLanded", dr.AlreadyLanded)
	}
	if c.deps.Recorder != nil {
		if err := c.deps.Recorder.RecordIteration(report); err != nil {
			c.log.Error("Failed to record iteration", "iteration", report.Iteration, "error", err)
		}
	}
	if c.deps.Progress != nil {
		c.deps.Progress(report)
	}
}

func failedDevices(report *core.IterationReport) string {
	var ids []core.DeviceID
	for _, dr := range report.Devices {
		if dr.LandingError != "" {
			ids = append(ids, dr.Device)
		}
	}
	return joinIDs(ids)
}

func joinIDs(ids []core.DeviceID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, ",")
}
