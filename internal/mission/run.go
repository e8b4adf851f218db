package mission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/swarmqa/endurance/internal/charge"
	"github.com/swarmqa/endurance/internal/dispatcher"
	"github.com/swarmqa/endurance/internal/flight"
	"github.com/swarmqa/endurance/internal/landing"
	"github.com/swarmqa/endurance/internal/link"
	"github.com/swarmqa/endurance/internal/telemetry"
	"github.com/swarmqa/endurance/pkg/core"
)

// Settings collects everything RunMission assembles a Controller from.
type Settings struct {
	Mission Config
	Flight  flight.Config
	Landing landing.Config

	StopVoltage   float64
	ResumeVoltage float64

	TelemetryPeriod time.Duration
	TelemetryBuffer int

	Aggregator       dispatcher.Aggregator
	DispatcherLogger dispatcher.Logger

	Store    *telemetry.Store
	Sinks    []telemetry.Sink
	Recorder Recorder
	Progress ProgressFunc
	Context  *Context
	Logger   *slog.Logger
}

// DefaultSettings returns the bench harness defaults.
func DefaultSettings() Settings {
	return Settings{
		Mission:         DefaultConfig(),
		Flight:          flight.DefaultConfig(),
		Landing:         landing.Config{Attempts: landing.DefaultAttempts, VerifyDelay: 2 * time.Second},
		StopVoltage:     charge.DefaultStopVoltage,
		ResumeVoltage:   charge.DefaultResumeVoltage,
		TelemetryPeriod: 500 * time.Millisecond,
		TelemetryBuffer: telemetry.DefaultBufferSize,
		Aggregator:      dispatcher.FirstError,
	}
}

// Option adjusts Settings.
type Option func(*Settings)

// WithSettings replaces all settings.
func WithSettings(s Settings) Option {
	return func(dst *Settings) { *dst = s }
}

// WithStore publishes telemetry into an existing store.
func WithStore(store *telemetry.Store) Option {
	return func(s *Settings) { s.Store = store }
}

// WithSinks forwards every decoded sample to sinks.
func WithSinks(sinks ...telemetry.Sink) Option {
	return func(s *Settings) { s.Sinks = append(s.Sinks, sinks...) }
}

// WithRecorder records mission results.
func WithRecorder(r Recorder) Option {
	return func(s *Settings) { s.Recorder = r }
}

// WithProgress registers the per-iteration progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Settings) { s.Progress = fn }
}

// WithContext shares a mission context with log handlers or monitors.
func WithContext(mctx *Context) Option {
	return func(s *Settings) { s.Context = mctx }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Settings) { s.Logger = l }
}

// WithAggregator selects how dispatch failures are reported.
func WithAggregator(a dispatcher.Aggregator) Option {
	return func(s *Settings) { s.Aggregator = a }
}

// RunMission flies fleet for at most maxIterations iterations and returns the
// terminal status. The fleet is closed before RunMission returns.
func RunMission(ctx context.Context, fleet link.Fleet, maxIterations int, opts ...Option) core.Status {
	s := DefaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	s.Mission.MaxIterations = maxIterations
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	logger := s.Logger

	defer func() {
		if err := fleet.Close(); err != nil {
			logger.Warn("Failed to close fleet", "error", err)
		}
	}()

	fail := func(err error) core.Status {
		logger.Error("Mission setup failed", "error", err)
		return core.Status{
			Outcome: core.OutcomeAborted,
			Reason:  core.ReasonPrepareFailed,
			Err:     err,
			EndTime: time.Now(),
		}
	}

	store := s.Store
	if store == nil {
		store = telemetry.NewStore()
	}

	receiver, err := telemetry.NewReceiver(store, logger, s.TelemetryBuffer, s.Sinks...)
	if err != nil {
		return fail(fmt.Errorf("create receiver: %w", err))
	}
	defer receiver.Close()

	for _, dev := range fleet.Devices() {
		if err := receiver.Attach(dev, s.TelemetryPeriod); err != nil {
			return fail(fmt.Errorf("attach telemetry: %w", err))
		}
	}

	dlog := s.DispatcherLogger
	if dlog == nil {
		dlog = logger
	}
	disp, err := dispatcher.New(dlog, dispatcher.WithAggregator(s.Aggregator), dispatcher.Logged())
	if err != nil {
		return fail(fmt.Errorf("create dispatcher: %w", err))
	}

	procedures := flight.New(s.Flight, logger)
	ctrl, err := NewController(s.Mission, Deps{
		Fleet:      fleet,
		States:     store,
		Dispatcher: disp,
		Gate:       charge.New(s.StopVoltage, s.ResumeVoltage, logger),
		Flight:     procedures,
		Landing:    landing.New(s.Landing, procedures, store, logger),
		Recorder:   s.Recorder,
		Progress:   s.Progress,
		Context:    s.Context,
		Logger:     logger,
	})
	if err != nil {
		return fail(err)
	}

	return ctrl.Run(ctx)
}
