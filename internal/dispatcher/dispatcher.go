// Package dispatcher runs one operation per device concurrently and joins
// them before returning.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmqa/endurance/internal/link"
	"github.com/swarmqa/endurance/pkg/core"
)

// ErrMissingArgument is returned by a WithArgs op when a device has no argument.
var ErrMissingArgument = errors.New("missing per-device argument")

// Op is the per-device operation of one dispatch phase.
type Op func(ctx context.Context, dev link.Device) error

// WithArgs adapts fn into an Op that receives the device's entry in args.
func WithArgs[T any](args map[core.DeviceID]T, fn func(ctx context.Context, dev link.Device, arg T) error) Op {
	return func(ctx context.Context, dev link.Device) error {
		arg, ok := args[dev.ID()]
		if !ok {
			return fmt.Errorf("%w for %s", ErrMissingArgument, dev.ID())
		}
		return fn(ctx, dev, arg)
	}
}

// DeviceError is a failure of one device's operation within a phase.
type DeviceError struct {
	Device core.DeviceID
	Phase  string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Aggregator turns the failures of a phase, in completion order, into the
// error returned to the caller. It is only called with at least one failure.
type Aggregator func(errs []*DeviceError) error

// FirstError reports the first failure to complete and drops the rest.
func FirstError(errs []*DeviceError) error {
	return errs[0]
}

// JoinErrors reports every failure.
func JoinErrors(errs []*DeviceError) error {
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a Dispatcher.
type Option func(*config)

type config struct {
	aggregate Aggregator
	logged    bool
}

// WithAggregator replaces the default FirstError aggregation.
func WithAggregator(a Aggregator) Option {
	return func(c *config) {
		if a != nil {
			c.aggregate = a
		}
	}
}

// Logged adds per-device debug logging.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Result describes one finished dispatch phase.
type Result struct {
	Phase    string
	Started  int
	Errors   map[core.DeviceID]error
	Duration time.Duration
}

// Failed reports whether the device's op failed.
func (r *Result) Failed(id core.DeviceID) bool {
	_, ok := r.Errors[id]
	return ok
}

// Dispatcher fans an Op out to every device.
// Siblings are never cancelled when one device fails.
type Dispatcher struct {
	cfg    config
	logger Logger

	// OTEL metrics
	ops      metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger, opts ...Option) (*Dispatcher, error) {
	cfg := config{aggregate: FirstError}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Dispatcher{
		cfg:    cfg,
		logger: logger,
	}

	m := meter()

	var err error

	d.ops, err = m.Int64Counter(
		"fleet.dispatch.ops",
		metric.WithDescription("Per-device operations started"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ops counter: %w", err)
	}

	d.failures, err = m.Int64Counter(
		"fleet.dispatch.failures",
		metric.WithDescription("Per-device operations that returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}

	d.duration, err = m.Float64Histogram(
		"fleet.dispatch.duration",
		metric.WithDescription("Wall time of a whole dispatch phase"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return d, nil
}

// RunForAll starts op once per device, waits for every one of them to return
// and then reports the aggregated failure, if any. The Result is always
// returned, also on failure.
func (d *Dispatcher) RunForAll(ctx context.Context, phase string, devices []link.Device, op Op) (*Result, error) {
	start := time.Now()
	phaseAttr := metric.WithAttributes(attribute.String("phase", phase))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []*DeviceError
	)

	for _, dev := range devices {
		wg.Add(1)
		d.ops.Add(ctx, 1, phaseAttr)

		go func(dev link.Device) {
			defer wg.Done()

			if err := d.call(ctx, phase, dev, op); err != nil {
				d.failures.Add(ctx, 1, phaseAttr)
				mu.Lock()
				errs = append(errs, &DeviceError{Device: dev.ID(), Phase: phase, Err: err})
				mu.Unlock()
			}
		}(dev)
	}

	wg.Wait()

	res := &Result{
		Phase:    phase,
		Started:  len(devices),
		Errors:   make(map[core.DeviceID]error, len(errs)),
		Duration: time.Since(start),
	}
	for _, e := range errs {
		res.Errors[e.Device] = e.Err
	}
	d.duration.Record(ctx, res.Duration.Seconds(), phaseAttr)

	if len(errs) == 0 {
		return res, nil
	}
	return res, d.cfg.aggregate(errs)
}

func (d *Dispatcher) call(ctx context.Context, phase string, dev link.Device, op Op) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if !d.cfg.logged || d.logger == nil {
		return op(ctx, dev)
	}

	start := time.Now()
	d.logger.Debug("dispatching", "phase", phase, "device", dev.ID())

	err = op(ctx, dev)

	if err != nil {
		d.logger.Error("device op failed", "phase", phase, "device", dev.ID(), "duration", time.Since(start), "error", err)
	} else {
		d.logger.Debug("device op complete", "phase", phase, "device", dev.ID(), "duration", time.Since(start))
	}
	return err
}
