package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmqa/endurance/internal/link"
	"github.com/swarmqa/endurance/pkg/core"
)

// DefaultBufferSize is the per-device inbox size.
const DefaultBufferSize = 64

// Sink receives every decoded sample after the store has been updated.
type Sink interface {
	RecordState(s *core.TelemetrySample) error
}

type rawSample struct {
	ts     time.Time
	values map[string]float64
}

// Receiver runs one goroutine per device that decodes incoming samples and
// publishes them into the Store. Transport callbacks only hand samples to the
// device's inbox, so a slow sink never stalls the radio side.
type Receiver struct {
	store      *Store
	logger     *slog.Logger
	bufferSize int
	sinks      []Sink

	mu      sync.RWMutex
	inboxes map[core.DeviceID]chan rawSample
	stops   []func()
	closed  bool
	wg      sync.WaitGroup

	received metric.Int64Counter
	dropped  metric.Int64Counter
	invalid  metric.Int64Counter
}

// NewReceiver creates a receiver publishing into store.
// Uses the global OTel meter for metrics (no-op if not configured).
func NewReceiver(store *Store, logger *slog.Logger, bufferSize int, sinks ...Sink) (*Receiver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	r := &Receiver{
		store:      store,
		logger:     logger,
		bufferSize: bufferSize,
		inboxes:    make(map[core.DeviceID]chan rawSample),
	}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}

	m := meter()
	var err error

	r.received, err = m.Int64Counter(
		"telemetry.samples.received",
		metric.WithDescription("Telemetry samples applied to the store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating received counter: %w", err)
	}

	r.dropped, err = m.Int64Counter(
		"telemetry.samples.dropped",
		metric.WithDescription("Telemetry samples dropped because a device inbox was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	r.invalid, err = m.Int64Counter(
		"telemetry.samples.invalid",
		metric.WithDescription("Telemetry samples that could not be decoded"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating invalid counter: %w", err)
	}

	return r, nil
}

// Attach starts the receiver task for dev and subscribes to its state log.
func (r *Receiver) Attach(dev link.Device, period time.Duration) error {
	id := dev.ID()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("receiver closed")
	}
	if _, ok := r.inboxes[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("device %s already attached", id)
	}
	inbox := make(chan rawSample, r.bufferSize)
	r.inboxes[id] = inbox
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(id, inbox)

	stop, err := dev.SubscribeTelemetry(Variables, period, r.Deliver)
	if err != nil {
		return fmt.Errorf("subscribing telemetry for %s: %w", id, err)
	}

	r.mu.Lock()
	if r.closed {
		// Close already ran its stops; this subscription is ours to end.
		r.mu.Unlock()
		if stop != nil {
			stop()
		}
		return fmt.Errorf("receiver closed")
	}
	r.stops = append(r.stops, stop)
	r.mu.Unlock()

	r.logger.Debug("telemetry attached", "device", id, "period", period)
	return nil
}

// Deliver hands one sample to the source device's inbox. It never blocks:
// when the inbox is full the oldest queued sample is discarded, since only
// the newest state matters.
func (r *Receiver) Deliver(ts time.Time, values map[string]float64, source core.DeviceID) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	inbox, ok := r.inboxes[source]
	if !ok {
		r.invalid.Add(context.Background(), 1, metric.WithAttributes(attribute.String("device", string(source))))
		return
	}

	s := rawSample{ts: ts, values: values}
	select {
	case inbox <- s:
		return
	default:
	}

	select {
	case <-inbox:
		r.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("device", string(source))))
	default:
	}
	select {
	case inbox <- s:
	default:
		r.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("device", string(source))))
	}
}

func (r *Receiver) run(id core.DeviceID, inbox <-chan rawSample) {
	defer r.wg.Done()

	devAttr := metric.WithAttributes(attribute.String("device", string(id)))

	for raw := range inbox {
		state, err := Decode(raw.ts, raw.values)
		if err != nil {
			r.invalid.Add(context.Background(), 1, devAttr)
			r.logger.Warn("dropping telemetry sample", "device", id, "error", err)
			continue
		}

		r.store.Update(id, state)
		r.received.Add(context.Background(), 1, devAttr)

		sample := &core.TelemetrySample{Device: id, Time: raw.ts, State: state}
		for _, sink := range r.sinks {
			if err := sink.RecordState(sample); err != nil {
				r.logger.Debug("telemetry sink failed", "device", id, "error", err)
			}
		}
	}
}

// Close stops every subscription and waits for the receiver tasks to drain.
func (r *Receiver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	stops := r.stops
	r.stops = nil
	r.mu.Unlock()

	for _, stop := range stops {
		if stop != nil {
			stop()
		}
	}

	r.mu.Lock()
	for _, inbox := range r.inboxes {
		close(inbox)
	}
	r.mu.Unlock()

	r.wg.Wait()
}
