// Package gormstorage implements the storage.Backend interface on top of GORM
// with internal queues and a background DB writer goroutine. The sqlite and
// postgres backends embed it and only differ in how the *gorm.DB is obtained.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swarmqa/endurance/internal/database"
	"github.com/swarmqa/endurance/internal/model"
	"github.com/swarmqa/endurance/internal/model/convert"
	"github.com/swarmqa/endurance/internal/queue"
	"github.com/swarmqa/endurance/pkg/core"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultFlushInterval is how often queued rows are written.
	DefaultFlushInterval = 2 * time.Second
	// DefaultQueueLimit bounds the sample queue while the DB is unavailable.
	DefaultQueueLimit = 100000
)

// ErrNoDB is returned by queries when the backend has no database.
var ErrNoDB = errors.New("no database configured")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Site          string
	Logger        *slog.Logger
	FlushInterval time.Duration
	QueueLimit    int
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Samples    *queue.Queue[model.DeviceSample]
	Iterations *queue.Queue[model.Iteration]
}

func newQueues(limit int) *queues {
	return &queues{
		Samples:    queue.NewBounded[model.DeviceSample](limit),
		Iterations: queue.New[model.Iteration](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps   Dependencies
	log    *slog.Logger
	queues *queues

	runID   atomic.Uint64
	runMu   sync.Mutex
	run     *model.Run
	writeMu sync.Mutex

	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	if deps.QueueLimit <= 0 {
		deps.QueueLimit = DefaultQueueLimit
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		deps: deps,
		log:  log.With("component", "storage"),
	}
}

// SetDB injects the database before Init. Used by backends that connect lazily.
func (b *Backend) SetDB(db *gorm.DB) {
	b.deps.DB = db
}

// DB returns the underlying database, nil when running queue-only.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init creates internal queues, runs schema migration, and starts the DB writer goroutine.
func (b *Backend) Init() error {
	b.queues = newQueues(b.deps.QueueLimit)
	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})

	if b.deps.DB != nil {
		b.log.Info("Migrating schema", "dialect", b.deps.DB.Name())
		if err := database.Setup(b.deps.DB, b.deps.Site); err != nil {
			close(b.done)
			return fmt.Errorf("failed to setup DB: %w", err)
		}
	}

	go b.writeLoop()
	return nil
}

// Close stops the DB writer goroutine and writes anything still queued.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	select {
	case <-b.stopChan:
		return nil
	default:
	}
	close(b.stopChan)
	<-b.done
	return b.Flush()
}

// StartMission inserts the run row. Samples queued before this point are
// attributed to the run on the next flush.
func (b *Backend) StartMission(run *core.MissionRun) error {
	row := convert.CoreToRun(*run)

	b.runMu.Lock()
	b.run = &row
	b.runMu.Unlock()

	if b.deps.DB == nil {
		return nil
	}
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	b.runMu.Lock()
	b.run.ID = row.ID
	b.runMu.Unlock()
	b.runID.Store(uint64(row.ID))
	b.log.Debug("Run row created", "run", run.ID, "id", row.ID)
	return nil
}

// RecordState converts and queues a telemetry sample.
func (b *Backend) RecordState(s *core.TelemetrySample) error {
	if dropped := b.queues.Samples.Push(convert.CoreToDeviceSample(*s)); dropped > 0 {
		b.log.Warn("Sample queue full, dropped oldest", "dropped", dropped)
	}
	return nil
}

// RecordIteration converts and queues an iteration report.
func (b *Backend) RecordIteration(r *core.IterationReport) error {
	b.queues.Iterations.Push(convert.CoreToIteration(*r))
	return nil
}

// EndMission flushes the queues and stores the terminal status on the run row.
func (b *Backend) EndMission(status *core.Status) error {
	if err := b.Flush(); err != nil {
		return err
	}

	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.run == nil {
		return nil
	}
	convert.ApplyStatus(b.run, *status)
	if b.deps.DB == nil {
		return nil
	}
	err := b.deps.DB.Model(&model.Run{}).Where("id = ?", b.run.ID).Updates(map[string]any{
		"end_time":   b.run.EndTime,
		"outcome":    b.run.Outcome,
		"reason":     b.run.Reason,
		"detail":     b.run.Detail,
		"iterations": b.run.Iterations,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// Pending returns the number of queued samples and iterations.
func (b *Backend) Pending() (samples, iterations int) {
	return b.queues.Samples.Len(), b.queues.Iterations.Len()
}

// Flush writes all queued rows. Without a database or a started run it is a no-op.
func (b *Backend) Flush() error {
	if b.deps.DB == nil {
		return nil
	}
	runID := uint(b.runID.Load())
	if runID == 0 {
		return nil
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	err1 := writeQueue(b.deps.DB, b.queues.Samples, "device samples", b.log, func(items []model.DeviceSample) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	err2 := writeQueue(b.deps.DB, b.queues.Iterations, "iterations", b.log, func(items []model.Iteration) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	return errors.Join(err1, err2)
}

// Iterations reads back the iteration reports of the current run.
func (b *Backend) Iterations() ([]core.IterationReport, error) {
	if b.deps.DB == nil {
		return nil, ErrNoDB
	}
	b.runMu.Lock()
	run := b.run
	b.runMu.Unlock()
	if run == nil {
		return nil, nil
	}

	var rows []model.Iteration
	if err := b.deps.DB.Where("run_id = ?", run.ID).Order("number").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.IterationReport, 0, len(rows))
	for _, row := range rows {
		r, err := convert.IterationToCore(row, run.RunUUID)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Trace reads back the stored samples of one device in time order.
func (b *Backend) Trace(device core.DeviceID) ([]core.TelemetrySample, error) {
	if b.deps.DB == nil {
		return nil, ErrNoDB
	}
	var rows []model.DeviceSample
	err := b.deps.DB.Where("run_id = ? AND device = ?", b.runID.Load(), string(device)).
		Order("time").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]core.TelemetrySample, 0, len(rows))
	for _, row := range rows {
		out = append(out, convert.DeviceSampleToCore(row))
	}
	return out, nil
}

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the items go back to the head of the queue.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger, prepare func([]T)) error {
	if q.Empty() {
		return nil
	}

	items := q.GetAndEmpty()
	if prepare != nil {
		prepare(items)
	}

	start := time.Now()
	tx := db.Begin()
	if err := tx.Omit(clause.Associations).Create(&items).Error; err != nil {
		log.Error("Error writing rows", "table", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Requeue(items...)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tx.Commit().Error; err != nil {
		q.Requeue(items...)
		return fmt.Errorf("commit %s: %w", name, err)
	}

	log.Debug("Wrote rows", "table", name, "count", len(items), "duration", time.Since(start))
	return nil
}

// writeLoop periodically drains the queues into the DB until Close.
func (b *Backend) writeLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.Warn("Periodic flush failed", "error", err)
			}
		}
	}
}
