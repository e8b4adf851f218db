// internal/storage/memory/memory.go
package memory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/swarmqa/endurance/internal/config"
	"github.com/swarmqa/endurance/internal/storage"
	"github.com/swarmqa/endurance/pkg/core"
)

// Backend stores run data in memory and exports a report when the run ends
type Backend struct {
	cfg    config.MemoryConfig
	log    *slog.Logger
	run    *core.MissionRun
	status *core.Status

	traces     map[core.DeviceID][]core.TelemetrySample
	iterations []core.IterationReport

	lastExportPath string
	lastTracePath  string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:    cfg,
		log:    logger.With("component", "memory"),
		traces: make(map[core.DeviceID][]core.TelemetrySample),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartMission begins recording a new run. Samples received before the first
// run started are kept; a run following a finished one starts empty.
func (b *Backend) StartMission(run *core.MissionRun) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != nil {
		b.traces = make(map[core.DeviceID][]core.TelemetrySample)
		b.lastExportPath = ""
		b.lastTracePath = ""
	}
	b.run = run
	b.status = nil
	b.iterations = nil
	return nil
}

// EndMission stores the terminal status and writes the export files
func (b *Backend) EndMission(status *core.Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status = status
	return b.export()
}

// RecordState appends a sample to its device's trace
func (b *Backend) RecordState(s *core.TelemetrySample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.traces[s.Device] = append(b.traces[s.Device], *s)
	return nil
}

// RecordIteration stores an iteration report
func (b *Backend) RecordIteration(r *core.IterationReport) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.iterations = append(b.iterations, *r)
	return nil
}

// Trace returns a copy of the recorded samples of one device
func (b *Backend) Trace(id core.DeviceID) []core.TelemetrySample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.TelemetrySample, len(b.traces[id]))
	copy(out, b.traces[id])
	return out
}

// Iterations returns a copy of the recorded iteration reports
func (b *Backend) Iterations() []core.IterationReport {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.IterationReport, len(b.iterations))
	copy(out, b.iterations)
	return out
}

// GetExportedFilePath returns the path of the last exported report
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetTraceFilePath returns the path of the last exported CSV position trace
func (b *Backend) GetTraceFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastTracePath
}

// GetExportMetadata returns metadata about the last exported run
func (b *Backend) GetExportMetadata() storage.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var meta storage.UploadMetadata
	if b.run != nil {
		meta.RunID = b.run.ID
		meta.Site = b.run.Site
	}
	if b.status != nil {
		meta.Outcome = string(b.status.Outcome)
		if b.run != nil && b.status.EndTime.After(b.run.StartTime) {
			meta.Duration = b.status.EndTime.Sub(b.run.StartTime).Round(time.Millisecond).Seconds()
		}
	}
	return meta
}
