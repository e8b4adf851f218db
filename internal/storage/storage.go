// internal/storage/storage.go
package storage

import "github.com/swarmqa/endurance/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Mission management
	StartMission(run *core.MissionRun) error
	EndMission(status *core.Status) error

	// Recording
	RecordState(s *core.TelemetrySample) error
	RecordIteration(r *core.IterationReport) error
}

// UploadMetadata is the form data sent along with an uploaded report.
type UploadMetadata = core.UploadMetadata

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload to the results server.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() UploadMetadata
}
