// Package postgres implements the storage.Backend interface using GORM/PostgreSQL
// with internal queues and a background DB writer goroutine. When postgres is
// unreachable it falls back to an in-memory SQLite database that is dumped to
// disk when the mission ends.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"
	"github.com/swarmqa/endurance/internal/config"
	"github.com/swarmqa/endurance/internal/database"
	gormstorage "github.com/swarmqa/endurance/internal/storage/gorm"
	"github.com/swarmqa/endurance/pkg/core"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the postgres storage backend.
type Dependencies struct {
	// DB is used as-is when set; otherwise Init connects with Config.
	DB           *gorm.DB
	Config       config.DBConfig
	Site         string
	FallbackPath string
	Logger       *slog.Logger
	DBLogger     zerolog.Logger
}

// Backend implements storage.Backend on postgres with queue-based batch writes.
type Backend struct {
	*gormstorage.Backend
	deps    Dependencies
	manager *database.Manager
}

// New creates a new postgres storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:     deps.DB,
			Site:   deps.Site,
			Logger: deps.Logger,
		}),
		deps: deps,
	}
}

// Init connects to the database if none was injected, migrates the schema and
// starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.DB() == nil {
		b.manager = database.NewManager(b.deps.Config, b.deps.FallbackPath, b.deps.DBLogger)
		if err := b.manager.Connect(); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		b.SetDB(b.manager.DB)
	}
	return b.Backend.Init()
}

// Local reports whether the backend fell back to local SQLite.
func (b *Backend) Local() bool {
	return b.manager != nil && b.manager.ShouldSaveLocal
}

// EndMission records the status and dumps the fallback database if in use.
func (b *Backend) EndMission(status *core.Status) error {
	if err := b.Backend.EndMission(status); err != nil {
		return err
	}
	if b.Local() && b.manager.SqliteFilePath != "" {
		return b.manager.DumpMemoryToDisk()
	}
	return nil
}
