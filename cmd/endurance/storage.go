package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmqa/endurance/internal/config"
	"github.com/swarmqa/endurance/internal/storage"
	"github.com/swarmqa/endurance/internal/storage/memory"
	pgstorage "github.com/swarmqa/endurance/internal/storage/postgres"
	sqlitestorage "github.com/swarmqa/endurance/internal/storage/sqlite"
	wsstorage "github.com/swarmqa/endurance/internal/storage/websocket"
)

// storageDeps is what createStorageBackend needs besides the storage config.
type storageDeps struct {
	Site         string
	SessionStart time.Time
	DB           config.DBConfig
	API          config.APIConfig
	Logger       *slog.Logger
	DBLogger     zerolog.Logger
}

func createStorageBackend(storageCfg config.StorageConfig, deps storageDeps) (storage.Backend, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stamp := deps.SessionStart.Format("20060102_150405")

	switch storageCfg.Type {
	case "postgres":
		logger.Info("Postgres storage backend initialized", "host", deps.DB.Host, "database", deps.DB.Database)
		return pgstorage.New(pgstorage.Dependencies{
			Config:       deps.DB,
			Site:         deps.Site,
			FallbackPath: filepath.Join(storageCfg.SQLite.OutputDir, fmt.Sprintf("%s_%s_fallback.db", ExtensionName, stamp)),
			Logger:       logger,
			DBLogger:     deps.DBLogger,
		}), nil

	case "sqlite":
		dumpPath := filepath.Join(storageCfg.SQLite.OutputDir, fmt.Sprintf("%s_%s.db", ExtensionName, stamp))
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			Site:         deps.Site,
			DumpInterval: storageCfg.SQLite.DumpInterval,
			DumpPath:     dumpPath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		logger.Info("SQLite storage backend initialized", "dumpPath", dumpPath)
		return backend, nil

	case "websocket":
		wsURL := storageCfg.WebSocket.URL
		if wsURL == "" {
			if deps.API.ServerURL == "" {
				return nil, fmt.Errorf("websocket storage needs storage.websocket.url or api.serverUrl")
			}
			wsURL = httpToWS(deps.API.ServerURL) + "/api"
		}
		secret := storageCfg.WebSocket.Secret
		if secret == "" {
			secret = deps.API.APIKey
		}
		logger.Info("WebSocket storage backend initialized", "url", wsURL)
		return wsstorage.New(wsstorage.Config{
			URL:    wsURL,
			Secret: secret,
		}, logger), nil

	case "memory", "":
		logger.Info("Memory storage backend initialized", "outputDir", storageCfg.Memory.OutputDir)
		return memory.New(storageCfg.Memory, logger), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
