package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/swarmqa/endurance/internal/api"
	"github.com/swarmqa/endurance/internal/config"
	"github.com/swarmqa/endurance/internal/influx"
	"github.com/swarmqa/endurance/internal/logging"
	"github.com/swarmqa/endurance/internal/manifest"
	"github.com/swarmqa/endurance/internal/mission"
	"github.com/swarmqa/endurance/internal/monitor"
	intOtel "github.com/swarmqa/endurance/internal/otel"
	"github.com/swarmqa/endurance/internal/storage"
	"github.com/swarmqa/endurance/internal/telemetry"
	"github.com/swarmqa/endurance/pkg/core"
)

// BuildVersion and BuildDate can be set at build time via ldflags
var (
	BuildVersion string = "0.0.1"
	BuildDate    string = "unknown"

	ExtensionName string = "endurance"
)

// Exit codes
const (
	exitCompleted = 0
	exitAborted   = 1
	exitUsage     = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := pflag.NewFlagSet(ExtensionName, pflag.ContinueOnError)
	fs.SetOutput(stdout)
	configDir := fs.String("config-dir", ".", "directory holding "+config.FileName)
	showVersion := fs.Bool("version", false, "print the version and exit")
	if err := config.BindFlags(fs); err != nil {
		fmt.Fprintln(stdout, err)
		return exitUsage
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitCompleted
		}
		return exitUsage
	}
	if *showVersion {
		fmt.Fprintf(stdout, "%s %s (%s)\n", ExtensionName, BuildVersion, BuildDate)
		return exitCompleted
	}

	configErr := config.Load(*configDir)
	sessionStart := time.Now()

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		fmt.Fprintf(stdout, "failed to create logs directory %s: %v\n", logsDir, err)
		return exitAborted
	}
	logFilePath := logging.LogFilePath(logsDir, ExtensionName, sessionStart)
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		fmt.Fprintf(stdout, "failed to open log file %s: %v\n", logFilePath, err)
		return exitAborted
	}
	defer logFile.Close()

	mctx := mission.NewContext()
	level := config.GetString("logLevel")
	slogManager, otelProvider := setupLogging(logFile, level, mctx)
	logger := slogManager.Logger()
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := slogManager.Flush(flushCtx); err != nil {
			logger.Warn("Failed to flush logs", "error", err)
		}
		if otelProvider != nil {
			if err := otelProvider.Shutdown(flushCtx); err != nil {
				logger.Warn("Failed to shut down OTel provider", "error", err)
			}
		}
	}()

	if configErr != nil {
		logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		logger.Info("Loaded config", "dir", *configDir)
	}
	logger.Info("Starting up", "version", BuildVersion, "buildDate", BuildDate, "logFile", logFilePath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	site, err := manifest.Load(config.GetString("sitesDir"), config.GetString("site"))
	if err != nil {
		logger.Error("Failed to load site manifest", "error", err)
		return exitAborted
	}
	for _, d := range site.Devices {
		logger.Debug("Device loaded", "device", d.String(), "kalman", d.KalmanActive())
	}

	settings, err := missionSettings(site.Name)
	if err != nil {
		logger.Error("Invalid mission configuration", "error", err)
		return exitAborted
	}

	zlog := zerolog.New(logFile).With().Timestamp().Logger()
	backend, err := createStorageBackend(config.GetStorageConfig(), storageDeps{
		Site:         site.Name,
		SessionStart: sessionStart,
		DB:           config.GetDBConfig(),
		API:          config.GetAPIConfig(),
		Logger:       logger,
		DBLogger:     zlog.With().Str("component", "database").Logger(),
	})
	if err != nil {
		logger.Error("Failed to create storage backend", "error", err)
		return exitAborted
	}
	if err := backend.Init(); err != nil {
		logger.Error("Failed to initialize storage backend", "error", err)
		return exitAborted
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("Failed to close storage backend", "error", err)
		}
	}()

	settings.DispatcherLogger = logging.NewDispatcherFileLogger(logFile, level)
	store := telemetry.NewStore()
	opts := []mission.Option{
		mission.WithSettings(settings),
		mission.WithContext(mctx),
		mission.WithLogger(logger),
		mission.WithStore(store),
		mission.WithSinks(backend),
		mission.WithRecorder(backend),
	}

	influxManager := influx.NewManager(
		config.GetInfluxConfig(),
		zlog.With().Str("component", "influx").Logger(),
		filepath.Join(logsDir, fmt.Sprintf("%s_%s.lp.gz", ExtensionName, sessionStart.Format("20060102_150405"))),
		func() string { return currentRunID(mctx) },
	)
	switch err := influxManager.Connect(ctx); {
	case errors.Is(err, influx.ErrDisabled):
		logger.Debug("InfluxDB disabled")
	case err != nil:
		logger.Warn("Failed to set up InfluxDB sink", "error", err)
	default:
		opts = append(opts,
			mission.WithSinks(influxManager),
			mission.WithProgress(func(r *core.IterationReport) {
				if err := influxManager.RecordIteration(r); err != nil {
					logger.Warn("Failed to write iteration to InfluxDB", "error", err)
				}
			}),
		)
		defer func() {
			if err := influxManager.Close(); err != nil {
				logger.Warn("Failed to close InfluxDB manager", "error", err)
			}
		}()
	}

	monitorService, err := startMonitor(ctx, mctx, store, logger)
	if err != nil {
		logger.Warn("Status monitor not started", "error", err)
	} else {
		defer monitorService.Stop()
	}

	fleet, err := connectFleet(ctx, site, config.GetBool("simulate"), logger)
	if err != nil {
		logger.Error("Failed to connect fleet", "error", err)
		return exitAborted
	}

	status := mission.RunMission(ctx, fleet, settings.Mission.MaxIterations, opts...)
	logger.Info("Mission finished",
		"run", status.RunID,
		"outcome", status.Outcome,
		"reason", status.Reason,
		"iterations", status.Iterations,
		"error", status.Err,
	)

	uploadReport(backend, config.GetAPIConfig(), logger)

	if status.Completed() {
		return exitCompleted
	}
	return exitAborted
}

// setupLogging configures the session logger: console, session file, optional
// GELF and OTel outputs, with mission attributes on every record.
func setupLogging(logFile *os.File, level string, mctx *mission.Context) (*logging.SlogManager, *intOtel.Provider) {
	slogManager := logging.NewSlogManager()
	slogManager.Setup(logFile, level, nil, logging.WithConsole())
	logger := slogManager.Logger()

	var provider *intOtel.Provider
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		p, err := intOtel.New(intOtel.Config{
			Enabled:        otelCfg.Enabled,
			ServiceName:    otelCfg.ServiceName,
			BatchTimeout:   otelCfg.BatchTimeout,
			MetricInterval: otelCfg.MetricInterval,
			LogWriter:      logFile,
			MetricWriter:   logFile,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
		})
		if err != nil {
			logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			provider = p
			logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	opts := []logging.Option{logging.WithConsole(), logging.WithContext(mctx.LogAttrs)}
	graylogCfg := config.GetGraylogConfig()
	if graylogCfg.Enabled {
		w, err := gelf.NewWriter(graylogCfg.Address)
		if err != nil {
			logger.Error("Failed to create GELF writer", "address", graylogCfg.Address, "error", err)
		} else {
			opts = append(opts, logging.WithGELF(w))
		}
	}

	var logProvider *sdklog.LoggerProvider
	if provider != nil {
		logProvider = provider.LoggerProvider()
	}
	slogManager.Setup(logFile, level, logProvider, opts...)
	return slogManager, provider
}

func startMonitor(ctx context.Context, mctx *mission.Context, store *telemetry.Store, logger *slog.Logger) (*monitor.Service, error) {
	monitorCfg := config.GetMonitorConfig()
	deps := monitor.Dependencies{
		Context:    mctx,
		States:     store,
		StatusFile: monitorCfg.StatusFile,
		Interval:   monitorCfg.Interval,
		Logger:     logger,
	}

	publisher, err := monitor.NewRedisPublisher(ctx, config.GetRedisConfig())
	switch {
	case errors.Is(err, monitor.ErrRedisDisabled):
	case err != nil:
		logger.Warn("Redis status publisher unavailable", "error", err)
	default:
		deps.Publisher = publisher
	}

	svc, err := monitor.NewService(deps)
	if err != nil {
		return nil, err
	}
	if err := svc.Start(); err != nil {
		return nil, err
	}
	return svc, nil
}

// uploadReport sends the exported report to the results server when the
// backend produced one and a server is configured.
func uploadReport(backend storage.Backend, apiCfg config.APIConfig, logger *slog.Logger) {
	up, ok := backend.(storage.Uploadable)
	if !ok || apiCfg.ServerURL == "" {
		return
	}
	path := up.GetExportedFilePath()
	if path == "" {
		logger.Warn("No exported report to upload")
		return
	}

	var attachments []string
	if tr, ok := backend.(interface{ GetTraceFilePath() string }); ok && tr.GetTraceFilePath() != "" {
		attachments = append(attachments, tr.GetTraceFilePath())
	}

	client := api.New(apiCfg.ServerURL, apiCfg.APIKey)
	if err := client.Healthcheck(); err != nil {
		logger.Warn("Results server not reachable, report kept locally", "path", path, "error", err)
		return
	}
	if err := client.Upload(path, up.GetExportMetadata(), attachments...); err != nil {
		logger.Error("Failed to upload report", "path", path, "error", err)
		return
	}
	logger.Info("Report uploaded", "path", path, "server", apiCfg.ServerURL)
}

func currentRunID(mctx *mission.Context) string {
	if run := mctx.GetRun(); run != nil {
		return run.ID
	}
	return ""
}
