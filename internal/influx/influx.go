package influx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/swarmqa/endurance/internal/config"
	"github.com/swarmqa/endurance/pkg/core"
)

// Measurement names written by the manager.
const (
	MeasurementDeviceState = "device_state"
	MeasurementIteration   = "iteration"
)

// ErrDisabled is returned by Connect when influx.enabled is false.
var ErrDisabled = errors.New("influx is disabled")

const pingTimeout = 5 * time.Second

// Manager handles InfluxDB connections and writes. When the server is not
// reachable every point goes to a gzipped line-protocol backup file instead.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	runID      func() string
	backupFile *os.File
	mu         sync.Mutex
}

// NewManager creates a new InfluxDB manager. runID, if set, supplies the
// "run" tag of every point.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string, runID func() string) *Manager {
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "endurance"
	}
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		IsValid:     false,
		BucketNames: []string{bucket},
		Logger:      log,
		BackupPath:  backupPath,
		cfg:         cfg,
		runID:       runID,
	}
}

// URL returns the server address built from the configuration.
func (m *Manager) URL() string {
	return fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port)
}

// Connect establishes a connection to InfluxDB, falling back to the backup file.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.URL(),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	running, err := m.Client.Ping(pingCtx)
	cancel()

	if err != nil || !running {
		m.IsValid = false
		m.Logger.Info().Err(err).Str("backupPath", m.BackupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		if err := m.openBackup(); err != nil {
			return err
		}
		return nil
	}

	if err := m.setupOrganizationAndBuckets(ctx); err != nil {
		return err
	}
	m.IsValid = true
	m.CreateWriters()
	m.Logger.Info().Str("url", m.URL()).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if m.BackupWriter != nil {
		return nil
	}
	if m.BackupPath == "" {
		return errors.New("influx backup path not set")
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBuckets(ctx context.Context) error {
	orgName := m.cfg.Org

	// ensure org exists
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// ensure buckets exist with 90 day retention
	for _, bucket := range m.BucketNames {
		if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 90, // 90 days
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
			return err
		}
	}

	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		m.Logger.Trace().Str("bucket", bucket).Msg("Creating InfluxDB writer")
		m.Writers[bucket] = m.Client.WriteAPI(m.cfg.Org, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)
	}

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if !strings.HasSuffix(lineProtocol, "\n") {
		lineProtocol += "\n"
	}
	if _, err := m.BackupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

func (m *Manager) bucket() string {
	return m.BucketNames[0]
}

func (m *Manager) currentRun() string {
	if m.runID == nil {
		return ""
	}
	return m.runID()
}

// RecordState writes one telemetry sample as a device_state point.
func (m *Manager) RecordState(s *core.TelemetrySample) error {
	return m.WritePoint(m.bucket(), StatePoint(s, m.currentRun()))
}

// RecordIteration writes one iteration report as an iteration point.
func (m *Manager) RecordIteration(r *core.IterationReport) error {
	return m.WritePoint(m.bucket(), IterationPoint(r))
}

// Close flushes pending writes and closes the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	var errs []error
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	m.IsValid = false
	return errors.Join(errs...)
}

// StatePoint converts a telemetry sample to a point tagged with device and run.
func StatePoint(s *core.TelemetrySample, runID string) *influxdb2_write.Point {
	tags := map[string]string{"device": string(s.Device)}
	if runID != "" {
		tags["run"] = runID
	}
	return influxdb2_write.NewPoint(MeasurementDeviceState, tags, map[string]interface{}{
		"x":        s.State.Position.X,
		"y":        s.State.Position.Y,
		"z":        s.State.Position.Z,
		"vbat":     s.State.BatteryVoltage,
		"flying":   s.State.IsFlying,
		"tumbled":  s.State.IsTumbled,
		"charging": s.State.IsCharging,
	}, s.Time)
}

// IterationPoint converts an iteration report to a point tagged with run.
func IterationPoint(r *core.IterationReport) *influxdb2_write.Point {
	var flying, charging, attempts int
	for _, d := range r.Devices {
		if d.Flying {
			flying++
		}
		if d.Charging {
			charging++
		}
		attempts += d.LandingAttempts
	}
	ts := r.EndTime
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2_write.NewPoint(MeasurementIteration, map[string]string{"run": r.RunID}, map[string]interface{}{
		"iteration":        r.Iteration,
		"successful":       r.Successful,
		"devices":          len(r.Devices),
		"flying":           flying,
		"charging":         charging,
		"landing_attempts": attempts,
		"duration_s":       r.EndTime.Sub(r.StartTime).Seconds(),
	}, ts)
}
