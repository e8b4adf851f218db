package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/swarmqa/endurance/internal/mission"
	"github.com/swarmqa/endurance/pkg/core"
)

// DefaultInterval is used when Dependencies.Interval is zero.
const DefaultInterval = time.Second

// StateSource provides the latest fleet telemetry.
type StateSource interface {
	Snapshot() core.FleetSnapshot
}

// Publisher receives every status the monitor produces.
type Publisher interface {
	Publish(ctx context.Context, status Status) error
	Close() error
}

// Status is the document written to the status file.
type Status struct {
	Time      time.Time          `json:"time"`
	RunID     string             `json:"runId"`
	Site      string             `json:"site"`
	State     core.MissionState  `json:"state"`
	Iteration int                `json:"iteration"`
	Devices   core.FleetSnapshot `json:"devices"`
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Context    *mission.Context
	States     StateSource
	StatusFile string
	Interval   time.Duration
	Publisher  Publisher
	Logger     *slog.Logger
}

// Service periodically writes the mission status to disk and to an optional
// publisher.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) (*Service, error) {
	if deps.Context == nil {
		return nil, errors.New("monitor: mission context is required")
	}
	if deps.States == nil {
		return nil, errors.New("monitor: state source is required")
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}, nil
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Status returns the current mission status.
func (s *Service) Status() Status {
	mctx := s.deps.Context
	status := Status{
		Time:      time.Now(),
		State:     mctx.GetState(),
		Iteration: mctx.GetIteration(),
		Devices:   s.deps.States.Snapshot(),
	}
	if run := mctx.GetRun(); run != nil {
		status.RunID = run.ID
		status.Site = run.Site
	}
	if status.Devices == nil {
		status.Devices = core.FleetSnapshot{}
	}
	return status
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.StatusFile != "" {
		if err := os.MkdirAll(filepath.Dir(s.deps.StatusFile), 0o755); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("create status directory: %w", err)
		}
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "interval", s.deps.Interval, "file", s.deps.StatusFile)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				s.tick()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and writes a final status.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.Close(); err != nil {
			s.deps.Logger.Warn("Failed to close status publisher", "error", err)
		}
	}
}

func (s *Service) tick() {
	status := s.Status()

	if s.deps.StatusFile != "" {
		if err := WriteStatusFile(s.deps.StatusFile, status); err != nil {
			s.deps.Logger.Error("Error writing status file", "error", err)
		}
	}

	if s.deps.Publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.deps.Interval)
		defer cancel()
		if err := s.deps.Publisher.Publish(ctx, status); err != nil {
			s.deps.Logger.Warn("Error publishing status", "error", err)
		}
	}
}

// WriteStatusFile replaces path with status as indented JSON.
func WriteStatusFile(path string, status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
