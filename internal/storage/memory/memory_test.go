// internal/storage/memory/memory_test.go
package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/swarmqa/endurance/internal/config"
	"github.com/swarmqa/endurance/internal/storage"
	"github.com/swarmqa/endurance/pkg/core"
)

// Verify Backend implements storage.Backend interface
var _ storage.Backend = (*Backend)(nil)

// Verify Backend implements storage.Uploadable interface
var _ storage.Uploadable = (*Backend)(nil)

func TestNew(t *testing.T) {
	cfg := config.MemoryConfig{
		OutputDir:      "/tmp/test",
		CompressOutput: true,
	}
	b := New(cfg, nil)

	if b == nil {
		t.Fatal("New returned nil")
	}
	if b.cfg.OutputDir != "/tmp/test" {
		t.Errorf("expected OutputDir=/tmp/test, got %s", b.cfg.OutputDir)
	}
	if !b.cfg.CompressOutput {
		t.Error("expected CompressOutput=true")
	}
	if b.traces == nil {
		t.Error("traces map not initialized")
	}
}

func TestInitAndClose(t *testing.T) {
	b := New(config.MemoryConfig{}, nil)

	if err := b.Init(); err != nil {
		t.Errorf("Init failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestStartMission_KeepsEarlySamples(t *testing.T) {
	b := New(config.MemoryConfig{}, nil)

	_ = b.RecordState(&core.TelemetrySample{Device: "d1"})
	if err := b.StartMission(&core.MissionRun{ID: "r1"}); err != nil {
		t.Fatalf("StartMission failed: %v", err)
	}
	if n := len(b.Trace("d1")); n != 1 {
		t.Errorf("expected 1 sample kept, got %d", n)
	}
}

func TestStartMission_AfterEndResets(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()}, nil)

	_ = b.StartMission(&core.MissionRun{ID: "r1"})
	_ = b.RecordState(&core.TelemetrySample{Device: "d1"})
	_ = b.RecordIteration(&core.IterationReport{Iteration: 1})
	if err := b.EndMission(&core.Status{Outcome: core.OutcomeCompleted}); err != nil {
		t.Fatalf("EndMission failed: %v", err)
	}

	_ = b.StartMission(&core.MissionRun{ID: "r2"})
	if n := len(b.Trace("d1")); n != 0 {
		t.Errorf("expected traces reset, got %d samples", n)
	}
	if n := len(b.Iterations()); n != 0 {
		t.Errorf("expected iterations reset, got %d", n)
	}
	if b.GetExportedFilePath() != "" {
		t.Error("expected export path reset")
	}
}

func TestRecordIteration(t *testing.T) {
	b := New(config.MemoryConfig{}, nil)
	_ = b.StartMission(&core.MissionRun{ID: "r1"})

	for i := 1; i <= 3; i++ {
		if err := b.RecordIteration(&core.IterationReport{Iteration: i}); err != nil {
			t.Fatalf("RecordIteration failed: %v", err)
		}
	}
	its := b.Iterations()
	if len(its) != 3 || its[2].Iteration != 3 {
		t.Errorf("unexpected iterations: %+v", its)
	}
}

func TestTraceReturnsCopy(t *testing.T) {
	b := New(config.MemoryConfig{}, nil)
	_ = b.RecordState(&core.TelemetrySample{Device: "d1", State: core.DeviceState{BatteryVoltage: 4}})

	tr := b.Trace("d1")
	tr[0].State.BatteryVoltage = 0
	if b.Trace("d1")[0].State.BatteryVoltage != 4 {
		t.Error("Trace exposed internal slice")
	}
}

func TestGetExportMetadata(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()}, nil)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if meta := b.GetExportMetadata(); meta.RunID != "" || meta.Duration != 0 {
		t.Errorf("expected empty metadata before a run, got %+v", meta)
	}

	_ = b.StartMission(&core.MissionRun{ID: "r1", Site: "lab", StartTime: start})
	_ = b.EndMission(&core.Status{Outcome: core.OutcomeAborted, EndTime: start.Add(90 * time.Second)})

	meta := b.GetExportMetadata()
	if meta.RunID != "r1" {
		t.Errorf("expected RunID=r1, got %s", meta.RunID)
	}
	if meta.Site != "lab" {
		t.Errorf("expected Site=lab, got %s", meta.Site)
	}
	if meta.Duration != 90 {
		t.Errorf("expected Duration=90, got %f", meta.Duration)
	}
	if meta.Outcome != "aborted" {
		t.Errorf("expected Outcome=aborted, got %s", meta.Outcome)
	}
}

func TestConcurrentRecording(t *testing.T) {
	b := New(config.MemoryConfig{}, nil)
	_ = b.StartMission(&core.MissionRun{ID: "r1"})

	var wg sync.WaitGroup
	for d := 0; d < 4; d++ {
		dev := core.DeviceID(string(rune('a' + d)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = b.RecordState(&core.TelemetrySample{Device: dev})
			}
		}()
	}
	wg.Wait()

	for d := 0; d < 4; d++ {
		dev := core.DeviceID(string(rune('a' + d)))
		if n := len(b.Trace(dev)); n != 100 {
			t.Errorf("device %s: expected 100 samples, got %d", dev, n)
		}
	}
}
