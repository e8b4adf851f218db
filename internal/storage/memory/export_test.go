// internal/storage/memory/export_test.go
package memory

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swarmqa/endurance/internal/config"
	v1 "github.com/swarmqa/endurance/internal/storage/memory/export/v1"
	"github.com/swarmqa/endurance/pkg/core"
)

var testStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func recordRun(t *testing.T, b *Backend) {
	t.Helper()
	require.NoError(t, b.StartMission(&core.MissionRun{
		ID:            "0123456789abcdef",
		Site:          "lab west",
		StartTime:     testStart,
		MaxIterations: 1,
		Devices:       []core.DeviceID{"d2", "d1"},
	}))
	for i, dev := range []core.DeviceID{"d2", "d1", "d1"} {
		ts := testStart.Add(time.Duration(i) * time.Second)
		require.NoError(t, b.RecordState(&core.TelemetrySample{
			Device: dev,
			Time:   ts,
			State: core.DeviceState{
				Position:       core.Position{X: 0.5 * float64(i), Y: -1.25, Z: 0.6},
				BatteryVoltage: 3.9,
				Timestamp:      ts,
			},
		}))
	}
	require.NoError(t, b.RecordIteration(&core.IterationReport{
		RunID:     "0123456789abcdef",
		Iteration: 1,
		Devices: []core.DeviceReport{
			{Device: "d1", Flying: true, Charging: true, LandingAttempts: 1},
			{Device: "d2", Flying: true, Charging: true, LandingAttempts: 1},
		},
		Successful: true,
	}))
	require.NoError(t, b.EndMission(&core.Status{
		RunID:      "0123456789abcdef",
		Outcome:    core.OutcomeCompleted,
		Iterations: 1,
		EndTime:    testStart.Add(time.Minute),
	}))
}

func TestExportJSON(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir}, nil)
	recordRun(t, b)

	path := b.GetExportedFilePath()
	assert.Equal(t, filepath.Join(dir, "lab_west_20260301_100000_01234567.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var report v1.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "0123456789abcdef", report.RunID)
	assert.Equal(t, "completed", report.Outcome)
	assert.Equal(t, 60.0, report.Duration)
	require.Len(t, report.Devices, 2)
	assert.Equal(t, 2, report.Devices[0].Samples)
	assert.Len(t, report.Reports, 1)
}

func TestExportGzipJSON(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true}, nil)
	recordRun(t, b)

	path := b.GetExportedFilePath()
	require.True(t, strings.HasSuffix(path, ".json.gz"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var report v1.Report
	require.NoError(t, json.NewDecoder(gz).Decode(&report))
	assert.Equal(t, "lab west", report.Site)
}

func TestExportTraceCSV(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true}, nil)
	recordRun(t, b)

	path := b.GetTraceFilePath()
	assert.Equal(t, filepath.Join(dir, "lab_west_20260301_100000_01234567_trace.csv"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, TraceHeader, rows[0])
	// sorted by device, then in recording order
	assert.Equal(t, []string{"d1", "2026-03-01T10:00:01Z", "0.5", "-1.25", "0.6"}, rows[1])
	assert.Equal(t, []string{"d1", "2026-03-01T10:00:02Z", "1", "-1.25", "0.6"}, rows[2])
	assert.Equal(t, "d2", rows[3][0])
}

func TestExportCreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "runs")
	b := New(config.MemoryConfig{OutputDir: dir}, nil)
	recordRun(t, b)

	_, err := os.Stat(b.GetExportedFilePath())
	assert.NoError(t, err)
}

func TestExportFailsOnUnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	b := New(config.MemoryConfig{OutputDir: file}, nil)
	require.NoError(t, b.StartMission(&core.MissionRun{ID: "r1"}))
	assert.Error(t, b.EndMission(&core.Status{Outcome: core.OutcomeCompleted}))
	assert.Empty(t, b.GetExportedFilePath())
}

func TestExportBaseName(t *testing.T) {
	tests := []struct {
		site, run string
		want      string
	}{
		{"lab", "abc", "lab_20260301_100000_abc"},
		{"", "", "run_20260301_100000"},
		{"a/b:c", "0123456789", "a_b_c_20260301_100000_01234567"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exportBaseName(tt.site, tt.run, testStart))
	}
}

func TestEmptyExport(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir}, nil)
	require.NoError(t, b.StartMission(&core.MissionRun{ID: "r1", Site: "lab", StartTime: testStart}))
	require.NoError(t, b.EndMission(&core.Status{Outcome: core.OutcomeAborted, Reason: core.ReasonNoTelemetry}))

	data, err := os.ReadFile(b.GetExportedFilePath())
	require.NoError(t, err)
	var report v1.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "no telemetry", report.Reason)
	assert.Empty(t, report.Devices)

	trace, err := os.ReadFile(b.GetTraceFilePath())
	require.NoError(t, err)
	assert.Equal(t, "device,timestamp,x,y,z\n", string(trace))
}
