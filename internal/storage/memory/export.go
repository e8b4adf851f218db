// internal/storage/memory/export.go
package memory

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	v1 "github.com/swarmqa/endurance/internal/storage/memory/export/v1"
	"github.com/swarmqa/endurance/pkg/core"
)

// TraceHeader is the first row of the CSV position trace.
var TraceHeader = []string{"device", "timestamp", "x", "y", "z"}

// export writes the run report and the position trace. Caller holds b.mu.
func (b *Backend) export() error {
	report := v1.Build(&v1.RunData{
		Run:        b.run,
		Status:     b.status,
		Traces:     b.traces,
		Iterations: b.iterations,
	})

	base := exportBaseName(report.Site, report.RunID, report.StartTime)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := base + ".json"
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)
	if err := writeFile(outputPath, b.cfg.CompressOutput, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(report)
	}); err != nil {
		return err
	}
	b.lastExportPath = outputPath

	tracePath := filepath.Join(b.cfg.OutputDir, base+"_trace.csv")
	if err := writeFile(tracePath, false, b.writeTrace); err != nil {
		return err
	}
	b.lastTracePath = tracePath

	if info, err := os.Stat(outputPath); err == nil {
		b.log.Info("Exported run report", "path", outputPath, "size", humanize.Bytes(uint64(info.Size())),
			"trace", tracePath)
	}
	return nil
}

// exportBaseName builds "<site>_<timestamp>_<run prefix>" with unsafe characters replaced.
func exportBaseName(site, runID string, start time.Time) string {
	if site == "" {
		site = "run"
	}
	r := strings.NewReplacer(" ", "_", ":", "_", "/", "_", "\\", "_")
	name := r.Replace(site) + "_" + start.UTC().Format("20060102_150405")
	if runID != "" {
		if len(runID) > 8 {
			runID = runID[:8]
		}
		name += "_" + r.Replace(runID)
	}
	return name
}

// writeTrace writes every recorded sample as device,timestamp,x,y,z in
// device then time order.
func (b *Backend) writeTrace(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TraceHeader); err != nil {
		return err
	}

	ids := make([]core.DeviceID, 0, len(b.traces))
	for id := range b.traces {
		ids = append(ids, id)
	}
	core.SortIDs(ids)

	for _, id := range ids {
		for _, s := range b.traces[id] {
			row := []string{
				string(s.Device),
				s.Time.UTC().Format(time.RFC3339Nano),
				strconv.FormatFloat(s.State.Position.X, 'f', -1, 64),
				strconv.FormatFloat(s.State.Position.Y, 'f', -1, 64),
				strconv.FormatFloat(s.State.Position.Z, 'f', -1, 64),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeFile(path string, compress bool, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if !compress {
		if err := write(f); err != nil {
			return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
		}
		return nil
	}

	gzWriter := gzip.NewWriter(f)
	if err := write(gzWriter); err != nil {
		gzWriter.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return gzWriter.Close()
}
