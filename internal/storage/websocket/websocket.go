package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/swarmqa/endurance/pkg/core"
	"github.com/swarmqa/endurance/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
	// AckTimeout bounds the wait for start/end acknowledgements.
	AckTimeout time.Duration
	// ReconnectBackoff is the first reconnect delay; it doubles per attempt.
	ReconnectBackoff time.Duration
}

// Backend streams mission results over WebSocket to the results server.
// It implements storage.Backend but not storage.Uploadable.
type Backend struct {
	conn *connection
	cfg  Config
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = ackTimeout
	}
	return &Backend{
		conn: newConnection(logger.With("component", "websocket"), cfg.ReconnectBackoff),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartMission announces the run and waits for the server ack.
func (b *Backend) StartMission(run *core.MissionRun) error {
	data, err := marshalEnvelope(streaming.TypeStartMission, streaming.StartMissionPayload{Run: run})
	if err != nil {
		return err
	}

	b.conn.mu.Lock()
	b.conn.cachedStartMsg = data
	b.conn.mu.Unlock()

	return b.conn.sendAndWait(data, streaming.TypeStartMission, b.cfg.AckTimeout)
}

// EndMission sends the terminal status and waits for the server ack.
func (b *Backend) EndMission(status *core.Status) error {
	payload := streaming.EndMissionPayload{Status: status}
	if status != nil && status.Err != nil {
		payload.Error = status.Err.Error()
	}

	data, err := marshalEnvelope(streaming.TypeEndMission, payload)
	if err == nil {
		err = b.conn.sendAndWait(data, streaming.TypeEndMission, b.cfg.AckTimeout)
	}

	// Clear cached state regardless of error.
	b.conn.mu.Lock()
	b.conn.cachedStartMsg = nil
	b.conn.mu.Unlock()

	return err
}

// RecordState streams one telemetry sample.
func (b *Backend) RecordState(s *core.TelemetrySample) error {
	return b.sendEnvelope(streaming.TypeDeviceState, s)
}

// RecordIteration streams one iteration report.
func (b *Backend) RecordIteration(r *core.IterationReport) error {
	return b.sendEnvelope(streaming.TypeIteration, r)
}
