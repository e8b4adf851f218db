package mission

import (
	"log/slog"
	"sync"

	"github.com/swarmqa/endurance/pkg/core"
)

// Context holds the current run, controller state and iteration counter.
// It is read by log handlers and the status monitor while the controller
// writes it.
type Context struct {
	mu        sync.RWMutex
	Run       *core.MissionRun
	State     core.MissionState
	Iteration int
}

// NewContext creates a new Context with default values
func NewContext() *Context {
	return &Context{
		Run:   &core.MissionRun{Site: "No mission loaded"},
		State: core.StateIdle,
	}
}

// GetRun returns the current run
func (mc *Context) GetRun() *core.MissionRun {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.Run
}

// SetRun sets the current run and resets state and iteration.
func (mc *Context) SetRun(run *core.MissionRun) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.Run = run
	mc.State = core.StateIdle
	mc.Iteration = 0
}

// GetState returns the controller state
func (mc *Context) GetState() core.MissionState {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.State
}

// SetState sets the controller state
func (mc *Context) SetState(state core.MissionState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.State = state
}

// GetIteration returns the number of the iteration in progress, 1-based.
func (mc *Context) GetIteration() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.Iteration
}

// SetIteration sets the iteration in progress
func (mc *Context) SetIteration(n int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.Iteration = n
}

// LogAttrs returns the dynamic attributes added to every log record.
func (mc *Context) LogAttrs() []slog.Attr {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	attrs := []slog.Attr{slog.String("state", string(mc.State))}
	if mc.Run != nil && mc.Run.ID != "" {
		attrs = append(attrs, slog.String("run", mc.Run.ID))
	}
	if mc.Iteration > 0 {
		attrs = append(attrs, slog.Int("iteration", mc.Iteration))
	}
	return attrs
}
