// Package engine drives inbound workflow events through deduplication,
// task routing, the stage machine, and the batched store apply.
package engine

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/dedup"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/events"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/stage"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/store"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/task"
)

// StatusWorkspaceDestroyed names the status that tells the board the
// backend tore down the run's workspace and the task should go away.
const StatusWorkspaceDestroyed = "workspace_destroyed"

// Engine is the inbound event pipeline. It owns no task state itself;
// every mutation flows through the store as a single batched apply.
type Engine struct {
	store   *store.Store
	dedup   *dedup.Deduplicator
	machine *stage.Machine
	logger  *slog.Logger
}

// New creates the event engine.
func New(st *store.Store, dd *dedup.Deduplicator, machine *stage.Machine, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if machine == nil {
		machine = stage.NewMachine(logger)
	}
	return &Engine{
		store:   st,
		dedup:   dd,
		machine: machine,
		logger:  logger,
	}
}

// HandleRaw decodes and processes one transport frame. Malformed frames
// are logged and dropped; a panic in event handling never escapes to the
// transport read loop.
func (e *Engine) HandleRaw(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("recovered panic while handling event",
				"panic", r, "stack", string(debug.Stack()))
		}
	}()

	ev, err := events.Decode(raw)
	if err != nil {
		e.logger.Warn("dropping undecodable event", "error", err)
		return
	}
	e.Handle(ev)
}

// Handle processes one decoded inbound event.
func (e *Engine) Handle(ev events.Inbound) {
	if e.dedup != nil && e.dedup.IsDuplicate(ev) {
		e.logger.Debug("dropping duplicate event",
			"type", ev.Kind(), "external_id", ev.AdwID())
		return
	}

	switch v := ev.(type) {
	case *events.TriggerResponse:
		e.handleTriggerResponse(v)
	case *events.StageTransition:
		e.handleStageTransition(v)
	case *events.StatusUpdate:
		e.handleStatusUpdate(v)
	case *events.WorkflowLog:
		e.appendLog(v.ExternalID, task.LogEntry{
			Level:     logLevel(v.Level),
			Source:    logSource(v.Source),
			Message:   v.Message,
			Timestamp: eventTime(v.Timestamp),
		})
	case *events.AgentToolUse:
		msg := "tool: " + v.Tool
		if v.Input != "" {
			msg += " " + v.Input
		}
		e.appendAgentLog(v.ExternalID, msg, v.Timestamp)
	case *events.AgentText:
		e.appendAgentLog(v.ExternalID, v.Text, v.Timestamp)
	case *events.AgentThinking:
		e.appendAgentLog(v.ExternalID, "thinking: "+v.Text, v.Timestamp)
	case *events.AgentFileChange:
		e.appendAgentLog(v.ExternalID, fmt.Sprintf("file %s: %s", v.Change, v.Path), v.Timestamp)
	default:
		e.logger.Warn("unhandled event type", "type", ev.Kind())
	}
}

// OnReconnect clears duplicate-tracking state. Ordering and duplicate
// assumptions do not survive a reconnect, so the window starts over.
func (e *Engine) OnReconnect() {
	if e.dedup != nil {
		e.dedup.Reset()
	}
	e.logger.Info("transport reconnected, deduplication window reset")
}

// handleTriggerResponse binds the backend-assigned ADW id to the task
// that requested the run, using the echoed local task ID.
func (e *Engine) handleTriggerResponse(ev *events.TriggerResponse) {
	t, ok := e.store.Get(ev.TaskID)
	if !ok {
		e.logger.Warn("trigger response for unknown task",
			"task_id", ev.TaskID, "external_id", ev.ExternalID, "status", ev.Status)
		return
	}

	if ev.Status == "rejected" {
		meta := map[string]any{"trigger_status": "rejected"}
		if ev.Error != "" {
			meta["trigger_error"] = ev.Error
		}
		e.apply(t.ID, &store.Mutation{
			MergeMetadata: meta,
			AppendLogs: []task.LogEntry{{
				Level:     "error",
				Source:    "workflow",
				Message:   rejectionMessage(ev),
				Timestamp: eventTime(ev.Timestamp),
			}},
		})
		return
	}

	if ev.ExternalID == "" {
		e.logger.Warn("accepted trigger response missing adw_id", "task_id", ev.TaskID)
		return
	}
	if err := e.store.Bind(t.ID, ev.ExternalID); err != nil {
		e.logger.Error("failed to bind workflow id",
			"task_id", t.ID, "external_id", ev.ExternalID, "error", err)
		return
	}

	mut := &store.Mutation{
		MergeMetadata: map[string]any{"trigger_status": "accepted"},
		AppendLogs: []task.LogEntry{{
			Level:     "info",
			Source:    "workflow",
			Message:   "workflow accepted: " + ev.ExternalID,
			Timestamp: eventTime(ev.Timestamp),
		}},
	}
	if ev.WorkflowName != "" {
		mut.WorkflowName = &ev.WorkflowName
	}
	e.apply(t.ID, mut)
}

func (e *Engine) handleStageTransition(ev *events.StageTransition) {
	t, ok := e.store.GetByExternalID(ev.ExternalID)
	if !ok {
		e.logger.Warn("unroutable stage transition",
			"external_id", ev.ExternalID, "to_stage", ev.ToStage)
		return
	}

	mut, err := e.machine.Transition(t, ev)
	if err != nil {
		e.logger.Warn("dropping stage transition", "error", err)
		return
	}
	e.apply(t.ID, mut)
}

func (e *Engine) handleStatusUpdate(ev *events.StatusUpdate) {
	t, ok := e.store.GetByExternalID(ev.ExternalID)
	if !ok {
		e.logger.Warn("unroutable status update",
			"external_id", ev.ExternalID, "status", ev.Status)
		return
	}

	if ev.Status == StatusWorkspaceDestroyed {
		e.store.Remove(t.ID)
		e.logger.Info("removed task for destroyed workspace",
			"task_id", t.ID, "external_id", ev.ExternalID)
		return
	}

	e.apply(t.ID, e.machine.Status(t, ev))
}

func (e *Engine) appendAgentLog(externalID, message string, ts *time.Time) {
	e.appendLog(externalID, task.LogEntry{
		Level:     "debug",
		Source:    "agent",
		Message:   message,
		Timestamp: eventTime(ts),
	})
}

func (e *Engine) appendLog(externalID string, entry task.LogEntry) {
	t, ok := e.store.GetByExternalID(externalID)
	if !ok {
		e.logger.Warn("unroutable log event", "external_id", externalID)
		return
	}
	e.apply(t.ID, &store.Mutation{AppendLogs: []task.LogEntry{entry}})
}

func (e *Engine) apply(id int64, mut *store.Mutation) {
	if mut == nil || mut.IsZero() {
		return
	}
	if _, err := e.store.Apply(id, mut); err != nil {
		e.logger.Error("failed to apply event mutation", "task_id", id, "error", err)
	}
}

func rejectionMessage(ev *events.TriggerResponse) string {
	if ev.Error != "" {
		return "workflow rejected: " + ev.Error
	}
	return "workflow rejected"
}

func logLevel(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

func logSource(source string) string {
	if source == "" {
		return "workflow"
	}
	return source
}

func eventTime(ts *time.Time) time.Time {
	if ts != nil {
		return *ts
	}
	return time.Now()
}
