package stage

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/events"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/store"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/task"
)

// Machine turns inbound events into batched mutations. It never mutates
// tasks itself; the store commits the returned mutation atomically.
type Machine struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewMachine creates a stage transition machine.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{logger: logger, now: time.Now}
}

// Transition handles an explicit, authoritative stage transition event.
// If the target stage is a member of the valid stage set it is applied
// unconditionally: the backend, not client heuristics, decides progression.
func (m *Machine) Transition(t *task.Task, ev *events.StageTransition) (*store.Mutation, error) {
	target, ok := task.ParseStage(ev.ToStage)
	if !ok {
		return nil, fmt.Errorf("stage transition for %s: unknown stage %q", ev.ExternalID, ev.ToStage)
	}

	mut := &store.Mutation{Stage: &target}
	switch target {
	case task.StageReadyToMerge, task.StageCompleted:
		progress := 100
		complete := true
		mut.Progress = &progress
		mut.WorkflowComplete = &complete
	case task.StageErrored:
		mut.MergeMetadata = map[string]any{"workflow_status": "failed"}
	}

	mut.AppendLogs = []task.LogEntry{{
		Level:     levelForStage(target),
		Source:    "workflow",
		Message:   fmt.Sprintf("stage transition: %s -> %s", t.Stage, target),
		Timestamp: m.eventTime(ev.Timestamp),
	}}
	return mut, nil
}

// Status handles a status/progress event. Stage movement is only inferred
// opportunistically (forward-only, fail-open on ambiguity); a "completed"
// status alone never completes the task, and merge runs route to merge
// handling instead of the generic stage path.
func (m *Machine) Status(t *task.Task, ev *events.StatusUpdate) *store.Mutation {
	mut := &store.Mutation{MergeMetadata: map[string]any{}}

	workflowName := t.WorkflowName
	if ev.WorkflowName != "" {
		workflowName = ev.WorkflowName
		if ev.WorkflowName != t.WorkflowName {
			mut.WorkflowName = &ev.WorkflowName
		}
		mut.MergeMetadata["workflow_name"] = ev.WorkflowName
	}
	if ev.Status != "" {
		mut.MergeMetadata["workflow_status"] = ev.Status
	}
	for k, v := range ev.Metadata {
		mut.MergeMetadata[k] = v
	}

	if IsMergeRun(workflowName) {
		m.mergeRunStatus(mut, ev)
		return mut
	}

	if ev.Status == "failed" {
		errored := task.StageErrored
		mut.Stage = &errored
		mut.MergeMetadata["workflow_status"] = "failed"
		if ev.Message != "" {
			mut.MergeMetadata["error_message"] = ev.Message
		}
		mut.AppendLogs = append(mut.AppendLogs, task.LogEntry{
			Level:     "error",
			Source:    "workflow",
			Message:   failureMessage(ev),
			Timestamp: m.eventTime(ev.Timestamp),
		})
		return mut
	}

	if target, ok := FromStepText(ev.CurrentStep); ok && target != task.StageErrored {
		seq := SequenceFromWorkflowID(workflowName)
		if AllowsAdvance(seq, t.Stage, target) {
			mut.Stage = &target
			mut.AppendLogs = append(mut.AppendLogs, task.LogEntry{
				Level:     "info",
				Source:    "workflow",
				Message:   fmt.Sprintf("advanced to %s: %s", target, ev.CurrentStep),
				Timestamp: m.eventTime(ev.Timestamp),
			})
		} else if target != t.Stage {
			m.logger.Debug("ignoring backward stage hint",
				"external_id", ev.ExternalID, "current", t.Stage, "hint", target)
		}
	}

	if ev.CurrentStep != "" {
		mut.Substage = &ev.CurrentStep
	}
	if ev.ProgressPercent > 0 {
		progress := min(ev.ProgressPercent, 100)
		mut.Progress = &progress
	}
	return mut
}

// mergeRunStatus handles completion and failure of a merge-specific run.
// These update merge metadata rather than driving the stage machine.
func (m *Machine) mergeRunStatus(mut *store.Mutation, ev *events.StatusUpdate) {
	switch ev.Status {
	case "completed":
		complete := true
		mut.WorkflowComplete = &complete
		mut.MergeMetadata["merge_state"] = "merged"
		mut.MergeMetadata["merged_at"] = m.now().UTC().Format(time.RFC3339)
		mut.AppendLogs = append(mut.AppendLogs, task.LogEntry{
			Level:     "info",
			Source:    "workflow",
			Message:   "merge completed",
			Timestamp: m.eventTime(ev.Timestamp),
		})
	case "failed":
		mut.MergeMetadata["merge_state"] = "failed"
		mut.AppendLogs = append(mut.AppendLogs, task.LogEntry{
			Level:     "error",
			Source:    "workflow",
			Message:   failureMessage(ev),
			Timestamp: m.eventTime(ev.Timestamp),
		})
	default:
		if ev.CurrentStep != "" {
			mut.Substage = &ev.CurrentStep
		}
		if ev.ProgressPercent > 0 {
			progress := min(ev.ProgressPercent, 100)
			mut.Progress = &progress
		}
	}
}

// IsMergeRun reports whether a declared workflow identifier names a
// merge-specific run (e.g. adw_merge, adw_merge_iso).
func IsMergeRun(workflowID string) bool {
	id := strings.ToLower(strings.TrimSpace(workflowID))
	id = strings.TrimPrefix(id, workflowPrefix)
	for _, suffix := range workflowSuffixes {
		id = strings.TrimSuffix(id, suffix)
	}
	return id == "merge"
}

func failureMessage(ev *events.StatusUpdate) string {
	if ev.Message != "" {
		return "workflow failed: " + ev.Message
	}
	return "workflow failed"
}

func levelForStage(s task.Stage) string {
	if s == task.StageErrored {
		return "error"
	}
	return "info"
}

func (m *Machine) eventTime(ts *time.Time) time.Time {
	if ts != nil {
		return *ts
	}
	return m.now()
}
