// Package task provides the board task model for AgenticKanban.
package task

import (
	"time"
)

// Stage represents a kanban column, i.e. a named phase of a workflow run.
type Stage string

const (
	StageBacklog      Stage = "backlog"
	StagePlan         Stage = "plan"
	StageBuild        Stage = "build"
	StageTest         Stage = "test"
	StageReview       Stage = "review"
	StageDocument     Stage = "document"
	StageReadyToMerge Stage = "ready_to_merge"
	StageErrored      Stage = "errored"
	StageCompleted    Stage = "completed"
)

// ValidStages returns all valid stage values in board order.
func ValidStages() []Stage {
	return []Stage{
		StageBacklog, StagePlan, StageBuild, StageTest, StageReview,
		StageDocument, StageReadyToMerge, StageErrored, StageCompleted,
	}
}

// IsValidStage returns true if the stage is a valid stage value.
func IsValidStage(s Stage) bool {
	switch s {
	case StageBacklog, StagePlan, StageBuild, StageTest, StageReview,
		StageDocument, StageReadyToMerge, StageErrored, StageCompleted:
		return true
	default:
		return false
	}
}

// ParseStage normalizes a wire value ("ready-to-merge", "Build") into a
// Stage. Returns false for anything outside the stage set.
func ParseStage(s string) (Stage, bool) {
	normalized := Stage(normalizeStageToken(s))
	if IsValidStage(normalized) {
		return normalized, true
	}
	return "", false
}

func normalizeStageToken(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b = append(b, c+('a'-'A'))
		case c == '-' || c == ' ':
			b = append(b, '_')
		default:
			b = append(b, c)
		}
	}
	return string(b)
}

// StageOrder returns a numeric board position for sorting and monotonicity
// checks (lower = earlier). Errored sorts last.
func StageOrder(s Stage) int {
	switch s {
	case StageBacklog:
		return 0
	case StagePlan:
		return 1
	case StageBuild:
		return 2
	case StageTest:
		return 3
	case StageReview:
		return 4
	case StageDocument:
		return 5
	case StageReadyToMerge:
		return 6
	case StageCompleted:
		return 7
	case StageErrored:
		return 8
	default:
		return -1
	}
}

// IsTerminalStage returns true for stages that end a workflow run.
func IsTerminalStage(s Stage) bool {
	return s == StageReadyToMerge || s == StageCompleted || s == StageErrored
}

// MaxLogEntries bounds the per-task log ring. Older entries are dropped.
const MaxLogEntries = 500

// LogEntry is a single workflow log line attached to a task.
type LogEntry struct {
	Level     string    `yaml:"level,omitempty" json:"level,omitempty"`
	Source    string    `yaml:"source,omitempty" json:"source,omitempty"`
	Message   string    `yaml:"message" json:"message"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
}

// Task represents one unit of work flowing through the board.
type Task struct {
	// ID is the process-local monotonic identifier, never reused.
	ID int64 `yaml:"id" json:"id"`

	// ExternalID is the ADW run identifier assigned by the workflow
	// backend. Empty until the first accepted trigger response.
	ExternalID string `yaml:"external_id,omitempty" json:"external_id,omitempty"`

	// Title is a short description of the task.
	Title string `yaml:"title" json:"title"`

	// Description is the full task description.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Stage is the kanban column the task currently occupies.
	Stage Stage `yaml:"stage" json:"stage"`

	// Substage is the free-text step within the current stage.
	// Reset whenever Stage changes.
	Substage string `yaml:"substage,omitempty" json:"substage,omitempty"`

	// Progress is the 0-100 completion of the current run.
	// Reset whenever Stage changes.
	Progress int `yaml:"progress" json:"progress"`

	// WorkflowName is the declared workflow identifier of the current run
	// (e.g. adw_plan_build_test_iso).
	WorkflowName string `yaml:"workflow_name,omitempty" json:"workflow_name,omitempty"`

	// WorkflowComplete is set when the run reaches a completing terminal
	// stage (ready_to_merge or completed).
	WorkflowComplete bool `yaml:"workflow_complete,omitempty" json:"workflow_complete,omitempty"`

	// Metadata holds remote-origin fields (workflow status, patch history,
	// merge state). Merged per key on update, never wholesale-replaced.
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// Logs is the bounded, append-only workflow log for this task.
	Logs []LogEntry `yaml:"logs,omitempty" json:"logs,omitempty"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`

	// UpdatedAt is when the task was last updated.
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// New creates a new task in the backlog column.
func New(id int64, title string) *Task {
	now := time.Now()
	return &Task{
		ID:        id,
		Title:     title,
		Stage:     StageBacklog,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  make(map[string]any),
	}
}

// Clone returns a deep copy of the task. Mutation snapshots and values
// handed to callers are always clones so the store's copy stays private.
func (t *Task) Clone() *Task {
	c := *t
	if t.Metadata != nil {
		c.Metadata = cloneMetadata(t.Metadata)
	}
	if t.Logs != nil {
		c.Logs = make([]LogEntry, len(t.Logs))
		copy(c.Logs, t.Logs)
	}
	return &c
}

func cloneMetadata(m map[string]any) map[string]any {
	c := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			c[k] = cloneMetadata(val)
		case []any:
			list := make([]any, len(val))
			copy(list, val)
			c[k] = list
		default:
			c[k] = v
		}
	}
	return c
}

// SetStage moves the task to a new stage, resetting substage and progress.
// No-op when the stage is unchanged.
func (t *Task) SetStage(s Stage) {
	if t.Stage == s {
		return
	}
	t.Stage = s
	t.Substage = ""
	t.Progress = 0
}

// MergeMetadata merges remote-origin fields into the task's metadata bag.
// Existing keys not present in update are preserved.
func (t *Task) MergeMetadata(update map[string]any) {
	if len(update) == 0 {
		return
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]any, len(update))
	}
	for k, v := range update {
		t.Metadata[k] = v
	}
}

// AppendLogs appends entries and trims to the last MaxLogEntries.
func (t *Task) AppendLogs(entries ...LogEntry) {
	if len(entries) == 0 {
		return
	}
	t.Logs = append(t.Logs, entries...)
	if overflow := len(t.Logs) - MaxLogEntries; overflow > 0 {
		t.Logs = append(t.Logs[:0], t.Logs[overflow:]...)
	}
}
