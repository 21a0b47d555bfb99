// Package syncer wraps locally-initiated board mutations in an optimistic
// local-apply, remote-persist, confirm-or-rollback protocol.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	boarderrors "github.com/kvnkishore11/AgenticKanban-sub008/internal/errors"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/remote"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/store"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/task"
)

// Remote is the persistence API consumed by the syncer.
type Remote interface {
	CreateTask(ctx context.Context, rec *remote.TaskRecord) (*remote.TaskRecord, error)
	UpdateTask(ctx context.Context, rec *remote.TaskRecord) (*remote.TaskRecord, error)
	DeleteTask(ctx context.Context, key string) error
}

// Notifier surfaces user-visible notifications for failed mutations.
type Notifier interface {
	Notify(level, message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(level, message string)

// Notify calls f.
func (f NotifierFunc) Notify(level, message string) { f(level, message) }

// Update describes a locally-initiated field update.
type Update struct {
	Title       *string
	Description *string
	Metadata    map[string]any
}

// Patch describes a patch application reported against a task.
type Patch struct {
	Name    string
	Summary string
}

// Progress is the read-side view of a task's workflow progress.
type Progress struct {
	Stage            task.Stage `json:"stage"`
	Substage         string     `json:"substage,omitempty"`
	Progress         int        `json:"progress"`
	WorkflowComplete bool       `json:"workflow_complete"`
}

// Syncer coordinates optimistic mutations. Every mutation captures a full
// snapshot of the affected task before touching it, so rollback is a
// single replace. Mutations on the same task are serialized by a per-task
// lock; without it a second in-flight mutation's rollback could clobber
// the first's snapshot.
type Syncer struct {
	store    *store.Store
	remote   Remote
	notifier Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New creates a syncer. notifier may be nil.
func New(st *store.Store, rem Remote, notifier Notifier, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(level, message string) {
			logger.Log(context.Background(), slog.LevelInfo, "notification", "level", level, "message", message)
		})
	}
	return &Syncer{
		store:    st,
		remote:   rem,
		notifier: notifier,
		logger:   logger,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// lockTask serializes mutations per task ID. Locks are never deleted;
// a board holds at most a few thousand tasks per process lifetime.
func (s *Syncer) lockTask(id int64) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// CreateTask creates a task locally, persists it, and rolls the creation
// back if the remote call fails.
func (s *Syncer) CreateTask(ctx context.Context, title, description string) (*task.Task, error) {
	t := s.store.Create(title, description)

	unlock := s.lockTask(t.ID)
	defer unlock()

	canonical, err := s.remote.CreateTask(ctx, remote.RecordFromTask(t))
	if err != nil {
		s.store.Remove(t.ID)
		s.notifier.Notify("error", fmt.Sprintf("failed to create task %q: %v", title, err))
		return nil, fmt.Errorf("create task: %w", err)
	}

	return s.mergeCanonical(t.ID, canonical), nil
}

// UpdateTask applies a field update optimistically and persists it.
func (s *Syncer) UpdateTask(ctx context.Context, id int64, upd Update) (*task.Task, error) {
	unlock := s.lockTask(id)
	defer unlock()

	snapshot, ok := s.store.Get(id)
	if !ok {
		return nil, boarderrors.New(boarderrors.CodeTaskNotFound, fmt.Sprintf("task %d not found", id))
	}

	mut := &store.Mutation{
		Title:         upd.Title,
		Description:   upd.Description,
		MergeMetadata: upd.Metadata,
	}
	return s.persistOptimistic(ctx, snapshot, mut, "update")
}

// MoveTaskToStage moves a task to a stage optimistically and persists it.
func (s *Syncer) MoveTaskToStage(ctx context.Context, id int64, stage task.Stage) (*task.Task, error) {
	if !task.IsValidStage(stage) {
		return nil, boarderrors.New(boarderrors.CodeStageInvalid, fmt.Sprintf("invalid stage %q", stage))
	}

	unlock := s.lockTask(id)
	defer unlock()

	snapshot, ok := s.store.Get(id)
	if !ok {
		return nil, boarderrors.New(boarderrors.CodeTaskNotFound, fmt.Sprintf("task %d not found", id))
	}

	return s.persistOptimistic(ctx, snapshot, &store.Mutation{Stage: &stage}, "move")
}

// ApplyPatch records a patch application in the task's patch history and
// persists it.
func (s *Syncer) ApplyPatch(ctx context.Context, id int64, patch Patch) (*task.Task, error) {
	unlock := s.lockTask(id)
	defer unlock()

	snapshot, ok := s.store.Get(id)
	if !ok {
		return nil, boarderrors.New(boarderrors.CodeTaskNotFound, fmt.Sprintf("task %d not found", id))
	}

	var history []any
	if prev, ok := snapshot.Metadata["patches"].([]any); ok {
		history = append(history, prev...)
	}
	history = append(history, map[string]any{
		"name":       patch.Name,
		"summary":    patch.Summary,
		"applied_at": time.Now().UTC().Format(time.RFC3339),
	})

	mut := &store.Mutation{
		MergeMetadata: map[string]any{
			"patches":   history,
			"has_patch": true,
		},
		AppendLogs: []task.LogEntry{{
			Level:     "info",
			Source:    "board",
			Message:   "patch applied: " + patch.Name,
			Timestamp: time.Now(),
		}},
	}
	return s.persistOptimistic(ctx, snapshot, mut, "patch")
}

// DeleteTask removes a task. The local record is never removed unless the
// remote delete succeeds, to avoid losing track of a resource the remote
// side still owns.
func (s *Syncer) DeleteTask(ctx context.Context, id int64) error {
	unlock := s.lockTask(id)
	defer unlock()

	t, ok := s.store.Get(id)
	if !ok {
		return boarderrors.New(boarderrors.CodeTaskNotFound, fmt.Sprintf("task %d not found", id))
	}

	if err := s.remote.DeleteTask(ctx, remote.RecordFromTask(t).Key()); err != nil {
		s.notifier.Notify("error", fmt.Sprintf("failed to delete task %d: %v", id, err))
		return fmt.Errorf("delete task %d: %w", id, err)
	}

	s.store.Remove(id)
	return nil
}

// persistOptimistic applies the mutation locally, persists the result, and
// restores the pre-mutation snapshot on failure. No automatic retry: the
// error is surfaced so the caller can retry explicitly.
func (s *Syncer) persistOptimistic(ctx context.Context, snapshot *task.Task, mut *store.Mutation, op string) (*task.Task, error) {
	updated, err := s.store.Apply(snapshot.ID, mut)
	if err != nil {
		return nil, err
	}

	canonical, err := s.remote.UpdateTask(ctx, remote.RecordFromTask(updated))
	if err != nil {
		s.store.Restore(snapshot)
		s.notifier.Notify("error", fmt.Sprintf("failed to %s task %d: %v", op, snapshot.ID, err))
		return nil, fmt.Errorf("%s task %d: %w", op, snapshot.ID, err)
	}

	return s.mergeCanonical(snapshot.ID, canonical), nil
}

// mergeCanonical folds server-returned canonical fields into the local
// task after a successful persist.
func (s *Syncer) mergeCanonical(id int64, canonical *remote.TaskRecord) *task.Task {
	if canonical == nil {
		t, _ := s.store.Get(id)
		return t
	}
	if len(canonical.Metadata) > 0 {
		if t, err := s.store.Apply(id, &store.Mutation{MergeMetadata: canonical.Metadata}); err == nil {
			return t
		}
	}
	t, _ := s.store.Get(id)
	return t
}

// GetTask returns a clone of the task.
func (s *Syncer) GetTask(id int64) (*task.Task, bool) {
	return s.store.Get(id)
}

// GetTaskByExternalID resolves an external workflow ID to its task.
func (s *Syncer) GetTaskByExternalID(externalID string) (*task.Task, bool) {
	return s.store.GetByExternalID(externalID)
}

// WorkflowLogsForTask returns the task's bounded workflow log.
func (s *Syncer) WorkflowLogsForTask(id int64) ([]task.LogEntry, error) {
	t, ok := s.store.Get(id)
	if !ok {
		return nil, boarderrors.New(boarderrors.CodeTaskNotFound, fmt.Sprintf("task %d not found", id))
	}
	return t.Logs, nil
}

// WorkflowProgressForTask returns the task's current workflow progress.
func (s *Syncer) WorkflowProgressForTask(id int64) (*Progress, error) {
	t, ok := s.store.Get(id)
	if !ok {
		return nil, boarderrors.New(boarderrors.CodeTaskNotFound, fmt.Sprintf("task %d not found", id))
	}
	return &Progress{
		Stage:            t.Stage,
		Substage:         t.Substage,
		Progress:         t.Progress,
		WorkflowComplete: t.WorkflowComplete,
	}, nil
}
