// Package store holds the authoritative in-memory task set, the
// external-ID index, and the batched mutation applier.
package store

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/events"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/task"
)

// Mutation is a single logical update possibly touching stage, metadata,
// progress/substage and logs. Apply commits every touched field in one
// atomic transition so observers fire once per inbound event.
type Mutation struct {
	Title       *string
	Description *string

	// Stage moves the task; substage and progress reset on change before
	// any explicit Substage/Progress below are applied.
	Stage    *task.Stage
	Substage *string
	Progress *int

	WorkflowName     *string
	WorkflowComplete *bool

	// MergeMetadata is merged key-by-key, never wholesale-replacing.
	MergeMetadata map[string]any

	AppendLogs []task.LogEntry
}

// IsZero returns true when the mutation touches nothing.
func (m *Mutation) IsZero() bool {
	return m == nil ||
		(m.Title == nil && m.Description == nil && m.Stage == nil &&
			m.Substage == nil && m.Progress == nil && m.WorkflowName == nil &&
			m.WorkflowComplete == nil && len(m.MergeMetadata) == 0 &&
			len(m.AppendLogs) == 0)
}

// Store owns the task set. The external-ID index is a derived projection:
// id -> Task is the sole ownership path and the index is rebuildable from
// the task set at any time.
type Store struct {
	mu         sync.RWMutex
	tasks      map[int64]*task.Task
	byExternal map[string]int64
	nextID     int64
	pub        events.Publisher
	logger     *slog.Logger
}

// New creates an empty store publishing board changes to pub.
func New(pub events.Publisher, logger *slog.Logger) *Store {
	if pub == nil {
		pub = events.NewNopPublisher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		tasks:      make(map[int64]*task.Task),
		byExternal: make(map[string]int64),
		nextID:     1,
		pub:        pub,
		logger:     logger,
	}
}

// Create adds a new task with the next local ID and returns a clone.
func (s *Store) Create(title, description string) *task.Task {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	t := task.New(id, title)
	t.Description = description
	s.tasks[id] = t
	clone := t.Clone()
	s.mu.Unlock()

	s.pub.Publish(events.NewBoardEvent(events.EventTaskCreated, id, clone))
	return clone
}

// Get returns a clone of the task, or false if it does not exist.
func (s *Store) Get(id int64) (*task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// GetByExternalID resolves an external workflow ID to its owning task in
// O(1), or false if no task owns it.
func (s *Store) GetByExternalID(externalID string) (*task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, false
	}
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// List returns clones of all tasks ordered by ID.
func (s *Store) List() []*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tasks on the board.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Bind assigns an external workflow ID to a task. At most one task owns a
// given external ID at any time: a previous owner loses the binding.
func (s *Store) Bind(id int64, externalID string) error {
	if externalID == "" {
		return fmt.Errorf("bind task %d: empty external id", id)
	}

	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("bind external id %s: task %d not found", externalID, id)
	}

	if prevID, owned := s.byExternal[externalID]; owned && prevID != id {
		if prev, exists := s.tasks[prevID]; exists {
			prev.ExternalID = ""
		}
		s.logger.Warn("external id rebound to new task",
			"external_id", externalID, "previous_task", prevID, "task", id)
	}
	if t.ExternalID != "" && t.ExternalID != externalID {
		delete(s.byExternal, t.ExternalID)
	}

	t.ExternalID = externalID
	t.UpdatedAt = time.Now()
	s.byExternal[externalID] = id
	clone := t.Clone()
	s.mu.Unlock()

	s.pub.Publish(events.NewBoardEvent(events.EventTaskUpdated, id, clone))
	return nil
}

// Unbind removes a task's external ID binding, if any.
func (s *Store) Unbind(id int64) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok && t.ExternalID != "" {
		delete(s.byExternal, t.ExternalID)
		t.ExternalID = ""
		t.UpdatedAt = time.Now()
	}
	s.mu.Unlock()
}

// RebuildIndex recomputes the external-ID index from the task set. Used
// after rehydration since the persisted index is never trusted.
func (s *Store) RebuildIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byExternal = make(map[string]int64, len(s.tasks))
	for id, t := range s.tasks {
		if t.ExternalID == "" {
			continue
		}
		if prev, dup := s.byExternal[t.ExternalID]; dup {
			// Two rehydrated tasks claim the same run; the newer ID wins.
			loser := prev
			if prev > id {
				loser = id
			}
			if lt, ok := s.tasks[loser]; ok {
				lt.ExternalID = ""
			}
			s.logger.Warn("duplicate external id during index rebuild",
				"external_id", t.ExternalID, "dropped_task", loser)
			if loser == id {
				continue
			}
		}
		s.byExternal[t.ExternalID] = id
	}
}

// Apply commits a batched mutation atomically and publishes exactly one
// task_updated event. Partial visibility of a multi-field change is never
// observable.
func (s *Store) Apply(id int64, m *Mutation) (*task.Task, error) {
	if m.IsZero() {
		if t, ok := s.Get(id); ok {
			return t, nil
		}
		return nil, fmt.Errorf("apply mutation: task %d not found", id)
	}

	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("apply mutation: task %d not found", id)
	}

	if m.Title != nil {
		t.Title = *m.Title
	}
	if m.Description != nil {
		t.Description = *m.Description
	}
	if m.Stage != nil {
		t.SetStage(*m.Stage)
	}
	if m.Substage != nil {
		t.Substage = *m.Substage
	}
	if m.Progress != nil {
		t.Progress = *m.Progress
	}
	if m.WorkflowName != nil {
		t.WorkflowName = *m.WorkflowName
	}
	if m.WorkflowComplete != nil {
		t.WorkflowComplete = *m.WorkflowComplete
	}
	t.MergeMetadata(m.MergeMetadata)
	t.AppendLogs(m.AppendLogs...)
	t.UpdatedAt = time.Now()

	clone := t.Clone()
	s.mu.Unlock()

	s.pub.Publish(events.NewBoardEvent(events.EventTaskUpdated, id, clone))
	return clone, nil
}

// Remove deletes a task and its index entry.
func (s *Store) Remove(id int64) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if t.ExternalID != "" {
		delete(s.byExternal, t.ExternalID)
	}
	delete(s.tasks, id)
	s.mu.Unlock()

	s.pub.Publish(events.NewBoardEvent(events.EventTaskDeleted, id, nil))
	return true
}

// Restore replaces a task with a previously captured snapshot, fixing the
// index to match the snapshot's external ID. Used for optimistic rollback:
// a full replace, not an inverse patch.
func (s *Store) Restore(snapshot *task.Task) {
	s.mu.Lock()
	if current, ok := s.tasks[snapshot.ID]; ok && current.ExternalID != "" {
		delete(s.byExternal, current.ExternalID)
	}
	restored := snapshot.Clone()
	s.tasks[snapshot.ID] = restored
	if restored.ExternalID != "" {
		s.byExternal[restored.ExternalID] = restored.ID
	}
	clone := restored.Clone()
	s.mu.Unlock()

	s.pub.Publish(events.NewBoardEvent(events.EventTaskUpdated, snapshot.ID, clone))
}

// Put inserts a rehydrated task without publishing, advancing the local ID
// sequence past it. Callers must RebuildIndex afterwards.
func (s *Store) Put(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[t.ID] = t.Clone()
	if t.ID >= s.nextID {
		s.nextID = t.ID + 1
	}
}

// NextID reports the next local ID without consuming it.
func (s *Store) NextID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// SetNextID raises the local ID sequence. IDs are never reused, so the
// sequence only moves forward.
func (s *Store) SetNextID(next int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.nextID {
		s.nextID = next
	}
}

// CurrentStage reports the stage of the task owning an external ID.
// Implements the deduplicator's resolver.
func (s *Store) CurrentStage(externalID string) (task.Stage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		return "", false
	}
	t, ok := s.tasks[id]
	if !ok {
		return "", false
	}
	return t.Stage, true
}
