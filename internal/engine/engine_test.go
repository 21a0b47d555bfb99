package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/dedup"
	boarderrors "github.com/kvnkishore11/AgenticKanban-sub008/internal/errors"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/events"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/remote"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/stage"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/store"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/syncer"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/task"
)

// downRemote fails every persistence call.
type downRemote struct{}

func (downRemote) CreateTask(context.Context, *remote.TaskRecord) (*remote.TaskRecord, error) {
	return nil, boarderrors.New(boarderrors.CodeRemoteUnavailable, "backend down")
}

func (downRemote) UpdateTask(context.Context, *remote.TaskRecord) (*remote.TaskRecord, error) {
	return nil, boarderrors.New(boarderrors.CodeRemoteUnavailable, "backend down")
}

func (downRemote) DeleteTask(context.Context, string) error {
	return boarderrors.New(boarderrors.CodeRemoteUnavailable, "backend down")
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st := store.New(events.NewNopPublisher(), nil)
	dd := dedup.New(st, dedup.Options{}, nil)
	t.Cleanup(dd.Close)
	return New(st, dd, stage.NewMachine(nil), nil), st
}

func TestTriggerResponseBindsTask(t *testing.T) {
	e, st := newTestEngine(t)
	created := st.Create("Add login", "")

	e.Handle(&events.TriggerResponse{
		ExternalID:   "adw_abc123",
		TaskID:       created.ID,
		Status:       "accepted",
		WorkflowName: "adw_sdlc",
	})

	bound, ok := st.GetByExternalID("adw_abc123")
	require.True(t, ok, "external id not bound")
	assert.Equal(t, created.ID, bound.ID)
	assert.Equal(t, "adw_sdlc", bound.WorkflowName)
	assert.Equal(t, "accepted", bound.Metadata["trigger_status"])
}

func TestTriggerResponseRejected(t *testing.T) {
	e, st := newTestEngine(t)
	created := st.Create("Add login", "")

	e.Handle(&events.TriggerResponse{
		TaskID: created.ID,
		Status: "rejected",
		Error:  "queue full",
	})

	after, _ := st.Get(created.ID)
	assert.Equal(t, "rejected", after.Metadata["trigger_status"])
	assert.Equal(t, "queue full", after.Metadata["trigger_error"])
	require.NotEmpty(t, after.Logs)
	assert.Contains(t, after.Logs[len(after.Logs)-1].Message, "queue full")
	_, ok := st.GetByExternalID("")
	assert.False(t, ok)
}

func TestTriggerResponseUnknownTask(t *testing.T) {
	e, st := newTestEngine(t)

	e.Handle(&events.TriggerResponse{ExternalID: "adw_abc123", TaskID: 42, Status: "accepted"})

	_, ok := st.GetByExternalID("adw_abc123")
	assert.False(t, ok)
}

func TestStageTransitionApplied(t *testing.T) {
	e, st := newTestEngine(t)
	created := st.Create("Add login", "")
	require.NoError(t, st.Bind(created.ID, "adw_abc123"))

	e.Handle(&events.StageTransition{ExternalID: "adw_abc123", ToStage: "completed"})

	after, _ := st.Get(created.ID)
	assert.Equal(t, task.StageCompleted, after.Stage)
	assert.Equal(t, 100, after.Progress)
	assert.True(t, after.WorkflowComplete)
}

func TestUnroutableEventsDropped(t *testing.T) {
	e, st := newTestEngine(t)
	st.Create("Add login", "")

	e.Handle(&events.StageTransition{ExternalID: "adw_nobody", ToStage: "build"})
	e.Handle(&events.StatusUpdate{ExternalID: "adw_nobody", Status: "running"})
	e.Handle(&events.WorkflowLog{ExternalID: "adw_nobody", Message: "hello"})

	for _, tk := range st.List() {
		assert.Equal(t, task.StageBacklog, tk.Stage)
		assert.Empty(t, tk.Logs)
	}
}

func TestWorkspaceDestroyedRemovesTask(t *testing.T) {
	e, st := newTestEngine(t)
	created := st.Create("Add login", "")
	require.NoError(t, st.Bind(created.ID, "adw_abc123"))

	e.Handle(&events.StatusUpdate{ExternalID: "adw_abc123", Status: StatusWorkspaceDestroyed})

	_, ok := st.Get(created.ID)
	assert.False(t, ok, "task survived workspace destruction")
	_, ok = st.GetByExternalID("adw_abc123")
	assert.False(t, ok, "index entry survived removal")
}

func TestWorkflowLogAndAgentEventsAppend(t *testing.T) {
	e, st := newTestEngine(t)
	created := st.Create("Add login", "")
	require.NoError(t, st.Bind(created.ID, "adw_abc123"))

	e.Handle(&events.WorkflowLog{ExternalID: "adw_abc123", Level: "warning", Message: "retrying step"})
	e.Handle(&events.AgentToolUse{ExternalID: "adw_abc123", Tool: "bash", Input: "go test"})
	e.Handle(&events.AgentFileChange{ExternalID: "adw_abc123", Path: "auth.go", Change: "edited"})

	after, _ := st.Get(created.ID)
	require.Len(t, after.Logs, 3)
	assert.Equal(t, "warning", after.Logs[0].Level)
	assert.Equal(t, "agent", after.Logs[1].Source)
	assert.Contains(t, after.Logs[1].Message, "bash")
	assert.Contains(t, after.Logs[2].Message, "auth.go")
}

func TestHandleRawDropsMalformedFrames(t *testing.T) {
	e, st := newTestEngine(t)
	st.Create("Add login", "")

	e.HandleRaw([]byte(`{"not json`))
	e.HandleRaw([]byte(`{"type":"mystery","data":{}}`))
	e.HandleRaw([]byte(`{"type":"status_update","data":{"status":"running"}}`))

	for _, tk := range st.List() {
		assert.Equal(t, task.StageBacklog, tk.Stage)
	}
}

func TestOnReconnectResetsDedup(t *testing.T) {
	e, st := newTestEngine(t)
	created := st.Create("Add login", "")
	require.NoError(t, st.Bind(created.ID, "adw_abc123"))

	ev := &events.WorkflowLog{ExternalID: "adw_abc123", Message: "line one"}
	e.Handle(ev)
	e.Handle(ev) // duplicate, dropped
	e.OnReconnect()
	e.Handle(ev) // same content after reconnect, delivered

	after, _ := st.Get(created.ID)
	assert.Len(t, after.Logs, 2)
}

// TestFullScenario walks the board through a complete run lifecycle:
// trigger acceptance, duplicate status delivery, an authoritative errored
// transition, and a failed optimistic update.
func TestFullScenario(t *testing.T) {
	e, st := newTestEngine(t)
	t1 := st.Create("Add login", "")
	assert.Equal(t, task.StageBacklog, t1.Stage)

	// Backend accepts the trigger and assigns the run id.
	e.Handle(&events.TriggerResponse{ExternalID: "abc123", TaskID: t1.ID, Status: "accepted"})
	bound, ok := st.GetByExternalID("abc123")
	require.True(t, ok)
	require.Equal(t, t1.ID, bound.ID)

	// The same status update arrives twice in immediate succession.
	ts := time.Now()
	for i := 0; i < 2; i++ {
		e.Handle(&events.StatusUpdate{
			ExternalID:      "abc123",
			CurrentStep:     "Stage: build",
			ProgressPercent: 10,
			Timestamp:       &ts,
		})
	}
	after, _ := st.Get(t1.ID)
	assert.Equal(t, task.StageBuild, after.Stage)
	var advances int
	for _, entry := range after.Logs {
		if entry.Level == "info" && entry.Source == "workflow" {
			advances++
		}
	}
	assert.Equal(t, 2, advances, "trigger acceptance plus exactly one stage advance")

	// Authoritative errored transition.
	e.Handle(&events.StageTransition{ExternalID: "abc123", ToStage: "errored"})
	after, _ = st.Get(t1.ID)
	assert.Equal(t, task.StageErrored, after.Stage)
	assert.Equal(t, "failed", after.Metadata["workflow_status"])

	// A local update against a dead backend rolls back and notifies.
	var notices []string
	sc := syncer.New(st, downRemote{}, syncer.NotifierFunc(func(_, message string) {
		notices = append(notices, message)
	}), nil)
	title := "x"
	_, err := sc.UpdateTask(context.Background(), t1.ID, syncer.Update{Title: &title})
	require.Error(t, err)
	after, _ = st.Get(t1.ID)
	assert.Equal(t, "Add login", after.Title)
	assert.Len(t, notices, 1)
}
