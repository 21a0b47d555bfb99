package task

import (
	"fmt"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tk := New(1, "Fix login bug")

	if tk.ID != 1 {
		t.Errorf("expected ID 1, got %d", tk.ID)
	}
	if tk.Title != "Fix login bug" {
		t.Errorf("expected Title 'Fix login bug', got %s", tk.Title)
	}
	if tk.Stage != StageBacklog {
		t.Errorf("expected Stage %s, got %s", StageBacklog, tk.Stage)
	}
	if tk.ExternalID != "" {
		t.Errorf("expected no external ID at creation, got %s", tk.ExternalID)
	}
	if tk.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		in    string
		want  Stage
		valid bool
	}{
		{"backlog", StageBacklog, true},
		{"plan", StagePlan, true},
		{"Build", StageBuild, true},
		{"ready_to_merge", StageReadyToMerge, true},
		{"ready-to-merge", StageReadyToMerge, true},
		{"Ready To Merge", StageReadyToMerge, true},
		{"ERRORED", StageErrored, true},
		{"deploy", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseStage(tt.in)
		if ok != tt.valid {
			t.Errorf("ParseStage(%q) valid = %v, want %v", tt.in, ok, tt.valid)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParseStage(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestStageOrder(t *testing.T) {
	prev := -1
	for _, s := range []Stage{StageBacklog, StagePlan, StageBuild, StageTest, StageReview, StageDocument, StageReadyToMerge, StageCompleted} {
		order := StageOrder(s)
		if order <= prev {
			t.Errorf("expected %s to sort after previous stage, got order %d", s, order)
		}
		prev = order
	}

	if StageOrder("bogus") != -1 {
		t.Error("expected -1 for unknown stage")
	}
}

func TestIsTerminalStage(t *testing.T) {
	terminal := map[Stage]bool{
		StageReadyToMerge: true,
		StageCompleted:    true,
		StageErrored:      true,
	}
	for _, s := range ValidStages() {
		if IsTerminalStage(s) != terminal[s] {
			t.Errorf("IsTerminalStage(%s) = %v, want %v", s, IsTerminalStage(s), terminal[s])
		}
	}
}

func TestSetStageResetsSubstageAndProgress(t *testing.T) {
	tk := New(1, "test")
	tk.Substage = "Validating plan"
	tk.Progress = 40

	tk.SetStage(StageBuild)

	if tk.Stage != StageBuild {
		t.Errorf("expected stage build, got %s", tk.Stage)
	}
	if tk.Substage != "" {
		t.Errorf("expected substage reset, got %q", tk.Substage)
	}
	if tk.Progress != 0 {
		t.Errorf("expected progress reset, got %d", tk.Progress)
	}
}

func TestSetStageSameStageKeepsProgress(t *testing.T) {
	tk := New(1, "test")
	tk.Stage = StageBuild
	tk.Substage = "Compiling"
	tk.Progress = 60

	tk.SetStage(StageBuild)

	if tk.Substage != "Compiling" || tk.Progress != 60 {
		t.Error("expected same-stage SetStage to be a no-op")
	}
}

func TestMergeMetadata(t *testing.T) {
	tk := New(1, "test")
	tk.MergeMetadata(map[string]any{"workflow_status": "running", "branch": "adw/feat"})
	tk.MergeMetadata(map[string]any{"workflow_status": "failed"})

	if tk.Metadata["workflow_status"] != "failed" {
		t.Errorf("expected workflow_status failed, got %v", tk.Metadata["workflow_status"])
	}
	if tk.Metadata["branch"] != "adw/feat" {
		t.Error("expected merge to preserve keys missing from the update")
	}
}

func TestAppendLogsBounded(t *testing.T) {
	tk := New(1, "test")
	for i := 0; i < MaxLogEntries+50; i++ {
		tk.AppendLogs(LogEntry{Message: fmt.Sprintf("line %d", i), Timestamp: time.Now()})
	}

	if len(tk.Logs) != MaxLogEntries {
		t.Fatalf("expected %d log entries, got %d", MaxLogEntries, len(tk.Logs))
	}
	if tk.Logs[0].Message != "line 50" {
		t.Errorf("expected oldest entries dropped, first is %q", tk.Logs[0].Message)
	}
	if tk.Logs[len(tk.Logs)-1].Message != fmt.Sprintf("line %d", MaxLogEntries+49) {
		t.Errorf("expected newest entry kept, last is %q", tk.Logs[len(tk.Logs)-1].Message)
	}
}

func TestCloneIsDeep(t *testing.T) {
	tk := New(1, "test")
	tk.Metadata["patches"] = []any{"patch-1"}
	tk.Metadata["merge"] = map[string]any{"state": "pending"}
	tk.AppendLogs(LogEntry{Message: "created"})

	c := tk.Clone()
	c.Metadata["new"] = true
	c.Metadata["merge"].(map[string]any)["state"] = "merged"
	c.Metadata["patches"] = append(c.Metadata["patches"].([]any), "patch-2")
	c.Logs[0].Message = "mutated"

	if _, ok := tk.Metadata["new"]; ok {
		t.Error("clone metadata shares top-level map with original")
	}
	if tk.Metadata["merge"].(map[string]any)["state"] != "pending" {
		t.Error("clone metadata shares nested map with original")
	}
	if len(tk.Metadata["patches"].([]any)) != 1 {
		t.Error("clone metadata shares list with original")
	}
	if tk.Logs[0].Message != "created" {
		t.Error("clone logs share backing array with original")
	}
}
