package stage

import (
	"testing"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/task"
)

func TestFromStepText(t *testing.T) {
	tests := []struct {
		step string
		want task.Stage
		ok   bool
	}{
		{"Stage: build", task.StageBuild, true},
		{"stage: REVIEW", task.StageReview, true},
		{"Running checks (Stage: test)", task.StageTest, true},
		{"Stage: ready-to-merge", task.StageReadyToMerge, true},
		{"Stage: deploy tests", "", false},
		{"Writing plan document", task.StagePlan, true},
		{"build artifacts uploaded", task.StageBuild, true},
		{"Running linters", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := FromStepText(tt.step)
		if ok != tt.ok {
			t.Errorf("FromStepText(%q) ok = %v, want %v", tt.step, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("FromStepText(%q) = %s, want %s", tt.step, got, tt.want)
		}
	}
}

func TestSequenceFromWorkflowID(t *testing.T) {
	tests := []struct {
		id   string
		want []task.Stage
	}{
		{"adw_plan_build_test_iso", []task.Stage{task.StagePlan, task.StageBuild, task.StageTest}},
		{"adw_plan_build", []task.Stage{task.StagePlan, task.StageBuild}},
		{"plan_build_review", []task.Stage{task.StagePlan, task.StageBuild, task.StageReview}},
		{"adw_sdlc", CanonicalSequence()},
		{"adw_sdlc_iso", CanonicalSequence()},
		{"adw_ship_it", nil},
		{"", nil},
	}

	for _, tt := range tests {
		got := SequenceFromWorkflowID(tt.id)
		if len(got) != len(tt.want) {
			t.Errorf("SequenceFromWorkflowID(%q) = %v, want %v", tt.id, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SequenceFromWorkflowID(%q)[%d] = %s, want %s", tt.id, i, got[i], tt.want[i])
			}
		}
	}
}

func TestAllowsAdvance(t *testing.T) {
	seq := []task.Stage{task.StagePlan, task.StageBuild, task.StageTest}

	tests := []struct {
		name    string
		seq     []task.Stage
		current task.Stage
		target  task.Stage
		want    bool
	}{
		{"forward move", seq, task.StagePlan, task.StageBuild, true},
		{"skip forward", seq, task.StagePlan, task.StageTest, true},
		{"backward move", seq, task.StageTest, task.StagePlan, false},
		{"same stage", seq, task.StageBuild, task.StageBuild, false},
		{"nil sequence fails open", nil, task.StageTest, task.StagePlan, true},
		{"current not in sequence fails open", seq, task.StageBacklog, task.StageBuild, true},
		{"target not in sequence fails open", seq, task.StagePlan, task.StageReview, true},
	}

	for _, tt := range tests {
		if got := AllowsAdvance(tt.seq, tt.current, tt.target); got != tt.want {
			t.Errorf("%s: AllowsAdvance = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsMergeRun(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"adw_merge", true},
		{"adw_merge_iso", true},
		{"merge", true},
		{"adw_plan_build", false},
		{"adw_sdlc", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsMergeRun(tt.id); got != tt.want {
			t.Errorf("IsMergeRun(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
