// Package stage interprets inbound workflow events into task stage
// changes: authoritative transitions, opportunistic inference from step
// text, and failure routing.
package stage

import (
	"strings"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/task"
)

// stepMarker is the conventional prefix backends put in front of an
// encoded target stage inside a free-text step ("Stage: build").
const stepMarker = "stage:"

// FromStepText extracts a stage from a free-text "current step" field.
// The grammar is deliberately small: a "Stage:" marker followed by a stage
// name wins; otherwise the first word that is a known stage name matches.
// Pure function, no state.
func FromStepText(step string) (task.Stage, bool) {
	if step == "" {
		return "", false
	}

	lower := strings.ToLower(step)
	if idx := strings.Index(lower, stepMarker); idx >= 0 {
		rest := strings.TrimSpace(lower[idx+len(stepMarker):])
		if tok := firstToken(rest); tok != "" {
			if s, ok := task.ParseStage(tok); ok {
				return s, true
			}
		}
		// A marker with an unknown stage name is not a match at all;
		// falling through to word scanning would misread "Stage: deploy
		// tests" as the test stage.
		return "", false
	}

	for _, word := range strings.FieldsFunc(lower, isSeparator) {
		if s, ok := task.ParseStage(word); ok {
			return s, true
		}
	}
	return "", false
}

func firstToken(s string) string {
	fields := strings.FieldsFunc(s, isSeparator)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', ',', '.', ';', '(', ')', '[', ']':
		return true
	default:
		return false
	}
}

// Workflow identifier decorations stripped before token parsing.
const workflowPrefix = "adw_"

var workflowSuffixes = []string{"_iso", "_zte"}

// sdlcWorkflow is the special identifier mapping to the canonical
// five-stage sequence.
const sdlcWorkflow = "sdlc"

// CanonicalSequence returns the canonical five-stage workflow sequence.
func CanonicalSequence() []task.Stage {
	return []task.Stage{task.StagePlan, task.StageBuild, task.StageTest, task.StageReview, task.StageDocument}
}

// SequenceFromWorkflowID parses a declared workflow identifier
// ("adw_plan_build_test_iso") into its ordered stage sequence. Returns nil
// when no stage tokens can be recognized; callers treat nil as
// "position indeterminate" and fail open.
func SequenceFromWorkflowID(workflowID string) []task.Stage {
	id := strings.ToLower(strings.TrimSpace(workflowID))
	if id == "" {
		return nil
	}

	id = strings.TrimPrefix(id, workflowPrefix)
	for _, suffix := range workflowSuffixes {
		id = strings.TrimSuffix(id, suffix)
	}

	if id == sdlcWorkflow {
		return CanonicalSequence()
	}

	var seq []task.Stage
	for _, tok := range strings.Split(id, "_") {
		if s, ok := task.ParseStage(tok); ok {
			seq = append(seq, s)
		}
	}
	return seq
}

// sequenceIndex returns the position of a stage in a declared sequence,
// or -1 when the sequence is nil or does not contain the stage.
func sequenceIndex(seq []task.Stage, s task.Stage) int {
	for i, st := range seq {
		if st == s {
			return i
		}
	}
	return -1
}

// AllowsAdvance reports whether an inferred move from current to target is
// permitted under the declared workflow sequence. Moves are forward-only;
// when either position is indeterminate the move is allowed (fail open on
// inference ambiguity) so progress is never silently dropped because of an
// unparseable workflow name.
func AllowsAdvance(seq []task.Stage, current, target task.Stage) bool {
	if target == current {
		return false
	}
	curIdx := sequenceIndex(seq, current)
	tgtIdx := sequenceIndex(seq, target)
	if curIdx < 0 || tgtIdx < 0 {
		return true
	}
	return tgtIdx > curIdx
}
