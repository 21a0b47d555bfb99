package dedup

import (
	"hash/fnv"
	"strconv"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/events"
)

// Fingerprint computes a content digest for an inbound event. Wall-clock
// timestamps are excluded: including them would make every re-delivery
// unique and defeat deduplication entirely.
func Fingerprint(ev events.Inbound) uint64 {
	h := fnv.New64a()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}

	write(string(ev.Kind()), ev.AdwID())

	switch e := ev.(type) {
	case *events.StatusUpdate:
		write(e.Status, e.Level, strconv.Itoa(e.ProgressPercent), e.CurrentStep, e.Message)
	case *events.WorkflowLog:
		write(e.Level, e.Source, e.Message)
	case *events.TriggerResponse:
		write(e.Status, strconv.FormatInt(e.TaskID, 10), e.Error)
	case *events.StageTransition:
		write(e.FromStage, e.ToStage)
	case *events.AgentToolUse:
		write(e.Tool, e.Input)
	case *events.AgentText:
		write(e.Text)
	case *events.AgentThinking:
		write(e.Text)
	case *events.AgentFileChange:
		write(e.Path, e.Change)
	}

	return h.Sum64()
}
