// Package events defines the inbound workflow event union and the board
// change publisher for AgenticKanban.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// EventType defines the type of event.
type EventType string

const (
	// Inbound transport events (backend -> board)

	// EventStatusUpdate carries run status, current step and progress.
	EventStatusUpdate EventType = "status_update"
	// EventWorkflowLog carries a single workflow log line.
	EventWorkflowLog EventType = "workflow_log"
	// EventTriggerResponse is the backend's answer to a trigger request.
	EventTriggerResponse EventType = "trigger_response"
	// EventStageTransition is an authoritative stage change.
	EventStageTransition EventType = "stage_transition"

	// Agent sub-events (fine-grained activity inside a run)

	// EventAgentToolUse indicates the agent invoked a tool.
	EventAgentToolUse EventType = "agent_tool_use"
	// EventAgentText indicates an agent text block.
	EventAgentText EventType = "agent_text"
	// EventAgentThinking indicates an agent thinking block.
	EventAgentThinking EventType = "agent_thinking"
	// EventAgentFileChange indicates the agent changed a file.
	EventAgentFileChange EventType = "agent_file_change"

	// Board change events (store -> observers)

	// EventTaskCreated indicates a new task was added to the board.
	EventTaskCreated EventType = "task_created"
	// EventTaskUpdated indicates a task was modified.
	EventTaskUpdated EventType = "task_updated"
	// EventTaskDeleted indicates a task was removed from the board.
	EventTaskDeleted EventType = "task_deleted"
)

// Inbound is the tagged union of events delivered over the transport.
// Each variant carries the external workflow (ADW) identifier used to
// route the event to a task.
type Inbound interface {
	Kind() EventType
	AdwID() string
}

// StatusUpdate reports run status, the current step and progress.
type StatusUpdate struct {
	ExternalID      string         `json:"adw_id"`
	WorkflowName    string         `json:"workflow_name,omitempty"`
	Status          string         `json:"status,omitempty"`
	CurrentStep     string         `json:"current_step,omitempty"`
	ProgressPercent int            `json:"progress_percent"`
	Level           string         `json:"level,omitempty"`
	Message         string         `json:"message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Timestamp       *time.Time     `json:"timestamp,omitempty"`
}

func (e *StatusUpdate) Kind() EventType { return EventStatusUpdate }
func (e *StatusUpdate) AdwID() string   { return e.ExternalID }

// WorkflowLog carries a single log line from the run.
type WorkflowLog struct {
	ExternalID string     `json:"adw_id"`
	Level      string     `json:"level,omitempty"`
	Source     string     `json:"source,omitempty"`
	Message    string     `json:"message"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

func (e *WorkflowLog) Kind() EventType { return EventWorkflowLog }
func (e *WorkflowLog) AdwID() string   { return e.ExternalID }

// TriggerResponse is the backend's answer to a locally-initiated trigger.
// TaskID echoes the local task identifier sent with the request so the
// engine can bind the assigned ADW id to the right task.
type TriggerResponse struct {
	ExternalID   string     `json:"adw_id"`
	TaskID       int64      `json:"task_id"`
	Status       string     `json:"status"` // accepted, rejected
	WorkflowName string     `json:"workflow_name,omitempty"`
	Error        string     `json:"error,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

func (e *TriggerResponse) Kind() EventType { return EventTriggerResponse }
func (e *TriggerResponse) AdwID() string   { return e.ExternalID }

// StageTransition is an authoritative, backend-decided stage change.
type StageTransition struct {
	ExternalID string     `json:"adw_id"`
	FromStage  string     `json:"from_stage,omitempty"`
	ToStage    string     `json:"to_stage"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

func (e *StageTransition) Kind() EventType { return EventStageTransition }
func (e *StageTransition) AdwID() string   { return e.ExternalID }

// AgentToolUse reports a tool invocation inside the run.
type AgentToolUse struct {
	ExternalID string     `json:"adw_id"`
	Tool       string     `json:"tool"`
	Input      string     `json:"input,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

func (e *AgentToolUse) Kind() EventType { return EventAgentToolUse }
func (e *AgentToolUse) AdwID() string   { return e.ExternalID }

// AgentText reports an agent text block.
type AgentText struct {
	ExternalID string     `json:"adw_id"`
	Text       string     `json:"text"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

func (e *AgentText) Kind() EventType { return EventAgentText }
func (e *AgentText) AdwID() string   { return e.ExternalID }

// AgentThinking reports an agent thinking block.
type AgentThinking struct {
	ExternalID string     `json:"adw_id"`
	Text       string     `json:"text"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

func (e *AgentThinking) Kind() EventType { return EventAgentThinking }
func (e *AgentThinking) AdwID() string   { return e.ExternalID }

// AgentFileChange reports a file created, edited or deleted by the agent.
type AgentFileChange struct {
	ExternalID string     `json:"adw_id"`
	Path       string     `json:"path"`
	Change     string     `json:"change,omitempty"` // created, edited, deleted
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

func (e *AgentFileChange) Kind() EventType { return EventAgentFileChange }
func (e *AgentFileChange) AdwID() string   { return e.ExternalID }

// envelope is the wire frame: {"type": "...", "data": {...}}.
type envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses a raw transport frame into a typed inbound event.
// Unknown event kinds are rejected rather than partially read.
func Decode(raw []byte) (Inbound, error) {
	kind := gjson.GetBytes(raw, "type")
	if !kind.Exists() {
		return nil, fmt.Errorf("event missing type field")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse event frame: %w", err)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("event %s missing data", env.Type)
	}

	var ev Inbound
	switch env.Type {
	case EventStatusUpdate:
		ev = &StatusUpdate{}
	case EventWorkflowLog:
		ev = &WorkflowLog{}
	case EventTriggerResponse:
		ev = &TriggerResponse{}
	case EventStageTransition:
		ev = &StageTransition{}
	case EventAgentToolUse:
		ev = &AgentToolUse{}
	case EventAgentText:
		ev = &AgentText{}
	case EventAgentThinking:
		ev = &AgentThinking{}
	case EventAgentFileChange:
		ev = &AgentFileChange{}
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}

	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", env.Type, err)
	}
	if ev.AdwID() == "" && env.Type != EventTriggerResponse {
		return nil, fmt.Errorf("event %s missing adw_id", env.Type)
	}
	return ev, nil
}

// BoardEvent is a published board change.
type BoardEvent struct {
	Type   EventType `json:"type"`
	TaskID int64     `json:"task_id"`
	Data   any       `json:"data"`
	Time   time.Time `json:"time"`
}

// NewBoardEvent creates a board change event with the current timestamp.
func NewBoardEvent(eventType EventType, taskID int64, data any) BoardEvent {
	return BoardEvent{
		Type:   eventType,
		TaskID: taskID,
		Data:   data,
		Time:   time.Now(),
	}
}
