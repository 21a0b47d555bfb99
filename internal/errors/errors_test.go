package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(CodeTaskNotFound, "task 7 not found").WithDetail("deleted by another client")
	msg := err.Error()
	if !strings.Contains(msg, "task 7 not found") || !strings.Contains(msg, "deleted by another client") {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(CodeRemoteUnavailable, "persist task", cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected cause in message, got %s", err.Error())
	}
}

func TestCategoryHTTPStatus(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeTaskNotFound, 404},
		{CodeStageInvalid, 400},
		{CodeStoreConflict, 409},
		{CodeRemoteTimeout, 504},
		{CodeRemoteUnavailable, 503},
		{Code("WHO_KNOWS"), 500},
	}

	for _, tt := range tests {
		err := New(tt.code, "test")
		if got := err.HTTPStatus(); got != tt.status {
			t.Errorf("%s: HTTPStatus = %d, want %d", tt.code, got, tt.status)
		}
	}
}

func TestCodeOf(t *testing.T) {
	err := New(CodeRemoteRejected, "rejected")
	wrapped := fmt.Errorf("update task: %w", err)

	if got := CodeOf(wrapped); got != CodeRemoteRejected {
		t.Errorf("CodeOf = %s, want %s", got, CodeRemoteRejected)
	}
	if got := CodeOf(stderrors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %s, want empty", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %s, want empty", got)
	}
}

func TestMarshalJSONIncludesCause(t *testing.T) {
	err := Wrap(CodeRemoteUnavailable, "persist task", stderrors.New("dial tcp: refused"))
	data, merr := json.Marshal(err)
	if merr != nil {
		t.Fatalf("marshal failed: %v", merr)
	}

	var decoded map[string]any
	if uerr := json.Unmarshal(data, &decoded); uerr != nil {
		t.Fatalf("unmarshal failed: %v", uerr)
	}
	if decoded["code"] != string(CodeRemoteUnavailable) {
		t.Errorf("expected code in JSON, got %v", decoded["code"])
	}
	if decoded["cause"] != "dial tcp: refused" {
		t.Errorf("expected cause in JSON, got %v", decoded["cause"])
	}
}
