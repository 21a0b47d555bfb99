package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/events"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/task"
)

type stubResolver struct {
	stages map[string]task.Stage
}

func (r *stubResolver) CurrentStage(externalID string) (task.Stage, bool) {
	s, ok := r.stages[externalID]
	return s, ok
}

func statusEvent(extID, step string, progress int) *events.StatusUpdate {
	return &events.StatusUpdate{
		ExternalID:      extID,
		Status:          "running",
		CurrentStep:     step,
		ProgressPercent: progress,
	}
}

func newTestDedup(resolver Resolver, opts Options) *Deduplicator {
	d := New(resolver, opts, nil)
	return d
}

func TestFingerprintExcludesTimestamp(t *testing.T) {
	t1 := time.Now()
	t2 := t1.Add(time.Hour)
	a := statusEvent("abc", "Stage: build", 10)
	a.Timestamp = &t1
	b := statusEvent("abc", "Stage: build", 10)
	b.Timestamp = &t2

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("fingerprints must ignore wall-clock timestamps")
	}
}

func TestFingerprintContentSensitive(t *testing.T) {
	base := statusEvent("abc", "Stage: build", 10)
	variants := []events.Inbound{
		statusEvent("abc", "Stage: build", 11),
		statusEvent("abc", "Stage: test", 10),
		statusEvent("xyz", "Stage: build", 10),
		&events.WorkflowLog{ExternalID: "abc", Message: "Stage: build"},
	}

	for i, v := range variants {
		if Fingerprint(base) == Fingerprint(v) {
			t.Errorf("variant %d collided with base fingerprint", i)
		}
	}
}

func TestDuplicateWithinTTL(t *testing.T) {
	d := newTestDedup(nil, Options{})
	defer d.Close()

	ev := statusEvent("abc", "Running linters", 10)
	if d.IsDuplicate(ev) {
		t.Fatal("first delivery must not be a duplicate")
	}
	if !d.IsDuplicate(ev) {
		t.Fatal("second delivery within TTL must be a duplicate")
	}
}

func TestExpiredEntryAllowsRedelivery(t *testing.T) {
	d := newTestDedup(nil, Options{TTL: time.Minute})
	defer d.Close()

	current := time.Now()
	d.now = func() time.Time { return current }

	ev := statusEvent("abc", "Running linters", 10)
	if d.IsDuplicate(ev) {
		t.Fatal("first delivery must not be a duplicate")
	}

	current = current.Add(2 * time.Minute)
	if d.IsDuplicate(ev) {
		t.Fatal("delivery after TTL expiry must not be a duplicate")
	}
	if !d.IsDuplicate(ev) {
		t.Fatal("fingerprint must be re-recorded after expiry")
	}
}

func TestStageMismatchOverride(t *testing.T) {
	resolver := &stubResolver{stages: map[string]task.Stage{"abc": task.StagePlan}}
	d := newTestDedup(resolver, Options{})
	defer d.Close()

	ev := statusEvent("abc", "Stage: build", 10)
	if d.IsDuplicate(ev) {
		t.Fatal("first delivery must not be a duplicate")
	}

	// Task still in plan but the event claims build: a client reload lost
	// the applied state, so the resend is legitimate.
	if d.IsDuplicate(ev) {
		t.Fatal("stage mismatch must override duplicate suppression")
	}

	// Once the task actually reaches build, the same content is a true
	// duplicate again.
	resolver.stages["abc"] = task.StageBuild
	if !d.IsDuplicate(ev) {
		t.Fatal("matching stage must restore duplicate suppression")
	}
}

func TestOverrideOnlyForStageProgressEvents(t *testing.T) {
	resolver := &stubResolver{stages: map[string]task.Stage{"abc": task.StagePlan}}
	d := newTestDedup(resolver, Options{})
	defer d.Close()

	ev := &events.WorkflowLog{ExternalID: "abc", Message: "Stage: build"}
	if d.IsDuplicate(ev) {
		t.Fatal("first delivery must not be a duplicate")
	}
	if !d.IsDuplicate(ev) {
		t.Fatal("log events never qualify for the stage-mismatch override")
	}
}

func TestOverrideUnresolvedTask(t *testing.T) {
	resolver := &stubResolver{stages: map[string]task.Stage{}}
	d := newTestDedup(resolver, Options{})
	defer d.Close()

	ev := statusEvent("ghost", "Stage: build", 10)
	_ = d.IsDuplicate(ev)
	if !d.IsDuplicate(ev) {
		t.Fatal("unroutable events cannot claim the override")
	}
}

func TestCapacityEviction(t *testing.T) {
	d := newTestDedup(nil, Options{MaxEntries: 10, SweepDelay: time.Hour})
	defer d.Close()

	for i := 0; i < 11; i++ {
		ev := statusEvent("abc", fmt.Sprintf("step %d", i), i)
		if d.IsDuplicate(ev) {
			t.Fatalf("insertion %d flagged as duplicate", i)
		}
		if d.Size() > 10 {
			t.Fatalf("cache size %d exceeds max after insertion %d", d.Size(), i)
		}
	}

	// Crossing the bound drops the oldest ~20%: entries 0 and 1 are gone.
	if d.IsDuplicate(statusEvent("abc", "step 0", 0)) {
		t.Error("expected oldest entry evicted")
	}
	if d.IsDuplicate(statusEvent("abc", "step 1", 1)) {
		t.Error("expected second-oldest entry evicted")
	}
	if !d.IsDuplicate(statusEvent("abc", "step 9", 9)) {
		t.Error("expected newest entry retained")
	}
}

func TestOverrideRefreshSurvivesEviction(t *testing.T) {
	resolver := &stubResolver{stages: map[string]task.Stage{"abc": task.StagePlan}}
	d := newTestDedup(resolver, Options{MaxEntries: 10, SweepDelay: time.Hour})
	defer d.Close()

	stageEv := statusEvent("abc", "Stage: build", 10)
	if d.IsDuplicate(stageEv) {
		t.Fatal("first delivery must not be a duplicate")
	}
	for i := 0; i < 9; i++ {
		_ = d.IsDuplicate(&events.WorkflowLog{ExternalID: "abc", Message: fmt.Sprintf("log %d", i)})
	}

	// The override refresh counts as a fresh sighting, so the entry moves
	// to the back of the eviction order as well.
	if d.IsDuplicate(stageEv) {
		t.Fatal("stage mismatch must override duplicate suppression")
	}

	// Crossing the bound evicts the two oldest entries: the first log
	// entries, not the just-refreshed stage event.
	_ = d.IsDuplicate(&events.WorkflowLog{ExternalID: "abc", Message: "log 9"})

	resolver.stages["abc"] = task.StageBuild
	if !d.IsDuplicate(stageEv) {
		t.Error("refreshed entry must survive the eviction batch")
	}
	if d.IsDuplicate(&events.WorkflowLog{ExternalID: "abc", Message: "log 0"}) {
		t.Error("expected oldest log entry evicted")
	}
}

func TestBackgroundSweepRemovesExpired(t *testing.T) {
	d := newTestDedup(nil, Options{TTL: time.Minute, MaxEntries: 10, SweepDelay: 5 * time.Millisecond})
	defer d.Close()

	current := time.Now()
	d.now = func() time.Time { return current }

	// Fill to just under capacity, then age everything out.
	for i := 0; i < 8; i++ {
		_ = d.IsDuplicate(statusEvent("abc", fmt.Sprintf("step %d", i), i))
	}
	current = current.Add(2 * time.Minute)

	// Crossing the high-water mark schedules the sweep.
	_ = d.IsDuplicate(statusEvent("abc", "step 8", 8))

	deadline := time.Now().Add(2 * time.Second)
	for d.Size() > 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if d.Size() != 1 {
		t.Errorf("expected sweep to leave only the fresh entry, size = %d", d.Size())
	}
}

func TestResetClearsCache(t *testing.T) {
	d := newTestDedup(nil, Options{})
	defer d.Close()

	ev := statusEvent("abc", "Running linters", 10)
	_ = d.IsDuplicate(ev)
	d.Reset()

	if d.IsDuplicate(ev) {
		t.Error("events after a reset must be treated as fresh")
	}
}

func TestCorruptedCacheSelfHeals(t *testing.T) {
	d := newTestDedup(nil, Options{})
	defer d.Close()

	d.mu.Lock()
	d.entries = nil
	d.order = nil
	d.mu.Unlock()

	ev := statusEvent("abc", "Running linters", 10)
	if d.IsDuplicate(ev) {
		t.Fatal("corrupted cache must reset and let the message through")
	}
	if !d.IsDuplicate(ev) {
		t.Fatal("cache must function normally after self-healing")
	}
}
