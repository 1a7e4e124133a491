package queue

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeProber struct {
	backlogs map[string]int
}

func (f *fakeProber) Backlog(_ context.Context, queueName string) int {
	return f.backlogs[queueName]
}

func TestChooseLeastLoaded_FirstMinimumWins(t *testing.T) {
	prober := &fakeProber{backlogs: map[string]int{"A": 5, "B": 2, "C": 2}}

	name, backlog := ChooseLeastLoaded(context.Background(), prober, []string{"A", "B", "C"})
	if name != "B" || backlog != 2 {
		t.Errorf("Expected (B, 2), got (%s, %d)", name, backlog)
	}
}

func TestChooseLeastLoaded_SingleQueue(t *testing.T) {
	prober := &fakeProber{backlogs: map[string]int{"only": 7}}

	name, backlog := ChooseLeastLoaded(context.Background(), prober, []string{"only"})
	if name != "only" || backlog != 7 {
		t.Errorf("Expected (only, 7), got (%s, %d)", name, backlog)
	}
}

func TestChooseLeastLoaded_Empty(t *testing.T) {
	prober := &fakeProber{backlogs: map[string]int{}}

	name, backlog := ChooseLeastLoaded(context.Background(), prober, nil)
	if name != "" || backlog != 0 {
		t.Errorf("Expected empty result, got (%s, %d)", name, backlog)
	}
}

func TestMessage_Envelope(t *testing.T) {
	msg := Message{Task: DefaultTaskName, DeliveryID: "d-1", TaskID: "t-1"}

	data, err := json.Marshal(&msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["task"] != "process_pdf" {
		t.Errorf("Expected logical task name process_pdf, got %q", decoded["task"])
	}
	if decoded["task_id"] != "t-1" {
		t.Errorf("Expected task id only, got %q", decoded["task_id"])
	}
}

func TestTaskName_EnvOverride(t *testing.T) {
	if got := TaskName(); got != DefaultTaskName {
		t.Errorf("Expected default task name, got %q", got)
	}

	t.Setenv("TASK_NAME_PROCESS_PDF", "custom_task")
	if got := TaskName(); got != "custom_task" {
		t.Errorf("Expected env override, got %q", got)
	}
}

func TestConsumer_UnackedKeyPerNode(t *testing.T) {
	a := NewConsumer(nil, "docs", "worker_docs_0", nil)
	b := NewConsumer(nil, "docs", "worker_docs_1", nil)

	if a.unackedKey() == b.unackedKey() {
		t.Error("Unacked keys must be partitioned by node identity")
	}
	if a.unackedKey() != "unacked:worker_docs_0" {
		t.Errorf("Unexpected unacked key %q", a.unackedKey())
	}
}
