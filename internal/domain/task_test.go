package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNewTask(t *testing.T) {
	t.Parallel()
	ownerID := uuid.New()
	contentID := uuid.New()

	task, err := NewTask(ownerID, contentID, TaskTypeSummarize, json.RawMessage(`{"length":"short"}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if task.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}
	if task.Status != TaskStatusPending {
		t.Errorf("Expected status %s, got %s", TaskStatusPending, task.Status)
	}
	if task.Progress != 0 {
		t.Errorf("Expected progress 0, got %d", task.Progress)
	}
	if task.OwnerID != ownerID || task.ContentID != contentID {
		t.Error("Expected owner and content IDs to be preserved")
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be set")
	}

	_, err = NewTask(uuid.Nil, contentID, TaskTypeSummarize, nil)
	if !errors.Is(err, ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID for empty owner, got %v", err)
	}

	_, err = NewTask(ownerID, contentID, TaskType("translate"), nil)
	if !errors.Is(err, ErrInvalidTaskType) {
		t.Errorf("Expected ErrInvalidTaskType, got %v", err)
	}

	_, err = NewTask(ownerID, contentID, TaskTypeQA, json.RawMessage(`{broken`))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for malformed options, got %v", err)
	}
}

func TestTaskValidateInvariants(t *testing.T) {
	t.Parallel()

	base := func() Task {
		return Task{
			ID:        uuid.New(),
			OwnerID:   uuid.New(),
			ContentID: uuid.New(),
			Type:      TaskTypeExtract,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr bool
	}{
		{"pending with zero progress", func(t *Task) { t.Status = TaskStatusPending }, false},
		{"pending with progress", func(t *Task) { t.Status = TaskStatusPending; t.Progress = 10 }, true},
		{"processing mid way", func(t *Task) { t.Status = TaskStatusProcessing; t.Progress = 40 }, false},
		{"processing at 100", func(t *Task) { t.Status = TaskStatusProcessing; t.Progress = 100 }, true},
		{"completed with result", func(t *Task) {
			t.Status = TaskStatusCompleted
			t.Progress = 100
			t.Result = json.RawMessage(`"ok"`)
		}, false},
		{"completed without result", func(t *Task) {
			t.Status = TaskStatusCompleted
			t.Progress = 100
		}, true},
		{"completed below 100", func(t *Task) {
			t.Status = TaskStatusCompleted
			t.Progress = 90
			t.Result = json.RawMessage(`"ok"`)
		}, true},
		{"failed with error", func(t *Task) {
			t.Status = TaskStatusFailed
			t.Error = &TaskError{Kind: ErrorKindEngine, Message: "boom"}
		}, false},
		{"failed with result", func(t *Task) {
			t.Status = TaskStatusFailed
			t.Error = &TaskError{Kind: ErrorKindEngine}
			t.Result = json.RawMessage(`"partial"`)
		}, true},
		{"cancelled without error", func(t *Task) { t.Status = TaskStatusCancelled }, true},
		{"unknown status", func(t *Task) { t.Status = "paused" }, true},
		{"negative progress", func(t *Task) { t.Status = TaskStatusProcessing; t.Progress = -1 }, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			task := base()
			tc.mutate(&task)
			err := task.Validate()
			if tc.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := map[TaskStatus][]TaskStatus{
		TaskStatusPending:    {TaskStatusProcessing, TaskStatusCancelled, TaskStatusFailed},
		TaskStatusProcessing: {TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	}
	all := []TaskStatus{
		TaskStatusPending, TaskStatusProcessing,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}

	for _, s := range []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}
	if TaskStatusPending.IsTerminal() || TaskStatusProcessing.IsTerminal() {
		t.Error("Expected active statuses to be non-terminal")
	}
}

func TestTaskTypeLanes(t *testing.T) {
	t.Parallel()
	for _, tt := range TaskTypes {
		if !tt.Valid() {
			t.Errorf("Expected %s to be valid", tt)
		}
		if tt.Interactive() != (tt == TaskTypeQA) {
			t.Errorf("Unexpected interactive flag for %s", tt)
		}
	}
}

func TestTaskClone(t *testing.T) {
	t.Parallel()
	task, err := NewTask(uuid.New(), uuid.New(), TaskTypeQA, json.RawMessage(`{"question":"why"}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	task.Error = &TaskError{Kind: ErrorKindTimeout, Message: "slow"}

	c := task.Clone()
	c.Options[2] = 'X'
	c.Error.Message = "changed"

	if string(task.Options) != `{"question":"why"}` {
		t.Errorf("Clone shares options buffer: %s", task.Options)
	}
	if task.Error.Message != "slow" {
		t.Error("Clone shares error info")
	}
	if (*Task)(nil).Clone() != nil {
		t.Error("Expected nil clone of nil task")
	}
}

func TestClampProgress(t *testing.T) {
	t.Parallel()
	cases := map[int]int{-5: 0, 0: 0, 50: 50, 99: 99, 100: 99, 250: 99}
	for in, want := range cases {
		if got := ClampProgress(in); got != want {
			t.Errorf("ClampProgress(%d) = %d, want %d", in, got, want)
		}
	}
}
