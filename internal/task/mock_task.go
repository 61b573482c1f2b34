package task

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
)

// MockTask is a Task whose Execute behavior is supplied by the test.
// A nil ExecuteFn succeeds immediately.
type MockTask struct {
	TaskID      uuid.UUID
	TaskType    string
	TaskPayload []byte
	TaskStatus  TaskStatus
	ExecuteFn   func(ctx context.Context) error

	calls atomic.Int32
}

// NewMockTask returns a pending MockTask.
func NewMockTask(id uuid.UUID, taskType string, payload []byte) *MockTask {
	return &MockTask{TaskID: id, TaskType: taskType, TaskPayload: payload, TaskStatus: TaskStatusPending}
}

// CreateMockTaskWithPayload returns a "mock_task" job whose payload is
// {"message": message}.
func CreateMockTaskWithPayload(message string) *MockTask {
	data, _ := json.Marshal(map[string]string{"message": message})
	return NewMockTask(uuid.New(), "mock_task", data)
}

func (t *MockTask) ID() uuid.UUID      { return t.TaskID }
func (t *MockTask) Type() string       { return t.TaskType }
func (t *MockTask) Payload() []byte    { return t.TaskPayload }
func (t *MockTask) Status() TaskStatus { return t.TaskStatus }

// Execute counts the call and runs ExecuteFn.
func (t *MockTask) Execute(ctx context.Context) error {
	t.calls.Add(1)
	if t.ExecuteFn == nil {
		return nil
	}
	return t.ExecuteFn(ctx)
}

// Calls reports how many times Execute ran.
func (t *MockTask) Calls() int {
	return int(t.calls.Load())
}
