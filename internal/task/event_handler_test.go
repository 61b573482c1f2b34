package task

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	submitted []Task
	err       error
}

func (s *recordingSubmitter) Submit(_ context.Context, task Task) error {
	s.submitted = append(s.submitted, task)
	return s.err
}

func TestTaskFactoryEventHandler(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	d.Register(TaskTypeMaintenance, func(id uuid.UUID, payload []byte) (Task, error) {
		return NewMockTask(id, TaskTypeMaintenance, payload), nil
	})

	event, err := events.NewTaskRequestEvent(TaskTypeMaintenance, events.MaintenancePayload{Job: "cleanup_old_tasks"})
	require.NoError(t, err)

	t.Run("submits built task", func(t *testing.T) {
		runner := &recordingSubmitter{}
		h := NewTaskFactoryEventHandler(d, runner, testLogger())

		require.NoError(t, h.HandleEvent(context.Background(), event))
		require.Len(t, runner.submitted, 1)
		assert.Equal(t, event.ID, runner.submitted[0].ID())
		assert.JSONEq(t, string(event.Payload), string(runner.submitted[0].Payload()))
	})

	t.Run("unknown type", func(t *testing.T) {
		runner := &recordingSubmitter{}
		h := NewTaskFactoryEventHandler(d, runner, testLogger())

		unknown := *event
		unknown.Type = "create_pdf"
		err := h.HandleEvent(context.Background(), &unknown)
		assert.ErrorIs(t, err, ErrUnknownTaskType)
		assert.Empty(t, runner.submitted)
	})

	t.Run("submit failure", func(t *testing.T) {
		runner := &recordingSubmitter{err: errors.New("queue full")}
		h := NewTaskFactoryEventHandler(d, runner, testLogger())

		err := h.HandleEvent(context.Background(), event)
		assert.ErrorContains(t, err, "queue full")
	})
}
