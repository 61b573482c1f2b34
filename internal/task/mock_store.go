package task

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockTaskStore is an in-memory TaskStore for tests and for running the
// local pipeline without a database.
type MockTaskStore struct {
	mutex   sync.RWMutex
	records map[uuid.UUID]*JobRecord
	SaveFn  func(ctx context.Context, task Task) error
}

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{records: make(map[uuid.UUID]*JobRecord)}
}

// SaveTask persists a task to the mock store
func (s *MockTaskStore) SaveTask(ctx context.Context, task Task) error {
	if s.SaveFn != nil {
		if err := s.SaveFn(ctx, task); err != nil {
			return err
		}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	now := time.Now().UTC()
	s.records[task.ID()] = &JobRecord{
		ID:          task.ID(),
		Type:        task.Type(),
		Payload:     task.Payload(),
		Status:      TaskStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		AvailableAt: now,
	}
	return nil
}

// Put stores rec as is, for seeding recovery scenarios.
func (s *MockTaskStore) Put(rec JobRecord) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.records[rec.ID] = &rec
}

// UpdateTaskStatus updates the status of a task in the mock store.
// Unknown IDs are a no-op.
func (s *MockTaskStore) UpdateTaskStatus(
	ctx context.Context,
	taskID uuid.UUID,
	status TaskStatus,
	errorMsg string,
) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.records[taskID]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.ErrorMessage = errorMsg
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkProcessing implements TaskStore.MarkProcessing
func (s *MockTaskStore) MarkProcessing(ctx context.Context, taskID uuid.UUID) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.records[taskID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	rec.Status = TaskStatusProcessing
	rec.Attempts++
	rec.UpdatedAt = time.Now().UTC()
	return rec.Attempts, nil
}

// ScheduleRetry implements TaskStore.ScheduleRetry
func (s *MockTaskStore) ScheduleRetry(
	ctx context.Context,
	taskID uuid.UUID,
	availableAt time.Time,
	errorMsg string,
) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.records[taskID]
	if !ok {
		return sql.ErrNoRows
	}
	rec.Status = TaskStatusPending
	rec.ErrorMessage = errorMsg
	rec.AvailableAt = availableAt
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// GetPendingTasks retrieves all tasks with "pending" status
func (s *MockTaskStore) GetPendingTasks(ctx context.Context) ([]*JobRecord, error) {
	return s.byStatus(TaskStatusPending, 0), nil
}

// GetProcessingTasks retrieves tasks with "processing" status
func (s *MockTaskStore) GetProcessingTasks(ctx context.Context, olderThan time.Duration) ([]*JobRecord, error) {
	return s.byStatus(TaskStatusProcessing, olderThan), nil
}

// Get returns a copy of the record for id.
func (s *MockTaskStore) Get(id uuid.UUID) (JobRecord, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return JobRecord{}, false
	}
	return *rec, true
}

func (s *MockTaskStore) byStatus(status TaskStatus, olderThan time.Duration) []*JobRecord {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	now := time.Now().UTC()
	var out []*JobRecord
	for _, rec := range s.records {
		if rec.Status != status {
			continue
		}
		if olderThan > 0 && now.Sub(rec.UpdatedAt) <= olderThan {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// WithTx returns the same store; the mock has no transactions.
func (s *MockTaskStore) WithTx(tx *sql.Tx) TaskStore {
	return s
}

var _ TaskStore = (*MockTaskStore)(nil)
