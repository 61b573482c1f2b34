package mocks

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/store"
)

func cloneTask(t *domain.MangaTask) *domain.MangaTask {
	c := *t
	if t.ErrorMessage != nil {
		msg := *t.ErrorMessage
		c.ErrorMessage = &msg
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.Parameters.Style != nil {
		c.Parameters.Style = make(domain.StyleParameters, len(t.Parameters.Style))
		for k, v := range t.Parameters.Style {
			c.Parameters.Style[k] = v
		}
	}
	return &c
}

func clonePanel(p *domain.Panel) *domain.Panel {
	c := *p
	if p.ImageURL != nil {
		s := *p.ImageURL
		c.ImageURL = &s
	}
	if p.ImagePath != nil {
		s := *p.ImagePath
		c.ImagePath = &s
	}
	if p.OriginalPanelID != nil {
		id := *p.OriginalPanelID
		c.OriginalPanelID = &id
	}
	if p.RegenerationRequest != nil {
		s := *p.RegenerationRequest
		c.RegenerationRequest = &s
	}
	return &c
}

// MemoryMangaTaskStore implements store.MangaTaskStore in memory.
type MemoryMangaTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.MangaTask

	// UpdateFn, when set, runs before every Update and may fail it.
	UpdateFn func(task *domain.MangaTask) error

	// Now returns the time used for server-assigned timestamps.
	Now func() time.Time
}

var _ store.MangaTaskStore = (*MemoryMangaTaskStore)(nil)

// NewMemoryMangaTaskStore creates an empty store.
func NewMemoryMangaTaskStore() *MemoryMangaTaskStore {
	return &MemoryMangaTaskStore{
		tasks: make(map[uuid.UUID]*domain.MangaTask),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Put stores task as is, without touching its timestamps.
func (s *MemoryMangaTaskStore) Put(task *domain.MangaTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cloneTask(task)
}

// Create implements store.MangaTaskStore.
func (s *MemoryMangaTaskStore) Create(ctx context.Context, task *domain.MangaTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return store.ErrDuplicate
	}
	now := s.Now()
	task.CreatedAt, task.UpdatedAt = now, now
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// GetByID implements store.MangaTaskStore.
func (s *MemoryMangaTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.MangaTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// GetByIDForUpdate implements store.MangaTaskStore. Locking is provided by
// MemoryUnitOfWork.
func (s *MemoryMangaTaskStore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.MangaTask, error) {
	return s.GetByID(ctx, id)
}

// ListBySession implements store.MangaTaskStore.
func (s *MemoryMangaTaskStore) ListBySession(
	ctx context.Context,
	sessionID string,
	limit, offset int,
) ([]*domain.MangaTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*domain.MangaTask, 0)
	for _, t := range s.tasks {
		if t.SessionID == sessionID {
			all = append(all, cloneTask(t))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return []*domain.MangaTask{}, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Update implements store.MangaTaskStore.
func (s *MemoryMangaTaskStore) Update(ctx context.Context, task *domain.MangaTask) error {
	if s.UpdateFn != nil {
		if err := s.UpdateFn(task); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return store.ErrTaskNotFound
	}
	task.UpdatedAt = s.Now()
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// FailStale implements store.MangaTaskStore.
func (s *MemoryMangaTaskStore) FailStale(
	ctx context.Context,
	statuses []domain.TaskStatus,
	olderThan time.Duration,
	message string,
) ([]*domain.MangaTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	cutoff := now.Add(-olderThan)
	out := make([]*domain.MangaTask, 0)
	for _, t := range s.tasks {
		if !hasStatus(statuses, t.Status) || !t.UpdatedAt.Before(cutoff) {
			continue
		}
		t.Fail(message)
		t.UpdatedAt = now
		out = append(out, cloneTask(t))
	}
	return out, nil
}

// DeleteFinishedBefore implements store.MangaTaskStore.
func (s *MemoryMangaTaskStore) DeleteFinishedBefore(
	ctx context.Context,
	statuses []domain.TaskStatus,
	cutoff time.Time,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tasks {
		if hasStatus(statuses, t.Status) && t.CreatedAt.Before(cutoff) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

// CountByStatus implements store.MangaTaskStore.
func (s *MemoryMangaTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.TaskStatus]int64)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// CountCreatedSince implements store.MangaTaskStore.
func (s *MemoryMangaTaskStore) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tasks {
		if !t.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// WithTx implements store.MangaTaskStore.
func (s *MemoryMangaTaskStore) WithTx(*sql.Tx) store.MangaTaskStore { return s }

// DB implements store.MangaTaskStore.
func (s *MemoryMangaTaskStore) DB() *sql.DB { return nil }

func hasStatus(statuses []domain.TaskStatus, st domain.TaskStatus) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

// MemoryPanelStore implements store.PanelStore in memory.
type MemoryPanelStore struct {
	mu     sync.Mutex
	panels map[uuid.UUID]*domain.Panel
	seq    map[uuid.UUID]int
	next   int

	// CreateFn, when set, runs before every Create and may fail it.
	CreateFn func(panel *domain.Panel) error
}

var _ store.PanelStore = (*MemoryPanelStore)(nil)

// NewMemoryPanelStore creates an empty store.
func NewMemoryPanelStore() *MemoryPanelStore {
	return &MemoryPanelStore{
		panels: make(map[uuid.UUID]*domain.Panel),
		seq:    make(map[uuid.UUID]int),
	}
}

// Create implements store.PanelStore.
func (s *MemoryPanelStore) Create(ctx context.Context, panel *domain.Panel) error {
	if err := panel.Validate(); err != nil {
		return err
	}
	if s.CreateFn != nil {
		if err := s.CreateFn(panel); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.panels[panel.ID]; ok {
		return store.ErrDuplicate
	}
	if panel.CreatedAt.IsZero() {
		panel.CreatedAt = time.Now().UTC()
	}
	s.panels[panel.ID] = clonePanel(panel)
	s.next++
	s.seq[panel.ID] = s.next
	return nil
}

// CreateBatch implements store.PanelStore.
func (s *MemoryPanelStore) CreateBatch(ctx context.Context, panels []*domain.Panel) error {
	for _, p := range panels {
		if err := s.Create(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// GetByID implements store.PanelStore.
func (s *MemoryPanelStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Panel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.panels[id]
	if !ok {
		return nil, store.ErrPanelNotFound
	}
	return clonePanel(p), nil
}

// ordered returns the panels of taskID in insertion order. Callers hold mu.
func (s *MemoryPanelStore) ordered(taskID uuid.UUID) []*domain.Panel {
	out := make([]*domain.Panel, 0)
	for _, p := range s.panels {
		if p.TaskID == taskID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out
}

// GetOriginal implements store.PanelStore.
func (s *MemoryPanelStore) GetOriginal(ctx context.Context, taskID uuid.UUID, panelNumber int) (*domain.Panel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.ordered(taskID) {
		if p.PanelNumber == panelNumber && !p.IsRegenerated {
			return clonePanel(p), nil
		}
	}
	return nil, store.ErrPanelNotFound
}

// GetLatestRendering implements store.PanelStore.
func (s *MemoryPanelStore) GetLatestRendering(
	ctx context.Context,
	taskID uuid.UUID,
	panelNumber int,
) (*domain.Panel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	panels := s.ordered(taskID)
	for i := len(panels) - 1; i >= 0; i-- {
		p := panels[i]
		if p.PanelNumber == panelNumber && p.Status == domain.PanelStatusCompleted {
			return clonePanel(p), nil
		}
	}
	return nil, store.ErrPanelNotFound
}

// ListByTask implements store.PanelStore.
func (s *MemoryPanelStore) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Panel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	panels := s.ordered(taskID)
	sort.SliceStable(panels, func(i, j int) bool { return panels[i].PanelNumber < panels[j].PanelNumber })
	out := make([]*domain.Panel, len(panels))
	for i, p := range panels {
		out[i] = clonePanel(p)
	}
	return out, nil
}

// CountRegenerations implements store.PanelStore.
func (s *MemoryPanelStore) CountRegenerations(ctx context.Context, originalID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.panels {
		if p.IsRegenerated && p.OriginalPanelID != nil && *p.OriginalPanelID == originalID {
			n++
		}
	}
	return n, nil
}

// Update implements store.PanelStore.
func (s *MemoryPanelStore) Update(ctx context.Context, panel *domain.Panel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.panels[panel.ID]
	if !ok {
		return store.ErrPanelNotFound
	}
	updated := clonePanel(existing)
	updated.Status = panel.Status
	updated.ImageURL = panel.ImageURL
	updated.ImagePath = panel.ImagePath
	s.panels[panel.ID] = clonePanel(updated)
	return nil
}

// Count implements store.PanelStore.
func (s *MemoryPanelStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.panels)), nil
}

// DeleteTask removes every panel of taskID, as the database cascade does.
func (s *MemoryPanelStore) DeleteTask(taskID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.panels {
		if p.TaskID == taskID {
			delete(s.panels, id)
		}
	}
}

// WithTx implements store.PanelStore.
func (s *MemoryPanelStore) WithTx(*sql.Tx) store.PanelStore { return s }

// MemorySessionStore implements store.SessionStore in memory.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

var _ store.SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*domain.Session)}
}

// Touch implements store.SessionStore.
func (s *MemorySessionStore) Touch(ctx context.Context, id string) error {
	if err := domain.ValidateSessionID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if sess, ok := s.sessions[id]; ok {
		sess.LastActivity = now
		return nil
	}
	s.sessions[id] = &domain.Session{ID: id, CreatedAt: now, LastActivity: now}
	return nil
}

// SetLastActivity overrides the last activity time of a session.
func (s *MemorySessionStore) SetLastActivity(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastActivity = at
	}
}

// Get implements store.SessionStore.
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	c := *sess
	return &c, nil
}

// DeleteInactiveBefore implements store.SessionStore.
func (s *MemorySessionStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// WithTx implements store.SessionStore.
func (s *MemorySessionStore) WithTx(*sql.Tx) store.SessionStore { return s }

// MemoryUnitOfWork implements store.UnitOfWork by serializing calls, which
// gives the same isolation as row locks for a single-task test.
type MemoryUnitOfWork struct {
	mu     sync.Mutex
	stores store.Stores
}

var _ store.UnitOfWork = (*MemoryUnitOfWork)(nil)

// NewMemoryUnitOfWork creates a UnitOfWork over the given stores. Nil stores
// are left nil in the bundle passed to Do.
func NewMemoryUnitOfWork(tasks store.MangaTaskStore, panels store.PanelStore, sessions store.SessionStore) *MemoryUnitOfWork {
	return &MemoryUnitOfWork{stores: store.Stores{Tasks: tasks, Panels: panels, Sessions: sessions}}
}

// Do implements store.UnitOfWork. Writes are not rolled back on error.
func (u *MemoryUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s store.Stores) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return fn(ctx, u.stores)
}
