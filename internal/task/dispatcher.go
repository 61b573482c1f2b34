package task

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownTaskType is returned when no factory is registered for a job type.
var ErrUnknownTaskType = errors.New("unknown task type")

// Factory builds an executable job from its persisted form.
type Factory func(id uuid.UUID, payload []byte) (Task, error)

// Dispatcher maps job types to the factories that build them.
// Both the in-process runner and the queue consumer resolve jobs through it.
type Dispatcher struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{factories: make(map[string]Factory)}
}

// Register binds factory to jobType, replacing any previous binding.
func (d *Dispatcher) Register(jobType string, factory Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories[jobType] = factory
}

// Build creates the job of type jobType.
func (d *Dispatcher) Build(jobType string, id uuid.UUID, payload []byte) (Task, error) {
	d.mu.RLock()
	factory, ok := d.factories[jobType]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, jobType)
	}

	t, err := factory(id, payload)
	if err != nil {
		return nil, fmt.Errorf("build %s task %s: %w", jobType, id, err)
	}
	return t, nil
}

// BuildRecord creates the job described by a persisted record.
func (d *Dispatcher) BuildRecord(rec *JobRecord) (Task, error) {
	return d.Build(rec.Type, rec.ID, rec.Payload)
}

// Types returns the registered job types in sorted order.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	types := make([]string, 0, len(d.factories))
	for t := range d.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RegisterJobs binds the manga and maintenance job types to d. runner may be
// nil, in which case maintenance jobs are not registered.
func RegisterJobs(d *Dispatcher, p *Pipeline, runner MaintenanceRunner) error {
	gen, err := NewMangaGenerationTaskFactory(p)
	if err != nil {
		return err
	}
	regen, err := NewPanelRegenerationTaskFactory(p)
	if err != nil {
		return err
	}
	d.Register(TaskTypeMangaGeneration, gen.CreateTask)
	d.Register(TaskTypePanelRegeneration, regen.CreateTask)

	if runner != nil {
		maint, err := NewMaintenanceTaskFactory(runner, p.Logger)
		if err != nil {
			return err
		}
		d.Register(TaskTypeMaintenance, maint.CreateTask)
	}
	return nil
}
