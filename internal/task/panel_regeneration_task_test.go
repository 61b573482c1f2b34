package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/events"
	"github.com/phrazzld/manga-api/internal/generation"
	"github.com/phrazzld/manga-api/internal/progress"
	"github.com/phrazzld/manga-api/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	originalImage  = []byte("original rendering")
	referenceImage = []byte("user reference")
)

type regenerationFixture struct {
	*pipelineFixture
	task        *domain.MangaTask
	original    *domain.Panel
	regenerated *domain.Panel
}

// newRegenerationFixture stores a completed task with one panel and a
// pending regeneration of it. When rendered is false the original panel
// has no image.
func newRegenerationFixture(t *testing.T, rendered bool) *regenerationFixture {
	t.Helper()
	ctx := context.Background()

	f := newPipelineFixture(t)
	task := f.newTask(t, 1)
	require.NoError(t, task.Complete(task.CreatedAt))
	f.tasks.Put(task)

	original, err := domain.NewPanel(task.ID, 1, "the courier sets off")
	require.NoError(t, err)
	if rendered {
		key := storage.PanelKey(task.ID, 1)
		url, err := f.storage.Upload(ctx, key, bytes.NewReader(originalImage), int64(len(originalImage)), "image/png")
		require.NoError(t, err)
		original.MarkCompleted(url, key)
	} else {
		original.Status = domain.PanelStatusFailed
	}
	require.NoError(t, f.panels.Create(ctx, original))

	regenerated, err := domain.NewRegeneratedPanel(original, "make it rain", 2)
	require.NoError(t, err)
	require.NoError(t, f.panels.Create(ctx, regenerated))

	return &regenerationFixture{pipelineFixture: f, task: task, original: original, regenerated: regenerated}
}

func (f *regenerationFixture) payload() events.PanelRegenerationPayload {
	return events.PanelRegenerationPayload{
		TaskID:              f.task.ID,
		PanelNumber:         1,
		RegeneratedPanelID:  f.regenerated.ID,
		ModificationRequest: "make it rain",
		SessionID:           testSession,
	}
}

func (f *regenerationFixture) uploadReference(t *testing.T) string {
	t.Helper()
	key := storage.ReferenceKey(f.task.ID, f.regenerated.ID, ".jpg")
	_, err := f.storage.Upload(context.Background(), key, bytes.NewReader(referenceImage), int64(len(referenceImage)), "image/jpeg")
	require.NoError(t, err)
	return key
}

func (f *regenerationFixture) run(t *testing.T, payload events.PanelRegenerationPayload) error {
	t.Helper()
	job, err := NewPanelRegenerationTask(uuid.New(), payload, f.pipeline)
	require.NoError(t, err)
	return job.Execute(context.Background())
}

func (f *regenerationFixture) panel(t *testing.T, id uuid.UUID) *domain.Panel {
	t.Helper()
	p, err := f.panels.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestNewPanelRegenerationTask(t *testing.T) {
	t.Parallel()

	f := newRegenerationFixture(t, true)
	p := f.payload()

	job, err := NewPanelRegenerationTask(uuid.Nil, p, f.pipeline)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, job.ID())
	assert.Equal(t, TaskTypePanelRegeneration, job.Type())

	var decoded events.PanelRegenerationPayload
	require.NoError(t, json.Unmarshal(job.Payload(), &decoded))
	assert.Equal(t, p, decoded)

	bad := p
	bad.RegeneratedPanelID = uuid.Nil
	_, err = NewPanelRegenerationTask(uuid.New(), bad, f.pipeline)
	assert.ErrorIs(t, err, ErrEmptyTaskID)

	bad = p
	bad.PanelNumber = 0
	_, err = NewPanelRegenerationTask(uuid.New(), bad, f.pipeline)
	assert.ErrorIs(t, err, ErrInvalidJob)

	factory, err := NewPanelRegenerationTaskFactory(f.pipeline)
	require.NoError(t, err)
	built, err := factory.CreateTask(job.ID(), job.Payload())
	require.NoError(t, err)
	assert.Equal(t, job.ID(), built.ID())
	_, err = factory.CreateTask(job.ID(), []byte(`[]`))
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestPanelRegenerationTask_ReferencePrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		rendered     bool
		userRef      bool
		wantRef      []byte
		wantRefMIME  string
		wantNoRefers bool
	}{
		{name: "uploaded reference wins", rendered: true, userRef: true, wantRef: referenceImage, wantRefMIME: "image/jpeg"},
		{name: "latest rendering", rendered: true, wantRef: originalImage, wantRefMIME: "image/png"},
		{name: "text only", rendered: false, wantNoRefers: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newRegenerationFixture(t, tt.rendered)
			p := f.payload()
			if tt.userRef {
				p.ReferenceImageKey = f.uploadReference(t)
			}

			require.NoError(t, f.run(t, p))

			calls := f.images.Calls()
			require.Len(t, calls, 1)
			if tt.wantNoRefers {
				assert.Nil(t, calls[0].Ref)
			} else {
				require.NotNil(t, calls[0].Ref)
				assert.Equal(t, tt.wantRef, calls[0].Ref.Data)
				assert.Equal(t, tt.wantRefMIME, calls[0].Ref.MIMEType)
			}
			assert.Contains(t, calls[0].Prompt, "make it rain")
			assert.Contains(t, calls[0].Prompt, "the courier sets off")

			if tt.userRef {
				_, err := f.storage.Download(context.Background(), p.ReferenceImageKey)
				assert.ErrorIs(t, err, storage.ErrObjectNotFound)
			}
		})
	}
}

func TestPanelRegenerationTask_Success(t *testing.T) {
	t.Parallel()

	f := newRegenerationFixture(t, true)
	originalBefore := f.panel(t, f.original.ID)

	require.NoError(t, f.run(t, f.payload()))

	got := f.panel(t, f.regenerated.ID)
	assert.Equal(t, domain.PanelStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Version)
	key := storage.RegeneratedPanelKey(f.task.ID, 1, f.regenerated.ID)
	require.NotNil(t, got.ImagePath)
	assert.Equal(t, key, *got.ImagePath)
	assert.Equal(t, "http://cdn.test/"+key, *got.ImageURL)

	assert.Equal(t, originalBefore, f.panel(t, f.original.ID))
	assert.Equal(t, domain.TaskStatusCompleted, f.pipelineFixture.task(t, f.task.ID).Status)

	updates := f.publisher.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, progress.StatusRegenerating, updates[0].Update.Status)
	assert.Equal(t, 1, updates[0].Update.PanelNumber)
	assert.Equal(t, f.regenerated.ID.String(), updates[0].Update.RegeneratedPanelID)

	done := updates[1].Update
	assert.Equal(t, progress.StatusPanelRegenerated, done.Status)
	assert.Equal(t, "http://cdn.test/"+key, done.ImageURL)
	assert.Equal(t, 2, done.Version)
	assert.Equal(t, testSession, updates[1].SessionID)
}

func TestPanelRegenerationTask_OpeningPanelPrompt(t *testing.T) {
	t.Parallel()

	f := newRegenerationFixture(t, true)
	var prompt string
	f.images.GenerateFn = func(_ context.Context, _ int, p string, _ *generation.ReferenceImage) (*generation.Image, error) {
		prompt = p
		return &generation.Image{Data: []byte("png"), MIMEType: "image/png"}, nil
	}

	require.NoError(t, f.run(t, f.payload()))
	assert.Contains(t, prompt, "Modification request: make it rain")
	assert.Contains(t, prompt, "This is the opening panel")
}

func TestPanelRegenerationTask_Failure(t *testing.T) {
	t.Parallel()

	f := newRegenerationFixture(t, true)
	f.images.GenerateFn = func(context.Context, int, string, *generation.ReferenceImage) (*generation.Image, error) {
		return nil, errors.New("429: rate limit reached")
	}
	p := f.payload()
	p.ReferenceImageKey = f.uploadReference(t)

	err := f.run(t, p)
	require.Error(t, err)

	assert.Equal(t, domain.PanelStatusFailed, f.panel(t, f.regenerated.ID).Status)
	assert.Equal(t, domain.PanelStatusCompleted, f.panel(t, f.original.ID).Status)

	last := f.publisher.Last().Update
	assert.Equal(t, progress.StatusRegenerationFailed, last.Status)
	assert.Equal(t, generation.MsgRateLimit, last.Error)

	_, derr := f.storage.Download(context.Background(), p.ReferenceImageKey)
	assert.ErrorIs(t, derr, storage.ErrObjectNotFound)
	assert.Equal(t, domain.TaskStatusCompleted, f.pipelineFixture.task(t, f.task.ID).Status)
}

func TestPanelRegenerationTask_Redelivery(t *testing.T) {
	t.Parallel()

	f := newRegenerationFixture(t, true)
	require.NoError(t, f.run(t, f.payload()))
	require.Len(t, f.images.Calls(), 1)

	require.NoError(t, f.run(t, f.payload()))
	assert.Len(t, f.images.Calls(), 1)
	assert.Len(t, f.publisher.Updates(), 2)
}

func TestPanelRegenerationTask_InterruptedThenRedelivered(t *testing.T) {
	t.Parallel()

	f := newRegenerationFixture(t, true)
	p := f.payload()
	p.ReferenceImageKey = f.uploadReference(t)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	f.images.GenerateFn = func(ctx context.Context, call int, _ string, _ *generation.ReferenceImage) (*generation.Image, error) {
		if call == 0 {
			stop()
			return nil, ctx.Err()
		}
		return &generation.Image{Data: []byte("png"), MIMEType: "image/png"}, nil
	}

	job, err := NewPanelRegenerationTask(uuid.New(), p, f.pipeline)
	require.NoError(t, err)
	assert.ErrorIs(t, job.Execute(ctx), context.Canceled)

	assert.NotEqual(t, domain.PanelStatusFailed, f.panel(t, f.regenerated.ID).Status)
	_, err = f.storage.Download(context.Background(), p.ReferenceImageKey)
	require.NoError(t, err, "reference kept for the next attempt")
	for _, u := range f.publisher.Updates() {
		assert.NotEqual(t, progress.StatusRegenerationFailed, u.Update.Status)
	}

	require.NoError(t, f.run(t, p))
	assert.Equal(t, domain.PanelStatusCompleted, f.panel(t, f.regenerated.ID).Status)
	_, err = f.storage.Download(context.Background(), p.ReferenceImageKey)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestPanelRegenerationTask_MissingReferenceFallsBack(t *testing.T) {
	t.Parallel()

	f := newRegenerationFixture(t, true)
	p := f.payload()
	p.ReferenceImageKey = storage.ReferenceKey(f.task.ID, f.regenerated.ID, ".png")

	require.NoError(t, f.run(t, p))

	calls := f.images.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Ref)
	assert.Equal(t, originalImage, calls[0].Ref.Data)
}

func TestPanelRegenerationTask_MissingRow(t *testing.T) {
	t.Parallel()

	f := newRegenerationFixture(t, true)
	p := f.payload()
	p.RegeneratedPanelID = uuid.New()

	require.NoError(t, f.run(t, p))
	assert.Empty(t, f.images.Calls())
	assert.Empty(t, f.publisher.Updates())
}
