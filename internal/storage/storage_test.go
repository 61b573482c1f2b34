package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentTypeFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "image/png", ContentTypeFor("tasks/x/panel_1.png"))
	assert.Equal(t, "image/jpeg", ContentTypeFor("ref.JPEG"))
	assert.Equal(t, "image/webp", ContentTypeFor("a.webp"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("noext"))
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg"))
	assert.Equal(t, ".webp", ExtensionFor("IMAGE/WEBP"))
	assert.Equal(t, ".png", ExtensionFor(""))
}

func TestKeys(t *testing.T) {
	t.Parallel()

	taskID := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	regID := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

	assert.Equal(t, "tasks/0f8fad5b-d9cb-469f-a165-70867728950e/panel_3.png", PanelKey(taskID, 3))
	assert.Equal(t, "tasks/0f8fad5b-d9cb-469f-a165-70867728950e/panel_2_regenerated_7c9e6679.png",
		RegeneratedPanelKey(taskID, 2, regID))
	assert.Equal(t, "tasks/0f8fad5b-d9cb-469f-a165-70867728950e/references/7c9e6679-7425-40de-944b-e07fc1f90ae7.jpg",
		ReferenceKey(taskID, regID, "JPG"))
}

func TestCleanKey(t *testing.T) {
	t.Parallel()

	key, err := CleanKey("tasks//a/./b.png")
	require.NoError(t, err)
	assert.Equal(t, "tasks/a/b.png", key)

	for _, bad := range []string{"", "  ", "/etc/passwd", "../secret", "tasks/../../x"} {
		_, err := CleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestJoinURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://cdn.example.com/tasks/a.png", JoinURL("https://cdn.example.com/", "/tasks/a.png"))
	assert.Equal(t, "http://localhost:8080/static/k", JoinURL("http://localhost:8080/static", "k"))
}

// deadlineStorage records the deadline each Upload sees and blocks until
// the context ends when block is set.
type deadlineStorage struct {
	*MemoryStorage
	block    bool
	deadline bool
}

func (s *deadlineStorage) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	_, s.deadline = ctx.Deadline()
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.MemoryStorage.Upload(ctx, key, r, size, contentType)
}

func TestWithUploadTimeout(t *testing.T) {
	t.Parallel()

	t.Run("zero timeout keeps the backend", func(t *testing.T) {
		t.Parallel()
		mem := NewMemoryStorage("")
		assert.Same(t, mem, WithUploadTimeout(mem, 0))
	})

	t.Run("upload carries a deadline", func(t *testing.T) {
		t.Parallel()
		inner := &deadlineStorage{MemoryStorage: NewMemoryStorage("http://cdn.test")}
		st := WithUploadTimeout(inner, time.Minute)

		url, err := st.Upload(context.Background(), "tasks/a/panel_1.png", strings.NewReader("png"), 3, "image/png")
		require.NoError(t, err)
		assert.Equal(t, "http://cdn.test/tasks/a/panel_1.png", url)
		assert.True(t, inner.deadline)

		data, err := st.Download(context.Background(), "tasks/a/panel_1.png")
		require.NoError(t, err)
		assert.Equal(t, []byte("png"), data)
	})

	t.Run("stalled upload times out", func(t *testing.T) {
		t.Parallel()
		inner := &deadlineStorage{MemoryStorage: NewMemoryStorage(""), block: true}
		st := WithUploadTimeout(inner, 20*time.Millisecond)

		_, err := st.Upload(context.Background(), "tasks/a/panel_1.png", strings.NewReader("png"), 3, "image/png")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
