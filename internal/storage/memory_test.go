package storage

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStorage("http://localhost/static")

	url, err := s.Upload(ctx, "tasks/a/panel_1.png", bytes.NewReader([]byte("png")), 3, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/static/tasks/a/panel_1.png", url)

	data, err := s.Download(ctx, "tasks/a/panel_1.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
	assert.Equal(t, []string{"tasks/a/panel_1.png"}, s.Keys())

	require.NoError(t, s.Delete(ctx, "tasks/a/panel_1.png"))
	require.NoError(t, s.Delete(ctx, "tasks/a/panel_1.png"))
	_, err = s.Download(ctx, "tasks/a/panel_1.png")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = s.Upload(ctx, "../x", bytes.NewReader(nil), 0, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
