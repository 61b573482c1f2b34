package gemini

import (
	"context"
	"testing"

	"github.com/phrazzld/manga-api/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestSession_KeepsHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	models := &fakeModels{respond: func(_ context.Context, call int) (*genai.GenerateContentResponse, error) {
		return imageResponse([]byte{byte(call)}), nil
	}}
	c := newTestClient(t, models)

	s, err := c.NewSession(ctx)
	require.NoError(t, err)

	first, err := s.Generate(ctx, "panel one", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, first.Data)
	assert.Equal(t, "image/png", first.MIMEType)

	second, err := s.Generate(ctx, "panel two", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, second.Data)

	calls := models.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "image-model", calls[0].model)
	assert.Equal(t, []string{"TEXT", "IMAGE"}, calls[0].config.ResponseModalities)
	assert.Len(t, calls[0].contents, 1)

	// The second call carries the first exchange.
	require.Len(t, calls[1].contents, 3)
	assert.Equal(t, "panel one", calls[1].contents[0].Parts[0].Text)
	assert.Equal(t, "model", calls[1].contents[1].Role)
	assert.Equal(t, "panel two", calls[1].contents[2].Parts[0].Text)

	assert.Equal(t, 4, s.(*Session).History())
}

func TestSession_SeparateSessionsDoNotShareHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	models := &fakeModels{respond: func(context.Context, int) (*genai.GenerateContentResponse, error) {
		return imageResponse([]byte("png")), nil
	}}
	c := newTestClient(t, models)

	a, _ := c.NewSession(ctx)
	b, _ := c.NewSession(ctx)
	_, err := a.Generate(ctx, "a1", nil)
	require.NoError(t, err)
	_, err = b.Generate(ctx, "b1", nil)
	require.NoError(t, err)

	calls := models.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1].contents, 1)
}

func TestSession_ReferenceImageIsInline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	models := &fakeModels{respond: func(context.Context, int) (*genai.GenerateContentResponse, error) {
		return imageResponse([]byte("png")), nil
	}}
	c := newTestClient(t, models)
	s, _ := c.NewSession(ctx)

	_, err := s.Generate(ctx, "redraw", &generation.ReferenceImage{Data: []byte("jpeg bytes"), MIMEType: "image/jpeg"})
	require.NoError(t, err)

	parts := models.Calls()[0].contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "redraw", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, []byte("jpeg bytes"), parts[1].InlineData.Data)
	assert.Equal(t, "image/jpeg", parts[1].InlineData.MIMEType)
}

func TestSession_FailedTurnIsNotRemembered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	models := &fakeModels{respond: func(_ context.Context, call int) (*genai.GenerateContentResponse, error) {
		if call == 0 {
			return textResponse("I cannot draw that."), nil
		}
		return imageResponse([]byte("png")), nil
	}}
	c := newTestClient(t, models)
	s, _ := c.NewSession(ctx)

	_, err := s.Generate(ctx, "panel one", nil)
	assert.ErrorIs(t, err, generation.ErrNoImage)
	assert.Zero(t, s.(*Session).History())

	_, err = s.Generate(ctx, "panel two", nil)
	require.NoError(t, err)
	assert.Len(t, models.Calls()[1].contents, 1)
}

func TestSession_HistoryIsBounded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	models := &fakeModels{respond: func(context.Context, int) (*genai.GenerateContentResponse, error) {
		return imageResponse([]byte("png")), nil
	}}
	c := newTestClient(t, models)
	s, _ := c.NewSession(ctx)

	for i := 0; i < maxHistoryTurns+3; i++ {
		_, err := s.Generate(ctx, "panel", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 2*maxHistoryTurns, s.(*Session).History())
}

func TestSession_EmptyPrompt(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeModels{})
	s, _ := c.NewSession(context.Background())
	_, err := s.Generate(context.Background(), " ", nil)
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}
