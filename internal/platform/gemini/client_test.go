package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// fakeModels answers GenerateContent calls from a script.
type fakeModels struct {
	mu      sync.Mutex
	calls   []fakeCall
	respond func(ctx context.Context, call int) (*genai.GenerateContentResponse, error)
}

type fakeCall struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, fakeCall{model: model, contents: append([]*genai.Content(nil), contents...), config: cfg})
	f.mu.Unlock()
	return f.respond(ctx, n)
}

func (f *fakeModels) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}

func testConfig() config.LLMConfig {
	return config.LLMConfig{
		GeminiAPIKey: "test-key",
		TextModel:    "text-model",
		ImageModel:   "image-model",
		Timeout:      time.Second,
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
	}
}

func newTestClient(t *testing.T, models Models, mutate ...func(*config.LLMConfig)) *Client {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClientWithModels(models, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func imageResponse(data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{
				{Text: "Here is your panel."},
				{InlineData: &genai.Blob{Data: data, MIMEType: "image/png"}},
			}},
		}},
	}
}

const story = "A courier runs through the rain-soaked streets to reach the harbour before the last ship leaves."

func TestNewClientWithModels(t *testing.T) {
	t.Parallel()

	_, err := NewClientWithModels(nil, testConfig(), nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	cfg := testConfig()
	cfg.ImageModel = ""
	_, err = NewClientWithModels(&fakeModels{}, cfg, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	cfg = testConfig()
	cfg.Timeout, cfg.RetryDelay, cfg.MaxRetries = 0, 0, -1
	c, err := NewClientWithModels(&fakeModels{}, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, c.cfg.Timeout)
	assert.Equal(t, 2*time.Second, c.cfg.RetryDelay)
	assert.Zero(t, c.cfg.MaxRetries)

	_, err = NewClient(context.Background(), config.LLMConfig{}, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestSplit(t *testing.T) {
	t.Parallel()

	models := &fakeModels{respond: func(context.Context, int) (*genai.GenerateContentResponse, error) {
		return textResponse(`{"scenes": ["The courier sets off.", "The harbour at dusk."]}`), nil
	}}
	c := newTestClient(t, models)

	scenes, err := c.Split(context.Background(), story, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"The courier sets off.", "The harbour at dusk."}, scenes)

	calls := models.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "text-model", calls[0].model)
	assert.Equal(t, "application/json", calls[0].config.ResponseMIMEType)
	require.NotNil(t, calls[0].config.ResponseSchema)
	assert.Contains(t, calls[0].config.ResponseSchema.Properties, "scenes")
	require.Len(t, calls[0].contents, 1)
	assert.Contains(t, calls[0].contents[0].Parts[0].Text, "exactly 2 distinct scenes")
}

func TestSplit_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		resp      *genai.GenerateContentResponse
		err       error
		wantKind  error
		wantCalls int
	}{
		{
			name:      "malformed json",
			resp:      textResponse(`scenes: one, two`),
			wantKind:  generation.ErrInvalidResponse,
			wantCalls: 1,
		},
		{
			name:      "no candidates",
			resp:      &genai.GenerateContentResponse{},
			wantKind:  generation.ErrInvalidResponse,
			wantCalls: 1,
		},
		{
			name: "safety block",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				FinishReason: genai.FinishReasonSafety,
				Content:      &genai.Content{},
			}}},
			wantKind:  generation.ErrContentBlocked,
			wantCalls: 1,
		},
		{
			name:      "bad request is not retried",
			err:       genai.APIError{Code: 400, Message: "invalid argument"},
			wantKind:  generation.ErrGenerationFailed,
			wantCalls: 1,
		},
		{
			name:      "rate limit is retried until exhausted",
			err:       genai.APIError{Code: 429, Message: "rate limit exceeded"},
			wantKind:  generation.ErrTransientFailure,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			models := &fakeModels{respond: func(context.Context, int) (*genai.GenerateContentResponse, error) {
				return tt.resp, tt.err
			}}
			c := newTestClient(t, models)

			_, err := c.Split(context.Background(), story, 3)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.Len(t, models.Calls(), tt.wantCalls)
		})
	}
}

func TestSplit_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	models := &fakeModels{respond: func(_ context.Context, call int) (*genai.GenerateContentResponse, error) {
		if call == 0 {
			return nil, genai.APIError{Code: 503, Message: "unavailable"}
		}
		return textResponse(`{"scenes": ["only"]}`), nil
	}}
	c := newTestClient(t, models)

	scenes, err := c.Split(context.Background(), story, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, scenes)
	assert.Len(t, models.Calls(), 2)
}

func TestSplit_AttemptTimeout(t *testing.T) {
	t.Parallel()

	models := &fakeModels{respond: func(ctx context.Context, _ int) (*genai.GenerateContentResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := newTestClient(t, models, func(cfg *config.LLMConfig) {
		cfg.Timeout = 10 * time.Millisecond
		cfg.MaxRetries = 1
	})

	_, err := c.Split(context.Background(), story, 2)
	require.Error(t, err)
	assert.True(t, generation.IsTransient(err))
	assert.Equal(t, generation.MsgTimeout, generation.FriendlyMessage(err))
	assert.Len(t, models.Calls(), 2)
}

func TestSplit_ParentCancelStopsRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	models := &fakeModels{respond: func(context.Context, int) (*genai.GenerateContentResponse, error) {
		cancel()
		return nil, genai.APIError{Code: 500, Message: "internal"}
	}}
	c := newTestClient(t, models)

	_, err := c.Split(ctx, story, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, models.Calls(), 1)
}

func TestSplit_EmptyStory(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeModels{})
	_, err := c.Split(context.Background(), "   ", 2)
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tests := []struct {
		name       string
		err        error
		wantKind   error
		wantStatus int
	}{
		{"rate limit", genai.APIError{Code: 429}, generation.ErrTransientFailure, 429},
		{"server error", &genai.APIError{Code: 502}, generation.ErrTransientFailure, 502},
		{"unauthorized", genai.APIError{Code: 401, Message: "API key not valid"}, generation.ErrGenerationFailed, 401},
		{"deadline", context.DeadlineExceeded, generation.ErrTransientFailure, 0},
		{"unknown", errors.New("boom"), generation.ErrGenerationFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classify("split", ctx, tt.err)
			assert.ErrorIs(t, got, tt.wantKind)
			assert.Equal(t, tt.wantStatus, got.StatusCode)
		})
	}

	got := classify("split", ctx, genai.APIError{Code: 401, Message: "API key not valid"})
	assert.Equal(t, generation.MsgAPIKey, generation.FriendlyMessage(got))
}
