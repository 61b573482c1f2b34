package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/generation"
	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

// Models is the part of the genai client used here. *genai.Models
// implements it.
type Models interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Client implements generation.SceneSplitter and generation.ImageGenerator.
type Client struct {
	models Models
	cfg    config.LLMConfig
	logger *slog.Logger
}

var (
	_ generation.SceneSplitter  = (*Client)(nil)
	_ generation.ImageGenerator = (*Client)(nil)
)

// NewClient creates a Client backed by the Gemini API.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}
	return NewClientWithModels(client.Models, cfg, logger)
}

// NewClientWithModels creates a Client over an existing Models implementation.
func NewClientWithModels(models Models, cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if models == nil {
		return nil, fmt.Errorf("%w: models cannot be nil", generation.ErrInvalidConfig)
	}
	if cfg.TextModel == "" || cfg.ImageModel == "" {
		return nil, fmt.Errorf("%w: text and image model names are required", generation.ErrInvalidConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		models: models,
		cfg:    cfg,
		logger: logger.With("component", "gemini"),
	}, nil
}

// backoff returns the retry schedule for one logical call.
func (c *Client) backoff() retry.Backoff {
	b := retry.NewExponential(c.cfg.RetryDelay)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(time.Minute, b)
	return retry.WithMaxRetries(uint64(c.cfg.MaxRetries), b)
}

// generate calls the model with a per-attempt timeout, retrying transient
// failures. check validates a response; its errors are never retried.
func (c *Client) generate(
	ctx context.Context,
	op, model string,
	contents []*genai.Content,
	gc *genai.GenerateContentConfig,
	check func(*genai.GenerateContentResponse) error,
) (*genai.GenerateContentResponse, error) {
	var (
		out     *genai.GenerateContentResponse
		attempt int
	)
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		start := time.Now()
		resp, err := c.models.GenerateContent(attemptCtx, model, contents, gc)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			gerr := classify(op, attemptCtx, err)
			c.logger.WarnContext(ctx, "Gemini API call failed",
				"op", op,
				"attempt", attempt,
				"status", gerr.StatusCode,
				"transient", generation.IsTransient(gerr),
				"duration", time.Since(start),
				"error", err)
			if generation.IsTransient(gerr) {
				return retry.RetryableError(gerr)
			}
			return gerr
		}
		if err := check(resp); err != nil {
			return err
		}

		c.logger.DebugContext(ctx, "Gemini API call successful",
			"op", op,
			"attempt", attempt,
			"duration", time.Since(start))
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// candidateParts returns the parts of the first candidate, or an invalid
// response error.
func candidateParts(op string, resp *genai.GenerateContentResponse) ([]*genai.Part, error) {
	if reason := blockedReason(resp); reason != "" {
		return nil, &generation.Error{Op: op, Kind: generation.ErrContentBlocked, Err: errors.New(reason)}
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &generation.Error{Op: op, Kind: generation.ErrInvalidResponse, Err: errors.New("no content generated")}
	}
	return resp.Candidates[0].Content.Parts, nil
}
