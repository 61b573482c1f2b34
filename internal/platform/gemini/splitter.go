package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/manga-api/internal/generation"
	"google.golang.org/genai"
)

// sceneResponse is the JSON document the splitter asks the model for.
type sceneResponse struct {
	Scenes []string `json:"scenes"`
}

var sceneSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"scenes": {
			Type:        genai.TypeArray,
			Description: "Scene descriptions in story order, one per manga panel",
			Items:       &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"scenes"},
}

// Split implements generation.SceneSplitter.
func (c *Client) Split(ctx context.Context, story string, n int) ([]string, error) {
	if strings.TrimSpace(story) == "" {
		return nil, ErrEmptyPrompt
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: scene count must be positive", generation.ErrInvalidConfig)
	}

	prompt := generation.BuildSplitPrompt(story, n)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	gc := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   sceneSchema,
	}

	c.logger.InfoContext(ctx, "Splitting story into scenes",
		"story_length", len(story),
		"scenes", n)

	var scenes []string
	_, err := c.generate(ctx, "split", c.cfg.TextModel, contents, gc, func(resp *genai.GenerateContentResponse) error {
		parsed, err := parseScenes(resp)
		if err != nil {
			return err
		}
		scenes = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "Story split", "scenes", len(scenes))
	return scenes, nil
}

func parseScenes(resp *genai.GenerateContentResponse) ([]string, error) {
	parts, err := candidateParts("split", resp)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, p := range parts {
		if p != nil {
			text.WriteString(p.Text)
		}
	}
	raw := strings.TrimSpace(text.String())
	if raw == "" {
		return nil, &generation.Error{Op: "split", Kind: generation.ErrInvalidResponse, Err: errors.New("empty response")}
	}

	var out sceneResponse
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, &generation.Error{
			Op:   "split",
			Kind: generation.ErrInvalidResponse,
			Err:  fmt.Errorf("failed to parse JSON response: %w", err),
		}
	}
	return out.Scenes, nil
}
