package gemini

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/phrazzld/manga-api/internal/generation"
	"google.golang.org/genai"
)

// maxHistoryTurns bounds the number of prior exchanges sent with a prompt.
const maxHistoryTurns = 10

var imageConfig = &genai.GenerateContentConfig{
	ResponseModalities: []string{"TEXT", "IMAGE"},
}

// Session is one drawing conversation. It implements generation.ImageSession.
type Session struct {
	client *Client

	mu      sync.Mutex
	history []*genai.Content
}

var _ generation.ImageSession = (*Session)(nil)

// NewSession implements generation.ImageGenerator.
func (c *Client) NewSession(ctx context.Context) (generation.ImageSession, error) {
	return &Session{client: c}, nil
}

// Generate implements generation.ImageSession. A successful exchange is
// appended to the history; a failed one is not.
func (s *Session) Generate(ctx context.Context, prompt string, ref *generation.ReferenceImage) (*generation.Image, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if ref != nil && len(ref.Data) > 0 {
		mime := ref.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, genai.NewPartFromBytes(ref.Data, mime))
	}
	turn := genai.NewContentFromParts(parts, genai.RoleUser)

	s.mu.Lock()
	defer s.mu.Unlock()

	contents := make([]*genai.Content, 0, len(s.history)+1)
	contents = append(contents, s.history...)
	contents = append(contents, turn)

	var (
		img   *generation.Image
		reply *genai.Content
	)
	_, err := s.client.generate(ctx, "generate_image", s.client.cfg.ImageModel, contents, imageConfig,
		func(resp *genai.GenerateContentResponse) error {
			var err error
			img, err = extractImage(resp)
			if err != nil {
				return err
			}
			reply = resp.Candidates[0].Content
			return nil
		})
	if err != nil {
		return nil, err
	}

	if reply.Role == "" {
		reply.Role = "model"
	}
	s.history = append(s.history, turn, reply)
	if over := len(s.history) - 2*maxHistoryTurns; over > 0 {
		s.history = s.history[over:]
	}
	return img, nil
}

// History returns the number of contents kept for the next call.
func (s *Session) History() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func extractImage(resp *genai.GenerateContentResponse) (*generation.Image, error) {
	parts, err := candidateParts("generate_image", resp)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
			mime := p.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return &generation.Image{Data: p.InlineData.Data, MIMEType: mime}, nil
		}
	}
	return nil, &generation.Error{Op: "generate_image", Kind: generation.ErrNoImage, Err: errors.New("response had no inline image")}
}
