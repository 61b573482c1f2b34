package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/manga-api/internal/generation"
)

// MockSceneSplitter implements generation.SceneSplitter for testing
type MockSceneSplitter struct {
	// SplitFn allows test cases to mock the Split behavior
	SplitFn func(ctx context.Context, story string, n int) ([]string, error)

	// Default response values
	Scenes []string
	Err    error

	mu    sync.Mutex
	calls int
}

var _ generation.SceneSplitter = (*MockSceneSplitter)(nil)

// Split implements generation.SceneSplitter.
func (m *MockSceneSplitter) Split(ctx context.Context, story string, n int) ([]string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.SplitFn != nil {
		return m.SplitFn(ctx, story, n)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]string(nil), m.Scenes...), nil
}

// Calls returns the number of Split calls.
func (m *MockSceneSplitter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ImageCall records one Generate call.
type ImageCall struct {
	Session int
	Prompt  string
	Ref     *generation.ReferenceImage
}

// MockImageGenerator implements generation.ImageGenerator for testing.
// Every session shares the generator's call log.
type MockImageGenerator struct {
	// GenerateFn, when set, answers the call with the given zero-based index.
	GenerateFn func(ctx context.Context, call int, prompt string, ref *generation.ReferenceImage) (*generation.Image, error)

	// NewSessionErr fails NewSession when set.
	NewSessionErr error

	mu       sync.Mutex
	sessions int
	calls    []ImageCall
}

var _ generation.ImageGenerator = (*MockImageGenerator)(nil)

// NewSession implements generation.ImageGenerator.
func (m *MockImageGenerator) NewSession(ctx context.Context) (generation.ImageSession, error) {
	if m.NewSessionErr != nil {
		return nil, m.NewSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions++
	return &mockImageSession{gen: m, id: m.sessions}, nil
}

// Sessions returns the number of sessions opened.
func (m *MockImageGenerator) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions
}

// Calls returns a copy of the call log.
func (m *MockImageGenerator) Calls() []ImageCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ImageCall(nil), m.calls...)
}

type mockImageSession struct {
	gen *MockImageGenerator
	id  int
}

// Generate implements generation.ImageSession. Without GenerateFn it
// returns a small PNG-typed payload.
func (s *mockImageSession) Generate(
	ctx context.Context,
	prompt string,
	ref *generation.ReferenceImage,
) (*generation.Image, error) {
	s.gen.mu.Lock()
	call := len(s.gen.calls)
	s.gen.calls = append(s.gen.calls, ImageCall{Session: s.id, Prompt: prompt, Ref: ref})
	fn := s.gen.GenerateFn
	s.gen.mu.Unlock()

	if fn != nil {
		return fn(ctx, call, prompt, ref)
	}
	return &generation.Image{Data: []byte("\x89PNG panel"), MIMEType: "image/png"}, nil
}
