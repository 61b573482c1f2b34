package generation

import "context"

// SceneSplitter breaks a story into scene descriptions.
type SceneSplitter interface {
	// Split returns at most n scene descriptions for story. Implementations
	// may return fewer; callers drop blank entries.
	Split(ctx context.Context, story string, n int) ([]string, error)
}

// Image is a rendered picture.
type Image struct {
	Data     []byte
	MIMEType string
}

// ReferenceImage is a picture the model should take as a visual reference.
type ReferenceImage struct {
	Data     []byte
	MIMEType string
}

// ImageSession is a stateful drawing conversation. Each Generate call sees
// the previous turns of the same session. A session is used by one
// goroutine at a time.
type ImageSession interface {
	Generate(ctx context.Context, prompt string, ref *ReferenceImage) (*Image, error)
}

// ImageGenerator opens drawing sessions.
type ImageGenerator interface {
	NewSession(ctx context.Context) (ImageSession, error)
}
