package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/manga-api/internal/progress"
)

// PublishedUpdate is one recorded progress event.
type PublishedUpdate struct {
	SessionID string
	Update    progress.Update
}

// RecordingPublisher implements progress.Publisher by recording every event.
type RecordingPublisher struct {
	// Err is returned from every Publish call after recording.
	Err error

	mu      sync.Mutex
	updates []PublishedUpdate
}

var _ progress.Publisher = (*RecordingPublisher)(nil)

// Publish implements progress.Publisher.
func (p *RecordingPublisher) Publish(ctx context.Context, sessionID string, update progress.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, PublishedUpdate{SessionID: sessionID, Update: update})
	return p.Err
}

// Updates returns a copy of the recorded events in publish order.
func (p *RecordingPublisher) Updates() []PublishedUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedUpdate(nil), p.updates...)
}

// Progress returns the progress values in publish order.
func (p *RecordingPublisher) Progress() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.updates))
	for i, u := range p.updates {
		out[i] = u.Update.Progress
	}
	return out
}

// Statuses returns the statuses in publish order.
func (p *RecordingPublisher) Statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.updates))
	for i, u := range p.updates {
		out[i] = u.Update.Status
	}
	return out
}

// Last returns the most recent event, or the zero value.
func (p *RecordingPublisher) Last() PublishedUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.updates) == 0 {
		return PublishedUpdate{}
	}
	return p.updates[len(p.updates)-1]
}
