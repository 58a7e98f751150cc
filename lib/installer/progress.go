package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Event types reported for an install job.
const (
	EventStarted                = "started"
	EventValidated              = "validated"
	EventStaged                 = "staged"
	EventDecompressed           = "decompressed"
	EventVerified               = "verified"
	EventIntegritySetupComplete = "integrity-setup-complete"
	EventRootfsInstalled        = "rootfs-installed"
	EventStorageInstalled       = "storage-installed"
	EventCompleted              = "completed"
	EventFailed                 = "failed"
)

// Event is one progress notification of an install job.
type Event struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// ProgressTracker records the events of one job and broadcasts them to
// SSE subscribers. New subscribers receive the history first.
type ProgressTracker struct {
	jobID       string
	history     []Event
	subscribers []chan Event
	mu          sync.RWMutex
	closed      bool
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(jobID string) *ProgressTracker {
	return &ProgressTracker{
		jobID:       jobID,
		subscribers: make([]chan Event, 0),
	}
}

// Publish records an event and broadcasts it to all subscribers.
func (p *ProgressTracker) Publish(eventType, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	ev := Event{Type: eventType, Message: message, Time: time.Now().UTC()}
	p.history = append(p.history, ev)

	for _, ch := range p.subscribers {
		select {
		case ch <- ev:
		default:
			// Non-blocking send (skip slow consumers)
		}
	}
}

// History returns the events published so far.
func (p *ProgressTracker) History() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Event(nil), p.history...)
}

// Subscribe adds a new SSE subscriber and returns their channel. When the
// tracker is already closed the channel carries the history and is closed.
func (p *ProgressTracker) Subscribe(ctx context.Context) (chan Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Event, len(p.history)+16)
	for _, ev := range p.history {
		ch <- ev
	}
	if p.closed {
		close(ch)
		return ch, nil
	}
	p.subscribers = append(p.subscribers, ch)

	// Close channel when context is done
	go func() {
		<-ctx.Done()
		p.Unsubscribe(ch)
	}()

	return ch, nil
}

// Unsubscribe removes a subscriber
func (p *ProgressTracker) Unsubscribe(ch chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sub := range p.subscribers {
		if sub == ch {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Close closes all subscriber channels
func (p *ProgressTracker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
}

// ToSSEReader converts an event channel to an io.ReadCloser for SSE streaming
func ToSSEReader(ch chan Event) io.ReadCloser {
	return &sseStream{ch: ch}
}

// sseStream implements io.ReadCloser for SSE streaming
type sseStream struct {
	ch     chan Event
	buffer []byte
}

func (s *sseStream) Read(p []byte) (n int, err error) {
	// If we have buffered data, return it first
	if len(s.buffer) > 0 {
		n = copy(p, s.buffer)
		s.buffer = s.buffer[n:]
		return n, nil
	}

	ev, ok := <-s.ch
	if !ok {
		return 0, io.EOF
	}

	data, _ := json.Marshal(ev)
	s.buffer = []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, data))

	n = copy(p, s.buffer)
	s.buffer = s.buffer[n:]
	return n, nil
}

func (s *sseStream) Close() error {
	return nil
}
