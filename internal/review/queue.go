package review

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FeedbackItem is one reviewer finding queued for the implementer.
type FeedbackItem struct {
	ID        string
	Message   string
	Result    ReviewResult
	Timestamp time.Time
}

// Queue is a concurrency-safe FIFO of reviewer feedback.
type Queue struct {
	mu    sync.Mutex
	items []FeedbackItem
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends an item with a monotonic timestamp.
func (q *Queue) Enqueue(message string, result ReviewResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, FeedbackItem{
		ID:        uuid.NewString(),
		Message:   message,
		Result:    result,
		Timestamp: time.Now(),
	})
}

// DequeueAll atomically returns and clears all items.
func (q *Queue) DequeueAll() []FeedbackItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (FeedbackItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return FeedbackItem{}, false
	}
	return q.items[0], true
}

// HasPending cheaply reports whether anything is queued.
func (q *Queue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0
}

// FormatForInjection joins item messages for injection as one user turn.
func FormatForInjection(items []FeedbackItem) string {
	msgs := make([]string, 0, len(items))
	for _, it := range items {
		msgs = append(msgs, it.Message)
	}
	return strings.Join(msgs, "\n\n")
}
