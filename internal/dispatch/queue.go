package dispatch

import (
	"log/slog"
	"sync"
)

// chatQueueDepth bounds the backlog per chat. Beyond this the oldest intent
// is to shed load rather than grow without bound.
const chatQueueDepth = 128

// Queue serializes work per chat id: at most one job per chat runs at a
// time, in submission order, while different chats proceed concurrently.
type Queue struct {
	mu     sync.Mutex
	chats  map[string]chan func()
	wg     sync.WaitGroup
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{chats: make(map[string]chan func())}
}

// Submit enqueues fn for the chat. The first submission for a chat spawns
// its worker. Jobs for a full chat backlog are dropped with a warning.
func (q *Queue) Submit(chatID string, fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	ch, ok := q.chats[chatID]
	if !ok {
		ch = make(chan func(), chatQueueDepth)
		q.chats[chatID] = ch
		q.wg.Add(1)
		go q.worker(ch)
	}
	q.mu.Unlock()

	select {
	case ch <- fn:
	default:
		slog.Warn("dispatch: chat queue full, dropping message", "chat", chatID)
	}
}

func (q *Queue) worker(ch chan func()) {
	defer q.wg.Done()
	for fn := range ch {
		fn()
	}
}

// Close stops accepting jobs and waits for in-flight ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.chats {
		close(ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
