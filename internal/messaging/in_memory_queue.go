package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DeadLetterExpired  = "expired"
	DeadLetterRejected = "rejected"
)

type DeadLetter struct {
	Queue   string
	Payload []byte
	Reason  string
}

type inMemoryTask struct {
	queue      string
	payload    []byte
	enqueuedAt time.Time

	settle sync.Once
	q      *InMemoryQueue
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	t.settle.Do(func() {})
	return nil
}

func (t *inMemoryTask) Nack() error {
	t.settle.Do(func() { t.q.deadLetter(t, DeadLetterRejected) })
	return nil
}

func (t *inMemoryTask) Reject() error {
	return t.Nack()
}

// InMemoryQueue is a single process stand-in for the broker. Messages that are
// not handed to a consumer within ttl, and messages that are rejected, move to
// the dead-letter list instead of being delivered or requeued.
type InMemoryQueue struct {
	ttl     time.Duration
	pending chan *inMemoryTask
	tasks   chan Task

	deadMu      sync.Mutex
	deadLetters []DeadLetter

	stop     chan struct{}
	stopOnce sync.Once
}

func NewInMemoryQueue(ttl time.Duration) *InMemoryQueue {
	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}
	q := &InMemoryQueue{
		ttl:     ttl,
		pending: make(chan *inMemoryTask, 100),
		tasks:   make(chan Task),
		stop:    make(chan struct{}),
	}
	go q.pump()
	return q
}

func (q *InMemoryQueue) pump() {
	defer close(q.tasks)

	for {
		var next *inMemoryTask
		select {
		case next = <-q.pending:
		case <-q.stop:
			return
		}

		remaining := time.Until(next.enqueuedAt.Add(q.ttl))
		if remaining <= 0 {
			q.deadLetter(next, DeadLetterExpired)
			continue
		}

		timer := time.NewTimer(remaining)
		select {
		case q.tasks <- next:
			timer.Stop()
		case <-timer.C:
			q.deadLetter(next, DeadLetterExpired)
		case <-q.stop:
			timer.Stop()
			return
		}
	}
}

func (q *InMemoryQueue) deadLetter(t *inMemoryTask, reason string) {
	slog.Warn("message dead-lettered", "queue", t.queue, "reason", reason)

	q.deadMu.Lock()
	defer q.deadMu.Unlock()
	q.deadLetters = append(q.deadLetters, DeadLetter{Queue: t.queue, Payload: t.payload, Reason: reason})
}

func (q *InMemoryQueue) publishTaskInternal(ctx context.Context, queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", queue, err)
	}

	task := &inMemoryTask{queue: queue, payload: data, enqueuedAt: time.Now(), q: q}

	select {
	case <-q.stop:
		return fmt.Errorf("queue is closed")
	default:
	}

	select {
	case q.pending <- task:
		return nil
	case <-q.stop:
		return fmt.Errorf("queue is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) PublishAnalysisTask(ctx context.Context, payload AnalysisTaskPayload) error {
	return q.publishTaskInternal(ctx, AnalysisQueue, payload)
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

// DeadLetters returns a snapshot of the dead-letter list.
func (q *InMemoryQueue) DeadLetters() []DeadLetter {
	q.deadMu.Lock()
	defer q.deadMu.Unlock()
	return append([]DeadLetter(nil), q.deadLetters...)
}

func (q *InMemoryQueue) Close() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
}
