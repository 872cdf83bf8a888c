package notify

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"media-analysis-backend/pkg/api"
	"strings"
	"sync"
)

const subscriberBuffer = 32

// Sink receives pipeline events addressed by owner and task.
type Sink interface {
	Publish(ownerId, taskId string, event api.Event)
}

type topic struct {
	ownerId string
	taskId  string
}

// Notifier fans events out to the subscribers of an owner+task channel.
// Delivery is fire-and-forget: with no subscriber attached the event is
// dropped, and nothing is buffered for late subscribers.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[topic]map[chan api.Event]struct{}
}

var _ Sink = (*Notifier)(nil)

func NewNotifier() *Notifier {
	return &Notifier{subscribers: make(map[topic]map[chan api.Event]struct{})}
}

// Subscribe returns a channel receiving subsequent events for ownerId+taskId.
// The caller must call Unsubscribe when done.
func (n *Notifier) Subscribe(ownerId, taskId string) chan api.Event {
	ch := make(chan api.Event, subscriberBuffer)
	key := topic{ownerId, taskId}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subscribers[key] == nil {
		n.subscribers[key] = make(map[chan api.Event]struct{})
	}
	n.subscribers[key][ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes ch.
func (n *Notifier) Unsubscribe(ownerId, taskId string, ch chan api.Event) {
	key := topic{ownerId, taskId}

	n.mu.Lock()
	subs, ok := n.subscribers[key]
	if ok {
		if _, found := subs[ch]; !found {
			n.mu.Unlock()
			return
		}
		delete(subs, ch)
		if len(subs) == 0 {
			delete(n.subscribers, key)
		}
	}
	n.mu.Unlock()

	if ok {
		close(ch)
	}
}

func (n *Notifier) Publish(ownerId, taskId string, event api.Event) {
	n.PublishCount(ownerId, taskId, event)
}

// PublishCount publishes event and reports how many subscribers received it.
// Subscribers with a full buffer are skipped.
func (n *Notifier) PublishCount(ownerId, taskId string, event api.Event) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	delivered := 0
	for ch := range n.subscribers[topic{ownerId, taskId}] {
		select {
		case ch <- event:
			delivered++
		default:
			slog.Warn("dropping event for slow subscriber", "owner_id", ownerId, "task_id", taskId, "type", event.Type)
		}
	}
	return delivered
}

func (n *Notifier) Subscribers(ownerId, taskId string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers[topic{ownerId, taskId}])
}

func Progress(taskId string, percent int) api.Event {
	return api.Event{Type: api.EventProgress, TaskId: taskId, Progress: &percent}
}

func Done(taskId string, report *api.AnalysisReport) api.Event {
	return api.Event{Type: api.EventDone, TaskId: taskId, Payload: report}
}

func Failed(taskId string, code string) api.Event {
	return api.Event{Type: api.EventError, TaskId: taskId, Code: code}
}

// FormatSSE frames event as a Server-Sent Events message.
func FormatSSE(event api.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("error encoding event: %w", err)
	}
	return []byte("event: " + string(event.Type) + "\ndata: " + string(data) + "\n\n"), nil
}

// ReadSSE decodes a stream written with FormatSSE, calling handle for each
// event until handle returns false or the stream ends. Comment lines such as
// keepalives are skipped.
func ReadSSE(r io.Reader, handle func(api.Event) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var event api.Event
			if err := json.Unmarshal([]byte(data.String()), &event); err != nil {
				return fmt.Errorf("error decoding event: %w", err)
			}
			data.Reset()
			if !handle(event) {
				return nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
