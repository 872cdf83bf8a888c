package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"media-analysis-backend/internal/notify"
	"media-analysis-backend/pkg/api"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventsExchange is a fanout exchange relaying pipeline events from workers to
// every API process. Events are transient: an API process that is not bound
// when an event is published never sees it.
const EventsExchange = "analysis.events"

const eventPublishTimeout = 5 * time.Second

type EventEnvelope struct {
	OwnerId string    `json:"owner_id"`
	TaskId  string    `json:"task_id"`
	Event   api.Event `json:"event"`
}

func declareEventsExchange(channel *amqp.Channel) error {
	if err := channel.ExchangeDeclare(EventsExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", EventsExchange, err)
	}
	return nil
}

// RabbitMQEventPublisher is the worker side of the event relay.
type RabbitMQEventPublisher struct {
	mu      sync.Mutex
	url     string
	conn    *amqp.Connection
	channel *amqp.Channel
}

var _ notify.Sink = (*RabbitMQEventPublisher)(nil)

func NewRabbitMQEventPublisher(rabbitMQURL string) (*RabbitMQEventPublisher, error) {
	p := &RabbitMQEventPublisher{url: rabbitMQURL}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQEventPublisher) connect() error {
	conn, err := connectToRabbitMQ(p.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if err := declareEventsExchange(channel); err != nil {
		conn.Close()
		return err
	}
	p.conn, p.channel = conn, channel
	return nil
}

// Publish relays event without waiting for any consumer. Failures are logged
// and the event is dropped, matching the in-process notifier.
func (p *RabbitMQEventPublisher) Publish(ownerId, taskId string, event api.Event) {
	body, err := json.Marshal(EventEnvelope{OwnerId: ownerId, TaskId: taskId, Event: event})
	if err != nil {
		slog.Error("failed to marshal event", "task_id", taskId, "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		if p.conn != nil {
			p.conn.Close()
		}
		p.conn, p.channel = nil, nil
		if err := p.connect(); err != nil {
			slog.Error("dropping event, rabbitmq unavailable", "task_id", taskId, "type", event.Type, "error", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx, EventsExchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Body:         body,
	})
	if err != nil {
		slog.Error("failed to publish event", "task_id", taskId, "type", event.Type, "error", err)
	}
}

func (p *RabbitMQEventPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
		p.conn, p.channel = nil, nil
	}
}

// RabbitMQEventReceiver is the API side of the event relay. Each receiver
// binds its own exclusive queue and forwards every event to sink.
type RabbitMQEventReceiver struct {
	url      string
	sink     notify.Sink
	stop     chan struct{}
	stopOnce sync.Once
}

func NewRabbitMQEventReceiver(rabbitMQURL string, sink notify.Sink) (*RabbitMQEventReceiver, error) {
	r := &RabbitMQEventReceiver{url: rabbitMQURL, sink: sink, stop: make(chan struct{})}
	if err := r.receive(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQEventReceiver) receive() error {
	conn, err := connectToRabbitMQ(r.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if err := declareEventsExchange(channel); err != nil {
		conn.Close()
		return err
	}

	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare event queue: %w", err)
	}
	if err := channel.QueueBind(queue.Name, "", EventsExchange, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to bind event queue: %w", err)
	}

	msgs, err := channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to consume event queue: %w", err)
	}

	go r.dispatch(msgs)
	go r.handleReconnect(conn, channel)

	return nil
}

func (r *RabbitMQEventReceiver) dispatch(msgs <-chan amqp.Delivery) {
	for d := range msgs {
		var envelope EventEnvelope
		if err := json.Unmarshal(d.Body, &envelope); err != nil {
			slog.Error("discarding malformed event", "error", err)
			continue
		}
		r.sink.Publish(envelope.OwnerId, envelope.TaskId, envelope.Event)
	}
}

func (r *RabbitMQEventReceiver) handleReconnect(conn *amqp.Connection, channel *amqp.Channel) {
	notifyClose := make(chan *amqp.Error, 1)
	channel.NotifyClose(notifyClose)

	select {
	case err, ok := <-notifyClose:
		if !ok {
			return
		}
		slog.Warn("rabbitmq event connection closed, attempting to reconnect", "error", err)
		for {
			select {
			case <-r.stop:
				return
			default:
			}
			if r.receive() == nil {
				slog.Info("successfully restarted rabbitmq event consumer")
				return
			}
			time.Sleep(RetryDelay * 10)
		}
	case <-r.stop:
		if err := conn.Close(); err != nil {
			slog.Error("error closing rabbitmq conn", "error", err)
		}
	}
}

func (r *RabbitMQEventReceiver) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}
