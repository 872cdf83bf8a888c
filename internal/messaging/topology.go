package messaging

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names the broker objects for the analysis pipeline. Declare is
// idempotent and runs on every (re)connect.
type Topology struct {
	Exchange           string
	Queue              string
	RoutingKey         string
	DeadLetterExchange string
	DeadLetterQueue    string
	MessageTTL         time.Duration
}

func DefaultTopology(ttl time.Duration) Topology {
	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}
	return Topology{
		Exchange:           "analysis",
		Queue:              AnalysisQueue,
		RoutingKey:         AnalysisQueue,
		DeadLetterExchange: "analysis.dlx",
		DeadLetterQueue:    AnalysisQueue + ".dead",
		MessageTTL:         ttl,
	}
}

func (t Topology) queueArgs() amqp.Table {
	return amqp.Table{
		"x-message-ttl":             int32(t.MessageTTL.Milliseconds()),
		"x-dead-letter-exchange":    t.DeadLetterExchange,
		"x-dead-letter-routing-key": t.RoutingKey,
	}
}

func (t Topology) Declare(channel *amqp.Channel) error {
	if err := channel.ExchangeDeclare(t.DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.DeadLetterExchange, err)
	}
	if _, err := channel.QueueDeclare(t.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.DeadLetterQueue, err)
	}
	if err := channel.QueueBind(t.DeadLetterQueue, t.RoutingKey, t.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", t.DeadLetterQueue, err)
	}

	if err := channel.ExchangeDeclare(t.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}
	if _, err := channel.QueueDeclare(t.Queue, true, false, false, false, t.queueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.Queue, err)
	}
	if err := channel.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", t.Queue, err)
	}

	return nil
}
