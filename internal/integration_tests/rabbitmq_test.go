package integrationtests

import (
	"context"
	"encoding/json"
	"media-analysis-backend/internal/messaging"
	"media-analysis-backend/internal/notify"
	"media-analysis-backend/pkg/api"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analysisPayload(taskId string) messaging.AnalysisTaskPayload {
	return messaging.AnalysisTaskPayload{
		TaskId:      taskId,
		OwnerId:     "owner",
		Filename:    "photo.png",
		ContentType: "image/png",
		Size:        4,
		InlineData:  []byte("\x89PNG"),
		Options:     map[string]string{"mode": "image"},
		SubmittedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func receiveTask(t *testing.T, receiver messaging.Reciever) messaging.Task {
	select {
	case task := <-receiver.Tasks():
		return task
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for task")
		return nil
	}
}

func TestRabbitMQ(t *testing.T) {
	skipIfShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	url := setupRabbitMQContainer(t, ctx)
	topology := messaging.DefaultTopology(time.Minute)

	publisher, err := messaging.NewRabbitMQPublisher(url, topology)
	require.NoError(t, err)
	defer publisher.Close()

	receiver, err := messaging.NewRabbitMQReceiver(url, topology, 1)
	require.NoError(t, err)
	defer receiver.Close()

	t.Run("PublishAndReceive", func(t *testing.T) {
		payload := analysisPayload("task-ack")
		require.NoError(t, publisher.PublishAnalysisTask(ctx, payload))

		task := receiveTask(t, receiver)
		assert.Equal(t, messaging.AnalysisQueue, task.Type())

		var received messaging.AnalysisTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &received))
		assert.Equal(t, payload.TaskId, received.TaskId)
		assert.Equal(t, payload.InlineData, received.InlineData)
		assert.Equal(t, payload.Options, received.Options)
		assert.True(t, payload.SubmittedAt.Equal(received.SubmittedAt))

		require.NoError(t, task.Ack())
	})

	t.Run("RejectDeadLetters", func(t *testing.T) {
		require.NoError(t, publisher.PublishAnalysisTask(ctx, analysisPayload("task-reject")))

		task := receiveTask(t, receiver)
		require.NoError(t, task.Reject())

		msg, ok := getDeadLetter(t, url, topology.DeadLetterQueue, 10*time.Second)
		require.True(t, ok, "rejected message must reach the dead-letter queue")

		var dead messaging.AnalysisTaskPayload
		require.NoError(t, json.Unmarshal(msg.Body, &dead))
		assert.Equal(t, "task-reject", dead.TaskId)
	})
}

func TestRabbitMQExpiredMessagesDeadLetter(t *testing.T) {
	skipIfShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	url := setupRabbitMQContainer(t, ctx)
	topology := messaging.DefaultTopology(time.Second)

	// No consumer, so the message sits in the queue until its TTL runs out.
	publisher, err := messaging.NewRabbitMQPublisher(url, topology)
	require.NoError(t, err)
	defer publisher.Close()

	require.NoError(t, publisher.PublishAnalysisTask(ctx, analysisPayload("task-expired")))

	msg, ok := getDeadLetter(t, url, topology.DeadLetterQueue, 20*time.Second)
	require.True(t, ok, "expired message must reach the dead-letter queue")

	var dead messaging.AnalysisTaskPayload
	require.NoError(t, json.Unmarshal(msg.Body, &dead))
	assert.Equal(t, "task-expired", dead.TaskId)
}

func TestRabbitMQEventRelay(t *testing.T) {
	skipIfShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	url := setupRabbitMQContainer(t, ctx)

	notifier := notify.NewNotifier()
	receiver, err := messaging.NewRabbitMQEventReceiver(url, notifier)
	require.NoError(t, err)
	defer receiver.Close()

	events := notifier.Subscribe("owner", "task-1")
	defer notifier.Unsubscribe("owner", "task-1", events)

	publisher, err := messaging.NewRabbitMQEventPublisher(url)
	require.NoError(t, err)
	defer publisher.Close()

	publisher.Publish("owner", "task-1", notify.Progress("task-1", 10))
	publisher.Publish("other", "task-1", notify.Progress("task-1", 20))
	publisher.Publish("owner", "task-1", notify.Failed("task-1", "NOT_FOUND"))

	var received []api.Event
	for len(received) < 2 {
		select {
		case event := <-events:
			received = append(received, event)
		case <-time.After(10 * time.Second):
			t.Fatalf("Timed out waiting for events, got %d", len(received))
		}
	}

	assert.Equal(t, api.EventProgress, received[0].Type)
	assert.Equal(t, 10, *received[0].Progress)
	assert.Equal(t, api.EventError, received[1].Type)
	assert.Equal(t, "NOT_FOUND", received[1].Code)
}
