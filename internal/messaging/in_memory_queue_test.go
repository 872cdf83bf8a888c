package messaging_test

import (
	"context"
	"encoding/json"
	"media-analysis-backend/internal/messaging"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload(taskId string) messaging.AnalysisTaskPayload {
	return messaging.AnalysisTaskPayload{
		TaskId:      taskId,
		OwnerId:     "owner",
		Filename:    "a.png",
		ContentType: "image/png",
		Size:        3,
		InlineData:  []byte{1, 2, 3},
		Options:     map[string]string{"mode": "image"},
		SubmittedAt: time.Now().UTC(),
	}
}

func TestInMemoryQueueDelivers(t *testing.T) {
	q := messaging.NewInMemoryQueue(time.Minute)
	defer q.Close()

	require.NoError(t, q.PublishAnalysisTask(context.Background(), testPayload("t1")))

	select {
	case task := <-q.Tasks():
		assert.Equal(t, messaging.AnalysisQueue, task.Type())

		var got messaging.AnalysisTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &got))
		assert.Equal(t, "t1", got.TaskId)
		assert.Equal(t, []byte{1, 2, 3}, got.InlineData)
		assert.Equal(t, "image", got.Options["mode"])

		require.NoError(t, task.Ack())
	case <-time.After(time.Second):
		t.Fatal("task was not delivered")
	}

	assert.Empty(t, q.DeadLetters())
}

func TestInMemoryQueueExpiresUnconsumed(t *testing.T) {
	q := messaging.NewInMemoryQueue(50 * time.Millisecond)
	defer q.Close()

	require.NoError(t, q.PublishAnalysisTask(context.Background(), testPayload("stale")))

	time.Sleep(200 * time.Millisecond)

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, messaging.DeadLetterExpired, dead[0].Reason)

	select {
	case task := <-q.Tasks():
		t.Fatalf("expired task was delivered: %s", task.Payload())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryQueueRejectDeadLetters(t *testing.T) {
	q := messaging.NewInMemoryQueue(time.Minute)
	defer q.Close()

	require.NoError(t, q.PublishAnalysisTask(context.Background(), testPayload("bad")))

	task := <-q.Tasks()
	require.NoError(t, task.Reject())
	require.NoError(t, task.Reject())

	dead := q.DeadLetters()
	require.Len(t, dead, 1, "settling twice must not dead-letter twice")
	assert.Equal(t, messaging.DeadLetterRejected, dead[0].Reason)

	select {
	case <-q.Tasks():
		t.Fatal("rejected task was requeued")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryQueueClosed(t *testing.T) {
	q := messaging.NewInMemoryQueue(time.Minute)
	q.Close()
	q.Close()

	assert.Error(t, q.PublishAnalysisTask(context.Background(), testPayload("late")))

	_, ok := <-q.Tasks()
	assert.False(t, ok)
}

func TestPayloadValidate(t *testing.T) {
	p := testPayload("t")
	assert.NoError(t, p.Validate())

	p.BlobKey = "uploads/owner/t/a.png"
	assert.Error(t, p.Validate(), "both locators set")

	p.InlineData = nil
	assert.NoError(t, p.Validate())

	p.BlobKey = ""
	assert.Error(t, p.Validate(), "no locator set")
}
