package messaging

import (
	"context"
	"fmt"
	"time"
)

const (
	AnalysisQueue   = "analysis_requests"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5

	DefaultMessageTTL = 600_000 * time.Millisecond
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	// Nack and Reject both dead-letter the message. Neither requeues it.
	Nack() error

	Reject() error
}

// AnalysisTaskPayload is the request message for one analysis. Exactly one of
// InlineData and BlobKey is set.
type AnalysisTaskPayload struct {
	TaskId      string            `json:"task_id"`
	OwnerId     string            `json:"owner_id"`
	Filename    string            `json:"filename"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	InlineData  []byte            `json:"inline_data,omitempty"`
	BlobKey     string            `json:"blob_key,omitempty"`
	Options     map[string]string `json:"options"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

func (p AnalysisTaskPayload) IsInline() bool {
	return len(p.InlineData) > 0
}

func (p AnalysisTaskPayload) Validate() error {
	if p.TaskId == "" {
		return fmt.Errorf("task id is required")
	}
	if p.OwnerId == "" {
		return fmt.Errorf("owner id is required")
	}
	hasInline, hasBlob := len(p.InlineData) > 0, p.BlobKey != ""
	if hasInline == hasBlob {
		return fmt.Errorf("exactly one of inline data or blob key must be set (inline=%v, blob=%v)", hasInline, hasBlob)
	}
	return nil
}

type Publisher interface {
	PublishAnalysisTask(ctx context.Context, payload AnalysisTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
