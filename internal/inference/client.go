package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"media-analysis-backend/internal/taskerr"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultTimeout = 120 * time.Second

type Request struct {
	TaskId      string
	Filename    string
	ContentType string
	Data        io.Reader
	Options     map[string]string
}

type Client struct {
	client   *resty.Client
	endpoint string
	timeout  time.Duration
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		client:   resty.New().SetTimeout(timeout),
		endpoint: endpoint,
		timeout:  timeout,
	}
}

// Analyze posts the file and options as a multipart form and blocks until the
// service answers or the timeout elapses.
func (c *Client) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fields := make(map[string]string, len(req.Options)+1)
	for k, v := range req.Options {
		fields[k] = v
	}
	fields["task_id"] = req.TaskId

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	start := time.Now()
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetMultipartField("file", req.Filename, contentType, req.Data).
		SetMultipartFormData(fields).
		Post(c.endpoint)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %v: %w", c.timeout, err)
		}
		slog.Error("inference request failed", "task_id", req.TaskId, "error", err)
		return nil, taskerr.New(taskerr.ExternalService, "invoke inference", err)
	}

	if !res.IsSuccess() {
		slog.Error("inference service returned error", "task_id", req.TaskId, "status_code", res.StatusCode(), "body", truncate(res.String(), 512))
		return nil, taskerr.Errorf(taskerr.ExternalService, "invoke inference", "inference service returned status %d", res.StatusCode())
	}

	slog.Info("inference call completed", "task_id", req.TaskId, "duration", time.Since(start))

	var parsed Response
	if err := json.Unmarshal(res.Body(), &parsed); err != nil {
		return nil, taskerr.New(taskerr.Mapping, "decode inference response", err)
	}

	return parsed.Validate(req.TaskId, req.Options)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
