package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"media-analysis-backend/internal/core/scoring"
	"media-analysis-backend/internal/database"
	"media-analysis-backend/internal/inference"
	"media-analysis-backend/internal/messaging"
	"media-analysis-backend/internal/notify"
	"media-analysis-backend/internal/storage"
	"media-analysis-backend/internal/taskerr"
	"media-analysis-backend/internal/telemetry"
	"net/http"
	"path"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	instrumentationName = "media-analysis-backend/worker"
	resultPrefix        = "results"
)

type TaskState string

const (
	StateReceived          TaskState = "RECEIVED"
	StateFetchingPayload   TaskState = "FETCHING_PAYLOAD"
	StateInvokingInference TaskState = "INVOKING_INFERENCE"
	StatePersistingResult  TaskState = "PERSISTING_RESULT"
	StateCompleted         TaskState = "COMPLETED"
	StateFailed            TaskState = "FAILED"
)

// Analyzer runs the external inference for one file.
type Analyzer interface {
	Analyze(ctx context.Context, req inference.Request) (*inference.Analysis, error)
}

type processorMetrics struct {
	completed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

func newProcessorMetrics() processorMetrics {
	meter := telemetry.Meter(instrumentationName)
	m := processorMetrics{
		completed: noop.Int64Counter{},
		failed:    noop.Int64Counter{},
		duration:  noop.Float64Histogram{},
	}

	if c, err := meter.Int64Counter("analysis.tasks.completed", metric.WithDescription("Analysis tasks completed successfully")); err == nil {
		m.completed = c
	} else {
		slog.Warn("error creating metric", "name", "analysis.tasks.completed", "error", err)
	}
	if c, err := meter.Int64Counter("analysis.tasks.failed", metric.WithDescription("Analysis tasks that were dead-lettered")); err == nil {
		m.failed = c
	} else {
		slog.Warn("error creating metric", "name", "analysis.tasks.failed", "error", err)
	}
	if h, err := meter.Float64Histogram("analysis.task.duration", metric.WithUnit("ms"), metric.WithDescription("Time from delivery to settlement")); err == nil {
		m.duration = h
	} else {
		slog.Warn("error creating metric", "name", "analysis.task.duration", "error", err)
	}
	return m
}

type TaskProcessor struct {
	db       *gorm.DB
	storage  storage.ObjectStore
	reciever messaging.Reciever
	analyzer Analyzer
	policy   *scoring.Policy
	events   notify.Sink

	concurrency int

	metrics processorMetrics
	tracer  trace.Tracer
}

func NewTaskProcessor(db *gorm.DB, storage storage.ObjectStore, reciever messaging.Reciever, analyzer Analyzer, policy *scoring.Policy, events notify.Sink, concurrency int) *TaskProcessor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &TaskProcessor{
		db:          db,
		storage:     storage,
		reciever:    reciever,
		analyzer:    analyzer,
		policy:      policy,
		events:      events,
		concurrency: concurrency,
		metrics:     newProcessorMetrics(),
		tracer:      telemetry.Tracer(instrumentationName),
	}
}

// Start runs one consumer per unit of concurrency and returns once the
// receiver's task channel is closed.
func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor", "concurrency", proc.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < proc.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range proc.reciever.Tasks() {
				proc.ProcessTask(task)
			}
		}()
	}
	wg.Wait()
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.reciever.Close()
}

// ProcessTask handles one delivery. Failures are never requeued: the owner
// gets an ERROR event with an opaque code and the message is dead-lettered.
func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()
	start := time.Now()

	if task.Type() != messaging.AnalysisQueue {
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	var payload messaging.AnalysisTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("error unmarshalling analysis task", "error", err)
		proc.metrics.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(taskerr.Validation))))
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	ctx, span := proc.tracer.Start(ctx, "analysis.process", trace.WithAttributes(
		attribute.String("task_id", payload.TaskId),
		attribute.Bool("inline", payload.IsInline()),
	))
	defer span.End()

	err := proc.processAnalysisTask(ctx, payload)
	elapsed := float64(time.Since(start).Milliseconds())

	if err != nil {
		err = taskerr.WithTask(err, payload.TaskId)
		code := taskerr.Code(err)

		proc.setState(payload.TaskId, StateFailed)
		slog.Error("error processing analysis task", "task_id", payload.TaskId, "owner_id", payload.OwnerId, "kind", code, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, code)

		proc.metrics.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", code)))
		proc.metrics.duration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("outcome", "failed")))

		if payload.OwnerId != "" {
			proc.events.Publish(payload.OwnerId, payload.TaskId, notify.Failed(payload.TaskId, code))
		}
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "task_id", payload.TaskId, "error", err)
		}
		return
	}

	proc.setState(payload.TaskId, StateCompleted)
	proc.metrics.completed.Add(ctx, 1)
	proc.metrics.duration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("outcome", "completed")))

	if err := task.Ack(); err != nil {
		slog.Error("error acknowledging message from queue", "task_id", payload.TaskId, "error", err)
	}
}

func (proc *TaskProcessor) setState(taskId string, state TaskState) {
	slog.Info("analysis task state", "task_id", taskId, "state", state)
}

func (proc *TaskProcessor) progress(payload messaging.AnalysisTaskPayload, percent int) {
	proc.events.Publish(payload.OwnerId, payload.TaskId, notify.Progress(payload.TaskId, percent))
}

func (proc *TaskProcessor) processAnalysisTask(ctx context.Context, payload messaging.AnalysisTaskPayload) error {
	proc.setState(payload.TaskId, StateReceived)

	if err := payload.Validate(); err != nil {
		return taskerr.New(taskerr.Validation, "validate task", err)
	}
	proc.progress(payload, 5)

	proc.setState(payload.TaskId, StateFetchingPayload)
	data, err := proc.openPayload(ctx, payload)
	if err != nil {
		return err
	}
	defer data.Close()
	proc.progress(payload, 10)

	proc.setState(payload.TaskId, StateInvokingInference)
	analysis, err := proc.analyzer.Analyze(ctx, inference.Request{
		TaskId:      payload.TaskId,
		Filename:    payload.Filename,
		ContentType: payload.ContentType,
		Data:        data,
		Options:     payload.Options,
	})
	if err != nil {
		return err
	}

	if len(analysis.ResultImage) > 0 {
		if err := proc.uploadResultImage(ctx, payload, analysis); err != nil {
			return err
		}
	}
	proc.progress(payload, 70)

	proc.setState(payload.TaskId, StatePersistingResult)
	baseline := resolveBaseline(analysis.Speed, proc.policy.DefaultBaseline)
	scored := proc.policy.Evaluate(analysis.Metrics(), analysis.Flagged(), baseline)

	record, err := newResultRecord(payload, analysis, baseline, scored)
	if err != nil {
		return taskerr.New(taskerr.Internal, "build result", err)
	}

	created, err := database.SaveResult(ctx, proc.db, record)
	if err != nil {
		return err
	}
	if !created {
		// Redelivery of a task that was already persisted: report what was
		// stored the first time.
		if record, err = database.GetResult(ctx, proc.db, payload.OwnerId, payload.TaskId); err != nil {
			if taskerr.Is(err, taskerr.NotFound) {
				// The id was taken by another owner after this task was accepted.
				return taskerr.Errorf(taskerr.Conflict, "save result", "task id %s is already in use", payload.TaskId)
			}
			return err
		}
	}

	report, err := BuildReport(record, proc.policy, false)
	if err != nil {
		return taskerr.New(taskerr.Internal, "build report", err)
	}

	proc.progress(payload, 100)
	proc.events.Publish(payload.OwnerId, payload.TaskId, notify.Done(payload.TaskId, report))

	slog.Info("analysis task completed", "task_id", payload.TaskId, "verdict", record.Verdict, "duplicate", !created)
	return nil
}

func (proc *TaskProcessor) openPayload(ctx context.Context, payload messaging.AnalysisTaskPayload) (io.ReadCloser, error) {
	if payload.IsInline() {
		return io.NopCloser(bytes.NewReader(payload.InlineData)), nil
	}

	obj, err := proc.storage.GetObject(ctx, payload.BlobKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, taskerr.New(taskerr.NotFound, "fetch payload", fmt.Errorf("payload %s: %w", payload.BlobKey, err))
		}
		return nil, taskerr.New(taskerr.Storage, "fetch payload", err)
	}
	return obj, nil
}

func resultImageName(image []byte) (string, string) {
	contentType := http.DetectContentType(image)
	switch contentType {
	case "image/png":
		return "result.png", contentType
	case "image/jpeg":
		return "result.jpg", contentType
	case "image/webp":
		return "result.webp", contentType
	case "image/gif":
		return "result.gif", contentType
	}
	return "result.bin", "application/octet-stream"
}

// uploadResultImage moves an inline result image to the blob store so only
// its URL is persisted.
func (proc *TaskProcessor) uploadResultImage(ctx context.Context, payload messaging.AnalysisTaskPayload, analysis *inference.Analysis) error {
	name, contentType := resultImageName(analysis.ResultImage)
	key := path.Join(resultPrefix, payload.OwnerId, payload.TaskId, name)

	url, err := proc.storage.PutObject(ctx, key, bytes.NewReader(analysis.ResultImage), contentType)
	if err != nil {
		return taskerr.New(taskerr.Storage, "upload result image", err)
	}

	analysis.ResultURL = url
	analysis.ResultImage = nil
	return nil
}
