package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"media-analysis-backend/internal/core/utils"
	"media-analysis-backend/internal/database"
	"media-analysis-backend/internal/messaging"
	"media-analysis-backend/internal/storage"
	"media-analysis-backend/internal/taskerr"
	"media-analysis-backend/pkg/api"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultInlineLimit = 10 << 20
	DefaultBlobPrefix  = "uploads"

	// TaskIdOption lets a client choose its own task id.
	TaskIdOption = "task_id"

	// Bounds follow the task_id and owner_id columns of the results table.
	MaxTaskIdLength  = 64
	MaxOwnerIdLength = 128
)

type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Data        io.Reader
}

type Gateway struct {
	db        *gorm.DB
	registry  *Registry
	storage   storage.ObjectStore
	publisher messaging.Publisher

	blobPrefix  string
	inlineLimit int64
}

// NewGateway creates a Gateway. db is used to refuse task ids already stored
// under another owner and may be nil to skip that check.
func NewGateway(db *gorm.DB, registry *Registry, storage storage.ObjectStore, publisher messaging.Publisher, blobPrefix string, inlineLimit int64) *Gateway {
	if blobPrefix == "" {
		blobPrefix = DefaultBlobPrefix
	}
	if inlineLimit <= 0 {
		inlineLimit = DefaultInlineLimit
	}
	return &Gateway{
		db:          db,
		registry:    registry,
		storage:     storage,
		publisher:   publisher,
		blobPrefix:  blobPrefix,
		inlineLimit: inlineLimit,
	}
}

// acceptedMediaType returns the normalized media type, or false if uploads of
// that type are not analyzable.
func acceptedMediaType(contentType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"), strings.HasPrefix(mediaType, "video/"), mediaType == "application/octet-stream":
		return mediaType, true
	}
	return "", false
}

// BlobKey is the storage key for an uploaded file. It is deterministic so a
// retried submission with the same task id overwrites rather than duplicates.
func BlobKey(prefix, ownerId, taskId, filename string) string {
	return path.Join(prefix, ownerId, taskId, utils.SafeFilename(filename))
}

// checkTaskId rejects client-chosen task ids that cannot serve as an object key
// segment or primary key, or that already name another owner's result.
func (g *Gateway) checkTaskId(ctx context.Context, ownerId, taskId string) error {
	const op = "submit task"

	if !utils.ValidIdentifier(taskId, MaxTaskIdLength) {
		return taskerr.Errorf(taskerr.Validation, op, "task id must be at most %d characters of [A-Za-z0-9._-] without '..'", MaxTaskIdLength)
	}
	if g.db == nil {
		return nil
	}
	storedOwner, found, err := database.ResultOwner(ctx, g.db, taskId)
	if err != nil {
		return taskerr.WithTask(err, taskId)
	}
	if found && storedOwner != ownerId {
		slog.Warn("task id already used by another owner", "owner_id", ownerId, "task_id", taskId)
		return taskerr.WithTask(taskerr.Errorf(taskerr.Conflict, op, "task id %s is already in use", taskId), taskId)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Submit validates the upload, places its payload inline or in the blob store,
// registers the task for ownerId and publishes the request. Blob write,
// registration and publish are independent steps; a failed publish undoes the
// registration but a crash between steps can leave an orphaned blob.
func (g *Gateway) Submit(ctx context.Context, ownerId string, upload Upload, options map[string]string) (api.TaskAccepted, error) {
	const op = "submit task"

	if ownerId == "" {
		return api.TaskAccepted{}, taskerr.Errorf(taskerr.Validation, op, "owner id is required")
	}
	if !utils.ValidIdentifier(ownerId, MaxOwnerIdLength) {
		return api.TaskAccepted{}, taskerr.Errorf(taskerr.Validation, op, "owner id must be at most %d characters of [A-Za-z0-9._-] without '..'", MaxOwnerIdLength)
	}
	if upload.Data == nil || upload.Size <= 0 {
		return api.TaskAccepted{}, taskerr.Errorf(taskerr.Validation, op, "file is empty or missing")
	}
	mediaType, ok := acceptedMediaType(upload.ContentType)
	if !ok {
		return api.TaskAccepted{}, taskerr.Errorf(taskerr.Validation, op, "unsupported content type %q", upload.ContentType)
	}

	taskId := strings.TrimSpace(options[TaskIdOption])
	if taskId == "" {
		taskId = uuid.NewString()
	} else if err := g.checkTaskId(ctx, ownerId, taskId); err != nil {
		return api.TaskAccepted{}, err
	}
	passthrough := make(map[string]string, len(options))
	for k, v := range options {
		if k != TaskIdOption {
			passthrough[k] = v
		}
	}

	payload := messaging.AnalysisTaskPayload{
		TaskId:      taskId,
		OwnerId:     ownerId,
		Filename:    upload.Filename,
		ContentType: mediaType,
		Size:        upload.Size,
		Options:     passthrough,
		SubmittedAt: time.Now().UTC(),
	}

	if strings.HasPrefix(mediaType, "image/") && upload.Size <= g.inlineLimit {
		data, err := io.ReadAll(io.LimitReader(upload.Data, g.inlineLimit+1))
		if err != nil {
			return api.TaskAccepted{}, taskerr.New(taskerr.Validation, op, fmt.Errorf("error reading upload: %w", err))
		}
		if len(data) == 0 {
			return api.TaskAccepted{}, taskerr.Errorf(taskerr.Validation, op, "file is empty")
		}
		if int64(len(data)) > g.inlineLimit {
			// Declared size was too small; stream what was read plus the rest.
			upload.Data = io.MultiReader(bytes.NewReader(data), upload.Data)
		} else {
			payload.Size = int64(len(data))
			payload.InlineData = data
		}
	}

	if !payload.IsInline() {
		key := BlobKey(g.blobPrefix, ownerId, taskId, upload.Filename)
		data := &countingReader{r: upload.Data}
		if _, err := g.storage.PutObject(ctx, key, data, mediaType); err != nil {
			slog.Error("error uploading payload", "owner_id", ownerId, "task_id", taskId, "key", key, "error", err)
			return api.TaskAccepted{}, taskerr.WithTask(taskerr.New(taskerr.Storage, op, err), taskId)
		}
		payload.BlobKey = key
		payload.Size = data.n
	}

	prev, hadPrev := g.registry.Replace(ownerId, taskId)

	if err := g.publisher.PublishAnalysisTask(ctx, payload); err != nil {
		g.registry.Restore(ownerId, taskId, prev, hadPrev)
		if payload.BlobKey != "" {
			if derr := g.storage.DeleteObjects(ctx, payload.BlobKey); derr != nil {
				slog.Warn("error removing payload of unpublished task", "owner_id", ownerId, "task_id", taskId, "key", payload.BlobKey, "error", derr)
			}
		}
		slog.Error("error publishing analysis task", "owner_id", ownerId, "task_id", taskId, "error", err)
		return api.TaskAccepted{}, taskerr.WithTask(taskerr.New(taskerr.ExternalService, "publish task", err), taskId)
	}

	slog.Info("analysis task submitted", "owner_id", ownerId, "task_id", taskId, "inline", payload.IsInline(), "size", payload.Size)

	return api.TaskAccepted{TaskId: taskId}, nil
}
