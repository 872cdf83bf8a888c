package api

import (
	"log/slog"
	"media-analysis-backend/internal/core"
	"media-analysis-backend/internal/core/scoring"
	"media-analysis-backend/internal/database"
	"media-analysis-backend/internal/notify"
	"media-analysis-backend/internal/taskerr"
	"media-analysis-backend/pkg/api"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

const (
	maxMultipartMemory = 32 << 20
	requestTimeout     = 60 * time.Second
	keepaliveInterval  = 15 * time.Second
)

type BackendService struct {
	db       *gorm.DB
	gateway  *core.Gateway
	registry *core.Registry
	notifier *notify.Notifier
	policy   *scoring.Policy
}

func NewBackendService(db *gorm.DB, gateway *core.Gateway, registry *core.Registry, notifier *notify.Notifier, policy *scoring.Policy) *BackendService {
	return &BackendService{
		db:       db,
		gateway:  gateway,
		registry: registry,
		notifier: notifier,
		policy:   policy,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
		r.Post("/analysis", RestHandler(s.SubmitAnalysis))
		r.Get("/analysis/active", RestHandler(s.GetActiveTask))
		r.Get("/results/{task_id}", RestHandler(s.GetResult))
	})

	// Long lived, so outside the request timeout.
	r.Get("/analysis/{task_id}/events", s.StreamEvents)
}

// SubmitAnalysis accepts a multipart form with a "file" part. Every other
// text field is passed through as an analysis option.
func (s *BackendService) SubmitAnalysis(r *http.Request) (any, error) {
	ownerId, err := OwnerId(r)
	if err != nil {
		return nil, err
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		slog.Error("error parsing multipart form", "owner_id", ownerId, "error", err)
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form")
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("error removing multipart temp files", "error", err)
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, taskerr.Errorf(taskerr.Validation, "submit analysis", "missing file part")
	}
	defer file.Close()

	options := make(map[string]string, len(r.MultipartForm.Value))
	for key, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			options[key] = values[0]
		}
	}

	return s.gateway.Submit(r.Context(), ownerId, core.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Data:        file,
	}, options)
}

func (s *BackendService) GetActiveTask(r *http.Request) (any, error) {
	ownerId, err := OwnerId(r)
	if err != nil {
		return nil, err
	}

	taskId, ok := s.registry.Get(ownerId)
	if !ok {
		return nil, taskerr.Errorf(taskerr.NotFound, "get active task", "no active task")
	}
	return api.ActiveTask{TaskId: taskId}, nil
}

// StreamEvents relays the task's events as Server-Sent Events until a terminal
// event is sent or the client goes away. A client going away releases the
// owner's active task entry but leaves processing running.
func (s *BackendService) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ownerId, err := OwnerId(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	taskId, err := URLParam(r, "task_id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("response writer does not support flushing")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := s.notifier.Subscribe(ownerId, taskId)
	defer s.notifier.Unsubscribe(ownerId, taskId, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The stream outlives the server's write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	disconnected := func() {
		if s.registry.Deregister(ownerId) {
			slog.Info("client disconnected, released active task", "owner_id", ownerId, "task_id", taskId)
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			disconnected()
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				disconnected()
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			frame, err := notify.FormatSSE(event)
			if err != nil {
				slog.Error("error framing event", "task_id", taskId, "error", err)
				continue
			}
			if _, err := w.Write(frame); err != nil {
				disconnected()
				return
			}
			flusher.Flush()
			if event.Terminal() {
				return
			}
		}
	}
}

func (s *BackendService) GetResult(r *http.Request) (any, error) {
	ownerId, err := OwnerId(r)
	if err != nil {
		return nil, err
	}
	taskId, err := URLParam(r, "task_id")
	if err != nil {
		return nil, err
	}
	params, err := ParseRequestQueryParams[api.ResultParams](r)
	if err != nil {
		return nil, err
	}

	record, err := database.GetResult(r.Context(), s.db, ownerId, taskId)
	if err != nil {
		return nil, err
	}

	report, err := core.BuildReport(record, s.policy, params.Live)
	if err != nil {
		return nil, taskerr.New(taskerr.Internal, "build report", err)
	}
	return report, nil
}
