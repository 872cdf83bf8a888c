package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"media-analysis-backend/internal/taskerr"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"
)

const OwnerHeader = "X-Owner-Id"

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(code int, err error) error {
	return &codedError{err: err, code: code}
}

func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

func ParseRequestQueryParams[T any](r *http.Request) (T, error) {
	var data T
	if err := r.ParseForm(); err != nil {
		slog.Error("error parsing form", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request query params")
	}

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(&data, r.Form); err != nil {
		slog.Error("error decoding query params", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request query params")
	}

	return data, nil
}

// KindStatus is the HTTP status for each error kind.
func KindStatus(kind taskerr.Kind) int {
	switch kind {
	case taskerr.Validation:
		return http.StatusBadRequest
	case taskerr.NotFound:
		return http.StatusNotFound
	case taskerr.Mapping, taskerr.ExternalService:
		return http.StatusBadGateway
	case taskerr.Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status once. Causes of server-side failures are
// logged but only the kind code is sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var cerr *codedError
	if errors.As(err, &cerr) {
		http.Error(w, err.Error(), cerr.code)
		if cerr.code >= http.StatusInternalServerError {
			slog.Error("internal server error received in endpoint", "path", r.URL.Path, "error", err)
		}
		return
	}

	kind := taskerr.KindOf(err)
	status := KindStatus(kind)
	if status >= http.StatusInternalServerError {
		slog.Error("server error received in endpoint", "path", r.URL.Path, "kind", kind, "error", err)
		http.Error(w, string(kind), status)
		return
	}
	http.Error(w, err.Error(), status)
}

func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if res == nil {
			res = struct{}{}
		}

		WriteJsonResponse(w, res)
	}
}

func WriteJsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
		http.Error(w, fmt.Sprintf("error serializing response body: %v", err), http.StatusInternalServerError)
	}
}

// OwnerId reads the caller identity set by the authenticating proxy.
func OwnerId(r *http.Request) (string, error) {
	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	if owner == "" {
		return "", CodedErrorf(http.StatusUnauthorized, "missing %s header", OwnerHeader)
	}
	return owner, nil
}

func URLParam(r *http.Request, key string) (string, error) {
	param := chi.URLParam(r, key)
	if len(param) == 0 {
		return "", CodedErrorf(http.StatusBadRequest, "missing {%v} url parameter", key)
	}
	return param, nil
}
