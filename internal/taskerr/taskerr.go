// Package taskerr carries the pipeline error taxonomy as a single tagged error
// type. Callers attach a Kind where a failure is first observed and the
// boundaries (HTTP handlers, worker events) map the kind to a code exactly once.
package taskerr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	Validation      Kind = "VALIDATION_ERROR"
	NotFound        Kind = "NOT_FOUND"
	Mapping         Kind = "MAPPING_ERROR"
	ExternalService Kind = "EXTERNAL_SERVICE_ERROR"
	Storage         Kind = "STORAGE_ERROR"
	Conflict        Kind = "CONFLICT"
	Internal        Kind = "INTERNAL_ERROR"
)

type Error struct {
	Kind   Kind
	Op     string
	TaskId string
	Err    error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	if e.TaskId != "" {
		sb.WriteString("task ")
		sb.WriteString(e.TaskId)
		sb.WriteString(": ")
	}
	if e.Err != nil {
		sb.WriteString(e.Err.Error())
	} else {
		sb.WriteString(strings.ToLower(string(e.Kind)))
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithTask stamps the task id on the outermost tagged error in err's chain, or
// wraps err as Internal if it carries no kind yet.
func WithTask(err error, taskId string) error {
	if err == nil {
		return nil
	}
	var terr *Error
	if errors.As(err, &terr) {
		if terr.TaskId == "" {
			terr.TaskId = taskId
		}
		return err
	}
	return &Error{Kind: Internal, TaskId: taskId, Err: err}
}

// KindOf reports the kind of the first tagged error in err's chain. Untagged
// errors are Internal.
func KindOf(err error) Kind {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}
	return Internal
}

// Code is the opaque code that may cross the pipeline boundary to a client.
func Code(err error) string {
	return string(KindOf(err))
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
