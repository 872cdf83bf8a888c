package taskerr_test

import (
	"errors"
	"fmt"
	"media-analysis-backend/internal/taskerr"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedError(t *testing.T) {
	base := taskerr.Errorf(taskerr.Mapping, "validate response", "missing field %q", "task_id")
	wrapped := fmt.Errorf("processing: %w", base)

	assert.Equal(t, taskerr.Mapping, taskerr.KindOf(wrapped))
	assert.Equal(t, "MAPPING_ERROR", taskerr.Code(wrapped))
	assert.True(t, taskerr.Is(wrapped, taskerr.Mapping))
}

func TestUntaggedErrorIsInternal(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, taskerr.Internal, taskerr.KindOf(err))
	assert.False(t, taskerr.Is(nil, taskerr.Internal))
}

func TestWithTask(t *testing.T) {
	err := taskerr.New(taskerr.Storage, "read blob", errors.New("no such key"))
	err = taskerr.WithTask(err, "task-1")
	assert.Equal(t, "read blob: task task-1: no such key", err.Error())

	plain := taskerr.WithTask(errors.New("boom"), "task-2")
	assert.Equal(t, taskerr.Internal, taskerr.KindOf(plain))
	assert.Nil(t, taskerr.WithTask(nil, "task-3"))
}
