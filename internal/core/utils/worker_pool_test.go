package utils_test

import (
	"context"
	"fmt"
	"media-analysis-backend/internal/core/utils"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunInPool(t *testing.T) {
	worker := func(_ context.Context, i int) (string, error) {
		if i%4 == 3 {
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			return "", fmt.Errorf("error")
		}
		return fmt.Sprintf("%d-%d", i, i), nil
	}

	inputs := make([]int, 10)
	for i := range inputs {
		inputs[i] = i
	}

	success, errors := 0, 0
	for result := range utils.RunInPool(context.Background(), worker, inputs, 5) {
		if result.Error != nil {
			errors++
			assert.Equal(t, 3, result.Input%4)
		} else {
			success++
			assert.Equal(t, fmt.Sprintf("%d-%d", result.Input, result.Input), result.Result)
		}
	}

	assert.Equal(t, 8, success)
	assert.Equal(t, 2, errors)
}

func TestRunInPoolLimitsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32

	worker := func(_ context.Context, i int) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return i, nil
	}

	count := 0
	for range utils.RunInPool(context.Background(), worker, make([]int, 20), 3) {
		count++
	}

	assert.Equal(t, 20, count)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunInPoolCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := atomic.Int32{}
	worker := func(_ context.Context, i int) (int, error) {
		called.Add(1)
		return i, nil
	}

	for result := range utils.RunInPool(ctx, worker, []int{1, 2, 3}, 2) {
		assert.ErrorIs(t, result.Error, context.Canceled)
	}
	assert.Equal(t, int32(0), called.Load())
}
