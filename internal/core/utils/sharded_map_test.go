package utils_test

import (
	"fmt"
	"media-analysis-backend/internal/core/utils"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMap_SetGetDelete(t *testing.T) {
	m := utils.NewShardedMap[int](4)

	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", 1)
	m.Set("a", 2)
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, m.Len())

	assert.True(t, m.Delete("a"))
	assert.False(t, m.Delete("a"))
	assert.Equal(t, 0, m.Len())
}

func TestShardedMap_DeleteIf(t *testing.T) {
	m := utils.NewShardedMap[string](0)
	m.Set("task", "owner-1")

	assert.False(t, m.DeleteIf("task", func(v string) bool { return v == "owner-2" }))
	assert.Equal(t, 1, m.Len())

	assert.True(t, m.DeleteIf("task", func(v string) bool { return v == "owner-1" }))
	assert.False(t, m.DeleteIf("task", func(v string) bool { return true }))
}

func TestShardedMap_SwapAndUpdate(t *testing.T) {
	m := utils.NewShardedMap[string](0)

	_, had := m.Swap("owner", "task-1")
	assert.False(t, had)
	prev, had := m.Swap("owner", "task-2")
	assert.True(t, had)
	assert.Equal(t, "task-1", prev)

	m.Update("owner", func(current string, ok bool) (string, bool) {
		assert.True(t, ok)
		assert.Equal(t, "task-2", current)
		return "task-3", true
	})
	v, _ := m.Get("owner")
	assert.Equal(t, "task-3", v)

	m.Update("owner", func(string, bool) (string, bool) { return "", false })
	_, ok := m.Get("owner")
	assert.False(t, ok)
}

func TestShardedMap_ConcurrentWriters(t *testing.T) {
	m := utils.NewShardedMap[int](8)

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("%d-%d", w, i)
				m.Set(key, i)
				if i%2 == 0 {
					m.Delete(key)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 16*100, m.Len())

	visited := 0
	m.Range(func(key string, v int) bool {
		visited++
		assert.Equal(t, 1, v%2)
		return true
	})
	assert.Equal(t, 16*100, visited)
}
