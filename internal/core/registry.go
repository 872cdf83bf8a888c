package core

import (
	"log/slog"
	"media-analysis-backend/internal/core/utils"
	"media-analysis-backend/internal/notify"
	"media-analysis-backend/pkg/api"
)

// Registry maps an owner to the one task whose progress that owner is
// currently following. It is in-memory only.
type Registry struct {
	tasks *utils.ShardedMap[string]
}

func NewRegistry() *Registry {
	return &Registry{tasks: utils.NewShardedMap[string](utils.DefaultShards)}
}

// Register records taskId for ownerId, replacing any previous entry.
func (r *Registry) Register(ownerId, taskId string) {
	r.tasks.Set(ownerId, taskId)
}

// Replace records taskId for ownerId and returns the entry it displaced, so a
// submission that fails later can hand the slot back with Restore.
func (r *Registry) Replace(ownerId, taskId string) (string, bool) {
	return r.tasks.Swap(ownerId, taskId)
}

// Restore undoes a Replace: if the owner's entry still names taskId it is set
// back to prev, or removed when there was no previous entry. Entries changed
// since the Replace are left alone.
func (r *Registry) Restore(ownerId, taskId, prev string, hadPrev bool) {
	r.tasks.Update(ownerId, func(current string, ok bool) (string, bool) {
		if !ok || current != taskId {
			return current, ok
		}
		return prev, hadPrev
	})
}

// Deregister removes the owner's entry. It is a no-op for unknown owners.
func (r *Registry) Deregister(ownerId string) bool {
	return r.tasks.Delete(ownerId)
}

// DeregisterIf removes the owner's entry only if it still names taskId, so a
// finishing task never clears a newer submission from the same owner.
func (r *Registry) DeregisterIf(ownerId, taskId string) bool {
	return r.tasks.DeleteIf(ownerId, func(current string) bool {
		return current == taskId
	})
}

func (r *Registry) Get(ownerId string) (string, bool) {
	return r.tasks.Get(ownerId)
}

func (r *Registry) Len() int {
	return r.tasks.Len()
}

// Snapshot copies the current owner to task mapping.
func (r *Registry) Snapshot() map[string]string {
	out := make(map[string]string, r.tasks.Len())
	r.tasks.Range(func(ownerId, taskId string) bool {
		out[ownerId] = taskId
		return true
	})
	return out
}

// TrackingSink forwards events to Next and releases the owner's registry
// entry once a terminal event for that task passes through.
type TrackingSink struct {
	Registry *Registry
	Next     notify.Sink
}

var _ notify.Sink = (*TrackingSink)(nil)

func (s *TrackingSink) Publish(ownerId, taskId string, event api.Event) {
	if s.Next != nil {
		s.Next.Publish(ownerId, taskId, event)
	}
	if event.Terminal() && s.Registry.DeregisterIf(ownerId, taskId) {
		slog.Info("released active task", "owner_id", ownerId, "task_id", taskId, "outcome", event.Type)
	}
}
