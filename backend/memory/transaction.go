package memory

import (
	"context"
	"time"

	"github.com/mwantia/cachefs/backend"
)

func (mb *MemoryBackend) Begin(ctx context.Context) (backend.Transaction, error) {
	return backend.NewStagedTransaction(backend.StageHooks{
		Load:   mb.load,
		Commit: mb.commit,
	}, mb.maxObjectSize), nil
}

func (mb *MemoryBackend) commit(ctx context.Context, objects []backend.StagedObject) error {
	events := make([]backend.Event, 0, len(objects))

	mb.mu.Lock()
	now := time.Now()
	for _, object := range objects {
		kind := backend.EventAdded
		if old, ok := mb.entries.Get(object.Key); ok {
			mb.release(old.digest)
			kind = backend.EventUpdated
		}

		mb.entries.Set(object.Key, &entry{
			meta:     object.Meta.Clone(),
			digest:   mb.retain(object.Content),
			size:     int64(len(object.Content)),
			modified: now,
		})
		events = append(events, backend.Event{Kind: kind, Key: object.Key})
	}
	mb.mu.Unlock()

	for _, event := range events {
		mb.Emit(event.Kind, event.Key)
	}
	return nil
}
