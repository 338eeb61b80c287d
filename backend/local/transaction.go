package local

import (
	"context"
	"time"

	"github.com/mwantia/cachefs/backend"
)

func (lb *LocalBackend) Begin(ctx context.Context) (backend.Transaction, error) {
	return backend.NewStagedTransaction(backend.StageHooks{
		Load:   lb.load,
		Commit: lb.commit,
	}, lb.maxObjectSize), nil
}

func (lb *LocalBackend) commit(ctx context.Context, objects []backend.StagedObject) error {
	lb.mu.Lock()

	var written []string
	m := lb.mutate()
	now := time.Now()
	for _, object := range objects {
		digest := digestOf(object.Content)
		created, err := lb.storeBlob(digest, object.Content)
		if err != nil {
			lb.removeBlobs(written)
			lb.mu.Unlock()
			return err
		}
		if created {
			written = append(written, digest)
		}

		m.set(object.Key, &record{
			Meta:     object.Meta.Clone(),
			Digest:   digest,
			Size:     int64(len(object.Content)),
			Modified: now,
		})
	}

	events, err := m.apply()
	if err != nil {
		lb.removeBlobs(written)
	}
	lb.mu.Unlock()

	lb.emit(events)
	return err
}
