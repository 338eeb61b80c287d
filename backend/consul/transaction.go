package consul

import (
	"context"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
)

func (cb *ConsulBackend) Begin(ctx context.Context) (backend.Transaction, error) {
	return backend.NewStagedTransaction(backend.StageHooks{
		Load:   cb.load,
		Commit: cb.commit,
	}, cb.GetCapabilities().MaxObjectSize), nil
}

// commit writes metadata and content of every object in one KV transaction.
// Commits touching more than 32 objects are split and lose atomicity.
func (cb *ConsulBackend) commit(ctx context.Context, objects []backend.StagedObject) error {
	now := uint64(time.Now().UnixNano())
	ops := make(api.KVTxnOps, 0, len(objects)*2)
	events := make([]backend.Event, 0, len(objects))

	for _, object := range objects {
		existed, err := cb.Exists(ctx, object.Key)
		if err != nil {
			return err
		}

		meta, err := object.Meta.Marshal()
		if err != nil {
			return err
		}
		content, err := compress.Encode(object.Content, cb.config.Compression)
		if err != nil {
			return err
		}

		ops = append(ops,
			&api.KVTxnOp{Verb: api.KVSet, Key: cb.contentKey(object.Key), Value: content, Flags: uint64(len(object.Content))},
			&api.KVTxnOp{Verb: api.KVSet, Key: cb.metaKey(object.Key), Value: meta, Flags: now},
		)

		kind := backend.EventAdded
		if existed {
			kind = backend.EventUpdated
		}
		events = append(events, backend.Event{Kind: kind, Key: object.Key})
	}

	if err := cb.txn(ctx, ops); err != nil {
		return err
	}

	for _, event := range events {
		cb.Emit(event.Kind, event.Key)
	}
	return nil
}
