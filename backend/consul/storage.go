package consul

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
	"github.com/mwantia/cachefs/data"
)

// maxTxnOps is the operation limit of a single Consul transaction.
const maxTxnOps = 64

func queryOptions(ctx context.Context) *api.QueryOptions {
	return (&api.QueryOptions{}).WithContext(ctx)
}

func writeOptions(ctx context.Context) *api.WriteOptions {
	return (&api.WriteOptions{}).WithContext(ctx)
}

func (cb *ConsulBackend) getMeta(ctx context.Context, key string) (*api.KVPair, *data.Metadata, error) {
	pair, _, err := cb.kv.Get(cb.metaKey(key), queryOptions(ctx))
	if err != nil {
		return nil, nil, err
	}
	if pair == nil {
		return nil, nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}

	meta, err := data.UnmarshalMetadata(pair.Value)
	if err != nil {
		return nil, nil, err
	}

	return pair, meta, nil
}

// txn applies ops atomically and translates rolled back transactions into errors.
func (cb *ConsulBackend) txn(ctx context.Context, ops api.KVTxnOps) error {
	for start := 0; start < len(ops); start += maxTxnOps {
		end := min(start+maxTxnOps, len(ops))

		ok, resp, _, err := cb.kv.Txn(ops[start:end], queryOptions(ctx))
		if err != nil {
			return err
		}
		if !ok {
			var reasons []string
			for _, txnErr := range resp.Errors {
				reasons = append(reasons, txnErr.What)
			}
			return fmt.Errorf("consul transaction rolled back: %s", strings.Join(reasons, "; "))
		}
	}

	return nil
}

func (cb *ConsulBackend) Exists(ctx context.Context, key string) (bool, error) {
	pair, _, err := cb.kv.Get(cb.metaKey(key), queryOptions(ctx))
	if err != nil {
		return false, err
	}

	return pair != nil, nil
}

func (cb *ConsulBackend) IsDirectory(ctx context.Context, key string) (bool, error) {
	_, meta, err := cb.getMeta(ctx, key)
	if errors.Is(err, data.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return meta.IsDir(), nil
}

func (cb *ConsulBackend) GetMetadata(ctx context.Context, key string) (*data.Metadata, error) {
	_, meta, err := cb.getMeta(ctx, key)
	return meta, err
}

func (cb *ConsulBackend) PutMetadata(ctx context.Context, key string, meta *data.Metadata) error {
	raw, err := meta.Marshal()
	if err != nil {
		return err
	}

	existed, err := cb.Exists(ctx, key)
	if err != nil {
		return err
	}

	_, err = cb.kv.Put(&api.KVPair{
		Key:   cb.metaKey(key),
		Value: raw,
		Flags: uint64(time.Now().UnixNano()),
	}, writeOptions(ctx))
	if err != nil {
		return err
	}

	if existed {
		cb.Emit(backend.EventUpdated, key)
	} else {
		cb.Emit(backend.EventAdded, key)
	}
	return nil
}

func (cb *ConsulBackend) CreateDirectory(ctx context.Context, key string, meta *data.Metadata) error {
	raw, err := meta.Marshal()
	if err != nil {
		return err
	}

	// CAS with a zero ModifyIndex only succeeds if the key does not exist yet.
	created, _, err := cb.kv.CAS(&api.KVPair{
		Key:         cb.metaKey(key),
		Value:       raw,
		Flags:       uint64(time.Now().UnixNano()),
		ModifyIndex: 0,
	}, writeOptions(ctx))
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("%w: %s", data.ErrExist, key)
	}

	cb.Emit(backend.EventAdded, key)
	return nil
}

func (cb *ConsulBackend) Delete(ctx context.Context, key string) error {
	existed, err := cb.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}

	err = cb.txn(ctx, api.KVTxnOps{
		&api.KVTxnOp{Verb: api.KVDelete, Key: cb.metaKey(key)},
		&api.KVTxnOp{Verb: api.KVDelete, Key: cb.contentKey(key)},
	})
	if err != nil {
		return err
	}

	cb.Emit(backend.EventRemoved, key)
	return nil
}

func (cb *ConsulBackend) Copy(ctx context.Context, src, dst string) error {
	_, meta, err := cb.getMeta(ctx, src)
	if err != nil {
		return err
	}
	existed, err := cb.Exists(ctx, dst)
	if err != nil {
		return err
	}

	now := uint64(time.Now().UnixNano())
	var ops api.KVTxnOps
	if meta.IsDir() {
		raw, err := data.NewDirectoryMetadata().Marshal()
		if err != nil {
			return err
		}
		ops = api.KVTxnOps{
			&api.KVTxnOp{Verb: api.KVSet, Key: cb.metaKey(dst), Value: raw, Flags: now},
			&api.KVTxnOp{Verb: api.KVDelete, Key: cb.contentKey(dst)},
		}
	} else {
		raw, err := data.NewFileMetadata().Marshal()
		if err != nil {
			return err
		}
		ops = api.KVTxnOps{
			&api.KVTxnOp{Verb: api.KVSet, Key: cb.metaKey(dst), Value: raw, Flags: now},
		}

		content, _, err := cb.kv.Get(cb.contentKey(src), queryOptions(ctx))
		if err != nil {
			return err
		}
		if content != nil {
			ops = append(ops, &api.KVTxnOp{Verb: api.KVSet, Key: cb.contentKey(dst), Value: content.Value, Flags: content.Flags})
		} else {
			ops = append(ops, &api.KVTxnOp{Verb: api.KVDelete, Key: cb.contentKey(dst)})
		}
	}

	if err := cb.txn(ctx, ops); err != nil {
		return err
	}

	if existed {
		cb.Emit(backend.EventUpdated, dst)
	} else {
		cb.Emit(backend.EventAdded, dst)
	}
	return nil
}

// subtree lists the pairs stored under key and below it for one namespace key builder.
func (cb *ConsulBackend) subtree(ctx context.Context, build func(string) string, key string) (api.KVPairs, error) {
	pairs := api.KVPairs{}

	self, _, err := cb.kv.Get(build(key), queryOptions(ctx))
	if err != nil {
		return nil, err
	}
	if self != nil {
		pairs = append(pairs, self)
	}

	children, _, err := cb.kv.List(build(backend.SubtreePrefix(key)), queryOptions(ctx))
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.Key != build(key) {
			pairs = append(pairs, child)
		}
	}

	return pairs, nil
}

func (cb *ConsulBackend) Rename(ctx context.Context, src, dst string) error {
	if src == dst {
		return nil
	}
	if err := backend.CheckRename(src, dst); err != nil {
		return err
	}

	existed, err := cb.Exists(ctx, src)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: %s", data.ErrNotExist, src)
	}

	ops := api.KVTxnOps{
		&api.KVTxnOp{Verb: api.KVDelete, Key: cb.metaKey(dst)},
		&api.KVTxnOp{Verb: api.KVDelete, Key: cb.contentKey(dst)},
		&api.KVTxnOp{Verb: api.KVDeleteTree, Key: cb.metaKey(backend.SubtreePrefix(dst))},
		&api.KVTxnOp{Verb: api.KVDeleteTree, Key: cb.contentKey(backend.SubtreePrefix(dst))},
	}

	var moved []string
	for _, namespace := range []func(string) string{cb.metaKey, cb.contentKey} {
		pairs, err := cb.subtree(ctx, namespace, src)
		if err != nil {
			return err
		}

		base := namespace("")
		for _, pair := range pairs {
			key := strings.TrimPrefix(pair.Key, base)
			target := namespace(backend.RebaseKey(key, src, dst))
			ops = append(ops,
				&api.KVTxnOp{Verb: api.KVSet, Key: target, Value: pair.Value, Flags: pair.Flags},
				&api.KVTxnOp{Verb: api.KVDelete, Key: pair.Key},
			)
			if base == cb.metaKey("") {
				moved = append(moved, key)
			}
		}
	}

	if err := cb.txn(ctx, ops); err != nil {
		return fmt.Errorf("failed to rename %s: %w", src, err)
	}

	for _, key := range moved {
		cb.Emit(backend.EventRemoved, key)
	}
	for _, key := range moved {
		cb.Emit(backend.EventAdded, backend.RebaseKey(key, src, dst))
	}
	return nil
}

func (cb *ConsulBackend) LastModified(ctx context.Context, key string) (time.Time, error) {
	pair, _, err := cb.getMeta(ctx, key)
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(0, int64(pair.Flags)), nil
}

func (cb *ConsulBackend) Length(ctx context.Context, key string) (int64, error) {
	if _, _, err := cb.getMeta(ctx, key); err != nil {
		return 0, err
	}

	content, _, err := cb.kv.Get(cb.contentKey(key), queryOptions(ctx))
	if err != nil || content == nil {
		return 0, err
	}

	return int64(content.Flags), nil
}

func (cb *ConsulBackend) OpenReader(ctx context.Context, key string) (io.ReadCloser, error) {
	content, err := cb.load(ctx, key)
	if err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(content)), nil
}

func (cb *ConsulBackend) load(ctx context.Context, key string) ([]byte, error) {
	_, meta, err := cb.getMeta(ctx, key)
	if err != nil {
		return nil, err
	}
	if meta.IsDir() {
		return nil, fmt.Errorf("%w: %s", data.ErrIsDirectory, key)
	}

	pair, _, err := cb.kv.Get(cb.contentKey(key), queryOptions(ctx))
	if err != nil {
		return nil, err
	}
	if pair == nil || len(pair.Value) == 0 {
		return []byte{}, nil
	}

	return compress.Decode(pair.Value)
}
