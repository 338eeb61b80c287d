package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
	"github.com/mwantia/cachefs/data"
)

type stat struct {
	modified time.Time
	size     int64
}

func encodeStat(modified time.Time, size int64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(modified.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(size))
	return buf
}

func decodeStat(raw []byte) (stat, error) {
	if len(raw) != 16 {
		return stat{}, fmt.Errorf("invalid stat record of %d bytes", len(raw))
	}

	return stat{
		modified: time.Unix(0, int64(binary.BigEndian.Uint64(raw[0:8]))),
		size:     int64(binary.BigEndian.Uint64(raw[8:16])),
	}, nil
}

// database returns the open handle or data.ErrClosed.
func (bb *BadgerBackend) database() (*badgerdb.DB, error) {
	bb.mu.RLock()
	defer bb.mu.RUnlock()

	if bb.db == nil {
		return nil, fmt.Errorf("%w: badger backend is not open", data.ErrClosed)
	}
	return bb.db, nil
}

func getMeta(txn *badgerdb.Txn, key string) (*data.Metadata, error) {
	item, err := txn.Get(keyMeta(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if err != nil {
		return nil, err
	}

	var meta *data.Metadata
	err = item.Value(func(val []byte) error {
		decoded, decErr := data.UnmarshalMetadata(val)
		meta = decoded
		return decErr
	})
	return meta, err
}

func getStat(txn *badgerdb.Txn, key string) (stat, error) {
	item, err := txn.Get(keyStat(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return stat{}, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if err != nil {
		return stat{}, err
	}

	var s stat
	err = item.Value(func(val []byte) error {
		decoded, decErr := decodeStat(val)
		s = decoded
		return decErr
	})
	return s, err
}

// putEntry writes metadata, stat and optionally content for key inside txn.
func putEntry(txn *badgerdb.Txn, key string, meta *data.Metadata, framed []byte, size int64, now time.Time) error {
	raw, err := meta.Marshal()
	if err != nil {
		return err
	}
	if err := txn.Set(keyMeta(key), raw); err != nil {
		return err
	}
	if err := txn.Set(keyStat(key), encodeStat(now, size)); err != nil {
		return err
	}
	if framed == nil {
		return txn.Delete(keyContent(key))
	}

	return txn.Set(keyContent(key), framed)
}

func deleteEntry(txn *badgerdb.Txn, key string) error {
	for _, k := range [][]byte{keyMeta(key), keyStat(key), keyContent(key)} {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func exists(txn *badgerdb.Txn, key string) (bool, error) {
	_, err := txn.Get(keyMeta(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (bb *BadgerBackend) Exists(ctx context.Context, key string) (bool, error) {
	db, err := bb.database()
	if err != nil {
		return false, err
	}

	var found bool
	err = db.View(func(txn *badgerdb.Txn) error {
		found, err = exists(txn, key)
		return err
	})
	return found, err
}

func (bb *BadgerBackend) IsDirectory(ctx context.Context, key string) (bool, error) {
	meta, err := bb.GetMetadata(ctx, key)
	if errors.Is(err, data.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return meta.IsDir(), nil
}

func (bb *BadgerBackend) GetMetadata(ctx context.Context, key string) (*data.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db, err := bb.database()
	if err != nil {
		return nil, err
	}

	var meta *data.Metadata
	err = db.View(func(txn *badgerdb.Txn) error {
		meta, err = getMeta(txn, key)
		return err
	})
	return meta, err
}

func (bb *BadgerBackend) PutMetadata(ctx context.Context, key string, meta *data.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db, err := bb.database()
	if err != nil {
		return err
	}

	raw, err := meta.Marshal()
	if err != nil {
		return err
	}

	kind := backend.EventUpdated
	err = db.Update(func(txn *badgerdb.Txn) error {
		s, statErr := getStat(txn, key)
		if errors.Is(statErr, data.ErrNotExist) {
			kind = backend.EventAdded
		} else if statErr != nil {
			return statErr
		}

		if err := txn.Set(keyMeta(key), raw); err != nil {
			return err
		}
		return txn.Set(keyStat(key), encodeStat(time.Now(), s.size))
	})
	if err != nil {
		return err
	}

	bb.Emit(kind, key)
	return nil
}

func (bb *BadgerBackend) CreateDirectory(ctx context.Context, key string, meta *data.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db, err := bb.database()
	if err != nil {
		return err
	}

	err = db.Update(func(txn *badgerdb.Txn) error {
		found, err := exists(txn, key)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %s", data.ErrExist, key)
		}

		return putEntry(txn, key, meta, nil, 0, time.Now())
	})
	if err != nil {
		return err
	}

	bb.Emit(backend.EventAdded, key)
	return nil
}

func (bb *BadgerBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db, err := bb.database()
	if err != nil {
		return err
	}

	err = db.Update(func(txn *badgerdb.Txn) error {
		found, err := exists(txn, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", data.ErrNotExist, key)
		}

		return deleteEntry(txn, key)
	})
	if err != nil {
		return err
	}

	bb.Emit(backend.EventRemoved, key)
	return nil
}

func (bb *BadgerBackend) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db, err := bb.database()
	if err != nil {
		return err
	}

	kind := backend.EventAdded
	err = db.Update(func(txn *badgerdb.Txn) error {
		meta, err := getMeta(txn, src)
		if err != nil {
			return err
		}
		if found, err := exists(txn, dst); err != nil {
			return err
		} else if found {
			kind = backend.EventUpdated
		}

		if meta.IsDir() {
			return putEntry(txn, dst, data.NewDirectoryMetadata(), nil, 0, time.Now())
		}

		s, err := getStat(txn, src)
		if err != nil {
			return err
		}

		var framed []byte
		item, err := txn.Get(keyContent(src))
		switch {
		case errors.Is(err, badgerdb.ErrKeyNotFound):
			framed = nil
		case err != nil:
			return err
		default:
			if framed, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}

		return putEntry(txn, dst, data.NewFileMetadata(), framed, s.size, time.Now())
	})
	if err != nil {
		return err
	}

	bb.Emit(kind, dst)
	return nil
}

// subtree returns key and every key stored below it.
func subtree(txn *badgerdb.Txn, key string) ([]string, error) {
	keys := []string{}
	found, err := exists(txn, key)
	if err != nil {
		return nil, err
	}
	if found {
		keys = append(keys, key)
	}

	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = keyMeta(backend.SubtreePrefix(key))

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		k := string(it.Item().Key())[len(prefixMeta):]
		if k != key {
			keys = append(keys, k)
		}
	}

	return keys, nil
}

func (bb *BadgerBackend) Rename(ctx context.Context, src, dst string) error {
	if src == dst {
		return nil
	}
	if err := backend.CheckRename(src, dst); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	db, err := bb.database()
	if err != nil {
		return err
	}

	var moved []string
	err = db.Update(func(txn *badgerdb.Txn) error {
		found, err := exists(txn, src)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", data.ErrNotExist, src)
		}

		replaced, err := subtree(txn, dst)
		if err != nil {
			return err
		}
		for _, key := range replaced {
			if err := deleteEntry(txn, key); err != nil {
				return err
			}
		}

		if moved, err = subtree(txn, src); err != nil {
			return err
		}
		for _, key := range moved {
			if err := moveEntry(txn, key, backend.RebaseKey(key, src, dst)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, key := range moved {
		bb.Emit(backend.EventRemoved, key)
	}
	for _, key := range moved {
		bb.Emit(backend.EventAdded, backend.RebaseKey(key, src, dst))
	}
	return nil
}

func moveEntry(txn *badgerdb.Txn, from, to string) error {
	pairs := [][2][]byte{
		{keyMeta(from), keyMeta(to)},
		{keyStat(from), keyStat(to)},
		{keyContent(from), keyContent(to)},
	}

	for _, pair := range pairs {
		item, err := txn.Get(pair[0])
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Set(pair[1], value); err != nil {
			return err
		}
		if err := txn.Delete(pair[0]); err != nil {
			return err
		}
	}

	return nil
}

func (bb *BadgerBackend) LastModified(ctx context.Context, key string) (time.Time, error) {
	db, err := bb.database()
	if err != nil {
		return time.Time{}, err
	}

	var s stat
	err = db.View(func(txn *badgerdb.Txn) error {
		s, err = getStat(txn, key)
		return err
	})
	return s.modified, err
}

func (bb *BadgerBackend) Length(ctx context.Context, key string) (int64, error) {
	db, err := bb.database()
	if err != nil {
		return 0, err
	}

	var s stat
	err = db.View(func(txn *badgerdb.Txn) error {
		s, err = getStat(txn, key)
		return err
	})
	return s.size, err
}

func (bb *BadgerBackend) OpenReader(ctx context.Context, key string) (io.ReadCloser, error) {
	db, err := bb.database()
	if err != nil {
		return nil, err
	}

	var content []byte
	err = db.View(func(txn *badgerdb.Txn) error {
		content, err = loadContent(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(content)), nil
}

// loadContent returns the decoded content of key as seen by txn.
func loadContent(txn *badgerdb.Txn, key string) ([]byte, error) {
	meta, err := getMeta(txn, key)
	if err != nil {
		return nil, err
	}
	if meta.IsDir() {
		return nil, fmt.Errorf("%w: %s", data.ErrIsDirectory, key)
	}

	item, err := txn.Get(keyContent(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, err
	}

	framed, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	return compress.Decode(framed)
}
