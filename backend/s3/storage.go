package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/data"
)

const metaContentType = "application/cbor"

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (sb *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := sb.client.StatObject(ctx, sb.bucketName, sb.metaObject(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (sb *S3Backend) IsDirectory(ctx context.Context, key string) (bool, error) {
	meta, err := sb.GetMetadata(ctx, key)
	if err != nil {
		if errors.Is(err, data.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	return meta.IsDir(), nil
}

func (sb *S3Backend) GetMetadata(ctx context.Context, key string) (*data.Metadata, error) {
	raw, err := sb.getObject(ctx, sb.metaObject(key))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
		}
		return nil, err
	}

	return data.UnmarshalMetadata(raw)
}

func (sb *S3Backend) getObject(ctx context.Context, name string) ([]byte, error) {
	object, err := sb.client.GetObject(ctx, sb.bucketName, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()

	return io.ReadAll(object)
}

func (sb *S3Backend) putMeta(ctx context.Context, key string, meta *data.Metadata) error {
	raw, err := meta.Marshal()
	if err != nil {
		return err
	}

	_, err = sb.client.PutObject(ctx, sb.bucketName, sb.metaObject(key), bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{
		ContentType: metaContentType,
	})
	return err
}

func (sb *S3Backend) PutMetadata(ctx context.Context, key string, meta *data.Metadata) error {
	existed, err := sb.Exists(ctx, key)
	if err != nil {
		return err
	}

	if err := sb.putMeta(ctx, key, meta); err != nil {
		return err
	}

	if existed {
		sb.Emit(backend.EventUpdated, key)
	} else {
		sb.Emit(backend.EventAdded, key)
	}
	return nil
}

func (sb *S3Backend) CreateDirectory(ctx context.Context, key string, meta *data.Metadata) error {
	existed, err := sb.Exists(ctx, key)
	if err != nil {
		return err
	}
	if existed {
		return fmt.Errorf("%w: %s", data.ErrExist, key)
	}

	if err := sb.putMeta(ctx, key, meta); err != nil {
		return err
	}

	sb.Emit(backend.EventAdded, key)
	return nil
}

func (sb *S3Backend) removeEntry(ctx context.Context, key string) error {
	if err := sb.client.RemoveObject(ctx, sb.bucketName, sb.metaObject(key), minio.RemoveObjectOptions{}); err != nil {
		return err
	}

	// Removing an absent object succeeds, so directories need no special case.
	return sb.client.RemoveObject(ctx, sb.bucketName, sb.contentObject(key), minio.RemoveObjectOptions{})
}

func (sb *S3Backend) Delete(ctx context.Context, key string) error {
	existed, err := sb.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}

	if err := sb.removeEntry(ctx, key); err != nil {
		return err
	}

	sb.Emit(backend.EventRemoved, key)
	return nil
}

func (sb *S3Backend) Copy(ctx context.Context, src, dst string) error {
	meta, err := sb.GetMetadata(ctx, src)
	if err != nil {
		return err
	}
	existed, err := sb.Exists(ctx, dst)
	if err != nil {
		return err
	}

	if meta.IsDir() {
		// A directory replacing a file must not keep the old content around.
		if err := sb.client.RemoveObject(ctx, sb.bucketName, sb.contentObject(dst), minio.RemoveObjectOptions{}); err != nil {
			return err
		}
		meta = data.NewDirectoryMetadata()
	} else {
		if err := sb.copyObject(ctx, sb.contentObject(src), sb.contentObject(dst)); err != nil {
			return err
		}
		meta = data.NewFileMetadata()
	}

	if err := sb.putMeta(ctx, dst, meta); err != nil {
		return err
	}

	if existed {
		sb.Emit(backend.EventUpdated, dst)
	} else {
		sb.Emit(backend.EventAdded, dst)
	}
	return nil
}

func (sb *S3Backend) copyObject(ctx context.Context, from, to string) error {
	_, err := sb.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: sb.bucketName, Object: to},
		minio.CopySrcOptions{Bucket: sb.bucketName, Object: from})
	return err
}

// subtree lists key and every key stored below it.
func (sb *S3Backend) subtree(ctx context.Context, key string) ([]string, error) {
	var listPrefix string
	if key == backend.RootKey {
		listPrefix = sb.prefix + "m/"
	} else {
		listPrefix = sb.prefix + "m" + key + "/"
	}

	keys := []string{}
	for object := range sb.client.ListObjects(ctx, sb.bucketName, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, object.Err
		}
		if strings.HasSuffix(object.Key, "/.meta") {
			keys = append(keys, sb.keyFromMetaObject(object.Key))
		}
	}

	return keys, nil
}

// Rename copies and removes every object of the subtree. It is not atomic:
// an interrupted rename leaves both trees partially populated.
func (sb *S3Backend) Rename(ctx context.Context, src, dst string) error {
	if src == dst {
		return nil
	}
	if err := backend.CheckRename(src, dst); err != nil {
		return err
	}

	existed, err := sb.Exists(ctx, src)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: %s", data.ErrNotExist, src)
	}

	replaced, err := sb.subtree(ctx, dst)
	if err != nil {
		return err
	}
	for _, key := range replaced {
		if err := sb.removeEntry(ctx, key); err != nil {
			return err
		}
	}

	moved, err := sb.subtree(ctx, src)
	if err != nil {
		return err
	}
	for _, key := range moved {
		target := backend.RebaseKey(key, src, dst)

		if _, err := sb.client.StatObject(ctx, sb.bucketName, sb.contentObject(key), minio.StatObjectOptions{}); err == nil {
			if err := sb.copyObject(ctx, sb.contentObject(key), sb.contentObject(target)); err != nil {
				return err
			}
		} else if !isNotFound(err) {
			return err
		}

		if err := sb.copyObject(ctx, sb.metaObject(key), sb.metaObject(target)); err != nil {
			return err
		}
		if err := sb.removeEntry(ctx, key); err != nil {
			return err
		}
	}

	for _, key := range moved {
		sb.Emit(backend.EventRemoved, key)
	}
	for _, key := range moved {
		sb.Emit(backend.EventAdded, backend.RebaseKey(key, src, dst))
	}
	return nil
}

// stat returns the content object info for files and the metadata object info for directories.
func (sb *S3Backend) stat(ctx context.Context, key string) (minio.ObjectInfo, bool, error) {
	metaInfo, err := sb.client.StatObject(ctx, sb.bucketName, sb.metaObject(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return minio.ObjectInfo{}, false, fmt.Errorf("%w: %s", data.ErrNotExist, key)
		}
		return minio.ObjectInfo{}, false, err
	}

	info, err := sb.client.StatObject(ctx, sb.bucketName, sb.contentObject(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return metaInfo, false, nil
		}
		return minio.ObjectInfo{}, false, err
	}

	return info, true, nil
}

func (sb *S3Backend) LastModified(ctx context.Context, key string) (time.Time, error) {
	info, _, err := sb.stat(ctx, key)
	if err != nil {
		return time.Time{}, err
	}

	return info.LastModified, nil
}

func (sb *S3Backend) Length(ctx context.Context, key string) (int64, error) {
	info, hasContent, err := sb.stat(ctx, key)
	if err != nil || !hasContent {
		return 0, err
	}

	return info.Size, nil
}

func (sb *S3Backend) OpenReader(ctx context.Context, key string) (io.ReadCloser, error) {
	meta, err := sb.GetMetadata(ctx, key)
	if err != nil {
		return nil, err
	}
	if meta.IsDir() {
		return nil, fmt.Errorf("%w: %s", data.ErrIsDirectory, key)
	}

	object, err := sb.client.GetObject(ctx, sb.bucketName, sb.contentObject(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	// GetObject is lazy; Stat surfaces a missing object before the first Read.
	if _, err := object.Stat(); err != nil {
		object.Close()
		if isNotFound(err) {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		return nil, err
	}

	return object, nil
}

func (sb *S3Backend) load(ctx context.Context, key string) ([]byte, error) {
	r, err := sb.OpenReader(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}
