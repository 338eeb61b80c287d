package s3

import (
	"context"
	"fmt"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/data"
)

// S3Backend stores every key as up to two objects in one bucket:
//
//	<prefix>m<key>/.meta   CBOR metadata record, present for every key
//	<prefix>c<key>         content, present for regular files only
//
// A key exists once its metadata object does. Commits upload content before
// metadata, so a new file only becomes visible after its bytes are complete.
type S3Backend struct {
	backend.Listeners

	mu     sync.RWMutex
	client *minio.Client

	bucketName    string
	prefix        string
	createBucket  bool
	maxObjectSize int64
}

type Option func(*S3Backend)

// WithPrefix stores all objects below prefix, e.g. "stores/cache1/".
func WithPrefix(prefix string) Option {
	return func(sb *S3Backend) {
		sb.prefix = prefix
	}
}

// WithCreateBucket creates the bucket on Open if it does not exist.
func WithCreateBucket() Option {
	return func(sb *S3Backend) {
		sb.createBucket = true
	}
}

// WithMaxObjectSize limits the size of a single committed blob.
func WithMaxObjectSize(size int64) Option {
	return func(sb *S3Backend) {
		sb.maxObjectSize = size
	}
}

func NewS3Backend(endpoint, bucketName, accessKey, secretKey string, useSsl bool, opts ...Option) (*S3Backend, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSsl,
	})
	if err != nil {
		return nil, err
	}

	sb := &S3Backend{
		client:     client,
		bucketName: bucketName,
	}
	for _, opt := range opts {
		opt(sb)
	}

	return sb, nil
}

// Name returns the identifier name defined for this backend
func (*S3Backend) Name() string {
	return "s3"
}

// Open is part of the lifecycle behaviour and gets called when mounting this backend.
func (sb *S3Backend) Open(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	exists, err := sb.client.BucketExists(ctx, sb.bucketName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if !sb.createBucket {
		return fmt.Errorf("%w: bucket '%s'", data.ErrNotExist, sb.bucketName)
	}

	return sb.client.MakeBucket(ctx, sb.bucketName, minio.MakeBucketOptions{})
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (sb *S3Backend) Close(ctx context.Context) error {
	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (sb *S3Backend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityObjectStorage,
			backend.CapabilityMetadata,
			backend.CapabilityPersistent,
			backend.CapabilityEvents,
		},
		MaxObjectSize: sb.maxObjectSize,
	}
}

func (sb *S3Backend) metaObject(key string) string {
	if key == backend.RootKey {
		return sb.prefix + "m/.meta"
	}
	return sb.prefix + "m" + key + "/.meta"
}

func (sb *S3Backend) contentObject(key string) string {
	return sb.prefix + "c" + key
}

// keyFromMetaObject reverses metaObject.
func (sb *S3Backend) keyFromMetaObject(name string) string {
	key := name[len(sb.prefix)+1 : len(name)-len("/.meta")]
	if key == "" {
		return backend.RootKey
	}
	return key
}
