package s3

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/minio/minio-go/v7"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/data"
	"github.com/zeebo/blake3"
)

func (sb *S3Backend) Begin(ctx context.Context) (backend.Transaction, error) {
	return backend.NewStagedTransaction(backend.StageHooks{
		Load:   sb.load,
		Commit: sb.commit,
	}, sb.maxObjectSize), nil
}

func (sb *S3Backend) commit(ctx context.Context, objects []backend.StagedObject) error {
	events := make([]backend.Event, 0, len(objects))
	for _, object := range objects {
		existed, err := sb.Exists(ctx, object.Key)
		if err != nil {
			return err
		}

		digest := blake3.Sum256(object.Content)
		_, err = sb.client.PutObject(ctx, sb.bucketName, sb.contentObject(object.Key),
			bytes.NewReader(object.Content), int64(len(object.Content)), minio.PutObjectOptions{
				ContentType: string(data.GetMIMEType(object.Key)),
				UserMetadata: map[string]string{
					"Cachefs-Blake3": hex.EncodeToString(digest[:]),
				},
			})
		if err != nil {
			return err
		}

		if err := sb.putMeta(ctx, object.Key, object.Meta); err != nil {
			return err
		}

		kind := backend.EventAdded
		if existed {
			kind = backend.EventUpdated
		}
		events = append(events, backend.Event{Kind: kind, Key: object.Key})
	}

	for _, event := range events {
		sb.Emit(event.Kind, event.Key)
	}
	return nil
}
