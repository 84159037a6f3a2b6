package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tushkiz/go-tiny-orchestrator/internal/config"
	"github.com/tushkiz/go-tiny-orchestrator/internal/kv"
)

// MinioSnapshotter stores the JSON snapshot as a single object.
type MinioSnapshotter struct {
	client *minio.Client
	bucket string
	object string
}

func NewMinio(ctx context.Context, cfg config.MinIOConfig) (*MinioSnapshotter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("persist: minio endpoint is required when snapshot backend is minio")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("persist: minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("persist: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("persist: create bucket: %w", err)
		}
	}
	return &MinioSnapshotter{client: client, bucket: cfg.Bucket, object: cfg.Object}, nil
}

func (m *MinioSnapshotter) Save(ctx context.Context, entries []kv.Entry) error {
	if entries == nil {
		entries = []kv.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("persist: encode snapshot: %w", err)
	}
	_, err = m.client.PutObject(ctx, m.bucket, m.object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

func (m *MinioSnapshotter) Load(ctx context.Context) ([]kv.Entry, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.object, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("persist: read snapshot object: %w", err)
	}
	return decodeEntries(data)
}
