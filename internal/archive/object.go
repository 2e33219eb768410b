package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"ops-data-loaders/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// objectStore is the part of *minio.Client the archiver uses.
type objectStore interface {
	FPutObject(ctx context.Context, bucket, key, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
}

// ObjectArchiver uploads consumed documents to an S3-compatible bucket and
// removes the local copy once the upload succeeded.
type ObjectArchiver struct {
	client    objectStore
	bucket    string
	prefix    string
	retention time.Duration
	now       func() time.Time
	log       logrus.FieldLogger
}

// NewObject connects to the bucket described by cfg. Objects are stored under
// <cfg.Prefix>/<source>/.
func NewObject(ctx context.Context, cfg config.S3Config, source string, retention time.Duration, log logrus.FieldLogger) (*ObjectArchiver, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	useSSL := cfg.UseSSL || strings.HasPrefix(cfg.Endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &ObjectArchiver{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    objectPrefix(cfg.Prefix, source),
		retention: retention,
		now:       time.Now,
		log:       log.WithFields(logrus.Fields{"bucket": cfg.Bucket, "prefix": objectPrefix(cfg.Prefix, source)}),
	}, nil
}

func objectPrefix(prefix, source string) string {
	return strings.TrimPrefix(path.Join(prefix, source), "/") + "/"
}

func (a *ObjectArchiver) Archive(ctx context.Context, files []string) int {
	moved := 0
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		key := a.prefix + filepath.Base(f)
		_, err := a.client.FPutObject(ctx, a.bucket, key, f, minio.PutObjectOptions{ContentType: "application/json"})
		if err != nil {
			a.log.WithError(err).WithField("file", f).Error("failed to upload archived file")
			continue
		}
		if err := os.Remove(f); err != nil {
			a.log.WithError(err).WithField("file", f).Error("uploaded file could not be removed from staging")
			continue
		}
		moved++
	}
	if moved > 0 {
		a.log.Infof("archived %d of %d files", moved, len(files))
	}
	return moved
}

func (a *ObjectArchiver) Prune(ctx context.Context) int {
	cutoff := a.now().Add(-a.retention)
	deleted := 0

	// Cancelling stops the listing goroutine when the loop exits early.
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range a.client.ListObjects(lctx, a.bucket, minio.ListObjectsOptions{Prefix: a.prefix, Recursive: false}) {
		if obj.Err != nil {
			a.log.WithError(obj.Err).Error("failed to list archived objects")
			break
		}
		if strings.HasSuffix(obj.Key, "/") || !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := a.client.RemoveObject(ctx, a.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			a.log.WithError(err).WithField("key", obj.Key).Error("failed to delete archived object")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		a.log.Infof("deleted %d archived objects older than %s", deleted, a.retention)
	}
	return deleted
}
