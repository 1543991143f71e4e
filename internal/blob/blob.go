package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/mbeavitt/Harvest/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound is returned by Get when the named object does not exist
// in the bucket.
var ErrObjectNotFound = errors.New("blob object does not exist")

var log = logger.Get("BlobStore")

type (
	BlobConfig struct {
		Endpoint  string `yaml:"endpoint" env:"BLOB_ENDPOINT" env-default:"localhost:9000"`
		AccessKey string `yaml:"access_key" env:"BLOB_ACCESS_KEY" env-default:"harvest"`
		SecretKey string `yaml:"secret_key" env:"BLOB_SECRET_KEY" env-default:"harvest-secret"`
		Bucket    string `yaml:"bucket" env:"BLOB_BUCKET" env-default:"harvest"`
		UseSSL    bool   `yaml:"use_ssl" env:"BLOB_USE_SSL" env-default:"false"`
	}

	// Store persists downloaded payloads in a single MinIO bucket. Object
	// names are generated via ObjectName so listings sort chronologically.
	Store struct {
		client *minio.Client
		bucket string
	}
)

func NewStore(config BlobConfig) (*Store, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to construct blob client for %s: %w", config.Endpoint, err)
	}

	return &Store{client: client, bucket: config.Bucket}, nil
}

// EnsureBucket creates the configured bucket if it's missing. An existing
// bucket is left untouched, so startup is idempotent.
func (store *Store) EnsureBucket(ctx context.Context) error {
	exists, err := store.client.BucketExists(ctx, store.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", store.bucket, err)
	}

	if exists {
		log.Debugf("Bucket %s already present\n", store.bucket)
		return nil
	}

	if err := store.client.MakeBucket(ctx, store.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", store.bucket, err)
	}

	log.Infof("Created bucket %s\n", store.bucket)
	return nil
}

// Put uploads the file at localPath under the given object name.
func (store *Store) Put(ctx context.Context, objectName string, localPath string, contentType string) error {
	info, err := store.client.FPutObject(ctx, store.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s as %s: %w", localPath, objectName, err)
	}

	log.Debugf("Uploaded %s (%d bytes)\n", objectName, info.Size)
	return nil
}

// Get opens the named object for streaming. The caller owns the returned
// reader and must close it.
func (store *Store) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	object, err := store.client.GetObject(ctx, store.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", objectName, err)
	}

	// GetObject is lazy; a missing key only surfaces on first read/stat.
	if _, err := object.Stat(); err != nil {
		object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrObjectNotFound
		}

		return nil, fmt.Errorf("failed to stat object %s: %w", objectName, err)
	}

	return object, nil
}

// ObjectName derives the bucket key for a downloaded file: a UTC timestamp
// prefix followed by the original filename, e.g. "20240131_142233_talk.pdf".
func ObjectName(now time.Time, filename string) string {
	return fmt.Sprintf("%s_%s", now.UTC().Format("20060102_150405"), filepath.Base(filename))
}
