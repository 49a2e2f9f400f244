package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"savesync/internal/models"
)

const (
	minioStagingPrefix = "staging/"
	minioContentType   = "application/octet-stream"
	minioNoSuchKey     = "NoSuchKey"
)

// MinioConfig holds connection settings for an S3-compatible backend.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// MinioStore keeps one object per key at saves/<user>/<game>/data. Uploads
// go to staging/<uuid> first and are server-side copied into place on
// publish. The per-key lock only covers publishes made by this process.
type MinioStore struct {
	client *minio.Client
	bucket string
	locks  *keyLocks
	logger *slog.Logger
}

// NewMinioStore connects to the backend and creates the bucket if needed.
func NewMinioStore(ctx context.Context, cfg MinioConfig, logger *slog.Logger) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
		logger.Info("created bucket", "bucket", cfg.Bucket)
	}

	return &MinioStore{client: client, bucket: cfg.Bucket, locks: newKeyLocks(), logger: logger}, nil
}

func (s *MinioStore) Stage(ctx context.Context, key models.SaveKey, r io.Reader, declaredSize int64) (Staged, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stagingKey := minioStagingPrefix + uuid.NewString()
	h := sha256.New()
	counter := &countingReader{r: io.TeeReader(contextReader{ctx: ctx, r: r}, h)}

	// Size is always passed as unknown: declaredSize is advisory and a wrong
	// hint must not fail the upload.
	_, err := s.client.PutObject(ctx, s.bucket, stagingKey, counter, -1, minio.PutObjectOptions{
		ContentType: minioContentType,
	})
	if err != nil {
		s.removeQuietly(stagingKey)
		return nil, fmt.Errorf("stage blob: %w", err)
	}

	if declaredSize < 0 {
		declaredSize = -1
	}
	return &minioStaged{
		store:      s,
		key:        key,
		stagingKey: stagingKey,
		result: PutResult{
			SHA256:       hex.EncodeToString(h.Sum(nil)),
			SizeBytes:    counter.n,
			DeclaredSize: declaredSize,
		},
	}, nil
}

func (s *MinioStore) Open(ctx context.Context, key models.SaveKey) (io.ReadCloser, int64, error) {
	if err := checkKey(key); err != nil {
		return nil, 0, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	// GetObject is lazy; Stat surfaces a missing object.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	return obj, info.Size, nil
}

// Snapshot holds the key lock while view runs and the object is opened.
// Open stats the object, which issues the GET, so the body streamed after
// the lock is released is the generation seen under it.
func (s *MinioStore) Snapshot(ctx context.Context, key models.SaveKey, view func() error) (io.ReadCloser, int64, error) {
	if err := checkKey(key); err != nil {
		return nil, 0, err
	}

	unlock := s.locks.lock(key.StoragePrefix())
	defer unlock()

	if view != nil {
		if err := view(); err != nil {
			return nil, 0, err
		}
	}
	return s.Open(ctx, key)
}

// SweepStaging removes staging objects older than maxAge, left behind by
// crashed uploads.
func (s *MinioStore) SweepStaging(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	removed := 0
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: minioStagingPrefix, Recursive: true}) {
		if obj.Err != nil {
			return removed, obj.Err
		}
		if now.Sub(obj.LastModified) < maxAge {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed stale staging objects", "count", removed)
	}
	return removed, nil
}

func (s *MinioStore) removeQuietly(objectName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		s.logger.Warn("remove staging object failed", "object", objectName, "error", err)
	}
}

type minioStaged struct {
	store      *MinioStore
	key        models.SaveKey
	stagingKey string
	result     PutResult

	mu   sync.Mutex
	done bool
}

func (st *minioStaged) Result() PutResult {
	return st.result
}

func (st *minioStaged) Publish(ctx context.Context, commit func(PutResult) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return errFinished
	}

	unlock := st.store.locks.lock(st.key.StoragePrefix())
	defer unlock()

	_, err := st.store.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: st.store.bucket, Object: objectKey(st.key)},
		minio.CopySrcOptions{Bucket: st.store.bucket, Object: st.stagingKey},
	)
	if err != nil {
		return fmt.Errorf("publish blob: %w", err)
	}
	st.done = true
	st.store.removeQuietly(st.stagingKey)

	if commit != nil {
		return commit(st.result)
	}
	return nil
}

func (st *minioStaged) Discard() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return nil
	}
	st.done = true
	st.store.removeQuietly(st.stagingKey)
	return nil
}

func objectKey(key models.SaveKey) string {
	return key.StoragePrefix() + "/" + blobFileName
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == minioNoSuchKey
	}
	return false
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
