// Package saves implements the save sync operations on top of an
// authenticator, a metadata store and a blob store.
package saves

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"savesync/internal/auth"
	"savesync/internal/blobstore"
	"savesync/internal/metastore"
	"savesync/internal/models"
)

// Service is stateless between calls; all durable state lives in the stores.
// Same-key uploads are serialized by the blob store's publish, not here.
type Service struct {
	auth   auth.Authenticator
	meta   metastore.Store
	blobs  blobstore.BlobStore
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Service)

// WithClock overrides the clock used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(authenticator auth.Authenticator, meta metastore.Store, blobs blobstore.BlobStore, opts ...Option) *Service {
	s := &Service{
		auth:   authenticator,
		meta:   meta,
		blobs:  blobs,
		now:    time.Now,
		logger: slog.Default().With("component", "saves"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload is one incoming save file.
type Upload struct {
	Filename string
	Body     io.Reader
	// DeclaredSize is an advisory length hint; -1 when unknown.
	DeclaredSize int64
}

// Download is an open save blob. The caller must close Body.
type Download struct {
	Record models.SaveRecord
	Body   io.ReadCloser
	Size   int64
}

// GetMetadata returns the record for the caller's save of gameID.
// authorization is the raw Authorization header value.
func (s *Service) GetMetadata(ctx context.Context, authorization, gameID string) (models.SaveRecord, error) {
	key, err := s.authorize(ctx, authorization, gameID)
	if err != nil {
		return models.SaveRecord{}, err
	}
	return s.readRecord(ctx, key)
}

// DownloadFile opens the caller's save blob for gameID. Metadata decides
// existence: a stray blob without metadata is NotFound, metadata without a
// blob is CorruptState. The record and the blob are read under the key's
// publish lock, so they always come from the same upload.
func (s *Service) DownloadFile(ctx context.Context, authorization, gameID string) (*Download, error) {
	key, err := s.authorize(ctx, authorization, gameID)
	if err != nil {
		return nil, err
	}

	var record models.SaveRecord
	body, size, err := s.blobs.Snapshot(ctx, key, func() error {
		var err error
		record, err = s.readRecord(ctx, key)
		return err
	})
	if err != nil {
		var se *Error
		switch {
		case errors.As(err, &se):
			return nil, err
		case errors.Is(err, blobstore.ErrNotFound):
			s.logger.Error("metadata without blob", "key", key.String())
			return nil, fail(ErrCorruptState, fmt.Errorf("blob missing for %s", key.GameID))
		default:
			return nil, fail(ErrIO, err)
		}
	}

	// Only a failed metadata write after publish leaves these apart.
	if size != record.FileSize {
		_ = body.Close()
		s.logger.Error("blob size differs from metadata", "key", key.String(), "blob_size", size, "filesize", record.FileSize)
		return nil, fail(ErrCorruptState, fmt.Errorf("blob for %s does not match its metadata", key.GameID))
	}
	return &Download{Record: record, Body: body, Size: size}, nil
}

// UploadFile stores body as the caller's save for gameID and returns the new
// record. The blob is published first and metadata is written while the key
// is still locked; if the metadata write fails the new blob stays in place
// and the error is ErrIO.
func (s *Service) UploadFile(ctx context.Context, authorization, gameID string, in Upload) (models.SaveRecord, error) {
	var zero models.SaveRecord
	key, err := s.authorize(ctx, authorization, gameID)
	if err != nil {
		return zero, err
	}
	if in.Body == nil {
		return zero, fail(ErrInvalidInput, ErrMissingFile)
	}
	filename, err := models.ValidateFilename(in.Filename)
	if err != nil {
		return zero, fail(ErrInvalidInput, err)
	}

	staged, err := s.blobs.Stage(ctx, key, in.Body, in.DeclaredSize)
	if err != nil {
		return zero, fail(ErrIO, err)
	}

	res := staged.Result()
	if res.SizeMismatch() {
		s.logger.Info("declared size differs from received bytes", "key", key.String(), "declared", res.DeclaredSize, "received", res.SizeBytes)
	}

	var record models.SaveRecord
	var commitErr error
	err = staged.Publish(ctx, func(res blobstore.PutResult) error {
		record = models.SaveRecord{
			GameID:    key.GameID,
			Filename:  filename,
			FileSize:  res.SizeBytes,
			UpdatedAt: s.now().UTC().Unix(),
			SHA256:    res.SHA256,
		}
		commitErr = s.meta.Write(ctx, key, record)
		return commitErr
	})
	if err != nil {
		if commitErr != nil {
			s.logger.Error("metadata write failed after blob publish", "key", key.String(), "error", commitErr)
		} else if discardErr := staged.Discard(); discardErr != nil {
			s.logger.Warn("discard staged blob failed", "key", key.String(), "error", discardErr)
		}
		return zero, fail(ErrIO, err)
	}

	s.logger.Debug("save uploaded", "key", key.String(), "filesize", record.FileSize)
	return record, nil
}

// authorize runs the shared prelude: resolve the caller, then validate gameID.
func (s *Service) authorize(ctx context.Context, authorization, gameID string) (models.SaveKey, error) {
	var zero models.SaveKey
	if s == nil || s.auth == nil || s.meta == nil || s.blobs == nil {
		return zero, fail(ErrIO, fmt.Errorf("save service is not configured"))
	}

	userID, err := auth.ResolveHeader(ctx, s.auth, authorization)
	if err != nil {
		if errors.Is(err, auth.ErrMalformed) || errors.Is(err, auth.ErrUnauthorized) {
			return zero, fail(ErrUnauthenticated, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		return zero, fail(ErrIO, err)
	}
	userID, err = models.NormalizeUserID(userID)
	if err != nil {
		return zero, fail(ErrUnauthenticated, fmt.Errorf("%w: %w", auth.ErrUnauthorized, err))
	}

	game, err := models.ParseGameID(gameID)
	if err != nil {
		return zero, fail(ErrInvalidInput, err)
	}
	return models.SaveKey{UserID: userID, GameID: game}, nil
}

func (s *Service) readRecord(ctx context.Context, key models.SaveKey) (models.SaveRecord, error) {
	record, err := s.meta.Read(ctx, key)
	switch {
	case err == nil:
		return record, nil
	case errors.Is(err, metastore.ErrNotFound):
		return models.SaveRecord{}, fail(ErrNotFound, err)
	case errors.Is(err, metastore.ErrCorrupt):
		s.logger.Error("unreadable metadata", "key", key.String(), "error", err)
		return models.SaveRecord{}, fail(ErrCorruptState, err)
	default:
		return models.SaveRecord{}, fail(ErrIO, err)
	}
}
