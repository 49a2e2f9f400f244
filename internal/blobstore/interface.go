package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"savesync/internal/models"
)

// ErrNotFound is returned when no blob is published for a key.
var ErrNotFound = errors.New("blob not found")

// errFinished is returned when a staged blob is published or discarded twice.
var errFinished = errors.New("staged blob already finished")

// PutResult describes one fully staged blob.
type PutResult struct {
	SHA256    string
	SizeBytes int64
	// DeclaredSize is the caller's advisory size hint, or -1 when unknown.
	DeclaredSize int64
}

// SizeMismatch reports whether a declared size was given and differs from
// the number of bytes actually written.
func (r PutResult) SizeMismatch() bool {
	return r.DeclaredSize >= 0 && r.DeclaredSize != r.SizeBytes
}

// Staged is a blob that has been fully written and flushed but is not yet
// visible to readers.
type Staged interface {
	Result() PutResult
	// Publish atomically installs the staged blob as the current blob for its
	// key. commit, when non-nil, runs after the install while the key is
	// still locked; its error is returned but the blob stays published.
	Publish(ctx context.Context, commit func(PutResult) error) error
	// Discard drops the staged blob. It is a no-op after Publish.
	Discard() error
}

// BlobStore is the byte-storage abstraction used by the save service.
// Stage consumes the whole stream before anything becomes visible; if the
// stream fails the staging artifact is removed and the key is untouched.
type BlobStore interface {
	Stage(ctx context.Context, key models.SaveKey, r io.Reader, declaredSize int64) (Staged, error)
	Open(ctx context.Context, key models.SaveKey) (io.ReadCloser, int64, error)
	// Snapshot runs view and then opens the blob while holding the key's
	// publish lock, so anything view reads belongs to the same generation as
	// the opened bytes. An error from view is returned unchanged and nothing
	// is opened. The reader stays valid after the lock is released.
	Snapshot(ctx context.Context, key models.SaveKey, view func() error) (io.ReadCloser, int64, error)
}

// Store stages r and publishes it immediately.
func Store(ctx context.Context, bs BlobStore, key models.SaveKey, r io.Reader, declaredSize int64) (PutResult, error) {
	staged, err := bs.Stage(ctx, key, r, declaredSize)
	if err != nil {
		return PutResult{}, err
	}
	if err := staged.Publish(ctx, nil); err != nil {
		_ = staged.Discard()
		return PutResult{}, err
	}
	return staged.Result(), nil
}

func checkKey(key models.SaveKey) error {
	if !key.Valid() {
		return fmt.Errorf("invalid blob key %q", key.String())
	}
	return nil
}

// contextReader fails reads once ctx is done so an abandoned upload stops
// streaming into staging.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
