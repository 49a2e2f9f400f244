package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"savesync/internal/fsutil"
	"savesync/internal/models"
)

const (
	stagingDir    = "tmp"
	stagingPrefix = "put-"
	blobFileName  = "data"
)

// LocalStore keeps one blob per key under root/saves/<user>/<game>/data.
// Uploads are staged in root/tmp, which must live on the same filesystem so
// publishing is a rename.
type LocalStore struct {
	root   string
	locks  *keyLocks
	logger *slog.Logger
}

// NewLocalStore creates a store rooted at root and removes staging files left
// behind by a previous process.
func NewLocalStore(root string, logger *slog.Logger) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("blob store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, stagingDir), 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &LocalStore{root: abs, locks: newKeyLocks(), logger: logger}
	if err := s.sweepStaging(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the absolute storage root.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Stage(ctx context.Context, key models.SaveKey, r io.Reader, declaredSize int64) (Staged, error) {
	if s == nil {
		return nil, fmt.Errorf("blob store is not configured")
	}
	if r == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, stagingDir), stagingPrefix+"*")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), contextReader{ctx: ctx, r: r})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("stage blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return nil, fmt.Errorf("sync staged blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if declaredSize < 0 {
		declaredSize = -1
	}
	return &localStaged{
		store:   s,
		key:     key,
		tmpPath: tmpPath,
		result: PutResult{
			SHA256:       hex.EncodeToString(h.Sum(nil)),
			SizeBytes:    n,
			DeclaredSize: declaredSize,
		},
	}, nil
}

func (s *LocalStore) Open(ctx context.Context, key models.SaveKey) (io.ReadCloser, int64, error) {
	if s == nil {
		return nil, 0, fmt.Errorf("blob store is not configured")
	}
	if err := checkKey(key); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	path, err := s.blobPath(key)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return &localReader{Reader: contextReader{ctx: ctx, r: f}, f: f}, info.Size(), nil
}

// Snapshot holds the key lock only while view runs and the file is opened.
// A later publish renames over the path; the open descriptor keeps reading
// the generation it was opened on.
func (s *LocalStore) Snapshot(ctx context.Context, key models.SaveKey, view func() error) (io.ReadCloser, int64, error) {
	if s == nil {
		return nil, 0, fmt.Errorf("blob store is not configured")
	}
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

// blobPath maps a validated key to its file. The result is checked to stay
// under root even though key components are already restricted.
func (s *LocalStore) blobPath(key models.SaveKey) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key.StoragePrefix()), blobFileName)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid blob key %q", key.String())
	}
	return path, nil
}

func (s *LocalStore) sweepStaging() error {
	dir := filepath.Join(s.root, stagingDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale staging file: %w", err)
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed stale staging files", "count", removed)
	}
	return nil
}

type localStaged struct {
	store   *LocalStore
	key     models.SaveKey
	tmpPath string
	result  PutResult

	mu   sync.Mutex
	done bool
}

func (st *localStaged) Result() PutResult {
	return st.result
}

func (st *localStaged) Publish(ctx context.Context, commit func(PutResult) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return errFinished
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dst, err := st.store.blobPath(st.key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	unlock := st.store.locks.lock(st.key.StoragePrefix())
	defer unlock()

	if err := os.Rename(st.tmpPath, dst); err != nil {
		return fmt.Errorf("publish blob: %w", err)
	}
	st.done = true
	if err := fsutil.SyncDir(dir); err != nil {
		return err
	}
	if commit != nil {
		return commit(st.result)
	}
	return nil
}

func (st *localStaged) Discard() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return nil
	}
	st.done = true
	if err := os.Remove(st.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type localReader struct {
	io.Reader
	f *os.File
}

func (r *localReader) Close() error {
	return r.f.Close()
}
