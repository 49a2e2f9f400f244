// Package metastore persists one SaveRecord per key as a JSON file next to
// the key's blob.
package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"savesync/internal/fsutil"
	"savesync/internal/models"
)

const metaFileName = "meta.json"

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("metadata not found")
	// ErrCorrupt is returned when a record exists but cannot be decoded.
	ErrCorrupt = errors.New("metadata corrupt")
)

// Store is the metadata abstraction used by the save service.
type Store interface {
	Read(ctx context.Context, key models.SaveKey) (models.SaveRecord, error)
	Write(ctx context.Context, key models.SaveKey, record models.SaveRecord) error
}

// FileStore writes records to root/saves/<user>/<game>/meta.json. Each write
// goes to a temp file that is renamed over the live record.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("metadata root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: abs}, nil
}

func (s *FileStore) Read(ctx context.Context, key models.SaveKey) (models.SaveRecord, error) {
	var zero models.SaveRecord
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	path, err := s.recordPath(key)
	if err != nil {
		return zero, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("read metadata: %w", err)
	}

	var record models.SaveRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if record.FileSize < 0 {
		return zero, fmt.Errorf("%w: negative filesize", ErrCorrupt)
	}
	return record, nil
}

func (s *FileStore) Write(ctx context.Context, key models.SaveKey, record models.SaveRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.recordPath(key)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func (s *FileStore) recordPath(key models.SaveKey) (string, error) {
	if !key.Valid() {
		return "", fmt.Errorf("invalid metadata key %q", key.String())
	}
	return filepath.Join(s.root, filepath.FromSlash(key.StoragePrefix()), metaFileName), nil
}
