package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"mcp-bridge/internal/application/port/output"
)

var _ output.KeyValueStore = (*FileStore)(nil)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// FileStore keeps one JSON document per key under basePath.
type FileStore struct {
	basePath string
	logger   output.LoggerPort
	mu       sync.Mutex
}

func NewFileStore(basePath string, logger output.LoggerPort) (*FileStore, error) {
	if basePath == "" {
		basePath = ".data"
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	logger = logger.WithField("component", "file-storage")
	logger.Info("Initialized file storage", "base_path", basePath)

	return &FileStore{basePath: basePath, logger: logger}, nil
}

func (fs *FileStore) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(fs.basePath, key+".json"), nil
}

func (fs *FileStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	p, err := fs.path(key)
	if err != nil {
		return false, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		fs.logger.Error("Failed to read value", "key", key, "error", err)
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		fs.logger.Error("Failed to unmarshal value", "key", key, "error", err)
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Set replaces the stored value. The file is written to a temp file first and
// renamed so a reader never sees a partial document.
func (fs *FileStore) Set(ctx context.Context, key string, value any) error {
	p, err := fs.path(key)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		fs.logger.Error("Failed to write value", "key", key, "error", err)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("failed to replace %s: %w", key, err)
	}

	fs.logger.Debug("Saved value", "key", key, "bytes", len(data))
	return nil
}

func (fs *FileStore) Remove(ctx context.Context, key string) error {
	p, err := fs.path(key)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}
