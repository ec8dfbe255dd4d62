package localfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mkotova/lifeline/internal/core/domain"
)

// Store keeps one file per key under basePath. Writes go through a temp file
// and rename so a crash never leaves a half-written value behind.
type Store struct {
	basePath string
}

func New(basePath string) (*Store, error) {
	if basePath == "" {
		basePath = "./data/kv"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "kv.localfs.init", err)
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) GetItem(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.WrapError(domain.ErrStorage, "kv.localfs.get", err)
	}
	return string(data), true, nil
}

func (s *Store) SetItem(_ context.Context, key, value string) error {
	path := s.path(key)
	tmp, err := os.CreateTemp(s.basePath, filepath.Base(path)+".tmp-*")
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "kv.localfs.set", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.WrapError(domain.ErrStorage, "kv.localfs.set", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return domain.WrapError(domain.ErrStorage, "kv.localfs.set", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return domain.WrapError(domain.ErrStorage, "kv.localfs.set", err)
	}
	return nil
}

func (s *Store) RemoveItem(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.WrapError(domain.ErrStorage, "kv.localfs.remove", err)
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.basePath, fmt.Sprintf("%s.json", key))
}
