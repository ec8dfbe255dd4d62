// Package localfs keeps uploaded palm images on local disk, one file per key.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mkotova/lifeline/internal/core/domain"
)

type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/images"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

func (s *Storage) Save(_ context.Context, key string, data io.Reader) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "images.save", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return domain.WrapError(domain.ErrStorage, "images.save", err)
	}
	return nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "images.open", fmt.Errorf("no image stored under %s", key))
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "images.open", err)
	}
	return f, nil
}

// path rejects keys that would escape the base directory.
func (s *Storage) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", domain.WrapError(domain.ErrInvalidInput, "images.key", fmt.Errorf("invalid image key %q", key))
	}
	return filepath.Join(s.basePath, clean), nil
}
