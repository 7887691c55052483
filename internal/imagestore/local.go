package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local stores images as files in one directory.
type Local struct {
	dir string
}

// NewLocal creates the directory if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("in internal/imagestore/local.go/NewLocal(): error while `os.MkdirAll()` calling: %w", err)
	}

	return &Local{dir: dir}, nil
}

func (l *Local) path(name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}

	return filepath.Join(l.dir, clean), nil
}

// Save writes the image; an existing image with the same name is replaced.
func (l *Local) Save(_ context.Context, name string, content io.Reader) error {
	filePath, err := l.path(name)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(file, content); err != nil {
		_ = file.Close()
		_ = os.Remove(filePath)
		return err
	}

	return file.Close()
}

func (l *Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	filePath, err := l.path(name)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, err
	}

	return file, nil
}

// Delete removes the image. It reports false without error when the image is absent.
func (l *Local) Delete(_ context.Context, name string) (bool, error) {
	filePath, err := l.path(name)
	if err != nil {
		return false, err
	}

	err = os.Remove(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}
