// Package imagestore keeps uploaded story images either in a local
// directory or in an S3 compatible bucket.
package imagestore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Store saves, streams and removes images by name.
// Names are reduced with CleanName by every implementation.
type Store interface {
	Save(ctx context.Context, name string, content io.Reader) error

	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete reports whether the image existed.
	Delete(ctx context.Context, name string) (bool, error)
}

var (
	_ Store = (*Local)(nil)
	_ Store = (*S3)(nil)
)

// ErrInvalidName is returned for names that do not denote a single file.
var ErrInvalidName = errors.New("invalid image name")

// ErrNotExist is returned by Open when the image is absent.
var ErrNotExist = errors.New("image does not exist")

// CleanName reduces name to its final path element so that the result
// can never address a file outside the store.
func CleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	base := path.Base(name)
	if base == "." || base == ".." || base == "/" || base == "" {
		return "", ErrInvalidName
	}
	if base != filepath.Base(base) {
		return "", ErrInvalidName
	}

	return base, nil
}

// NameFromURL extracts the image name from an image URL such as
// "http://localhost:8000/uploads/abc.png?x=1".
func NameFromURL(imageURL string) (string, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil || parsed.Path == "" {
		return CleanName(imageURL)
	}

	return CleanName(parsed.Path)
}
