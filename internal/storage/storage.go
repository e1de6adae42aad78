// Package storage holds the object store adapters used for uploads.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

var ErrInvalidPath = errors.New("invalid object path")

// ObjectStore stores uploaded bytes under a slash-separated path.
type ObjectStore interface {
	// Put writes data and returns its public URL.
	Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error
	PublicURL(objectPath string) string
}

// cleanPath rejects absolute paths and anything escaping the store root.
func cleanPath(objectPath string) (string, error) {
	if objectPath == "" || strings.HasPrefix(objectPath, "/") || strings.Contains(objectPath, "\\") {
		return "", ErrInvalidPath
	}
	clean := path.Clean(objectPath)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	return clean, nil
}
