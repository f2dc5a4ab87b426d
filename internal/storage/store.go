// Package storage keeps uploaded font files. Objects are addressed by slash separated
// keys of the form "<userId>/<name>".
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
	ErrAccessDenied   = errors.New("access denied")
	ErrBucketNotFound = errors.New("bucket not found")
)

// Store is an object store.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// ValidateKey rejects keys that could escape their user's folder.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// UserKey scopes name to userID's folder.
func UserKey(userID uuid.UUID, name string) (string, error) {
	if err := ValidateKey(name); err != nil {
		return "", err
	}
	return UserPrefix(userID) + name, nil
}

func UserPrefix(userID uuid.UUID) string {
	return userID.String() + "/"
}
