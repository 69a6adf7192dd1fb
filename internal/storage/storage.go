package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

// New returns the file store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (core.FileStore, error) {
	switch cfg.Driver {
	case "", "local":
		store, err := NewLocal(cfg.BasePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		store, err := NewS3(ctx, S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// cleanKey normalizes a slash-separated key and rejects keys that escape the
// store root.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	slashed := strings.ReplaceAll(key, "\\", "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	k := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if k == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return k, nil
}
