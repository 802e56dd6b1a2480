// Package local provides a local filesystem object store. Key prefixes map
// onto directories; empty directories are pruned so that a prefix disappears
// once its last object is gone, the same way it does in S3.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/metrics"
	"github.com/fruitsalade/mediafs/internal/storage"
)

const tempPattern = ".mediafs-*.tmp"

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string `json:"root_path"`
	CreateDirs bool   `json:"create_dirs"`
}

// LocalBackend implements storage.Backend using the local filesystem.
type LocalBackend struct {
	rootPath string
}

// New creates a new local filesystem backend.
func New(cfg Config) (*LocalBackend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	root, err := filepath.Abs(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	return &LocalBackend{rootPath: root}, nil
}

// fullPath maps a key onto the filesystem, refusing keys that would escape the root.
func (b *LocalBackend) fullPath(key string) (string, error) {
	for _, seg := range strings.Split(key, storage.Delimiter) {
		if seg == ".." || seg == "." {
			return "", fmt.Errorf("invalid key %q", key)
		}
	}
	return filepath.Join(b.rootPath, filepath.FromSlash(key)), nil
}

func (b *LocalBackend) record(op string, start time.Time, err error) {
	metrics.RecordStoreOperation("local", op, time.Since(start), err == nil)
}

// Put writes content atomically and refuses to replace an existing object.
func (b *LocalBackend) Put(_ context.Context, key string, body io.Reader, size int64, contentType string) (id string, err error) {
	start := time.Now()
	defer func() { b.record("put", start, err) }()

	path, err := b.fullPath(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create dirs for %s: %w", key, err)
	}

	// Write to temp file then hard-link into place; link fails if the key is taken.
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp for %s: %w", key, err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("put %s: %w", key, storage.ErrAlreadyExists)
		}
		return "", fmt.Errorf("link %s: %w", key, err)
	}

	logging.Debug("local put object", zap.String("key", key), zap.Int64("size", size), zap.String("content_type", contentType))
	return uuid.NewString(), nil
}

// ListChildren reads one directory level. A missing directory is an empty prefix.
func (b *LocalBackend) ListChildren(_ context.Context, prefix string) (objs []storage.Object, err error) {
	start := time.Now()
	defer func() { b.record("list", start, err) }()

	dir, err := b.fullPath(strings.TrimSuffix(prefix, storage.Delimiter))
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	objs = make([]storage.Object, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if matched, _ := filepath.Match(tempPattern, name); matched {
			continue
		}
		if e.IsDir() {
			objs = append(objs, storage.Object{Name: name, IsContainer: true})
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		objs = append(objs, storage.Object{
			Name:      name,
			Size:      info.Size(),
			MimeType:  mime.TypeByExtension(filepath.Ext(name)),
			CreatedAt: info.ModTime(),
			UpdatedAt: info.ModTime(),
		})
	}
	return objs, nil
}

// DeleteMany removes each key and prunes directories left empty.
// Missing keys count as deleted.
func (b *LocalBackend) DeleteMany(_ context.Context, keys []string) (failed []string, err error) {
	start := time.Now()
	defer func() { b.record("delete_many", start, err) }()

	if _, err := os.Stat(b.rootPath); err != nil {
		return nil, fmt.Errorf("storage root unavailable: %w", err)
	}

	dirs := make(map[string]struct{})
	for _, key := range keys {
		path, err := b.fullPath(key)
		if err != nil {
			failed = append(failed, key)
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Warn("local delete failed", zap.String("key", key), zap.Error(err))
			failed = append(failed, key)
			continue
		}
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		b.pruneEmpty(dir)
	}

	logging.Debug("local delete objects", zap.Int("requested", len(keys)), zap.Int("failed", len(failed)))
	return failed, nil
}

// MoveOne hard-links the object to its new key and removes the old one.
func (b *LocalBackend) MoveOne(_ context.Context, oldKey, newKey string) (err error) {
	start := time.Now()
	defer func() { b.record("move", start, err) }()

	src, err := b.fullPath(oldKey)
	if err != nil {
		return err
	}
	dst, err := b.fullPath(newKey)
	if err != nil {
		return err
	}

	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("move %s: %w", oldKey, storage.ErrNotFound)
		}
		return fmt.Errorf("stat %s: %w", oldKey, err)
	}
	if info.IsDir() {
		return fmt.Errorf("move %s: %w", oldKey, storage.ErrNotFound)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("move %s -> %s: %w", oldKey, newKey, storage.ErrAlreadyExists)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", newKey, err)
	}
	if err := os.Link(src, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("move %s -> %s: %w", oldKey, newKey, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("link %s -> %s: %w", oldKey, newKey, err)
	}
	if err := os.Remove(src); err != nil {
		os.Remove(dst)
		return fmt.Errorf("remove %s: %w", oldKey, err)
	}
	b.pruneEmpty(filepath.Dir(src))

	logging.Debug("local move object", zap.String("src", oldKey), zap.String("dst", newKey))
	return nil
}

// pruneEmpty removes dir and its ancestors while they are empty, stopping at the root.
func (b *LocalBackend) pruneEmpty(dir string) {
	for dir != b.rootPath && strings.HasPrefix(dir, b.rootPath) {
		if err := os.Remove(dir); err != nil {
			// Not empty (or already gone by a sibling prune).
			if !os.IsNotExist(err) {
				return
			}
		}
		dir = filepath.Dir(dir)
	}
}

// Type returns "local".
func (b *LocalBackend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *LocalBackend) Close() error { return nil }
