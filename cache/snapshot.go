package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// SnapshotFileName is the file a FileSnapshotter writes inside its directory.
const SnapshotFileName = "model-cache.json"

// Snapshotter stores one opaque snapshot blob for one Store.
//
// Contract:
// - Atomicity: a reader never observes a partially written snapshot.
// - Errors: Read returns ErrNoSnapshot when nothing has been written.
// - Ownership: one Store per location; concurrent writers are unsupported.
type Snapshotter interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Location() string
}

// FileSnapshotter keeps the snapshot in <dir>/model-cache.json.
type FileSnapshotter struct {
	dir  string
	path string
}

// NewFileSnapshotter returns a snapshotter rooted at dir. The directory is
// created on first write.
func NewFileSnapshotter(dir string) *FileSnapshotter {
	return &FileSnapshotter{
		dir:  dir,
		path: filepath.Join(dir, SnapshotFileName),
	}
}

// Location returns the snapshot file path.
func (f *FileSnapshotter) Location() string { return f.path }

// Read returns the snapshot file contents.
func (f *FileSnapshotter) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	return data, err
}

// Write replaces the snapshot file via a synced temp file and a rename.
func (f *FileSnapshotter) Write(ctx context.Context, data []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, SnapshotFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// RedisSnapshotter keeps the snapshot as a single Redis string value.
// SET replaces the value atomically, so readers see either the old or the
// new snapshot.
type RedisSnapshotter struct {
	client redis.Cmdable
	key    string
}

// NewRedisSnapshotter stores the snapshot under key.
func NewRedisSnapshotter(client redis.Cmdable, key string) *RedisSnapshotter {
	return &RedisSnapshotter{client: client, key: key}
}

// Location returns a redis:// style identifier for logs.
func (r *RedisSnapshotter) Location() string { return "redis://" + r.key }

// Read fetches the snapshot value.
func (r *RedisSnapshotter) Read(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, ErrNoSnapshot
	}
	return data, err
}

// Write stores the snapshot value without expiry.
func (r *RedisSnapshotter) Write(ctx context.Context, data []byte) error {
	return r.client.Set(ctx, r.key, data, 0).Err()
}

var (
	_ Snapshotter = (*FileSnapshotter)(nil)
	_ Snapshotter = (*RedisSnapshotter)(nil)
)
