// Package cache stores finished downloads in a blob bucket keyed by file
// identity, so a repeated request is served without touching any mirror.
package cache

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// Cache is a download cache backed by any gocloud blob bucket
type Cache struct {
	bucket *blob.Bucket
}

// Open opens the bucket at bucketURL (file:///dir, mem://, ...). A plain
// directory path is accepted and treated as file://.
func Open(ctx context.Context, bucketURL string) (*Cache, error) {
	if !strings.Contains(bucketURL, "://") {
		abs, err := filepath.Abs(bucketURL)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
		bucketURL = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open cache bucket %s: %w", bucketURL, err)
	}
	return &Cache{bucket: bucket}, nil
}

// New wraps an already open bucket
func New(bucket *blob.Bucket) *Cache {
	return &Cache{bucket: bucket}
}

func (c *Cache) Close() error { return c.bucket.Close() }

// Key derives the object key for id: repository/version/file
func Key(id types.FileIdentity) string {
	version := id.Version
	if id.Latest() {
		version = "latest"
	}
	return strings.Join([]string{id.Owner(), id.Name(), version, id.File}, "/")
}

// Get copies the cached object for id to path. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, id types.FileIdentity, path string) (size int64, ok bool, err error) {
	key := Key(id)
	r, err := c.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("cache read %s: %w", key, err)
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, false, err
	}
	tmp := path + ".cache" + types.IncompleteSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return 0, false, err
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n != r.Size() {
		err = fmt.Errorf("cache object %s: read %d of %d bytes", key, n, r.Size())
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, false, err
	}

	utils.Debug("cache: hit %s (%s)", key, utils.ConvertBytesToHumanReadable(n))
	return n, true, nil
}

// Put stores the file at path under id's key
func (c *Cache) Put(ctx context.Context, id types.FileIdentity, path string) error {
	key := Key(id)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// A writer whose context is canceled before Close discards the object
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := c.bucket.NewWriter(wctx, key, nil)
	if err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	utils.Debug("cache: stored %s", key)
	return nil
}

// Has reports whether id is cached
func (c *Cache) Has(ctx context.Context, id types.FileIdentity) (bool, error) {
	return c.bucket.Exists(ctx, Key(id))
}

// Delete removes id from the cache. Deleting a missing entry is not an error.
func (c *Cache) Delete(ctx context.Context, id types.FileIdentity) error {
	err := c.bucket.Delete(ctx, Key(id))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return err
	}
	return nil
}
