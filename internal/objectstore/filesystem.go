package objectstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
)

// FilesystemStore keeps objects as plain files under a root directory.
// Writes go to a temp file in the target directory and rename into place,
// so readers never see a partial object.
type FilesystemStore struct {
	root string
}

var _ interfaces.ObjectStore = (*FilesystemStore)(nil)

// NewFilesystemStore creates the root directory if needed.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve object store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}
	return &FilesystemStore{root: abs}, nil
}

func (s *FilesystemStore) Strategy() string {
	return "filesystem"
}

// resolve maps a key to a path under root, rejecting traversal.
func (s *FilesystemStore) resolve(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return path, nil
}

func (s *FilesystemStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	path, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to sync object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp object: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to commit object %s: %w", key, err)
	}

	common.GetLogger().Debug().Str("key", key).Int64("size", n).Msg("Object stored")
	return n, nil
}

func (s *FilesystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	return f, nil
}

func (s *FilesystemStore) Head(ctx context.Context, key string) (*interfaces.ObjectInfo, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return &interfaces.ObjectInfo{Key: key, SizeBytes: info.Size()}, nil
}

func (s *FilesystemStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return !info.IsDir(), nil
}

func (s *FilesystemStore) Copy(ctx context.Context, src, dst string) error {
	rc, err := s.Get(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := s.Put(ctx, dst, rc); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	s.pruneEmptyParents(filepath.Dir(path))
	return nil
}

func (s *FilesystemStore) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		path, err := s.resolve(key)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to delete object %s: %w", key, err)
		}
		s.pruneEmptyParents(filepath.Dir(path))
	}
	return nil
}

func (s *FilesystemStore) DeletePrefix(ctx context.Context, prefix string) error {
	path, err := s.resolve(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
	}
	s.pruneEmptyParents(filepath.Dir(path))
	return nil
}

func (s *FilesystemStore) List(ctx context.Context, prefix string) ([]interfaces.ObjectInfo, error) {
	var out []interfaces.ObjectInfo
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, interfaces.ObjectInfo{Key: key, SizeBytes: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %s: %w", prefix, err)
	}
	return out, nil
}

// ListPage pages over List's output. Keys come back in lexical order, so
// the last key of a page is its continuation token.
func (s *FilesystemStore) ListPage(ctx context.Context, prefix, token string, limit int) ([]interfaces.ObjectInfo, string, error) {
	all, err := s.List(ctx, prefix)
	if err != nil {
		return nil, "", err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })

	start := 0
	if token != "" {
		start = sort.Search(len(all), func(i int) bool { return all[i].Key > token })
	}
	if limit <= 0 {
		limit = 1000
	}

	end := start + limit
	if end >= len(all) {
		return all[start:], "", nil
	}
	page := all[start:end]
	return page, page[len(page)-1].Key, nil
}

// PresignedURL is unsupported on the filesystem backend; callers stream
// the object instead.
func (s *FilesystemStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", fmt.Errorf("%w: filesystem backend", ErrPresignUnsupported)
}

// pruneEmptyParents removes now-empty directories up to the root so deleted
// jobs leave no husks behind.
func (s *FilesystemStore) pruneEmptyParents(dir string) {
	for strings.HasPrefix(dir, s.root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return // not empty or gone
		}
		dir = filepath.Dir(dir)
	}
}
