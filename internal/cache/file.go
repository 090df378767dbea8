// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore keeps one JSON file per entry under dir/<namespace>/<key>.json.
// Writes go to a temporary file in the same directory followed by a rename,
// so readers in other processes see either the old or the new entry.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore returns a FileStore rooted at dir. The directory is created
// on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, now: time.Now}
}

func (s *FileStore) path(namespace, key string) string {
	return filepath.Join(s.dir, safeName(namespace), safeName(key)+".json")
}

// safeName maps a namespace or key onto a single path element.
func safeName(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, s)
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, namespace, key string) (Entry, bool, error) {
	data, err := os.ReadFile(s.path(namespace, key))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading cache entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, nil
	}
	if e.Namespace != namespace || e.Key != key || !e.Valid(s.now()) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Put implements Store.
func (s *FileStore) Put(_ context.Context, e Entry) error {
	dest := s.path(e.Namespace, e.Key)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".entry-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming cache entry: %w", err)
	}
	return nil
}

// Prune implements Store. Unreadable entries are removed as well.
func (s *FileStore) Prune(ctx context.Context) (int, error) {
	now := s.now()
	removed := 0
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var e Entry
		if json.Unmarshal(data, &e) == nil && e.Valid(now) {
			return nil
		}
		if os.Remove(path) == nil {
			removed++
		}
		return nil
	})
	return removed, err
}

// Clear implements Store.
func (s *FileStore) Clear(ctx context.Context, namespace string) (int, error) {
	root := s.dir
	if namespace != "" {
		root = filepath.Join(s.dir, safeName(namespace))
	}
	removed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".json" {
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(root); err != nil {
		return 0, fmt.Errorf("clearing cache: %w", err)
	}
	return removed, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
