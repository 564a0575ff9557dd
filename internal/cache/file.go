package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type fileEntry struct {
	Payload   json.RawMessage `json:"payload"`
	ExpiresAt int64           `json:"expires_at,omitempty"`
	UpdatedAt string          `json:"updated_at"`
}

// File is a durable Store writing one JSON file per entry under a root
// directory. Writes go through a tmp file and rename so a crash never leaves
// a torn entry behind.
type File struct {
	root string
	now  func() time.Time
}

// NewFile returns a file-backed store rooted at dir.
func NewFile(dir string) *File {
	return &File{root: dir, now: time.Now}
}

func (f *File) path(namespace, key string) string {
	sanitize := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch r {
			case '/', '\\', ':':
				return '_'
			}
			return r
		}, s)
	}
	return filepath.Join(f.root, sanitize(namespace), sanitize(key)+".json")
}

func (f *File) Get(_ context.Context, namespace, key string, dest interface{}) error {
	data, err := os.ReadFile(f.path(namespace, key))
	if err != nil {
		return ErrMiss
	}

	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry; drop it and report a miss so callers rebuild.
		_ = os.Remove(f.path(namespace, key))
		return ErrMiss
	}
	if entry.ExpiresAt > 0 && f.now().Unix() > entry.ExpiresAt {
		_ = os.Remove(f.path(namespace, key))
		return ErrMiss
	}
	if err := json.Unmarshal(entry.Payload, dest); err != nil {
		return ErrMiss
	}
	return nil
}

func (f *File) Set(_ context.Context, namespace, key string, value interface{}, opts Options) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	entry := fileEntry{
		Payload:   payload,
		UpdatedAt: f.now().UTC().Format(time.RFC3339Nano),
	}
	if opts.TTL > 0 {
		entry.ExpiresAt = f.now().Add(opts.TTL).Unix()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	path := f.path(namespace, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write cache tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename cache entry: %w", err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, namespace, key string) error {
	err := os.Remove(f.path(namespace, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}
