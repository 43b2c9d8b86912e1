package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStorage persists all keys in one JSON document on disk. Every write
// replaces the document through a temp file and rename, so a crash leaves
// either the old or the new content.
type FileStorage struct {
	path string

	mu     sync.Mutex
	closed bool
}

// NewFileStorage returns a FileStorage at path, creating its directory.
// The file itself is created on first write.
func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, errors.New("file storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileStorage{path: path}, nil
}

func (s *FileStorage) GetItem(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	doc, err := s.load()
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

func (s *FileStorage) SetItem(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	doc, err := s.load()
	if err != nil {
		// An unreadable document is replaced rather than blocking every future write.
		doc = make(map[string]string)
	}
	doc[key] = string(value)
	return s.save(doc)
}

func (s *FileStorage) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return s.save(doc)
}

func (s *FileStorage) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStorage) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	doc := make(map[string]string)
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStorage) save(doc map[string]string) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storage document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

var _ Storage = (*FileStorage)(nil)
