// Package filestore keeps the token slot in a small JSON key-value file on local disk.
//
// The file is a flat JSON object of string values so several applications can share it;
// entries this package does not own are preserved verbatim on every write.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/target/congress-backoffice/internal/ports"
)

var _ ports.TokenSlot = (*TokenSlot)(nil)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

// TokenSlot stores the token under a fixed key of a JSON object file.
// Writers holding different keys of the same file, in this process or another, take a
// lock file next to it so neither loses the other's entry.
type TokenSlot struct {
	path string
	key  string

	mu sync.Mutex
}

// NewTokenSlot creates a slot for key inside the file at path. The file is created on first Save.
func NewTokenSlot(path, key string) (*TokenSlot, error) {
	if path == "" {
		return nil, errors.New("file path is required")
	}
	if key == "" {
		return nil, errors.New("token key cannot be empty")
	}
	return &TokenSlot{path: filepath.Clean(path), key: key}, nil
}

// Path returns the backing file path.
func (s *TokenSlot) Path() string { return s.path }

func (s *TokenSlot) Load(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	entries, err := s.read()
	if err != nil {
		return "", false, err
	}
	raw, ok := entries[s.key]
	if !ok {
		return "", false, nil
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", false, fmt.Errorf("decode %q: %w", s.key, err)
	}
	return token, true, nil
}

func (s *TokenSlot) Save(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if token == "" {
		return errors.New("token cannot be empty")
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	entries[s.key] = encoded
	return s.write(entries)
}

func (s *TokenSlot) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := entries[s.key]; !ok {
		return nil
	}
	delete(entries, s.key)
	return s.write(entries)
}

// read returns the file's entries; a missing or empty file is an empty object.
func (s *TokenSlot) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	entries := map[string]json.RawMessage{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return entries, nil
}

// write replaces the file atomically: temp file in the same directory, fsync, rename.
func (s *TokenSlot) write(entries map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
