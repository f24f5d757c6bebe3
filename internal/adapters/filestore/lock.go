package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	lockRetryInterval = 10 * time.Millisecond
	// A lock file older than this is left over from a crashed writer.
	lockStaleAfter = 30 * time.Second
)

// lock serializes read-modify-write cycles on the file across goroutines and processes.
// The returned function releases the lock.
func (s *TokenSlot) lock(ctx context.Context) (func(), error) {
	s.mu.Lock()

	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(s.path), err)
	}

	lockPath := s.lockPath()
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileMode)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			_ = f.Close()
			return func() {
				_ = os.Remove(lockPath)
				s.mu.Unlock()
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			s.mu.Unlock()
			return nil, fmt.Errorf("create lock %s: %w", lockPath, err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			_ = os.Remove(lockPath)
			continue
		}

		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.mu.Unlock()
			return nil, fmt.Errorf("lock %s: %w", s.path, ctx.Err())
		case <-timer.C:
		}
	}
}

func (s *TokenSlot) lockPath() string { return s.path + ".lock" }
