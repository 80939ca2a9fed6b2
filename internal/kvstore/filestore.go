package kvstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/telnet2/winbus/internal/logging"
)

const fileExt = ".json"

// FileStore is a Store backed by a shared directory: one file per key,
// written atomically via a lock file and tmp+rename. An fsnotify watch on
// the directory turns file events from any process (including this one)
// into key change notifications.
type FileStore struct {
	dir     string
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	handlers []handlerEntry
	nextID   uint64
	locks    map[string]*fileLock
	closed   bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewFileStore opens (creating if needed) the store directory and starts
// watching it for changes.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", ErrUnavailable)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch store directory: %w", err)
	}

	s := &FileStore{
		dir:     dir,
		watcher: w,
		locks:   make(map[string]*fileLock),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go s.run()

	logging.Debug().Str("dir", dir).Msg("file store opened")
	return s, nil
}

// keyToFile maps a key to its file path. Keys are escaped so separators and
// other unsafe characters cannot leave the store directory.
func (s *FileStore) keyToFile(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileExt)
}

// fileToKey is the inverse of keyToFile. ok is false for files that do not
// carry a key (lock files, tmp files, unrelated names).
func fileToKey(path string) (key string, ok bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
	if err != nil {
		return "", false
	}
	return key, true
}

// Get returns the current value for key.
func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	data, err := os.ReadFile(s.keyToFile(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read %q: %w", key, ErrUnavailable)
	}
	return string(data), nil
}

// Set writes value under key. The write goes to a tmp file first and is
// renamed into place, so concurrent readers in other processes see either
// the old value or the new one, never a partial write.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	path := s.keyToFile(key)

	lock := s.getLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %q: %w", key, ErrUnavailable)
	}
	defer lock.Unlock()

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(value), 0o644); err != nil {
		return fmt.Errorf("write %q: %w", key, ErrUnavailable)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("commit %q: %w", key, ErrUnavailable)
	}
	return nil
}

// OnChange registers fn for change notifications.
func (s *FileStore) OnChange(fn ChangeHandler) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, handlerEntry{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, entry := range s.handlers {
			if entry.id == id {
				s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
				break
			}
		}
	}
}

// Close stops the watch loop and releases the fsnotify watcher.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	err := s.watcher.Close()
	<-s.doneCh
	return err
}

// run pumps fsnotify events into key notifications until Close. If the
// watcher dies it is re-created with exponential backoff; writes that land
// while no watcher is active are missed, which the bus tolerates the same
// way it tolerates coalescing.
func (s *FileStore) run() {
	defer close(s.doneCh)

	w := s.watcher
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-w.Events:
			if !ok {
				if w = s.rewatch(); w == nil {
					return
				}
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if key, ok := fileToKey(ev.Name); ok {
				s.notify(key)
			}
		case err, ok := <-w.Errors:
			if !ok {
				if w = s.rewatch(); w == nil {
					return
				}
				continue
			}
			logging.Error().Err(err).Str("dir", s.dir).Msg("store watcher error")
		}
	}
}

// rewatch replaces a dead watcher. Returns nil when the store is closing.
func (s *FileStore) rewatch() *fsnotify.Watcher {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0

	for {
		select {
		case <-s.stopCh:
			return nil
		case <-time.After(b.NextBackOff()):
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(s.dir); err != nil {
				w.Close()
			}
		}
		if err != nil {
			logging.Warn().Err(err).Str("dir", s.dir).Msg("store watcher re-create failed")
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			w.Close()
			return nil
		}
		s.watcher = w
		s.mu.Unlock()

		logging.Info().Str("dir", s.dir).Msg("store watcher re-established")
		return w
	}
}

// notify calls every registered handler with key, outside the store lock.
func (s *FileStore) notify(key string) {
	s.mu.Lock()
	handlers := make([]ChangeHandler, 0, len(s.handlers))
	for _, entry := range s.handlers {
		handlers = append(handlers, entry.fn)
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(key)
	}
}

// getLock returns the lock guarding a key file.
func (s *FileStore) getLock(path string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		lock = newFileLock(path)
		s.locks[path] = lock
	}
	return lock
}
