// Package watcher reports content changes of individual files.
package watcher

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileWatcher watches files for content changes. The parent directory is
// watched rather than the file so editors that save by renaming a temporary
// file over the original are still seen.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu        sync.Mutex
	files     map[string]*watchedFile
	dirs      map[string]int
	timers    map[string]*time.Timer
	closed    bool
	wg        sync.WaitGroup
	startOnce sync.Once
}

type watchedFile struct {
	hash     string
	callback func(string)
	debounce time.Duration
}

// NewFileWatcher creates a watcher; call Start to begin delivering changes
func NewFileWatcher(logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &FileWatcher{
		watcher: w,
		logger:  logger,
		files:   make(map[string]*watchedFile),
		dirs:    make(map[string]int),
		timers:  make(map[string]*time.Timer),
	}, nil
}

// Watch calls callback whenever the content of path changes. Bursts of
// events within debounce are collapsed into one call. The file does not
// have to exist yet.
func (fw *FileWatcher) Watch(path string, callback func(string), debounce time.Duration) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	hash, err := fileHash(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to get initial hash: %w", err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return fmt.Errorf("watcher is closed")
	}
	if _, exists := fw.files[path]; !exists {
		dir := filepath.Dir(path)
		if fw.dirs[dir] == 0 {
			if err := fw.watcher.Add(dir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
		}
		fw.dirs[dir]++
	}

	fw.files[path] = &watchedFile{hash: hash, callback: callback, debounce: debounce}
	return nil
}

// Unwatch stops reporting changes of path
func (fw *FileWatcher) Unwatch(path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, exists := fw.files[path]; !exists {
		return nil
	}
	delete(fw.files, path)
	if t, ok := fw.timers[path]; ok {
		t.Stop()
		delete(fw.timers, path)
	}

	dir := filepath.Dir(path)
	fw.dirs[dir]--
	if fw.dirs[dir] > 0 {
		return nil
	}
	delete(fw.dirs, dir)
	return fw.watcher.Remove(dir)
}

// Start begins delivering changes in the background
func (fw *FileWatcher) Start() {
	fw.startOnce.Do(func() {
		fw.wg.Add(1)
		go fw.watchLoop()
	})
}

func (fw *FileWatcher) watchLoop() {
	defer fw.wg.Done()

	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			fw.schedule(filepath.Clean(event.Name))

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// schedule runs the change check for path, after the debounce delay if any
func (fw *FileWatcher) schedule(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	f, ok := fw.files[path]
	if !ok || fw.closed {
		return
	}

	if f.debounce == 0 {
		fw.wg.Add(1)
		go func() {
			defer fw.wg.Done()
			fw.handleFileChange(path)
		}()
		return
	}

	if t, exists := fw.timers[path]; exists {
		t.Stop()
	}
	fw.timers[path] = time.AfterFunc(f.debounce, func() {
		fw.mu.Lock()
		delete(fw.timers, path)
		fw.mu.Unlock()
		fw.handleFileChange(path)
	})
}

// handleFileChange calls the callback when the content hash moved
func (fw *FileWatcher) handleFileChange(path string) {
	newHash, err := fileHash(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		fw.logger.Warn("failed to hash file", zap.String("path", path), zap.Error(err))
		return
	}

	fw.mu.Lock()
	f, ok := fw.files[path]
	if !ok || fw.closed || f.hash == newHash {
		fw.mu.Unlock()
		return
	}
	f.hash = newHash
	callback := f.callback
	fw.mu.Unlock()

	fw.logger.Debug("file changed", zap.String("path", path))
	callback(path)
}

func fileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// Close stops the watcher and waits for in-flight callbacks
func (fw *FileWatcher) Close() error {
	fw.mu.Lock()
	if fw.closed {
		fw.mu.Unlock()
		return nil
	}
	fw.closed = true
	for path, t := range fw.timers {
		t.Stop()
		delete(fw.timers, path)
	}
	fw.mu.Unlock()

	err := fw.watcher.Close()
	fw.wg.Wait()
	return err
}
