// Package watcher reloads runtime settings when the config file changes.
package watcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// defaultDebounce coalesces editor save bursts into one reload.
const defaultDebounce = 500 * time.Millisecond

// ChangeFunc receives the new file content after a change.
type ChangeFunc func(content []byte)

// ConfigWatcher reports content changes of one config file. It watches the
// parent directory so atomic renames are seen.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	onChange ChangeFunc

	mu       sync.Mutex
	lastHash string
	fs       *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a ConfigWatcher. A non-positive debounce uses the default.
func New(path string, debounce time.Duration, onChange ChangeFunc) *ConfigWatcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &ConfigWatcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		done:     make(chan struct{}),
	}
}

// Start records the current file hash and begins watching until ctx is
// canceled or Stop is called.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if _, hash, err := readHash(w.path); err == nil {
		w.lastHash = hash
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("watcher: initial read: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: create fsnotify: %w", err)
	}
	if errAdd := fsw.Add(filepath.Dir(w.path)); errAdd != nil {
		_ = fsw.Close()
		return fmt.Errorf("watcher: watch %s: %w", filepath.Dir(w.path), errAdd)
	}
	w.fs = fsw

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop terminates the watch loop and waits for it to exit.
func (w *ConfigWatcher) Stop() error {
	if w == nil {
		return nil
	}
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fs != nil {
		return w.fs.Close()
	}
	return nil
}

func (w *ConfigWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case errWatch, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.WithError(errWatch).Warn("watcher: fsnotify error")
		case <-fire:
			fire = nil
			w.check()
		}
	}
}

// check reloads the file and calls onChange when its content hash moved.
func (w *ConfigWatcher) check() {
	content, hash, err := readHash(w.path)
	if err != nil {
		log.WithError(err).WithField("path", w.path).Warn("watcher: read config failed")
		return
	}
	w.mu.Lock()
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	w.lastHash = hash
	w.mu.Unlock()

	log.WithField("path", w.path).Infof("watcher: config changed (%s)", hash[:12])
	if w.onChange != nil {
		w.onChange(content)
	}
}

func readHash(path string) ([]byte, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(bytes.TrimSpace(content))
	return content, hex.EncodeToString(sum[:]), nil
}
