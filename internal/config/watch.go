package config

import (
	"context"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	appLog "ontime/internal/log"
)

const (
	defaultDebounce    = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Watcher reloads the config file when it changes on disk and hands every
// valid, changed config to onChange. Invalid files are logged and ignored.
type Watcher struct {
	path     string
	onChange func(*Config)
	debounce time.Duration

	mu       sync.Mutex
	lastHash uint64
}

func NewWatcher(path string, onChange func(*Config)) *Watcher {
	return &Watcher{path: path, onChange: onChange, debounce: defaultDebounce}
}

// Prime records cfg as the currently applied config so an unchanged
// rewrite of the file is not published.
func (w *Watcher) Prime(cfg *Config) {
	w.mu.Lock()
	w.lastHash = hashConfig(cfg)
	w.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		appLog.Warn("config read failed", "path", w.path, "err", err.Error())
		return
	}
	cfg, err := Parse(data)
	if err != nil {
		appLog.Warn("config rejected", "path", w.path, "err", err.Error())
		return
	}

	h := hashConfig(cfg)
	w.mu.Lock()
	unchanged := h != 0 && h == w.lastHash
	if !unchanged {
		w.lastHash = h
	}
	w.mu.Unlock()
	if unchanged {
		appLog.Debug("config unchanged; skipping publish", "path", w.path)
		return
	}

	appLog.Info("config reloaded", "path", w.path, "schedules", len(cfg.Schedules))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Watch blocks until ctx is done. The parent directory is watched so that
// editors replacing the file by rename are seen. A broken watcher is
// recreated with jittered exponential backoff.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
		return wait
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, w.reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fw.Add(dir); err != nil {
				_ = fw.Close()
			}
		}
		if err != nil {
			appLog.Warn("config watch init failed", "dir", dir, "err", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(nextWait()):
				continue
			}
		}

		backoff = restartBackoffBase
		appLog.Debug("config watcher started", "dir", dir, "file", file)

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				if !strings.EqualFold(filepath.Base(ev.Name), file) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					schedule()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means events may have been missed; reload once.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					schedule()
					continue
				}
				appLog.Warn("config watch error", "dir", dir, "err", err.Error())
			}
		}

		_ = fw.Close()
		wait := nextWait()
		appLog.Warn("config watcher stopped; restarting", "dir", dir, "backoff", wait.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
