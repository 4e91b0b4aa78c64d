package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Holder provides thread-safe access to the settings file with hot reload.
// A failed reload keeps the previous config.
type Holder struct {
	mu       sync.RWMutex
	config   Config
	path     string
	watcher  *fsnotify.Watcher
	onChange []func(Config)
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewHolder(path string) (*Holder, error) {
	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	return &Holder{
		config: cfg,
		path:   absPath,
		stopCh: make(chan struct{}),
	}, nil
}

func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

func (h *Holder) Reload() error {
	newCfg, err := LoadFrom(h.path)
	if err != nil {
		log.Printf("config level=warn event=reload_failed path=%s error=%v", h.path, err)
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	h.config = newCfg
	callbacks := append([]func(Config){}, h.onChange...)
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(newCfg)
	}
	return nil
}

func (h *Holder) OnChange(fn func(Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// WatchFile watches the config file's directory so atomic editor saves
// (rename-over) are still observed.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go h.watchLoop()
	return nil
}

func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := h.Reload(); err != nil {
					log.Printf("config level=warn event=watch_reload_failed error=%v", err)
				}
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config level=warn event=watcher_error error=%v", err)
		case <-h.stopCh:
			return
		}
	}
}
