package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the previous and the new configuration after a
// successful reload.
type ReloadFunc func(old, new *Config)

type Manager struct {
	path   string
	logger *log.Logger

	mu          sync.RWMutex
	config      *Config
	subscribers []ReloadFunc

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

func NewManager(path string, logger *log.Logger) (*Manager, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if logger == nil {
		logger = log.Default()
	}

	config, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		path:   path,
		logger: logger.WithPrefix("config"),
		config: config,
	}, nil
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to prevent external modification
	configCopy := *m.config
	return &configCopy
}

// Subscribe registers fn to run after every successful reload.
func (m *Manager) Subscribe(fn ReloadFunc) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.mu.Unlock()
}

func (m *Manager) StartWatching(ctx context.Context) error {
	if m.watcher != nil {
		return errors.New("already watching")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory: editors replace the file rather than writing it.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return err
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.watchLoop(ctx)

	m.logger.Info("watching for changes", "path", m.path)
	return nil
}

func (m *Manager) Stop() {
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer m.wg.Done()
	configFileName := filepath.Base(m.path)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != configFileName {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				m.logger.Info("file change detected, reloading", "file", event.Name)
				m.Reload()
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("watcher error", "err", err)

		case <-ctx.Done():
			return
		}
	}
}

// Reload re-reads the file. An unreadable or invalid file keeps the current
// configuration.
func (m *Manager) Reload() bool {
	newConfig, err := Load(m.path)
	if err != nil {
		m.logger.Warn("failed to reload config", "err", err)
		return false
	}
	if err := newConfig.Validate(); err != nil {
		m.logger.Warn("invalid config after reload, keeping current", "err", err)
		return false
	}

	m.mu.Lock()
	old := m.config
	m.config = newConfig
	subscribers := append([]ReloadFunc(nil), m.subscribers...)
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(old, newConfig)
	}

	m.logger.Info("configuration reloaded")
	return true
}
