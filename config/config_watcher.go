package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Verify at compile time that ConfigWatcher implements Watcher
var _ Watcher = (*ConfigWatcher)(nil)

// ConfigWatcher reloads the configuration file when it changes and hands the
// new value to subscribers. Invalid files are logged and ignored; the last
// good configuration stays current.
type ConfigWatcher struct {
	currentConfig atomic.Value
	configPath    string
	watcher       *fsnotify.Watcher
	logger        *zap.Logger

	mu          sync.Mutex
	subscribers []chan *Config
	done        chan struct{}
}

// NewConfigWatcher loads configPath and starts watching it.
func NewConfigWatcher(configPath string, logger *zap.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	initialConfig, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	cw := &ConfigWatcher{
		configPath: filepath.Clean(configPath),
		watcher:    watcher,
		logger:     logger,
		done:       make(chan struct{}),
	}
	cw.currentConfig.Store(initialConfig)

	go cw.watchConfig()
	return cw, nil
}

// Subscribe returns a channel that receives each successfully reloaded
// configuration. Slow subscribers miss intermediate values.
func (cw *ConfigWatcher) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	cw.mu.Lock()
	cw.subscribers = append(cw.subscribers, ch)
	cw.mu.Unlock()
	return ch
}

// GetCurrentConfig returns the current configuration thread-safely
func (cw *ConfigWatcher) GetCurrentConfig() *Config {
	return cw.currentConfig.Load().(*Config)
}

func (cw *ConfigWatcher) watchConfig() {
	defer close(cw.done)
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.configPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				cw.handleConfigChange()
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

func (cw *ConfigWatcher) handleConfigChange() {
	cw.logger.Info("detected config file change, reloading", zap.String("path", cw.configPath))

	newConfig, err := LoadFile(cw.configPath)
	if err != nil {
		cw.logger.Error("failed to load new config", zap.Error(err))
		return
	}

	cw.currentConfig.Store(newConfig)

	cw.mu.Lock()
	for _, sub := range cw.subscribers {
		select {
		case sub <- newConfig:
		default:
		}
	}
	cw.mu.Unlock()

	cw.logger.Info("configuration reloaded")
}

// Close stops watching and closes every subscriber channel.
func (cw *ConfigWatcher) Close() error {
	err := cw.watcher.Close()
	<-cw.done

	cw.mu.Lock()
	for _, sub := range cw.subscribers {
		close(sub)
	}
	cw.subscribers = nil
	cw.mu.Unlock()
	return err
}
