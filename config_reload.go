package netbatcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadConfigurationFile reads and parses a YAML Configuration file.
func LoadConfigurationFile(path string) (Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, fmt.Errorf("read config file: %w", err)
	}
	var cfg Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// ConfigReloader watches a YAML configuration file's directory and invokes
// onChange with the freshly parsed Configuration whenever the file is
// written and its content actually changed (a checksum, not just the Write
// event, decides that — editors frequently emit several Write events per
// save).
type ConfigReloader struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(Configuration)

	mu       sync.Mutex
	watching bool
	lastSum  [32]byte
}

// NewConfigReloader creates a reloader for the YAML file at path.
func NewConfigReloader(path string, onChange func(Configuration)) (*ConfigReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &ConfigReloader{path: path, watcher: watcher, onChange: onChange}, nil
}

// Watch begins watching until ctx is canceled or Stop is called.
func (r *ConfigReloader) Watch(ctx context.Context) error {
	r.mu.Lock()
	if r.watching {
		r.mu.Unlock()
		return nil
	}
	dir := filepath.Dir(r.path)
	if err := r.watcher.Add(dir); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("watch dir %s: %w", dir, err)
	}
	r.watching = true
	r.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-r.watcher.Events:
				if !ok {
					return
				}
				if ev.Name != r.path || ev.Op&fsnotify.Write != fsnotify.Write {
					continue
				}
				r.reload()
			case _, ok := <-r.watcher.Errors:
				if !ok {
					return
				}
			case <-ctx.Done():
				r.watcher.Close()
				return
			}
		}
	}()
	return nil
}

// Stop releases the underlying watcher.
func (r *ConfigReloader) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.watching {
		return nil
	}
	r.watching = false
	return r.watcher.Close()
}

func (r *ConfigReloader) reload() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return
	}
	sum := sha256.Sum256(data)
	r.mu.Lock()
	unchanged := sum == r.lastSum
	r.lastSum = sum
	r.mu.Unlock()
	if unchanged {
		return
	}
	var cfg Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return
	}
	if r.onChange != nil {
		r.onChange(cfg)
	}
}
