// Package configsvc watches preset files and hands parsed configuration
// to the engine whenever they change.
package configsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ghodss/yaml"
	"go.uber.org/zap"
)

type subscriber func(event fsnotify.Event)

// Service multiplexes one fsnotify watcher over any number of registered
// configuration files.
type Service struct {
	log *zap.Logger

	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	subscribers []subscriber
	ready       chan struct{}
}

func New(log *zap.Logger) *Service {
	return &Service{
		log:   log.Named("configsvc"),
		ready: make(chan struct{}),
	}
}

// Start runs the watch loop until the context ends. Register requires a
// started service; callers wait on Ready first.
func (s *Service) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	s.watcher = watcher
	defer watcher.Close()
	close(s.ready)
	s.log.Info("Config service started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.mu.Lock()
			for _, sub := range s.subscribers {
				sub(event)
			}
			s.mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("Watcher error", zap.Error(err))
		}
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Register watches one YAML file and calls fn with the re-read content on
// every write. The initial content is returned synchronously. A missing
// file is created from def, so a fresh installation starts with a valid
// preset on disk.
//
// The service is passed as a parameter rather than a receiver so the
// function can be generic.
func Register[T any](s *Service, path string, def T, fn func(config T, err error)) (T, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return def, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	config, err := readFile(absPath, def)
	if os.IsNotExist(err) {
		if err = writeFile(absPath, def); err != nil {
			return def, fmt.Errorf("failed to initialize %s: %w", absPath, err)
		}
		config = def
	} else if err != nil {
		return def, err
	}

	// Editors replace files instead of writing in place, so the watch goes
	// on the directory.
	if err := s.watcher.Add(filepath.Dir(absPath)); err != nil {
		return def, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	s.mu.Lock()
	s.subscribers = append(s.subscribers, func(event fsnotify.Event) {
		if event.Name != absPath {
			return
		}
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		newConfig, err := readFile(absPath, def)
		fn(newConfig, err)
	})
	s.mu.Unlock()

	return config, nil
}

func readFile[T any](path string, def T) (T, error) {
	yamlB, err := os.ReadFile(path)
	if err != nil {
		return def, err
	}
	jsonB, err := yaml.YAMLToJSON(yamlB)
	if err != nil {
		return def, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if err := json.Unmarshal(jsonB, &def); err != nil {
		return def, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return def, nil
}

func writeFile[T any](path string, config T) error {
	jsonB, err := json.Marshal(config)
	if err != nil {
		return err
	}
	yamlB, err := yaml.JSONToYAML(jsonB)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, yamlB, 0o644)
}
