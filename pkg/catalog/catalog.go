// Package catalog loads named exercises from YAML files and serves
// lookups for start_session catalog references. The catalog can watch
// its directory and hot-reload on change.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/swaralab/riyaz/pkg/core/practice"
)

const reloadDebounce = 200 * time.Millisecond

type fileEntry struct {
	Name       string   `yaml:"name"`
	Arohanam   []string `yaml:"arohanam"`
	Avarohanam []string `yaml:"avarohanam"`
}

type catalogFile struct {
	Exercises []fileEntry `yaml:"exercises"`
}

// Catalog is a reloadable set of named exercises.
type Catalog struct {
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	exercises map[string]practice.Exercise

	watcher *fsnotify.Watcher
}

// Load reads all YAML files in dir. Files that fail to parse or
// contain invalid exercises are skipped with a warning; a directory
// that cannot be read is an error.
func Load(dir string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		dir:       dir,
		logger:    logger,
		exercises: make(map[string]practice.Exercise),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Resolve looks up an exercise by name. Implements the session
// layer's CatalogResolver.
func (c *Catalog) Resolve(name string) (practice.Exercise, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ex, ok := c.exercises[name]
	return ex, ok
}

// Names returns the sorted exercise names currently loaded.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.exercises))
	for name := range c.exercises {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded exercises.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.exercises)
}

// Reload re-reads the directory and atomically replaces the loaded
// set.
func (c *Catalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading catalog dir: %w", err)
	}

	loaded := make(map[string]practice.Exercise)
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if err := c.loadFile(path, loaded); err != nil {
			c.logger.Warn("skipping catalog file", "path", path, "error", err)
		}
	}

	c.mu.Lock()
	c.exercises = loaded
	c.mu.Unlock()

	c.logger.Info("exercise catalog loaded", "dir", c.dir, "exercises", len(loaded))
	return nil
}

func (c *Catalog) loadFile(path string, into map[string]practice.Exercise) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing yaml: %w", err)
	}
	for _, entry := range file.Exercises {
		ex := practice.Exercise{
			Name:       entry.Name,
			Arohanam:   entry.Arohanam,
			Avarohanam: entry.Avarohanam,
		}
		if err := ex.Validate(); err != nil {
			return fmt.Errorf("exercise %q: %w", entry.Name, err)
		}
		if _, dup := into[ex.Name]; dup {
			c.logger.Warn("duplicate catalog exercise; keeping latest", "name", ex.Name, "path", path)
		}
		into[ex.Name] = ex
	}
	return nil
}

// Watch reloads the catalog when files in its directory change.
// Events are debounced so editors that write in bursts trigger one
// reload. Blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	c.watcher = watcher
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(c.dir); err != nil {
		return err
	}

	var pending bool
	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAMLFile(filepath.Base(event.Name)) {
				continue
			}
			if !pending {
				pending = true
				timer.Reset(reloadDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("catalog watcher error", "error", err)

		case <-timer.C:
			pending = false
			if err := c.Reload(); err != nil {
				c.logger.Warn("catalog reload failed", "error", err)
			}
		}
	}
}

func isYAMLFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
