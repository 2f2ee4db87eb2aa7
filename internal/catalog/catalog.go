// ABOUTME: Model catalog loader with provider/model lookup
// ABOUTME: Optionally watches the catalog file and hot-reloads on change

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Model is one catalog record.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Reasoning bool   `json:"reasoning"`
}

// Catalog holds the loaded model list and serves lookups.
type Catalog struct {
	mu     sync.RWMutex
	path   string
	models []Model
	logger *slog.Logger
}

// Load reads the catalog file at path. A missing file yields an empty
// catalog rather than an error, since catalog content is externally managed.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		path:   path,
		logger: logger.With("component", "catalog"),
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup finds a model by provider and model id or name.
func (c *Catalog) Lookup(provider, model string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.models {
		if m.Provider != provider {
			continue
		}
		if m.ID == model || m.Name == model {
			return m, true
		}
	}
	return Model{}, false
}

// Models returns a copy of the loaded model list.
func (c *Catalog) Models() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

// Watch reloads the catalog whenever its file changes, until ctx is
// cancelled. Editors and config tools often replace files via rename, so
// the watch is on the parent directory, filtered to the catalog filename.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating catalog watcher: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching catalog directory %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(c.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := c.reload(); err != nil {
					c.logger.Warn("catalog reload failed", "error", err)
					continue
				}
				c.logger.Info("catalog reloaded", "path", c.path, "models", len(c.Models()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("catalog watcher error", "error", err)
			}
		}
	}()

	return nil
}

// reload reads and parses the catalog file, replacing the model list.
func (c *Catalog) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.mu.Lock()
			c.models = nil
			c.mu.Unlock()
			return nil
		}
		return fmt.Errorf("reading catalog: %w", err)
	}

	var models []Model
	if err := json.Unmarshal(data, &models); err != nil {
		return fmt.Errorf("parsing catalog: %w", err)
	}

	c.mu.Lock()
	c.models = models
	c.mu.Unlock()
	return nil
}
