package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader loads project documents from YAML or CUE files, validates them,
// and optionally watches them for changes.
type Loader struct {
	logger   zerolog.Logger
	validate *validator.Validate
	schemas  *SchemaRegistry
	cuectx   *cue.Context
	cache    map[string]*LoadResult
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
}

// NewLoader creates a new document loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:   logger.With().Str("component", "config-loader").Logger(),
		validate: validator.New(),
		schemas:  NewSchemaRegistry(),
		cuectx:   cuecontext.New(),
		cache:    make(map[string]*LoadResult),
	}
}

// Schemas returns the schema registry backing this loader.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// Load reads, parses, and validates one project document.
func (l *Loader) Load(ctx context.Context, path string) (*LoadResult, error) {
	l.mu.RLock()
	if cached, exists := l.cache[path]; exists {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	doc := &Document{}
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML document %s: %w", path, err)
		}
	case strings.HasSuffix(path, ".cue"):
		val := l.cuectx.CompileString(string(data), cue.Filename(path))
		if err := val.Err(); err != nil {
			return nil, fmt.Errorf("failed to compile CUE document %s: %w", path, err)
		}
		if err := val.Decode(doc); err != nil {
			return nil, fmt.Errorf("failed to decode CUE document %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported document type: %s", path)
	}

	if err := l.validateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("document %s: %w", path, err)
	}

	result := &LoadResult{
		Document:   doc,
		SourceFile: path,
		LoadedAt:   time.Now().UTC(),
	}

	l.mu.Lock()
	l.cache[path] = result
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", path).
		Str("stack", doc.Stack.Name).
		Int("strategies", len(doc.Drift.Strategies)).
		Int("bindings", len(doc.Bindings)).
		Msg("Document loaded")

	return result, nil
}

// LoadFromPaths loads documents from files or directories.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]*LoadResult, error) {
	var results []*LoadResult

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat path: %w", err)
		}

		if info.IsDir() {
			dirResults, err := l.loadFromDirectory(ctx, path)
			if err != nil {
				return nil, err
			}
			results = append(results, dirResults...)
			continue
		}

		result, err := l.Load(ctx, path)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	l.logger.Info().
		Int("total", len(results)).
		Int("sources", len(paths)).
		Msg("Documents loaded from paths")

	return results, nil
}

// loadFromDirectory loads all document files from a directory recursively.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]*LoadResult, error) {
	var results []*LoadResult

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !isDocumentFile(path) {
			return nil
		}

		result, err := l.Load(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load document")
			return nil // Continue processing other files
		}

		results = append(results, result)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return results, nil
}

// validateDocument runs struct-tag validation, schema validation, and the
// binding directive checks.
func (l *Loader) validateDocument(ctx context.Context, doc *Document) error {
	if err := l.validate.Struct(doc); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := l.schemas.ValidateDocument(ctx, doc); err != nil {
		return err
	}

	// Binding declarations must build into valid directives.
	for i, b := range doc.Bindings {
		if _, err := b.Directive(); err != nil {
			return fmt.Errorf("bindings[%d] (%s -> %s): %w", i, b.Source, b.Target, err)
		}
	}

	return nil
}

// Watch starts watching paths for document changes, reloading on change.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]*LoadResult) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			if err := l.watchDirectory(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			}
		} else {
			if err := watcher.Add(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
			}
		}
	}

	go l.processEvents(ctx, paths, reloadFn)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching document paths")

	return nil
}

// watchDirectory adds a directory tree to the watcher.
func (l *Loader) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.watcher.Add(path)
		}
		return nil
	})
}

// processEvents processes file system events and triggers reloads.
func (l *Loader) processEvents(ctx context.Context, paths []string, reloadFn func([]*LoadResult) error) {
	// Debounce reload events
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if l.watcher != nil {
				_ = l.watcher.Close()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && isDocumentFile(event.Name) {
				l.logger.Debug().
					Str("file", event.Name).
					Str("op", event.Op.String()).
					Msg("Document changed")

				l.mu.Lock()
				delete(l.cache, event.Name)
				l.mu.Unlock()

				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(reloadDelay, func() {
					if err := l.triggerReload(ctx, paths, reloadFn); err != nil {
						l.logger.Error().Err(err).Msg("Failed to reload documents")
					}
				})
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// triggerReload reloads all documents from watched paths.
func (l *Loader) triggerReload(ctx context.Context, paths []string, reloadFn func([]*LoadResult) error) error {
	l.logger.Info().Msg("Reloading documents...")

	results, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload documents: %w", err)
	}

	if err := reloadFn(results); err != nil {
		return fmt.Errorf("failed to apply reloaded documents: %w", err)
	}

	l.logger.Info().
		Int("count", len(results)).
		Msg("Documents reloaded successfully")

	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// ClearCache clears the document cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]*LoadResult)
	l.logger.Debug().Msg("Document cache cleared")
}

func isDocumentFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") ||
		strings.HasSuffix(path, ".yml") ||
		strings.HasSuffix(path, ".cue")
}
