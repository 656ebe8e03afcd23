package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces bursts of file events into one reload.
const reloadDebounce = 500 * time.Millisecond

// Loader reads guard policies from .rego and .json files. Rego files carry
// their metadata in a leading comment block:
//
//	# Blocks replacement of stateful resources.
//	# severity: critical
//	# tags: drift, stateful
//	package loom.policies.example
//
// Directive lines (key: value) set the policy fields; plain comment lines
// become the description. Loaded files are cached by path and modification
// time, so an unchanged file is parsed once.
type Loader struct {
	logger  zerolog.Logger
	mu      sync.RWMutex
	cache   map[string]cachedPolicy
	watcher *fsnotify.Watcher
}

// cachedPolicy pins a parsed policy to the file state it was read from.
type cachedPolicy struct {
	policy  *Policy
	modTime time.Time
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cachedPolicy),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var allPolicies []Policy

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		allPolicies = append(allPolicies, policies...)
	}

	l.logger.Info().
		Int("total", len(allPolicies)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return allPolicies, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	policy, err := l.loadFromFile(ctx, path)
	if err != nil {
		return nil, err
	}

	return []Policy{*policy}, nil
}

// loadFromDirectory loads every policy file in a directory tree. Files that
// fail to parse are skipped with a warning so one broken policy does not
// take down the rest of the gate.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		policy, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			return nil
		}

		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return policies, nil
}

// loadFromFile loads a policy from a single file, serving from cache while
// the file is unmodified.
func (l *Loader) loadFromFile(ctx context.Context, filePath string) (*Policy, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	l.mu.RLock()
	if cached, exists := l.cache[filePath]; exists && cached.modTime.Equal(info.ModTime()) {
		l.mu.RUnlock()
		return cached.policy, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policy *Policy
	switch {
	case strings.HasSuffix(filePath, ".rego"):
		policy, err = l.parseRegoFile(filePath, data)
	case strings.HasSuffix(filePath, ".json"):
		policy, err = l.parseJSONFile(data)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	l.mu.Lock()
	l.cache[filePath] = cachedPolicy{policy: policy, modTime: info.ModTime()}
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", filePath).
		Str("policy", policy.Name).
		Str("severity", string(policy.Severity)).
		Msg("Policy loaded from file")

	return policy, nil
}

// parseRegoFile builds a Policy from a .rego file, reading the metadata
// directives out of the leading comment block.
func (l *Loader) parseRegoFile(filePath string, data []byte) (*Policy, error) {
	policy := &Policy{
		Name:      strings.TrimSuffix(filepath.Base(filePath), ".rego"),
		Rego:      string(data),
		Severity:  SeverityWarning,
		Enabled:   true,
		Tags:      []string{},
		Metadata:  map[string]interface{}{"source": filePath},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	var description strings.Builder
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" {
				break
			}
			continue
		}

		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if comment == "" {
			continue
		}

		key, value, isDirective := strings.Cut(comment, ":")
		if isDirective {
			if ok, err := policy.applyDirective(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
				return nil, err
			} else if ok {
				continue
			}
		}

		if description.Len() > 0 {
			description.WriteString(" ")
		}
		description.WriteString(comment)
	}
	policy.Description = description.String()

	return policy, nil
}

// applyDirective applies one metadata comment directive. The bool reports
// whether the key was a recognized directive.
func (p *Policy) applyDirective(key, value string) (bool, error) {
	switch strings.ToLower(key) {
	case "severity":
		severity, err := parseSeverity(value)
		if err != nil {
			return false, err
		}
		p.Severity = severity
	case "enabled":
		p.Enabled = value != "false"
	case "tags":
		for _, tag := range strings.Split(value, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				p.Tags = append(p.Tags, tag)
			}
		}
	default:
		return false, nil
	}
	return true, nil
}

// parseSeverity validates a severity value.
func parseSeverity(value string) (Severity, error) {
	switch s := Severity(strings.ToLower(value)); s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return s, nil
	default:
		return "", fmt.Errorf("unknown severity %q", value)
	}
}

// parseJSONFile parses a JSON policy definition.
func (l *Loader) parseJSONFile(data []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if err := applyPolicyDefaults(&policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// applyPolicyDefaults validates a declared policy and fills its defaults.
func applyPolicyDefaults(policy *Policy) error {
	if policy.Name == "" {
		return fmt.Errorf("policy has no name")
	}
	if policy.Rego == "" {
		return fmt.Errorf("policy %s has no rego body", policy.Name)
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	} else if _, err := parseSeverity(string(policy.Severity)); err != nil {
		return fmt.Errorf("policy %s: %w", policy.Name, err)
	}
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = time.Now()
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = time.Now()
	}
	return nil
}

// LoadBundle loads and validates a policy bundle.
func (l *Loader) LoadBundle(ctx context.Context, bundlePath string) (*Bundle, error) {
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}

	if bundle.Name == "" {
		return nil, fmt.Errorf("bundle %s has no name", bundlePath)
	}
	if len(bundle.Policies) == 0 {
		return nil, fmt.Errorf("bundle %s declares no policies", bundle.Name)
	}

	seen := make(map[string]bool, len(bundle.Policies))
	for i := range bundle.Policies {
		if err := applyPolicyDefaults(&bundle.Policies[i]); err != nil {
			return nil, fmt.Errorf("bundle %s: %w", bundle.Name, err)
		}
		if seen[bundle.Policies[i].Name] {
			return nil, fmt.Errorf("bundle %s declares policy %s twice", bundle.Name, bundle.Policies[i].Name)
		}
		seen[bundle.Policies[i].Name] = true
	}

	l.logger.Info().
		Str("bundle", bundle.Name).
		Str("version", bundle.Version).
		Int("policies", len(bundle.Policies)).
		Msg("Policy bundle loaded")

	return &bundle, nil
}

// Watch starts watching paths for policy changes. On each change burst the
// affected cache entries are dropped, every watched path is reloaded and the
// result is handed to reloadFn. Watching stops when the context is cancelled
// or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		if err := l.watchPath(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	go l.processEvents(ctx, paths, reloadFn)

	l.logger.Info().Int("paths", len(paths)).Msg("Started watching policy paths")
	return nil
}

// watchPath registers a file, or a directory tree, with the watcher.
func (l *Loader) watchPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return l.watcher.Add(path)
	}
	return filepath.WalkDir(path, func(sub string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.watcher.Add(sub)
		}
		return nil
	})
}

func (l *Loader) processEvents(ctx context.Context, paths []string, reloadFn func([]Policy) error) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = l.StopWatching()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isPolicyFile(event.Name) {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDebounce, func() {
				policies, err := l.LoadFromPaths(ctx, paths)
				if err == nil {
					err = reloadFn(policies)
				}
				if err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload policies")
					return
				}
				l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// ClearCache clears the policy cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]cachedPolicy)
	l.logger.Debug().Msg("Policy cache cleared")
}

// isPolicyFile reports whether a path names a loadable policy file.
func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}
