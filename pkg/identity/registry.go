package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/hfaried/parley/pkg/provider"
)

// maxFileSize caps the identity file at 1MB. A persona table should
// never come close.
const maxFileSize = 1 * 1024 * 1024

// registryFile is the on-disk shape of the identity table.
type registryFile struct {
	Default    string     `json:"default,omitempty"`
	Identities []Identity `json:"identities"`
}

// RegistryConfig holds configuration for a file-backed registry.
type RegistryConfig struct {
	// Path to the JSON identity file.
	Path string
	// DefaultName overrides the file's own default entry when set.
	DefaultName string
	// StabilityThreshold debounces rapid edits. Defaults to 100ms.
	StabilityThreshold time.Duration
	// OnReload is called after each successful reload with the entry count.
	OnReload func(count int)
}

// Registry is a file-backed Resolver with hot reload.
type Registry struct {
	cfg      RegistryConfig
	mu       sync.RWMutex
	byModel  map[string]Identity
	list     []Identity
	fallback Identity
	lastHash string

	watcher        *fsnotify.Watcher
	done           chan struct{}
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	stopOnce       sync.Once
}

// NewRegistry loads the identity file and returns a registry. Watching
// does not start until Watch is called.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("identity file path cannot be empty")
	}
	if cfg.StabilityThreshold == 0 {
		cfg.StabilityThreshold = 100 * time.Millisecond
	}

	r := &Registry{
		cfg:            cfg,
		byModel:        make(map[string]Identity),
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
	}

	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Resolve returns the identity for the model, or the default identity
// when no entry matches.
func (r *Registry) Resolve(model string) Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byModel[provider.NormalizeModel(model)]; ok {
		return id
	}
	return r.fallback
}

// Identities returns a copy of the current identity table.
func (r *Registry) Identities() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Identity, len(r.list))
	copy(out, r.list)
	return out
}

// Watch starts watching the identity file's directory for changes.
// Watching the directory rather than the file survives editors that
// replace the file by rename.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	r.watcher = watcher

	dir := filepath.Dir(r.cfg.Path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go r.eventLoop()

	log.Info().Str("path", r.cfg.Path).Msg("Identity registry watching")
	return nil
}

// Stop stops the watcher. The registry keeps serving its last table.
func (r *Registry) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.debounceMu.Lock()
	for _, timer := range r.debounceTimers {
		timer.Stop()
	}
	clear(r.debounceTimers)
	r.debounceMu.Unlock()

	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close watcher: %w", err)
		}
	}
	return nil
}

func (r *Registry) eventLoop() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleEvent(event)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Identity watcher error")

		case <-r.done:
			return
		}
	}
}

func (r *Registry) handleEvent(event fsnotify.Event) {
	// Only our file matters; the directory watch sees siblings too.
	if filepath.Base(event.Name) != filepath.Base(r.cfg.Path) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	r.debounceEvent(event)
}

// debounceEvent coalesces rapid edits to the same path into one reload
func (r *Registry) debounceEvent(event fsnotify.Event) {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()

	if timer, exists := r.debounceTimers[event.Name]; exists {
		timer.Stop()
	}

	name := event.Name
	r.debounceTimers[name] = time.AfterFunc(r.cfg.StabilityThreshold, func() {
		r.debounceMu.Lock()
		delete(r.debounceTimers, name)
		r.debounceMu.Unlock()

		select {
		case <-r.done:
			return
		default:
		}

		if err := r.reload(); err != nil {
			// Keep the last good table.
			log.Error().Err(err).Str("path", r.cfg.Path).Msg("Identity reload failed")
		}
	})
}

// reload parses the identity file and swaps the table in place.
func (r *Registry) reload() error {
	data, err := os.ReadFile(r.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to read identity file: %w", err)
	}
	if len(data) > maxFileSize {
		return fmt.Errorf("identity file size %d exceeds maximum %d", len(data), maxFileSize)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	r.mu.RLock()
	unchanged := hash == r.lastHash
	r.mu.RUnlock()
	if unchanged {
		return nil
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse identity file: %w", err)
	}

	byModel := make(map[string]Identity, len(file.Identities))
	var fallback Identity
	defaultName := r.cfg.DefaultName
	if defaultName == "" {
		defaultName = file.Default
	}
	for _, id := range file.Identities {
		if id.Model != "" {
			byModel[provider.NormalizeModel(id.Model)] = id
		}
		if defaultName != "" && id.Name == defaultName {
			fallback = id
		}
	}

	r.mu.Lock()
	r.byModel = byModel
	r.list = append([]Identity(nil), file.Identities...)
	r.fallback = fallback
	r.lastHash = hash
	count := len(r.list)
	r.mu.Unlock()

	log.Info().Int("identities", count).Str("path", r.cfg.Path).Msg("Identity table loaded")

	if r.cfg.OnReload != nil {
		r.cfg.OnReload(count)
	}
	return nil
}
