package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/fulcrumsec/pentestd/internal/config"
)

// Store serves playbooks to the orchestrator and the API.
type Store interface {
	// Get returns the playbook with the given ID, or ErrNotFound.
	Get(id string) (Playbook, error)
	// List returns all playbooks ordered by ID.
	List() []Playbook
}

// DirStore is a Store backed by built-ins plus a directory of YAML
// definitions, optionally reloaded when files change.
type DirStore struct {
	dir    string
	logger *zap.Logger

	mu        sync.RWMutex
	playbooks map[string]Playbook

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewDirStore creates a store and performs the initial load. A missing
// directory is not an error; the store then serves built-ins only.
func NewDirStore(cfg config.PlaybooksConfig, logger *zap.Logger) (*DirStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &DirStore{
		dir:    cfg.Dir,
		logger: logger,
		done:   make(chan struct{}),
	}
	s.reload()

	if cfg.Watch && s.dir != "" {
		if info, err := os.Stat(s.dir); err == nil && info.IsDir() {
			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, fmt.Errorf("create playbook watcher: %w", err)
			}
			if err := watcher.Add(s.dir); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("watch playbook dir: %w", err)
			}
			s.watcher = watcher
			go s.watch()
		}
	}
	return s, nil
}

// Get implements Store.
func (s *DirStore) Get(id string) (Playbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.playbooks[id]
	if !ok {
		return Playbook{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// List implements Store.
func (s *DirStore) List() []Playbook {
	s.mu.RLock()
	out := make([]Playbook, 0, len(s.playbooks))
	for _, p := range s.playbooks {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close stops the file watcher if one is running.
func (s *DirStore) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// reload rebuilds the playbook set from built-ins plus the directory.
// Malformed files are logged and skipped so one bad definition cannot
// take down the rest.
func (s *DirStore) reload() {
	loaded := make(map[string]Playbook)
	for _, p := range builtins() {
		loaded[p.ID] = p
	}

	if s.dir != "" {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("read playbook dir", zap.String("dir", s.dir), zap.Error(err))
			}
		} else {
			for _, entry := range entries {
				if entry.IsDir() || !isYAML(entry.Name()) {
					continue
				}
				path := filepath.Join(s.dir, entry.Name())
				p, err := loadFile(path)
				if err != nil {
					s.logger.Warn("skipping playbook", zap.String("path", path), zap.Error(err))
					continue
				}
				loaded[p.ID] = p
			}
		}
	}

	s.mu.Lock()
	s.playbooks = loaded
	s.mu.Unlock()
	s.logger.Debug("playbooks loaded", zap.Int("count", len(loaded)))
}

func (s *DirStore) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !isYAML(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.logger.Info("playbook change detected", zap.String("path", event.Name))
				s.reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("playbook watcher error", zap.Error(err))
		}
	}
}

func loadFile(path string) (Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Playbook{}, fmt.Errorf("read file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return Playbook{}, fmt.Errorf("parse yaml: %w", err)
	}

	var p Playbook
	if err := k.Unmarshal("", &p); err != nil {
		return Playbook{}, fmt.Errorf("unmarshal playbook: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := p.validate(stem); err != nil {
		return Playbook{}, err
	}
	return p, nil
}

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
