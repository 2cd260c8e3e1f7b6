package presets

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/smazurov/videocapture/internal/config"
)

// Manager keeps a presets file applied to a set of registered devices.
type Manager struct {
	path    string
	logger  *slog.Logger
	watcher *config.Watcher[*File]

	mu      sync.Mutex
	current *File
	targets map[string]Target
}

// NewManager creates a manager for the presets file at path.
func NewManager(path string, logger *slog.Logger) *Manager {
	return &Manager{
		path:    path,
		logger:  logger,
		targets: make(map[string]Target),
	}
}

// Load reads the presets file. A missing file leaves no presets loaded.
func (m *Manager) Load() error {
	f, err := Load(m.path)
	if errors.Is(err, os.ErrNotExist) {
		m.logger.Info("No presets file", "path", m.path)
		f, err = &File{}, nil
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.current = f
	m.mu.Unlock()
	return nil
}

// Register adds t and applies its preset, if any.
func (m *Manager) Register(t Target) error {
	m.mu.Lock()
	m.targets[t.Path()] = t
	preset, ok := m.current.For(t.Path())
	m.mu.Unlock()

	if !ok {
		return nil
	}
	_, err := Apply(t, preset, m.logger)
	return err
}

// Unregister stops applying presets to path.
func (m *Manager) Unregister(path string) {
	m.mu.Lock()
	delete(m.targets, path)
	m.mu.Unlock()
}

// Watch re-applies presets to every registered device whenever the file
// changes, until Stop is called.
func (m *Manager) Watch(debounce time.Duration) error {
	m.watcher = config.NewConfigWatcher(m.path, Load, m.logger,
		config.WithDebounce[*File](debounce))
	m.watcher.OnReload(m.reload)
	return m.watcher.Start()
}

// Stop ends watching.
func (m *Manager) Stop() error {
	if m.watcher == nil {
		return nil
	}
	return m.watcher.Stop()
}

func (m *Manager) reload(f *File) {
	m.mu.Lock()
	m.current = f
	targets := make([]Target, 0, len(m.targets))
	for _, t := range m.targets {
		targets = append(targets, t)
	}
	m.mu.Unlock()

	for _, t := range targets {
		preset, ok := f.For(t.Path())
		if !ok {
			continue
		}
		if _, err := Apply(t, preset, m.logger); err != nil {
			m.logger.Warn("Presets partially applied", "device", t.Path(), "error", err)
		}
	}
}
