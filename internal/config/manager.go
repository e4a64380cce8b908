package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Manager holds the live config behind a lock so the control surface can
// update models, portfolios, and thresholds at runtime. Cycles read through
// Current at their start, so an update applies within one cycle.
type Manager struct {
	mu   sync.RWMutex
	cfg  Root
	path string
}

func NewManager(cfg Root, path string) *Manager {
	return &Manager{cfg: cfg, path: path}
}

// Current returns a copy of the live config.
func (m *Manager) Current() Root {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Update mutates the config under the lock, validates the result, persists
// it, and makes it live. On any failure the previous config stays in force.
func (m *Manager) Update(fn func(c *Root)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cfg
	next.Portfolios = append([]int(nil), m.cfg.Portfolios...)
	next.Sentiment.Models = append([]ModelConfig(nil), m.cfg.Sentiment.Models...)
	fn(&next)
	ApplyDefaults(&next)
	if err := validate.Struct(next); err != nil {
		return fmt.Errorf("validate config update: %w", err)
	}
	if m.path != "" {
		if err := save(next, m.path); err != nil {
			return fmt.Errorf("persist config: %w", err)
		}
	}
	m.cfg = next
	return nil
}

func save(c Root, path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
