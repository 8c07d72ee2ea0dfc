package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is one entry in the configuration history
type Version struct {
	Number    int            `json:"version"`
	AppliedAt time.Time      `json:"applied_at"`
	Reason    string         `json:"reason"`
	Changes   map[string]any `json:"changes,omitempty"`
	Config    *Config        `json:"-"`
}

// Manager owns the live configuration and its change history. Changes are
// applied as dotted keys ("consensus.vote_timeout_ms") so that approved
// config_change proposals can be replayed verbatim.
type Manager struct {
	mu        sync.RWMutex
	current   *Config
	history   []Version
	maxHist   int
	listeners []func(*Config)
}

// NewManager creates a manager seeded with cfg as version 1
func NewManager(cfg *Config, maxHistory int) *Manager {
	if maxHistory <= 0 {
		maxHistory = 16
	}
	return &Manager{
		current: cfg,
		maxHist: maxHistory,
		history: []Version{{Number: 1, AppliedAt: time.Now(), Reason: "initial", Config: cfg}},
	}
}

// Current returns the active configuration. Callers must not mutate it.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Version returns the active version number
func (m *Manager) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history[len(m.history)-1].Number
}

// History returns a copy of the retained versions, oldest first
func (m *Manager) History() []Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Version, len(m.history))
	copy(out, m.history)
	return out
}

// OnChange registers fn to be called after every successful change
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// ApplyChanges sets each dotted key on a copy of the active configuration,
// validates the result and makes it current.
func (m *Manager) ApplyChanges(changes map[string]any, reason string) (*Config, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("no changes supplied")
	}

	m.mu.Lock()
	tree, err := toTree(m.current)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	for key, value := range changes {
		if err := setPath(tree, key, value); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	next, err := fromTree(tree)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	m.commit(next, reason, changes)
	listeners := m.listeners
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}

// Rollback makes a previously retained version current again
func (m *Manager) Rollback(version int) (*Config, error) {
	m.mu.Lock()
	var target *Config
	for _, v := range m.history {
		if v.Number == version {
			target = v.Config
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("config version %d not found", version)
	}
	m.commit(target, fmt.Sprintf("rollback to version %d", version), nil)
	listeners := m.listeners
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(target)
	}
	return target, nil
}

// commit must be called with mu held
func (m *Manager) commit(cfg *Config, reason string, changes map[string]any) {
	last := m.history[len(m.history)-1].Number
	m.history = append(m.history, Version{
		Number:    last + 1,
		AppliedAt: time.Now(),
		Reason:    reason,
		Changes:   changes,
		Config:    cfg,
	})
	if len(m.history) > m.maxHist {
		m.history = m.history[len(m.history)-m.maxHist:]
	}
	m.current = cfg
}

func toTree(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	tree := make(map[string]any)
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode config tree: %w", err)
	}
	return tree, nil
}

func fromTree(tree map[string]any) (*Config, error) {
	data, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config tree: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config tree: %w", err)
	}
	return cfg, nil
}

func setPath(tree map[string]any, key string, value any) error {
	parts := strings.Split(key, ".")
	node := tree
	for i, part := range parts {
		if i == len(parts)-1 {
			if _, ok := node[part]; !ok {
				return fmt.Errorf("unknown config key %q", key)
			}
			node[part] = value
			return nil
		}
		child, ok := node[part].(map[string]any)
		if !ok {
			return fmt.Errorf("unknown config key %q", key)
		}
		node = child
	}
	return nil
}
