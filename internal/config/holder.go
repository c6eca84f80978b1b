package config

import "sync"

// Holder is the run daemon's current config. Watch installs each valid
// reload with Update; an export cycle takes a Snapshot when it starts. Every
// Update bumps a generation so a consumer that rejects a snapshot can roll it
// back without clobbering a newer reload.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	gen  uint64
	path string
}

// NewHolder starts at generation 0 with cfg, loaded from path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Config returns the current config.
func (h *Holder) Config() *Config {
	cfg, _ := h.Snapshot()

	return cfg
}

// Snapshot returns the current config and its generation.
func (h *Holder) Snapshot() (*Config, uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg, h.gen
}

// Path is the file the daemon watches.
func (h *Holder) Path() string {
	return h.path
}

// Update installs cfg and returns its generation.
func (h *Holder) Update(cfg *Config) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.gen++
	h.cfg = cfg

	return h.gen
}

// Revert replaces the config at generation gen with prev. It does nothing
// and returns false when a later Update has already happened.
func (h *Holder) Revert(gen uint64, prev *Config) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.gen != gen {
		return false
	}

	h.cfg = prev

	return true
}
