package storage

import (
	"fmt"
	"strings"
	"sync"

	"github.com/songdex/songdex/internal/config"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
)

type Factory func(cfg config.StorageConfig) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend variant available under name. Adapters call this
// from init(); the entrypoint imports them for side effects.
func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.StorageConfig) (Backend, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("%w: storage.type is required", appErr.ErrConfiguration)
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: unsupported storage type: %s", appErr.ErrConfiguration, cfg.Type)
	}
	return factory(cfg)
}
