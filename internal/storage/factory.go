// factory.go implements the storage backend registry, mapping backend names (local, s3,
// azure, gcs) to constructors.
package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ldc-construction/ldc-tools/internal/config"
)

// FactoryFunc builds a backend from the storage section of the config
type FactoryFunc func(*config.StorageConfig) (Storage, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]FactoryFunc)
)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Registered lists the registered backend names in order
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewStorage creates the backend named by cfg.DefaultBackend
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	mu.RLock()
	factory, ok := factories[cfg.DefaultBackend]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %q (registered: %s)",
			cfg.DefaultBackend, strings.Join(Registered(), ", "))
	}
	return factory(cfg)
}
