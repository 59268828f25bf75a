package directory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"codeberg.org/dirmirror/dirmirror/pkg/config"
)

type Factory func(cfg *config.DirectoryConfig, logger *zap.Logger) (Reader, error)

type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

var globalRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(driver string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[driver]; exists {
		return fmt.Errorf("directory driver %s already registered", driver)
	}

	r.factories[driver] = factory
	return nil
}

func (r *Registry) Open(ctx context.Context, cfg *config.DirectoryConfig, logger *zap.Logger) (Reader, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Driver]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("directory driver %s not found", cfg.Driver)
	}

	d, err := factory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory: %w", err)
	}

	if v, ok := d.(interface{ Validate(context.Context) error }); ok {
		if err := v.Validate(ctx); err != nil {
			return nil, fmt.Errorf("directory validation failed: %w", err)
		}
	}

	return d, nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drivers := make([]string, 0, len(r.factories))
	for driver := range r.factories {
		drivers = append(drivers, driver)
	}
	return drivers
}

func (r *Registry) Has(driver string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[driver]
	return exists
}

func Register(driver string, factory Factory) error {
	return globalRegistry.Register(driver, factory)
}

func Open(ctx context.Context, cfg *config.DirectoryConfig, logger *zap.Logger) (Reader, error) {
	return globalRegistry.Open(ctx, cfg, logger)
}

func Drivers() []string {
	return globalRegistry.List()
}
