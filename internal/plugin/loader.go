package plugin

import (
	"sync"

	xerrors "WalletPlugins/internal/errors"
)

// Factory builds a plugin from its construction configuration.
type Factory func(cfg Config) (Plugin, error)

// Loader resolves a construction configuration into a Plugin implementation.
type Loader interface {
	Load(cfg Config) (Plugin, error)
	Knows(kind Kind) bool
}

// KindLoader dispatches to one factory per kind.
type KindLoader struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

// NewKindLoader returns an empty loader.
func NewKindLoader() *KindLoader {
	return &KindLoader{factories: make(map[Kind]Factory)}
}

// Register binds a factory to kind.
func (l *KindLoader) Register(kind Kind, factory Factory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factories[kind] = factory
}

// Knows reports whether a factory exists for kind.
func (l *KindLoader) Knows(kind Kind) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.factories[kind]
	return ok
}

// Load implements Loader.
func (l *KindLoader) Load(cfg Config) (Plugin, error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeConfigurationError, "plugin config cannot be nil")
	}
	l.mu.RLock()
	factory, ok := l.factories[cfg.Kind()]
	l.mu.RUnlock()
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeConfigurationError, "no factory registered for plugin kind %s", cfg.Kind())
	}
	p, err := factory(cfg)
	if err != nil {
		if _, coded := xerrors.From(err); coded {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeConfigurationError, err, "build "+string(cfg.Kind())+" plugin")
	}
	return p, nil
}
